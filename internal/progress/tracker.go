package progress

import (
	"context"
	"sync"
)

// Tracker turns completed/total counters into percentages and forwards
// them to a Sink only when they increase, so the reported sequence never
// regresses. Once ctx is done nothing more is reported.
type Tracker struct {
	ctx  context.Context
	sink Sink

	mu    sync.Mutex
	total int64
	last  int
}

// NewTracker creates a tracker. total may be set later with SetTotal.
func NewTracker(ctx context.Context, sink Sink, total int64) *Tracker {
	if sink == nil {
		sink = Discard
	}
	return &Tracker{ctx: ctx, sink: sink, total: total, last: -1}
}

// SetTotal replaces the denominator used by Update.
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = total
}

// Update records completed units of work.
func (t *Tracker) Update(completed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total <= 0 {
		return
	}
	t.report(Percent(completed, t.total))
}

// Finish reports 100 unless it was already reported.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.report(100)
}

// Last returns the last reported percentage, or -1 before the first report.
func (t *Tracker) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.last
}

func (t *Tracker) report(percent int) {
	if percent <= t.last || t.ctx.Err() != nil {
		return
	}
	t.last = percent
	t.sink.Report(percent)
}

// Percent returns floor(completed*100/total) clamped to [0, 100].
func Percent(completed, total int64) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return int(completed * 100 / total)
}
