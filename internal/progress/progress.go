// Package progress carries integer completion percentages from the engines
// to whoever is watching an operation.
package progress

import (
	"context"
	"sync"
)

// Sink receives progress percentages in [0, 100].
type Sink interface {
	Report(percent int)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(percent int)

func (f SinkFunc) Report(percent int) { f(percent) }

// Discard drops every report.
var Discard Sink = SinkFunc(func(int) {})

// Multi forwards every report to all sinks, in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return SinkFunc(func(percent int) {
		for _, s := range live {
			s.Report(percent)
		}
	})
}

// Channel publishes reports as messages on a buffered channel. A report
// blocks while the buffer is full unless ctx is done, in which case it is
// dropped.
type Channel struct {
	ctx context.Context
	ch  chan int

	once sync.Once
}

// NewChannel creates a channel sink with the given buffer size.
func NewChannel(ctx context.Context, buffer int) *Channel {
	return &Channel{ctx: ctx, ch: make(chan int, buffer)}
}

func (c *Channel) Report(percent int) {
	select {
	case c.ch <- percent:
	case <-c.ctx.Done():
	}
}

// Updates returns the receive side of the channel.
func (c *Channel) Updates() <-chan int {
	return c.ch
}

// Close closes the channel. The producer must not report afterwards.
func (c *Channel) Close() {
	c.once.Do(func() { close(c.ch) })
}
