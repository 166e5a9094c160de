package operation

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/database"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/metrics"
	"github.com/javi11/zipxtract/internal/progress"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// progressBuffer is the capacity of the channel between an engine and the
// progress consumer.
const progressBuffer = 16

// JobStore records operations. *database.Repository implements it.
type JobStore interface {
	CreateJobWithFiles(ctx context.Context, job *database.Job, files []database.JobFile) error
	MarkRunning(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	FinishJob(ctx context.Context, id string, status database.JobStatus, resultPath, errorKind, errorMessage string) error
	DeleteFilesForJob(ctx context.Context, jobID string) error
}

// Callbacks observe an operation. Every callback runs on the operation's
// goroutines; nil callbacks are skipped. OnProgress values never decrease.
// Exactly one of OnComplete and OnError is called, after the last
// OnProgress.
type Callbacks struct {
	OnProgress func(percent int)
	OnComplete func(Result)
	OnError    func(Result)
}

// Handle controls a submitted operation.
type Handle struct {
	ID   string
	Kind database.JobKind

	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// Cancel asks the operation to stop. It returns immediately.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed once the operation has finished and its callbacks ran.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the operation finishes and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

// Runner executes operations, one goroutine each.
type Runner struct {
	jobs JobStore
	log  *slog.Logger
	wg   conc.WaitGroup

	mu     sync.Mutex
	active map[string]*Handle
}

// NewRunner creates a runner. jobs may be nil, in which case nothing is
// recorded.
func NewRunner(jobs JobStore) *Runner {
	return &Runner{
		jobs:   jobs,
		log:    slog.Default().With("component", "operation-runner"),
		active: make(map[string]*Handle),
	}
}

// Submit starts op and returns at once. Cancelling ctx or calling
// Handle.Cancel stops the operation.
func (r *Runner) Submit(ctx context.Context, op Operation, cb Callbacks) *Handle {
	opCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:     uuid.NewString(),
		Kind:   op.Kind(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.active[h.ID] = h
	r.mu.Unlock()

	r.record(ctx, h, op)

	r.wg.Go(func() {
		defer cancel()
		r.run(opCtx, h, op, cb)
	})
	return h
}

func (r *Runner) run(ctx context.Context, h *Handle, op Operation, cb Callbacks) {
	log := r.log.With("operation_id", h.ID, "kind", h.Kind, "archive", op.ArchivePath())
	start := time.Now()
	log.InfoContext(ctx, "Operation started")

	ch := progress.NewChannel(ctx, progressBuffer)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for percent := range ch.Updates() {
			if cb.OnProgress != nil {
				cb.OnProgress(percent)
			}
			r.progress(ctx, h.ID, percent)
		}
	}()

	var (
		path string
		err  error
	)
	var pc panics.Catcher
	pc.Try(func() {
		path, err = op.Run(ctx, ch)
	})
	if rec := pc.Recovered(); rec != nil {
		log.ErrorContext(ctx, "Operation panicked", "panic", rec.Value, "stack", string(rec.Stack))
		err = errors.FromPanic(rec.Value)
	}

	ch.Close()
	<-consumed

	res := ResultOf(path, err)
	h.result = res
	r.finish(ctx, h, res)

	elapsed := time.Since(start)
	metrics.ObserveOperation(string(h.Kind), string(archive.DetectName(op.ArchivePath()).Format), res.Status.String(), elapsed)

	if res.OK() {
		log.InfoContext(ctx, "Operation completed", "result", res.Path, "duration", elapsed)
		if cb.OnComplete != nil {
			cb.OnComplete(res)
		}
	} else {
		log.WarnContext(ctx, "Operation failed", "status", res.Status, "error_kind", res.Kind, "error", res.Message, "duration", elapsed)
		if cb.OnError != nil {
			cb.OnError(res)
		}
	}

	r.mu.Lock()
	delete(r.active, h.ID)
	r.mu.Unlock()
	close(h.done)
}

// record creates the job row. Store failures are logged and never stop
// the operation.
func (r *Runner) record(ctx context.Context, h *Handle, op Operation) {
	if r.jobs == nil {
		return
	}
	job := &database.Job{ID: h.ID, Kind: op.Kind(), ArchivePath: op.ArchivePath()}
	if err := r.jobs.CreateJobWithFiles(ctx, job, op.Files()); err != nil {
		r.log.WarnContext(ctx, "Failed to record job", "operation_id", h.ID, "error", err)
		return
	}
	if err := r.jobs.MarkRunning(ctx, h.ID); err != nil {
		r.log.WarnContext(ctx, "Failed to mark job running", "operation_id", h.ID, "error", err)
	}
}

func (r *Runner) progress(ctx context.Context, id string, percent int) {
	if r.jobs == nil {
		return
	}
	if err := r.jobs.UpdateProgress(context.WithoutCancel(ctx), id, percent); err != nil {
		r.log.DebugContext(ctx, "Failed to store job progress", "operation_id", id, "error", err)
	}
}

func (r *Runner) finish(ctx context.Context, h *Handle, res Result) {
	if r.jobs == nil {
		return
	}
	// the job is recorded even when the operation was cancelled
	ctx = context.WithoutCancel(ctx)

	errorKind := ""
	if !res.OK() {
		errorKind = res.Kind.String()
	}
	if err := r.jobs.FinishJob(ctx, h.ID, res.jobStatus(), res.Path, errorKind, res.Message); err != nil {
		r.log.WarnContext(ctx, "Failed to finish job", "operation_id", h.ID, "error", err)
	}
	if err := r.jobs.DeleteFilesForJob(ctx, h.ID); err != nil {
		r.log.WarnContext(ctx, "Failed to delete job files", "operation_id", h.ID, "error", err)
	}
}

// Active returns the ids of the operations still running, sorted.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cancel stops the operation with the given id. It reports false when no
// such operation is running.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	h, ok := r.active[id]
	r.mu.Unlock()

	if ok {
		h.Cancel()
	}
	return ok
}

// CancelAll stops every running operation.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.active))
	for _, h := range r.active {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Wait blocks until every submitted operation has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
