package operation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/javi11/zipxtract/internal/database"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeOp reports the given percentages and then returns path and err.
type fakeOp struct {
	path    string
	err     error
	reports []int
	// block waits for cancellation before returning.
	block bool
	panic any
}

func (o *fakeOp) Kind() database.JobKind { return database.JobKindExtract }

func (o *fakeOp) ArchivePath() string { return "/in/a.zip" }

func (o *fakeOp) Files() []database.JobFile {
	return []database.JobFile{{FilePath: "/in/a.zip"}}
}

func (o *fakeOp) Run(ctx context.Context, sink progress.Sink) (string, error) {
	for _, p := range o.reports {
		sink.Report(p)
	}
	if o.panic != nil {
		panic(o.panic)
	}
	if o.block {
		<-ctx.Done()
		return "", errors.Cancelled(ctx.Err())
	}
	return o.path, o.err
}

type events struct {
	mu       sync.Mutex
	progress []int
	complete []Result
	failed   []Result
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(p int) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.progress = append(e.progress, p)
		},
		OnComplete: func(r Result) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.complete = append(e.complete, r)
		},
		OnError: func(r Result) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.failed = append(e.failed, r)
		},
	}
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateJobWithFiles(ctx context.Context, job *database.Job, files []database.JobFile) error {
	return m.Called(job.Kind, job.ArchivePath, len(files)).Error(0)
}

func (m *mockStore) MarkRunning(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *mockStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	return m.Called(id, progress).Error(0)
}

func (m *mockStore) FinishJob(ctx context.Context, id string, status database.JobStatus, resultPath, errorKind, errorMessage string) error {
	return m.Called(id, status, resultPath, errorKind).Error(0)
}

func (m *mockStore) DeleteFilesForJob(ctx context.Context, jobID string) error {
	return m.Called(jobID).Error(0)
}

func TestRunner_Success(t *testing.T) {
	r := NewRunner(nil)
	var ev events

	h := r.Submit(context.Background(), &fakeOp{path: "/out/a", reports: []int{10, 50, 100}}, ev.callbacks())
	res := h.Wait()

	assert.True(t, res.OK())
	assert.Equal(t, "/out/a", res.Path)
	assert.Equal(t, []int{10, 50, 100}, ev.progress)
	require.Len(t, ev.complete, 1)
	assert.Empty(t, ev.failed)
	assert.NotEmpty(t, h.ID)
	assert.Empty(t, r.Active())
}

func TestRunner_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status Status
		kind   errors.Kind
	}{
		{"wrong password", errors.ErrWrongPassword, StatusWrongPassword, errors.KindWrongPassword},
		{"io error", errors.Wrap(errors.KindIOError, "write failed", errors.New("disk full")), StatusError, errors.KindIOError},
		{"plain error", errors.New("boom"), StatusError, errors.KindIOError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(nil)
			var ev events

			res := r.Submit(context.Background(), &fakeOp{err: tt.err}, ev.callbacks()).Wait()

			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Empty(t, ev.complete)
			require.Len(t, ev.failed, 1)
			assert.Equal(t, tt.status, ev.failed[0].Status)
		})
	}
}

func TestRunner_Cancel(t *testing.T) {
	r := NewRunner(nil)
	var ev events

	h := r.Submit(context.Background(), &fakeOp{block: true, reports: []int{5}}, ev.callbacks())
	assert.Equal(t, []string{h.ID}, r.Active())
	assert.True(t, r.Cancel(h.ID))

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not stop after cancel")
	}

	res := h.Wait()
	assert.Equal(t, StatusCancelled, res.Status)
	assert.ErrorIs(t, res.Err, errors.ErrCancelled)
	require.Len(t, ev.failed, 1)
	assert.False(t, r.Cancel(h.ID))
}

func TestRunner_CancelAll(t *testing.T) {
	r := NewRunner(nil)

	handles := []*Handle{
		r.Submit(context.Background(), &fakeOp{block: true}, Callbacks{}),
		r.Submit(context.Background(), &fakeOp{block: true}, Callbacks{}),
	}
	assert.Len(t, r.Active(), 2)

	r.CancelAll()
	r.Wait()

	for _, h := range handles {
		assert.Equal(t, StatusCancelled, h.Wait().Status)
	}
	assert.Empty(t, r.Active())
}

func TestRunner_ParentContextCancels(t *testing.T) {
	r := NewRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())

	h := r.Submit(ctx, &fakeOp{block: true}, Callbacks{})
	cancel()

	assert.Equal(t, StatusCancelled, h.Wait().Status)
}

func TestRunner_Panic(t *testing.T) {
	r := NewRunner(nil)
	var ev events

	res := r.Submit(context.Background(), &fakeOp{panic: "decoder exploded"}, ev.callbacks()).Wait()

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "decoder exploded")
	require.Len(t, ev.failed, 1)
}

func TestRunner_RecordsJob(t *testing.T) {
	store := &mockStore{}
	store.On("CreateJobWithFiles", database.JobKindExtract, "/in/a.zip", 1).Return(nil)
	store.On("MarkRunning", mock.Anything).Return(nil)
	store.On("UpdateProgress", mock.Anything, 50).Return(nil)
	store.On("UpdateProgress", mock.Anything, 100).Return(nil)
	store.On("FinishJob", mock.Anything, database.JobStatusCompleted, "/out/a", "").Return(nil)
	store.On("DeleteFilesForJob", mock.Anything).Return(nil)

	r := NewRunner(store)
	res := r.Submit(context.Background(), &fakeOp{path: "/out/a", reports: []int{50, 100}}, Callbacks{}).Wait()

	assert.True(t, res.OK())
	store.AssertExpectations(t)
}

func TestRunner_StoreErrorsDoNotFailOperation(t *testing.T) {
	store := &mockStore{}
	store.On("CreateJobWithFiles", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("database is locked"))
	store.On("FinishJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("database is locked"))
	store.On("DeleteFilesForJob", mock.Anything).Return(nil)

	r := NewRunner(store)
	res := r.Submit(context.Background(), &fakeOp{path: "/out/a"}, Callbacks{}).Wait()

	assert.True(t, res.OK())
	store.AssertNotCalled(t, "MarkRunning", mock.Anything)
}

func TestRunner_WithDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := db.Repository()

	r := NewRunner(repo)
	failed := r.Submit(ctx, &fakeOp{err: errors.ErrWrongPassword, reports: []int{20}}, Callbacks{})
	done := r.Submit(ctx, &fakeOp{path: "/out/a", reports: []int{40}}, Callbacks{})
	r.Wait()

	job, err := repo.GetJob(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusFailed, job.Status)
	assert.Equal(t, 20, job.Progress)
	assert.Equal(t, errors.KindWrongPassword.String(), job.ErrorKind)

	job, err = repo.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "/out/a", job.ResultPath)

	files, err := repo.GetFilesForJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestResultOf(t *testing.T) {
	res := ResultOf("/out", nil)
	assert.Equal(t, "success: /out", res.String())

	res = ResultOf("", errors.Wrap(errors.KindCorruptArchive, "bad header", errors.New("crc")))
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, errors.KindCorruptArchive, res.Kind)
	assert.Equal(t, database.JobStatusFailed, res.jobStatus())

	res = ResultOf("", errors.ErrCancelled)
	assert.Equal(t, "cancelled", res.String())
	assert.Equal(t, database.JobStatusCancelled, res.jobStatus())
}
