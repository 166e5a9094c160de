package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Repository {
	t.Helper()

	db, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.Repository()
}

// fixedClock makes the repository stamp rows with increasing times.
func fixedClock(r *Repository, start time.Time) {
	next := start
	r.now = func() time.Time {
		next = next.Add(time.Minute)
		return next
	}
}

func TestRepository_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	job := &Job{ID: "job-1", Kind: JobKindExtract, ArchivePath: "/in/a.zip"}
	require.NoError(t, repo.CreateJob(ctx, job))
	assert.Equal(t, JobStatusPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	require.NoError(t, repo.MarkRunning(ctx, "job-1"))
	require.NoError(t, repo.UpdateProgress(ctx, "job-1", 40))
	require.NoError(t, repo.UpdateProgress(ctx, "job-1", 10))

	got, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)
	assert.Equal(t, 40, got.Progress, "progress never moves back")

	require.NoError(t, repo.FinishJob(ctx, "job-1", JobStatusCompleted, "/out/a", "", ""))

	got, err = repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "/out/a", got.ResultPath)
	assert.Equal(t, JobKindExtract, got.Kind)
}

func TestRepository_FinishJobFailure(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	require.NoError(t, repo.CreateJob(ctx, &Job{ID: "j", Kind: JobKindUpdate, ArchivePath: "/a.zip"}))
	require.NoError(t, repo.UpdateProgress(ctx, "j", 25))
	require.NoError(t, repo.FinishJob(ctx, "j", JobStatusFailed, "", "io_error", "disk full"))

	got, err := repo.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 25, got.Progress)
	assert.Equal(t, "io_error", got.ErrorKind)
	assert.Equal(t, "disk full", got.ErrorMessage)

	assert.Error(t, repo.FinishJob(ctx, "j", JobStatusRunning, "", "", ""))
}

func TestRepository_UnknownJob(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	_, err := repo.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, repo.MarkRunning(ctx, "missing"), ErrJobNotFound)
}

func TestRepository_ListJobs(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)
	fixedClock(repo, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.CreateJob(ctx, &Job{ID: id, Kind: JobKindExtract, ArchivePath: "/" + id}))
	}
	require.NoError(t, repo.FinishJob(ctx, "b", JobStatusCancelled, "", "cancelled", "operation cancelled"))

	all, err := repo.ListJobs(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	cancelled := JobStatusCancelled
	filtered, err := repo.ListJobs(ctx, &cancelled, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "b", filtered[0].ID)

	limited, err := repo.ListJobs(ctx, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRepository_DeleteFinishedJobs(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedClock(repo, start)

	require.NoError(t, repo.CreateJob(ctx, &Job{ID: "done", Kind: JobKindExtract, ArchivePath: "/a"}))
	require.NoError(t, repo.FinishJob(ctx, "done", JobStatusCompleted, "/out", "", ""))
	require.NoError(t, repo.CreateJob(ctx, &Job{ID: "live", Kind: JobKindExtract, ArchivePath: "/b"}))

	n, err := repo.DeleteFinishedJobs(ctx, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.GetJob(ctx, "done")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = repo.GetJob(ctx, "live")
	assert.NoError(t, err)
}

func TestRepository_JobFiles(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	require.NoError(t, repo.CreateJob(ctx, &Job{ID: "u", Kind: JobKindUpdate, ArchivePath: "/a.zip"}))

	files := []JobFile{
		{FilePath: "/src/readme.txt", ItemName: "docs/readme.txt"},
		{FilePath: "/src/photos"},
	}
	require.NoError(t, repo.AddFilesForJob(ctx, "u", files))
	assert.NotZero(t, files[0].ID)
	assert.Equal(t, "u", files[1].JobID)

	got, err := repo.GetFilesForJob(ctx, "u")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "docs/readme.txt", got[0].ItemName)
	assert.Equal(t, "/src/photos", got[1].FilePath)

	require.NoError(t, repo.DeleteFilesForJob(ctx, "u"))
	got, err = repo.GetFilesForJob(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepository_WithTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)
	boom := errors.New("boom")

	err := repo.WithTransaction(ctx, func(tx *Repository) error {
		if err := tx.CreateJob(ctx, &Job{ID: "t", Kind: JobKindUpdate, ArchivePath: "/a.zip"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.GetJob(ctx, "t")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRepository_CreateJobWithFiles(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	job := &Job{ID: "w", Kind: JobKindUpdate, ArchivePath: "/a.zip"}
	require.NoError(t, repo.CreateJobWithFiles(ctx, job, []JobFile{{FilePath: "/src/a"}}))

	files, err := repo.GetFilesForJob(ctx, "w")
	require.NoError(t, err)
	require.Len(t, files, 1)

	// a duplicate id fails and leaves no extra files behind
	assert.Error(t, repo.CreateJobWithFiles(ctx, &Job{ID: "w", Kind: JobKindUpdate, ArchivePath: "/a.zip"}, []JobFile{{FilePath: "/src/b"}}))
	files, err = repo.GetFilesForJob(ctx, "w")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
