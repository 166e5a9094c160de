package database

import "time"

// JobKind is the operation a job ran.
type JobKind string

const (
	JobKindExtract JobKind = "extract"
	JobKindUpdate  JobKind = "update"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one extract or update operation.
type Job struct {
	ID          string    `db:"id"`
	Kind        JobKind   `db:"kind"`
	ArchivePath string    `db:"archive_path"`
	Status      JobStatus `db:"status"`
	Progress    int       `db:"progress"`
	// ResultPath is the extraction directory or the updated archive.
	ResultPath   string    `db:"result_path"`
	ErrorKind    string    `db:"error_kind"`
	ErrorMessage string    `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// JobFile is a file attached to a running job: a source of an update's add
// list, or a volume of an extraction.
type JobFile struct {
	ID       int64  `db:"id"`
	JobID    string `db:"job_id"`
	FilePath string `db:"file_path"`
	// ItemName is the entry name inside the archive, when it differs from
	// the file name.
	ItemName string `db:"item_name"`
}
