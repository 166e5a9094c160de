// Package operation runs extract and update operations on their own
// goroutines and reports their outcome.
package operation

import (
	"fmt"

	"github.com/javi11/zipxtract/internal/database"
	"github.com/javi11/zipxtract/internal/errors"
)

// Status is the outcome class of an operation.
type Status int

const (
	StatusSuccess Status = iota
	StatusWrongPassword
	StatusCancelled
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWrongPassword:
		return "wrong_password"
	case StatusCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// Result is the terminal outcome of an operation.
type Result struct {
	Status Status
	// Path is the extraction directory or the updated archive on success.
	Path string
	// Kind and Message describe a failure.
	Kind    errors.Kind
	Message string
	Err     error
}

// ResultOf converts an engine's return values into a Result.
func ResultOf(path string, err error) Result {
	if err == nil {
		return Result{Status: StatusSuccess, Path: path}
	}

	kind := errors.KindOf(err)
	res := Result{Kind: kind, Message: err.Error(), Err: err}
	switch kind {
	case errors.KindWrongPassword:
		res.Status = StatusWrongPassword
	case errors.KindCancelled:
		res.Status = StatusCancelled
	default:
		res.Status = StatusError
	}
	return res
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func (r Result) String() string {
	switch r.Status {
	case StatusSuccess:
		return fmt.Sprintf("success: %s", r.Path)
	case StatusError:
		return fmt.Sprintf("error (%s): %s", r.Kind, r.Message)
	default:
		return r.Status.String()
	}
}

func (r Result) jobStatus() database.JobStatus {
	switch r.Status {
	case StatusSuccess:
		return database.JobStatusCompleted
	case StatusCancelled:
		return database.JobStatusCancelled
	default:
		return database.JobStatusFailed
	}
}
