package archive

import (
	"context"
	"io/fs"

	"github.com/javi11/zipxtract/internal/errors"
)

// DecodeError classifies an error returned while reading archive data.
// Errors that already carry a kind pass through; a missing volume stays a
// missing volume, cancellation stays cancellation, and anything else the
// codec reports while decoding is treated as a damaged archive.
func DecodeError(message string, err error) error {
	if err == nil {
		return nil
	}

	var opErr *errors.OperationError
	switch {
	case errors.As(err, &opErr):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return errors.NewOperationError(errors.KindVolumeNotFound, message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Cancelled(err)
	default:
		return errors.NewOperationError(errors.KindCorruptArchive, message, err)
	}
}

// WrongPassword builds the error returned when a password is missing or
// rejected for an entry.
func WrongPassword(item Item, cause error) error {
	msg := "wrong password for " + item.Path
	if cause == nil {
		msg = "password required for " + item.Path
	}
	return errors.NewOperationError(errors.KindWrongPassword, msg, cause)
}
