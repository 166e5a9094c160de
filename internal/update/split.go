package update

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/spf13/afero"
)

// volumeName is the n-th (1-based) split volume of target.
func volumeName(target string, n int) string {
	return fmt.Sprintf("%s.%03d", target, n)
}

// splitVolumes cuts the rewritten temp file into target.001, target.002,
// ... of size bytes each, the last one possibly shorter. Every part is
// staged next to target and checked against want before any of them is
// renamed into place. A single-file target and volumes left over from a
// longer previous set are removed afterwards.
func (e *Engine) splitVolumes(ctx context.Context, tempName, target string, size int64, want []byte) (string, error) {
	dir := filepath.Dir(target)
	mode := os.FileMode(0o644)
	if info, err := e.fs.Stat(target); err == nil {
		mode = info.Mode().Perm()
	}

	staged, err := e.stageParts(tempName, dir, size)
	discard := func() {
		for _, name := range staged {
			_ = e.fs.Remove(name)
		}
	}
	if err != nil {
		discard()
		return "", errors.NewOperationError(errors.KindIOError, "cannot stage split volumes", err)
	}

	got, err := e.digestOf(staged...)
	if err != nil || !bytes.Equal(got, want) {
		discard()
		if err == nil {
			err = fmt.Errorf("digest mismatch over %d volumes", len(staged))
		}
		return "", errors.NewOperationError(errors.KindIOError, "split volumes failed verification", err)
	}

	for i, name := range staged {
		if err := e.fs.Chmod(name, mode); err != nil {
			e.log.DebugContext(ctx, "Cannot carry over archive mode", "path", name, "error", err)
		}
		dest := volumeName(target, i+1)
		if err := e.fs.Rename(name, dest); err != nil {
			discard()
			return "", errors.NewOperationError(errors.KindIOError, fmt.Sprintf("cannot write %s", dest), err)
		}
	}

	e.removeStale(ctx, target, volumeName(target, len(staged)))
	return volumeName(target, 1), nil
}

// stageParts copies src into temp files of at most size bytes in dir and
// returns their names in order. An empty src still yields one part.
func (e *Engine) stageParts(src, dir string, size int64) ([]string, error) {
	in, err := e.fs.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	buf := make([]byte, bufferSize(e.cfg))
	var staged []string
	for {
		f, err := afero.TempFile(e.fs, dir, TempPattern)
		if err != nil {
			return staged, err
		}
		staged = append(staged, f.Name())

		n, err := io.CopyBuffer(f, io.LimitReader(in, size), buf)
		if err == nil {
			err = f.Sync()
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return staged, err
		}

		if n < size {
			if n == 0 && len(staged) > 1 {
				// src ended exactly on a part boundary
				_ = e.fs.Remove(f.Name())
				staged = staged[:len(staged)-1]
			}
			return staged, nil
		}
	}
}

// removeStale deletes target itself and the volumes following last.
func (e *Engine) removeStale(ctx context.Context, target, last string) {
	stale := []string{target}
	for name := volume.Next(last); ; name = volume.Next(name) {
		if ok, _ := afero.Exists(e.fs, name); !ok {
			break
		}
		stale = append(stale, name)
	}

	for _, name := range stale {
		if err := e.fs.Remove(name); err != nil && !os.IsNotExist(err) {
			e.log.WarnContext(ctx, "Failed to remove replaced volume", "path", name, "error", err)
		}
	}
}
