package update

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/config"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/metrics"
	"github.com/javi11/zipxtract/internal/progress"
	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
)

// Request describes one update.
type Request struct {
	ArchivePath string
	Add         []AddItem
	Remove      []string
	Password    string
	// SplitSize, when positive, writes a ZIP archive as ArchivePath.001,
	// ArchivePath.002, ... volumes of at most SplitSize bytes.
	SplitSize int64
}

// TempPattern names rewrite temp files.
const TempPattern = "zipxtract-update-*.tmp"

// Engine rewrites archives. It is safe for concurrent use on different
// archives.
type Engine struct {
	fs     afero.Fs
	cfg    *config.Config
	codecs *archive.Registry
	log    *slog.Logger
}

// NewEngine creates an engine working on the cfg snapshot.
func NewEngine(fsys afero.Fs, cfg *config.Config, codecs *archive.Registry) *Engine {
	return &Engine{
		fs:     fsys,
		cfg:    cfg,
		codecs: codecs,
		log:    slog.Default().With("component", "update-engine"),
	}
}

// Update applies req to the archive and returns its path. The archive is
// replaced only once the rewrite has fully succeeded; on any failure the
// original is left untouched. A missing ZIP or TAR archive is created from
// the additions.
func (e *Engine) Update(ctx context.Context, req Request, sink progress.Sink) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Cancelled(err)
	}

	target := e.cfg.ArchivePath(req.ArchivePath)
	if abs, aerr := filepath.Abs(target); aerr == nil {
		target = abs
	}

	var cl closers
	defer func() {
		if cerr := cl.release(); cerr != nil {
			e.log.WarnContext(ctx, "Failed to release update resources", "archive", target, "error", cerr)
		}
	}()

	editor, kind, err := e.codecs.OpenEditor(ctx, e.fs, target, e.cfg.Options(req.Password))
	if err != nil {
		return "", err
	}
	cl.push(editor)

	if req.SplitSize > 0 && kind.Format != archive.FormatZip {
		return "", errors.NewOperationError(errors.KindUnsupported,
			fmt.Sprintf("%s archives cannot be split", kind.String()), nil)
	}
	if req.SplitSize < 0 {
		return "", errors.NewOperationError(errors.KindUnsupported, "split size must be positive", nil)
	}

	items, err := editor.Items()
	if err != nil {
		return "", err
	}
	adds, err := Expand(e.fs, req.Add)
	if err != nil {
		return "", err
	}
	plan := NewPlan(items, req.Remove, adds)

	e.log.InfoContext(ctx, "Updating archive",
		"archive", target,
		"format", kind.String(),
		"items", plan.OldCount,
		"removed", len(plan.Removed),
		"added", len(plan.Adds))

	tempDir := e.cfg.Archive.TempDir
	if tempDir == "" {
		tempDir = filepath.Dir(target)
	}
	if err := e.fs.MkdirAll(tempDir, 0o755); err != nil {
		return "", errors.NewOperationError(errors.KindIOError, "cannot create temp directory", err)
	}
	temp, err := afero.TempFile(e.fs, tempDir, TempPattern)
	if err != nil {
		return "", errors.NewOperationError(errors.KindIOError, "cannot create temp file", err)
	}
	tempName := temp.Name()
	cl.push(temp)
	defer func() {
		if rerr := e.fs.Remove(tempName); rerr != nil && !os.IsNotExist(rerr) {
			e.log.WarnContext(ctx, "Failed to remove temp file", "path", tempName, "error", rerr)
		}
	}()

	tracker := progress.NewTracker(ctx, sink, 0)
	digest := newDigest()
	bw := bufio.NewWriterSize(io.MultiWriter(temp, digest), bufferSize(e.cfg))

	src := &source{fs: e.fs, plan: plan}
	if err := editor.Rewrite(ctx, bw, plan.Count(), src, itemProgress{tracker}); err != nil {
		return "", e.fail(ctx, err)
	}
	if err := bw.Flush(); err != nil {
		return "", errors.NewOperationError(errors.KindIOError, "cannot write temp file", err)
	}
	if err := temp.Sync(); err != nil {
		return "", errors.NewOperationError(errors.KindIOError, "cannot sync temp file", err)
	}

	// Past this point the original is replaced; only cancellation observed
	// before it aborts the update.
	if err := ctx.Err(); err != nil {
		return "", errors.Cancelled(err)
	}
	if err := cl.release(); err != nil {
		return "", errors.NewOperationError(errors.KindIOError, "cannot close archive", err)
	}

	result := target
	if req.SplitSize > 0 {
		result, err = e.splitVolumes(ctx, tempName, target, req.SplitSize, digest.Sum(nil))
	} else {
		err = e.swap(ctx, tempName, target, digest.Sum(nil))
	}
	if err != nil {
		return "", err
	}

	tracker.Finish()
	metrics.ItemsRewritten.WithLabelValues(string(kind.Format)).Add(float64(plan.Count()))
	e.log.InfoContext(ctx, "Archive updated", "archive", result, "items", plan.Count())
	return result, nil
}

// swap replaces target with the temp file. The temp file is copied next to
// target first, so that a temp directory on another filesystem still ends
// in a same-directory rename, and the copy is checked against want.
func (e *Engine) swap(ctx context.Context, tempName, target string, want []byte) error {
	mode := os.FileMode(0o644)
	if info, err := e.fs.Stat(target); err == nil {
		mode = info.Mode().Perm()
	}

	staged := tempName
	if filepath.Dir(tempName) != filepath.Dir(target) {
		f, err := afero.TempFile(e.fs, filepath.Dir(target), TempPattern)
		if err != nil {
			return errors.NewOperationError(errors.KindIOError, "cannot stage updated archive", err)
		}
		staged = f.Name()
		err = e.copyFile(f, tempName)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = e.fs.Remove(staged)
			return errors.NewOperationError(errors.KindIOError, "cannot stage updated archive", err)
		}
	}

	got, err := e.digestOf(staged)
	if err != nil || !bytes.Equal(got, want) {
		if staged != tempName {
			_ = e.fs.Remove(staged)
		}
		if err == nil {
			err = fmt.Errorf("digest mismatch for %s", staged)
		}
		return errors.NewOperationError(errors.KindIOError, "updated archive failed verification", err)
	}

	if err := e.fs.Chmod(staged, mode); err != nil {
		e.log.DebugContext(ctx, "Cannot carry over archive mode", "path", staged, "error", err)
	}
	if err := e.fs.Rename(staged, target); err != nil {
		if staged != tempName {
			_ = e.fs.Remove(staged)
		}
		return errors.NewOperationError(errors.KindIOError, fmt.Sprintf("cannot replace %s", target), err)
	}
	return nil
}

func (e *Engine) copyFile(dst afero.File, src string) error {
	in, err := e.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if _, err := io.CopyBuffer(dst, in, make([]byte, bufferSize(e.cfg))); err != nil {
		return err
	}
	return dst.Sync()
}

// digestOf hashes the named files as one stream.
func (e *Engine) digestOf(names ...string) ([]byte, error) {
	h := newDigest()
	for _, name := range names {
		f, err := e.fs.Open(name)
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(h, f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
	}
	return h.Sum(nil), nil
}

func newDigest() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only possible with an oversized key
		panic(err)
	}
	return h
}

func bufferSize(cfg *config.Config) int {
	if cfg.Extract.BufferSize > 0 {
		return cfg.Extract.BufferSize
	}
	return archive.DefaultBufferSize
}

func (e *Engine) fail(ctx context.Context, err error) error {
	kind := errors.KindOf(err)
	if ctx.Err() != nil {
		return errors.Cancelled(ctx.Err())
	}
	return errors.Wrap(kind, "update failed", err)
}

// itemProgress adapts a tracker to the editor's item counters.
type itemProgress struct {
	t *progress.Tracker
}

func (p itemProgress) SetTotal(total int64)         { p.t.SetTotal(total) }
func (p itemProgress) SetCompleted(completed int64) { p.t.Update(completed) }

// closers releases resources in reverse order of acquisition.
type closers struct {
	list []io.Closer
}

func (c *closers) push(cl io.Closer) {
	c.list = append(c.list, cl)
}

func (c *closers) release() error {
	var errs []error
	for i := len(c.list) - 1; i >= 0; i-- {
		if err := c.list[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.list = nil
	return errors.Join(errs...)
}
