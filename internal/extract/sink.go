package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/pathutil"
	"github.com/javi11/zipxtract/internal/progress"
	"github.com/spf13/afero"
)

// diskSink materialises entries under root and counts decoded bytes.
type diskSink struct {
	ctx     context.Context
	fs      afero.Fs
	root    string
	tracker *progress.Tracker

	written int64
	files   int
	stamps  []stamp
}

type stamp struct {
	path  string
	isDir bool
	depth int
	mtime time.Time
}

func newDiskSink(ctx context.Context, fsys afero.Fs, root string, tracker *progress.Tracker) *diskSink {
	return &diskSink{ctx: ctx, fs: fsys, root: root, tracker: tracker}
}

func (s *diskSink) target(item archive.Item) (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", errors.Cancelled(err)
	}
	target, err := pathutil.SafeJoin(s.root, item.Path)
	if err != nil {
		return "", errors.NewOperationError(errors.KindCorruptArchive, "archive entry escapes the destination", err)
	}
	return target, nil
}

func (s *diskSink) Directory(item archive.Item) error {
	target, err := s.target(item)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(target, 0o755); err != nil {
		return ioError(target, err)
	}
	s.remember(target, true, item.Modified)
	return nil
}

func (s *diskSink) Create(item archive.Item) (io.WriteCloser, error) {
	target, err := s.target(item)
	if err != nil {
		return nil, err
	}
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, ioError(filepath.Dir(target), err)
	}

	perm := item.Mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	f, err := s.fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return nil, ioError(target, err)
	}

	s.files++
	s.remember(target, false, item.Modified)
	return &countingFile{File: f, sink: s}, nil
}

func (s *diskSink) remember(path string, isDir bool, mtime time.Time) {
	if mtime.IsZero() {
		return
	}
	s.stamps = append(s.stamps, stamp{
		path:  path,
		isDir: isDir,
		depth: strings.Count(filepath.ToSlash(path), "/"),
		mtime: mtime,
	})
}

// restoreTimes applies entry modification times: files first, then
// directories from the deepest up.
func (s *diskSink) restoreTimes() {
	sort.SliceStable(s.stamps, func(i, j int) bool {
		a, b := s.stamps[i], s.stamps[j]
		if a.isDir != b.isDir {
			return !a.isDir
		}
		return a.depth > b.depth
	})
	for _, st := range s.stamps {
		// best effort; some filesystems refuse directory times
		_ = s.fs.Chtimes(st.path, st.mtime, st.mtime)
	}
}

// countingFile advances the tracker on every write.
type countingFile struct {
	afero.File
	sink *diskSink
}

func (f *countingFile) Write(p []byte) (int, error) {
	if err := f.sink.ctx.Err(); err != nil {
		return 0, errors.Cancelled(err)
	}
	n, err := f.File.Write(p)
	if n > 0 {
		f.sink.written += int64(n)
		f.sink.tracker.Update(f.sink.written)
	}
	if err != nil {
		return n, ioError(f.Name(), err)
	}
	return n, nil
}

func (f *countingFile) Close() error {
	if err := f.File.Close(); err != nil {
		return ioError(f.Name(), err)
	}
	return nil
}

func ioError(path string, err error) error {
	kind := errors.Classify(err)
	if kind == errors.KindVolumeNotFound || kind == errors.KindCorruptArchive || kind == errors.KindUnknown {
		// on the destination side these are plain i/o failures
		kind = errors.KindIOError
	}
	return errors.NewOperationError(kind, fmt.Sprintf("cannot write %s", path), err)
}
