package volume

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"syscall"

	"github.com/spf13/afero"
)

// Compile-time interface checks
var (
	_ afero.File  = (*Stream)(nil)
	_ fs.File     = (*Stream)(nil)
	_ io.ReaderAt = (*Stream)(nil)
	_ io.Seeker   = (*Stream)(nil)
)

// Stream is a read-only view over a cached volume handle. Every Stream keeps
// its own position and reads through ReadAt, so several streams over the same
// handle do not disturb each other. Closing a Stream leaves the handle open;
// the Provider owns it.
type Stream struct {
	name string
	file afero.File
	size int64

	mu     sync.Mutex
	offset int64
	closed bool
}

func newStream(name string, f afero.File) (*Stream, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat volume %q: %w", name, err)
	}
	return &Stream{name: name, file: f, size: info.Size()}, nil
}

// Size returns the size of the volume in bytes.
func (s *Stream) Size() int64 {
	return s.size
}

func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fs.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.offset >= s.size {
		return 0, io.EOF
	}

	n, err := s.readAt(p, s.offset)
	s.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return 0, fs.ErrClosed
	}
	return s.readAt(p, off)
}

func (s *Stream) readAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &fs.PathError{Op: "readat", Path: s.name, Err: fs.ErrInvalid}
	}
	if off >= s.size {
		return 0, io.EOF
	}

	want := len(p)
	if remaining := s.size - off; int64(want) > remaining {
		p = p[:remaining]
	}

	n, err := s.file.ReadAt(p, off)
	if err == nil && n < want {
		err = io.EOF
	}
	return n, err
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fs.ErrClosed
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.offset + offset
	case io.SeekEnd:
		abs = s.size + offset
	default:
		return 0, &fs.PathError{Op: "seek", Path: s.name, Err: fs.ErrInvalid}
	}
	if abs < 0 {
		return 0, &fs.PathError{Op: "seek", Path: s.name, Err: fs.ErrInvalid}
	}

	s.offset = abs
	return abs, nil
}

func (s *Stream) Stat() (os.FileInfo, error) {
	return s.file.Stat()
}

// Close marks the stream closed. The underlying handle stays cached.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Write operations are rejected: volumes are never modified.

func (s *Stream) Write(p []byte) (int, error) {
	return 0, s.readOnly("write")
}

func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	return 0, s.readOnly("writeat")
}

func (s *Stream) WriteString(str string) (int, error) {
	return 0, s.readOnly("write")
}

func (s *Stream) Truncate(size int64) error {
	return s.readOnly("truncate")
}

func (s *Stream) Sync() error {
	return nil
}

func (s *Stream) Readdir(count int) ([]os.FileInfo, error) {
	return nil, &fs.PathError{Op: "readdir", Path: s.name, Err: syscall.ENOTDIR}
}

func (s *Stream) Readdirnames(n int) ([]string, error) {
	return nil, &fs.PathError{Op: "readdirnames", Path: s.name, Err: syscall.ENOTDIR}
}

func (s *Stream) readOnly(op string) error {
	return &fs.PathError{Op: op, Path: s.name, Err: syscall.EPERM}
}
