package volume

import (
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// Compile-time interface checks
var (
	_ afero.Fs  = (*aferoView)(nil)
	_ fs.FS     = (*ioView)(nil)
	_ fs.StatFS = (*ioView)(nil)
)

// Fs exposes the provider as a read-only afero.Fs, the volume callback shape
// expected by the 7z codec.
func (p *Provider) Fs() afero.Fs {
	return &aferoView{p: p}
}

// FS exposes the provider as an io/fs filesystem with Stat, the volume
// callback shape expected by the RAR codec.
func (p *Provider) FS() fs.FS {
	return &ioView{p: p}
}

type aferoView struct {
	p *Provider
}

func (v *aferoView) Name() string { return "volumes" }

func (v *aferoView) Open(name string) (afero.File, error) {
	s, err := v.p.Stream(name)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (v *aferoView) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, &fs.PathError{Op: "open", Path: name, Err: syscall.EPERM}
	}
	return v.Open(name)
}

func (v *aferoView) Stat(name string) (os.FileInfo, error) {
	return v.p.Stat(name)
}

func (v *aferoView) Create(name string) (afero.File, error) {
	return nil, &fs.PathError{Op: "create", Path: name, Err: syscall.EPERM}
}

func (v *aferoView) Mkdir(name string, perm os.FileMode) error {
	return &fs.PathError{Op: "mkdir", Path: name, Err: syscall.EPERM}
}

func (v *aferoView) MkdirAll(path string, perm os.FileMode) error {
	return &fs.PathError{Op: "mkdir", Path: path, Err: syscall.EPERM}
}

func (v *aferoView) Remove(name string) error {
	return &fs.PathError{Op: "remove", Path: name, Err: syscall.EPERM}
}

func (v *aferoView) RemoveAll(path string) error {
	return &fs.PathError{Op: "remove", Path: path, Err: syscall.EPERM}
}

func (v *aferoView) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: syscall.EPERM}
}

func (v *aferoView) Chmod(name string, mode os.FileMode) error {
	return &fs.PathError{Op: "chmod", Path: name, Err: syscall.EPERM}
}

func (v *aferoView) Chown(name string, uid, gid int) error {
	return &fs.PathError{Op: "chown", Path: name, Err: syscall.EPERM}
}

func (v *aferoView) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return &fs.PathError{Op: "chtimes", Path: name, Err: syscall.EPERM}
}

type ioView struct {
	p *Provider
}

func (v *ioView) Open(name string) (fs.File, error) {
	s, err := v.p.Stream(name)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (v *ioView) Stat(name string) (fs.FileInfo, error) {
	return v.p.Stat(name)
}
