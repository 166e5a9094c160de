// Package sevenzip adapts javi11/sevenzip to the archive contract.
package sevenzip

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/javi11/sevenzip"
	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
)

type reader struct {
	log   *slog.Logger
	opts  archive.Options
	rc    *sevenzip.ReadCloser
	items []archive.Item
}

// Open opens the 7z archive headed by set.Entry. Split sets (name.7z.001)
// are followed by the decoder through the provider.
func Open(ctx context.Context, p *volume.Provider, set volume.Set, _ archive.Kind, opts archive.Options) (archive.Reader, error) {
	log := slog.Default().With("component", "7z-reader")
	name := filepath.Base(set.Entry)

	var (
		rc  *sevenzip.ReadCloser
		err error
	)
	if opts.Password != "" {
		rc, err = sevenzip.OpenReaderWithPassword(name, opts.Password, p.Fs())
	} else {
		rc, err = sevenzip.OpenReader(name, p.Fs())
	}
	if err != nil {
		return nil, openError(p, set, opts, name, err)
	}

	items := make([]archive.Item, len(rc.File))
	for i, f := range rc.File {
		info := f.FileInfo()
		items[i] = archive.Item{
			Index:    i,
			Path:     strings.Trim(strings.ReplaceAll(f.Name, "\\", "/"), "/"),
			IsDir:    info.IsDir(),
			Size:     int64(f.UncompressedSize),
			Modified: f.Modified,
			Mode:     info.Mode(),
		}
	}

	log.DebugContext(ctx, "Opened 7z archive",
		"entry", name,
		"volumes", len(set.Volumes),
		"files", len(items),
		"has_password", opts.Password != "")

	return &reader{log: log, opts: opts, rc: rc, items: items}, nil
}

func (r *reader) Items() ([]archive.Item, error) {
	return append([]archive.Item(nil), r.items...), nil
}

func (r *reader) Extract(ctx context.Context, sink archive.Sink) error {
	buf := r.opts.Buffer()
	for i, f := range r.rc.File {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled(err)
		}
		item := r.items[i]
		if item.IsDir {
			if err := sink.Directory(item); err != nil {
				return err
			}
			continue
		}

		w, err := sink.Create(item)
		if err != nil {
			return err
		}
		if err := r.extractFile(f, item, w, buf); err != nil {
			_ = w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	r.log.DebugContext(ctx, "Extracted 7z archive", "files", len(r.rc.File))
	return nil
}

func (r *reader) extractFile(f *sevenzip.File, item archive.Item, w io.Writer, buf []byte) error {
	src, err := f.Open()
	if err != nil {
		return classify(r.opts, item, err)
	}
	defer src.Close()

	if _, err := io.CopyBuffer(w, src, buf); err != nil {
		return classify(r.opts, item, err)
	}
	return nil
}

// openError classifies a failure to read the archive headers. A split set
// that ends early leaves the decoder short of the end header; that is
// reported as the missing volume rather than as damage.
func openError(p *volume.Provider, set volume.Set, opts archive.Options, name string, err error) error {
	if !encrypted(err) {
		if next, ok := truncatedAt(p, set); ok {
			return errors.NewOperationError(errors.KindVolumeNotFound, fmt.Sprintf("%s is missing", next), err)
		}
	}
	return classify(opts, archive.Item{Path: name}, err)
}

// truncatedAt names the volume the decoder asked for after the last one it
// found. Every volume of a split set but the tail has the same size, so a
// last volume as large as the first means the set was cut short.
func truncatedAt(p *volume.Provider, set volume.Set) (string, bool) {
	if set.Scheme != volume.SchemeSevenZip {
		return "", false
	}
	opened := p.Opened()
	if len(opened) == 0 {
		return "", false
	}
	last := opened[len(opened)-1]
	next := filepath.Base(volume.Next(last))
	if !slices.Contains(p.Missing(), next) {
		return "", false
	}

	head, err := p.Stat(opened[0])
	if err != nil {
		return "", false
	}
	tail, err := p.Stat(last)
	if err != nil || tail.Size() < head.Size() {
		return "", false
	}
	return next, true
}

// encrypted reports whether the decoder failed inside an encrypted stream.
// The key is never checked up front, so with a bad or missing password the
// header or data decoder behind the AES stage fails instead.
func encrypted(err error) bool {
	var readErr *sevenzip.ReadError
	return errors.As(err, &readErr) && readErr.Encrypted
}

// classify maps sevenzip failures onto operation errors.
func classify(opts archive.Options, item archive.Item, err error) error {
	var opErr *errors.OperationError
	if errors.As(err, &opErr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case encrypted(err):
		if opts.Password == "" {
			return archive.WrongPassword(item, nil)
		}
		return archive.WrongPassword(item, err)
	case opts.Password != "" && strings.Contains(msg, "checksum"):
		// stored entries behind AES decrypt to garbage and fail the CRC
		return archive.WrongPassword(item, err)
	case strings.Contains(msg, "unsupported"):
		return errors.NewOperationError(errors.KindUnsupported, fmt.Sprintf("cannot decode %s", item.Path), err)
	default:
		return archive.DecodeError(fmt.Sprintf("cannot decode %s", item.Path), err)
	}
}

func (r *reader) Close() error {
	return r.rc.Close()
}
