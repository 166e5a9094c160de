// Package rar adapts javi11/rardecode to the archive contract.
package rar

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/javi11/rardecode/v2"
	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
)

type reader struct {
	log   *slog.Logger
	p     *volume.Provider
	name  string
	multi bool
	opts  archive.Options
	items []archive.Item
}

// Open lists the archive headed by set.Entry. Volumes are pulled from p as
// the decoder reaches them.
func Open(ctx context.Context, p *volume.Provider, set volume.Set, _ archive.Kind, opts archive.Options) (archive.Reader, error) {
	r := &reader{
		log:  slog.Default().With("component", "rar-reader"),
		p:    p,
		name:  filepath.Base(set.Entry),
		multi: set.Scheme.Multi(),
		opts:  opts,
	}

	items, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	r.items = items

	r.log.DebugContext(ctx, "Listed rar archive",
		"entry", r.name,
		"volumes", len(set.Volumes),
		"files", len(items))
	return r, nil
}

func (r *reader) options() []rardecode.Option {
	opts := []rardecode.Option{rardecode.FileSystem(r.p.FS())}
	if r.opts.Password != "" {
		opts = append(opts, rardecode.Password(r.opts.Password))
	}
	return opts
}

func (r *reader) open() (*rardecode.ReadCloser, error) {
	rc, err := rardecode.OpenReader(r.name, r.options()...)
	if err != nil {
		return nil, r.classify(archive.Item{Path: r.name}, err)
	}
	return rc, nil
}

func (r *reader) list(ctx context.Context) ([]archive.Item, error) {
	rc, err := r.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var items []archive.Item
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Cancelled(err)
		}
		h, err := rc.Next()
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return nil, r.classify(archive.Item{Path: r.name}, err)
		}
		items = append(items, itemOf(len(items), h))
	}
}

func itemOf(index int, h *rardecode.FileHeader) archive.Item {
	return archive.Item{
		Index:     index,
		Path:      strings.Trim(strings.ReplaceAll(h.Name, "\\", "/"), "/"),
		IsDir:     h.IsDir,
		Size:      h.UnPackedSize,
		Modified:  h.ModificationTime,
		Mode:      h.Mode(),
		Encrypted: h.Encrypted,
	}
}

func (r *reader) Items() ([]archive.Item, error) {
	return append([]archive.Item(nil), r.items...), nil
}

func (r *reader) Extract(ctx context.Context, sink archive.Sink) error {
	rc, err := r.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	buf := r.opts.Buffer()
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled(err)
		}
		h, err := rc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return r.classify(archive.Item{Path: r.name}, err)
		}
		item := itemOf(index, h)

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
		if _, err := io.CopyBuffer(w, rc, buf); err != nil {
			_ = w.Close()
			return r.classify(item, err)
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
}

// classify maps rardecode failures onto operation errors.
func (r *reader) classify(item archive.Item, err error) error {
	var opErr *errors.OperationError
	if errors.As(err, &opErr) {
		return err
	}

	switch {
	case errors.Is(err, rardecode.ErrArchiveEncrypted), errors.Is(err, rardecode.ErrArchivedFileEncrypted):
		if r.opts.Password == "" {
			return archive.WrongPassword(item, nil)
		}
		return archive.WrongPassword(item, err)
	case errors.Is(err, rardecode.ErrBadPassword):
		return archive.WrongPassword(item, err)
	case item.Encrypted && errors.Is(err, rardecode.ErrBadFileChecksum):
		// RAR 4 has no password check value; a bad key shows up as a CRC mismatch
		return archive.WrongPassword(item, err)
	case errors.Is(err, rardecode.ErrMultiVolume), errors.Is(err, fs.ErrNotExist),
		r.multi && errors.Is(err, rardecode.ErrUnexpectedArcEnd):
		return errors.NewOperationError(errors.KindVolumeNotFound, r.missingVolume(), err)
	case errors.Is(err, rardecode.ErrUnknownDecoder), errors.Is(err, rardecode.ErrUnsupportedDecoder),
		errors.Is(err, rardecode.ErrUnknownVersion), errors.Is(err, rardecode.ErrUnknownEncryptMethod),
		errors.Is(err, rardecode.ErrMultipleDecoders):
		return errors.NewOperationError(errors.KindUnsupported, fmt.Sprintf("cannot decode %s", item.Path), err)
	default:
		return archive.DecodeError(fmt.Sprintf("cannot decode %s", item.Path), err)
	}
}

// missingVolume names the volume expected after the last one the decoder
// managed to open.
func (r *reader) missingVolume() string {
	if missing := r.p.Missing(); len(missing) > 0 {
		return fmt.Sprintf("%s is missing", filepath.Base(missing[0]))
	}
	opened := r.p.Opened()
	if len(opened) == 0 {
		return "next volume is missing"
	}
	last := opened[len(opened)-1]
	if next := volume.Next(last); next != "" {
		return fmt.Sprintf("%s is missing", filepath.Base(next))
	}
	return fmt.Sprintf("volume after %s is missing", filepath.Base(last))
}

func (r *reader) Close() error {
	return nil
}
