// Package tar reads tarballs, optionally wrapped in a whole-stream
// compression filter, and single compressed files. Uncompressed tarballs
// can also be rewritten.
package tar

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
)

const readAhead = 64 * 1024

type reader struct {
	log   *slog.Logger
	src   volume.SizedReaderAt
	kind  archive.Kind
	opts  archive.Options
	items []archive.Item
}

// Open lists the tarball described by set. Compressed tarballs have no
// index, so listing decodes the whole stream once.
func Open(ctx context.Context, p *volume.Provider, set volume.Set, kind archive.Kind, opts archive.Options) (archive.Reader, error) {
	src, err := source(p, set)
	if err != nil {
		return nil, err
	}

	r := &reader{
		log:  slog.Default().With("component", "tar-reader"),
		src:  src,
		kind: kind,
		opts: opts,
	}

	err = r.walk(ctx, func(item archive.Item, _ io.Reader) error {
		r.items = append(r.items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.DebugContext(ctx, "Listed tar archive",
		"entry", set.Entry,
		"compression", string(kind.Compression),
		"files", len(r.items))
	return r, nil
}

// source joins byte-split volumes; a single volume is read directly.
func source(p *volume.Provider, set volume.Set) (volume.SizedReaderAt, error) {
	if len(set.Volumes) > 1 {
		c, err := p.Concat(set.Names())
		if err != nil {
			return nil, archive.DecodeError("cannot open volume", err)
		}
		return c, nil
	}
	s, err := p.Stream(filepath.Base(set.Entry))
	if err != nil {
		return nil, archive.DecodeError("cannot open archive", err)
	}
	return s, nil
}

func (r *reader) open() (io.ReadCloser, error) {
	sr := io.NewSectionReader(r.src, 0, r.src.Size())
	if r.kind.Compression == archive.CompressionNone {
		return io.NopCloser(sr), nil
	}
	rc, err := decompress(r.kind.Compression, bufio.NewReaderSize(sr, readAhead), r.opts.DecoderConcurrency)
	if err != nil {
		return nil, archive.DecodeError(fmt.Sprintf("cannot open %s stream", r.kind.Compression), err)
	}
	return rc, nil
}

// walk calls fn for every directory and regular file in archive order.
// Other entry types are skipped.
func (r *reader) walk(ctx context.Context, fn func(item archive.Item, data io.Reader) error) error {
	rc, err := r.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled(err)
		}
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return archive.DecodeError("cannot read tar header", err)
		}

		item, ok := itemOf(index, h)
		if !ok {
			r.log.DebugContext(ctx, "Skipping tar entry", "name", h.Name, "type", string(h.Typeflag))
			continue
		}
		if err := fn(item, tr); err != nil {
			return err
		}
		index++
	}
}

func itemOf(index int, h *tar.Header) (archive.Item, bool) {
	item := archive.Item{
		Index:    index,
		Path:     strings.Trim(strings.ReplaceAll(h.Name, "\\", "/"), "/"),
		Size:     h.Size,
		Modified: h.ModTime,
		Mode:     h.FileInfo().Mode(),
	}
	switch h.Typeflag {
	case tar.TypeDir:
		item.IsDir = true
		item.Size = 0
	case tar.TypeReg:
	default:
		return item, false
	}
	return item, item.Path != ""
}

func (r *reader) Items() ([]archive.Item, error) {
	return append([]archive.Item(nil), r.items...), nil
}

func (r *reader) Extract(ctx context.Context, sink archive.Sink) error {
	buf := r.opts.Buffer()
	return r.walk(ctx, func(item archive.Item, data io.Reader) error {
		if item.IsDir {
			return sink.Directory(item)
		}

		w, err := sink.Create(item)
		if err != nil {
			return err
		}
		if _, err := io.CopyBuffer(w, data, buf); err != nil {
			_ = w.Close()
			return archive.DecodeError(fmt.Sprintf("cannot decode %s", item.Path), err)
		}
		return w.Close()
	})
}

func (r *reader) Close() error {
	return nil
}
