// Package zip adapts klauspost/compress/zip to the archive contract. It
// reads single files, byte-split sets (name.zip.001) and spanned sets
// (name.z01 ... name.zip), and rewrites single-file archives.
package zip

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/charmap"
)

const (
	methodBzip2 = 12
	methodXz    = 95
	flagUTF8    = 0x800
)

var errFormat = zip.ErrFormat

type reader struct {
	log   *slog.Logger
	opts  archive.Options
	zr    *zip.Reader
	dec   *decrypter
	items []archive.Item
}

// Open opens the ZIP archive described by set.
func Open(ctx context.Context, p *volume.Provider, set volume.Set, _ archive.Kind, opts archive.Options) (archive.Reader, error) {
	log := slog.Default().With("component", "zip-reader")

	src, err := source(p, set)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(src, src.Size())
	if err != nil {
		if set.Scheme == volume.SchemeZipSplit && errors.Is(err, zip.ErrFormat) {
			last := set.Volumes[len(set.Volumes)-1]
			return nil, errors.NewOperationError(errors.KindVolumeNotFound,
				fmt.Sprintf("archive truncated, %s may be missing", filepath.Base(volume.Next(last))), err)
		}
		return nil, archive.DecodeError("cannot read zip directory", err)
	}
	registerDecompressors(zr)

	log.DebugContext(ctx, "Opened zip archive",
		"entry", set.Entry,
		"volumes", len(set.Volumes),
		"files", len(zr.File))

	return &reader{
		log:   log,
		opts:  opts,
		zr:    zr,
		dec:   &decrypter{src: src},
		items: itemsOf(zr.File),
	}, nil
}

// source returns the byte range holding the archive.
func source(p *volume.Provider, set volume.Set) (volume.SizedReaderAt, error) {
	switch set.Scheme {
	case volume.SchemeZipSplit:
		c, err := p.Concat(set.Names())
		if err != nil {
			return nil, archive.DecodeError("cannot open volume", err)
		}
		return c, nil
	case volume.SchemeZipLegacy:
		last := set.Volumes[len(set.Volumes)-1]
		if !strings.EqualFold(filepath.Ext(last), ".zip") {
			return nil, errors.NewOperationError(errors.KindVolumeNotFound,
				fmt.Sprintf("%s.zip is missing", volume.BaseName(set.First)), nil)
		}
		c, err := p.Concat(set.Names())
		if err != nil {
			return nil, archive.DecodeError("cannot open volume", err)
		}
		joined, err := joinSpanned(c)
		if err != nil {
			return nil, archive.DecodeError("cannot join spanned archive", err)
		}
		return joined, nil
	default:
		s, err := p.Stream(filepath.Base(set.Entry))
		if err != nil {
			return nil, archive.DecodeError("cannot open archive", err)
		}
		return s, nil
	}
}

func registerDecompressors(zr *zip.Reader) {
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	zr.RegisterDecompressor(methodBzip2, func(r io.Reader) io.ReadCloser {
		return io.NopCloser(bzip2.NewReader(r))
	})
	zr.RegisterDecompressor(methodXz, xzDecompressor)
}

func xzDecompressor(r io.Reader) io.ReadCloser {
	xr, err := xz.NewReader(r)
	if err != nil {
		return io.NopCloser(errReader{err: err})
	}
	return io.NopCloser(xr)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func itemsOf(files []*zip.File) []archive.Item {
	items := make([]archive.Item, len(files))
	for i, f := range files {
		name := decodeName(f)
		isDir := strings.HasSuffix(name, "/") || f.Mode().IsDir()
		items[i] = archive.Item{
			Index:     i,
			Path:      strings.TrimSuffix(name, "/"),
			IsDir:     isDir,
			Size:      int64(f.UncompressedSize64),
			Modified:  f.Modified,
			Mode:      f.Mode(),
			Encrypted: f.Flags&flagEncrypted != 0,
		}
	}
	return items
}

// decodeName returns the entry name with "/" separators. Names without
// the UTF-8 flag that are not valid UTF-8 are decoded as CP437.
func decodeName(f *zip.File) string {
	name := f.Name
	if f.Flags&flagUTF8 == 0 && !utf8.ValidString(name) {
		if decoded, err := charmap.CodePage437.NewDecoder().String(name); err == nil {
			name = decoded
		}
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if cleaned := path.Clean(name); strings.HasSuffix(name, "/") && cleaned != "/" {
		return cleaned + "/"
	} else if cleaned != "." {
		return cleaned
	}
	return name
}

func (r *reader) Items() ([]archive.Item, error) {
	return append([]archive.Item(nil), r.items...), nil
}

func (r *reader) Extract(ctx context.Context, sink archive.Sink) error {
	buf := r.opts.Buffer()
	for i, f := range r.zr.File {
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
	r.log.DebugContext(ctx, "Extracted zip archive", "files", len(r.zr.File))
	return nil
}

func (r *reader) extractFile(f *zip.File, item archive.Item, w io.Writer, buf []byte) error {
	rc, err := r.openEntry(f, item)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := io.CopyBuffer(w, rc, buf); err != nil {
		return r.entryError(f, item, err)
	}
	return nil
}

func (r *reader) openEntry(f *zip.File, item archive.Item) (io.ReadCloser, error) {
	if !item.Encrypted {
		rc, err := f.Open()
		if err != nil {
			return nil, r.entryError(f, item, err)
		}
		return rc, nil
	}

	if r.opts.Password == "" {
		return nil, archive.WrongPassword(item, nil)
	}
	rc, err := r.dec.open(item.Index, r.opts.Password)
	if err != nil {
		return nil, r.entryError(f, item, err)
	}
	return rc, nil
}

func (r *reader) entryError(f *zip.File, item archive.Item, err error) error {
	switch {
	case item.Encrypted:
		return encryptedError(f, item, err)
	case errors.Is(err, zip.ErrAlgorithm):
		return errors.NewOperationError(errors.KindUnsupported, fmt.Sprintf("%s: unsupported compression", item.Path), err)
	default:
		return archive.DecodeError(fmt.Sprintf("cannot decode %s", item.Path), err)
	}
}

func (r *reader) Close() error {
	return nil
}
