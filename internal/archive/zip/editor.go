package zip

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

type editor struct {
	log   *slog.Logger
	opts  archive.Options
	file  afero.File
	zr    *zip.Reader
	items []archive.Item
}

// OpenEditor opens the archive at path for a merge-rewrite. A missing file
// yields an empty editor so that an update can create the archive.
func OpenEditor(ctx context.Context, fsys afero.Fs, path string, _ archive.Kind, opts archive.Options) (archive.Editor, error) {
	e := &editor{
		log:  slog.Default().With("component", "zip-editor"),
		opts: opts,
	}

	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		e.log.DebugContext(ctx, "Creating new zip archive", "path", path)
		return e, nil
	}
	if err != nil {
		return nil, errors.NewOperationError(errors.KindIOError, "cannot open archive", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.NewOperationError(errors.KindIOError, "cannot stat archive", err)
	}
	if info.Size() == 0 {
		e.file = f
		return e, nil
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, archive.DecodeError("cannot read zip directory", err)
	}

	e.file = f
	e.zr = zr
	e.items = itemsOf(zr.File)
	return e, nil
}

func (e *editor) Items() ([]archive.Item, error) {
	return append([]archive.Item(nil), e.items...), nil
}

func (e *editor) Rewrite(ctx context.Context, w io.Writer, count int, src archive.UpdateSource, progress archive.UpdateProgress) error {
	zw := zip.NewWriter(w)
	level := e.opts.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	buf := e.opts.Buffer()
	progress.SetTotal(int64(count))
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled(err)
		}

		ui, err := src.Describe(i)
		if err != nil {
			return err
		}
		if ui.OldIndex >= 0 {
			err = e.copyRaw(zw, ui.OldIndex, buf)
		} else {
			err = e.add(zw, i, ui.Item, src, buf)
		}
		if err != nil {
			return err
		}
		progress.SetCompleted(int64(i + 1))
	}

	if err := zw.Close(); err != nil {
		return errors.NewOperationError(errors.KindIOError, "cannot finish zip archive", err)
	}
	return nil
}

// copyRaw carries an entry over without decompressing or decrypting it.
func (e *editor) copyRaw(zw *zip.Writer, oldIndex int, buf []byte) error {
	if e.zr == nil || oldIndex >= len(e.zr.File) {
		return fmt.Errorf("old index %d out of range", oldIndex)
	}
	f := e.zr.File[oldIndex]

	raw, err := f.OpenRaw()
	if err != nil {
		return archive.DecodeError(fmt.Sprintf("cannot read %s", f.Name), err)
	}
	fh := f.FileHeader
	dst, err := zw.CreateRaw(&fh)
	if err != nil {
		return errors.NewOperationError(errors.KindIOError, "cannot write entry header", err)
	}
	if _, err := io.CopyBuffer(dst, raw, buf); err != nil {
		return errors.Wrap(errors.KindIOError, fmt.Sprintf("cannot copy %s", f.Name), err)
	}
	return nil
}

func (e *editor) add(zw *zip.Writer, newIndex int, item archive.Item, src archive.UpdateSource, buf []byte) error {
	fh := &zip.FileHeader{
		Name:     item.Path,
		Modified: item.Modified,
		Method:   zip.Deflate,
	}
	if item.IsDir {
		fh.Name += "/"
		fh.Method = zip.Store
		fh.SetMode(item.Mode | fs.ModeDir)
	} else {
		fh.SetMode(item.Mode)
		if e.opts.CompressionLevel == flate.NoCompression {
			fh.Method = zip.Store
		}
	}

	dst, err := zw.CreateHeader(fh)
	if err != nil {
		return errors.NewOperationError(errors.KindIOError, "cannot write entry header", err)
	}
	if item.IsDir {
		return nil
	}

	rc, err := src.Open(newIndex)
	if err != nil {
		return errors.Wrap(errors.KindIOError, fmt.Sprintf("cannot open %s", item.Path), err)
	}
	defer rc.Close()

	if _, err := io.CopyBuffer(dst, rc, buf); err != nil {
		return errors.Wrap(errors.KindIOError, fmt.Sprintf("cannot add %s", item.Path), err)
	}
	return nil
}

func (e *editor) Close() error {
	if e.file == nil {
		return nil
	}
	return e.file.Close()
}
