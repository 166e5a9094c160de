package tar

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/spf13/afero"
)

type tarEntry struct {
	header *tar.Header
	offset int64
}

type editor struct {
	log     *slog.Logger
	opts    archive.Options
	file    afero.File
	entries []tarEntry
	items   []archive.Item
}

// OpenEditor indexes the uncompressed tarball at path. Every entry type is
// indexed so that a rewrite carries links and special files over too.
func OpenEditor(ctx context.Context, fsys afero.Fs, path string, _ archive.Kind, opts archive.Options) (archive.Editor, error) {
	e := &editor{
		log:  slog.Default().With("component", "tar-editor"),
		opts: opts,
	}

	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		e.log.DebugContext(ctx, "Creating new tar archive", "path", path)
		return e, nil
	}
	if err != nil {
		return nil, errors.NewOperationError(errors.KindIOError, "cannot open archive", err)
	}
	e.file = f

	cr := &countingReader{r: f}
	tr := tar.NewReader(cr)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = f.Close()
			return nil, archive.DecodeError("cannot read tar header", err)
		}
		if h.Typeflag == tar.TypeGNUSparse {
			_ = f.Close()
			return nil, errors.NewOperationError(errors.KindUnsupported,
				fmt.Sprintf("sparse entry %s cannot be carried over", h.Name), nil)
		}

		e.entries = append(e.entries, tarEntry{header: h, offset: cr.n})
		item, ok := itemOf(len(e.items), h)
		if !ok {
			item.Path = h.Name
		}
		e.items = append(e.items, item)
	}

	return e, nil
}

func (e *editor) Items() ([]archive.Item, error) {
	return append([]archive.Item(nil), e.items...), nil
}

func (e *editor) Rewrite(ctx context.Context, w io.Writer, count int, src archive.UpdateSource, progress archive.UpdateProgress) error {
	tw := tar.NewWriter(w)
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
			err = e.copyEntry(tw, ui.OldIndex, buf)
		} else {
			err = e.add(tw, i, ui.Item, src, buf)
		}
		if err != nil {
			return err
		}
		progress.SetCompleted(int64(i + 1))
	}

	if err := tw.Close(); err != nil {
		return errors.NewOperationError(errors.KindIOError, "cannot finish tar archive", err)
	}
	return nil
}

// copyEntry re-emits the header of an existing entry followed by its
// payload, read straight from the original file.
func (e *editor) copyEntry(tw *tar.Writer, oldIndex int, buf []byte) error {
	if oldIndex >= len(e.entries) {
		return fmt.Errorf("old index %d out of range", oldIndex)
	}
	entry := e.entries[oldIndex]

	h := *entry.header
	if err := tw.WriteHeader(&h); err != nil {
		return errors.NewOperationError(errors.KindIOError, "cannot write entry header", err)
	}
	if h.Size == 0 || h.Typeflag == tar.TypeDir || h.Typeflag == tar.TypeSymlink || h.Typeflag == tar.TypeLink {
		return nil
	}

	payload := io.NewSectionReader(e.file, entry.offset, h.Size)
	if _, err := io.CopyBuffer(tw, payload, buf); err != nil {
		return errors.Wrap(errors.KindIOError, fmt.Sprintf("cannot copy %s", h.Name), err)
	}
	return nil
}

func (e *editor) add(tw *tar.Writer, newIndex int, item archive.Item, src archive.UpdateSource, buf []byte) error {
	h := &tar.Header{
		Name:    item.Path,
		Mode:    int64(item.Mode.Perm()),
		ModTime: item.Modified,
		Format:  tar.FormatPAX,
	}
	if item.IsDir {
		h.Typeflag = tar.TypeDir
		h.Name += "/"
	} else {
		h.Typeflag = tar.TypeReg
		h.Size = item.Size
	}

	if err := tw.WriteHeader(h); err != nil {
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

	if _, err := io.CopyBuffer(tw, io.LimitReader(rc, item.Size), buf); err != nil {
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

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
