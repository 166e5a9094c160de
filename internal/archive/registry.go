package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// ReaderOpener opens the volume set served by p for reading.
type ReaderOpener func(ctx context.Context, p *volume.Provider, set volume.Set, kind Kind, opts Options) (Reader, error)

// EditorOpener opens the single-file archive at path for rewriting. The
// archive may not exist yet, in which case the editor starts empty.
type EditorOpener func(ctx context.Context, fsys afero.Fs, path string, kind Kind, opts Options) (Editor, error)

// Registry maps formats to codec adapters.
type Registry struct {
	mu      sync.RWMutex
	readers map[Format]ReaderOpener
	editors map[Format]EditorOpener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers: make(map[Format]ReaderOpener),
		editors: make(map[Format]EditorOpener),
	}
}

func (r *Registry) RegisterReader(format Format, open ReaderOpener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[format] = open
}

func (r *Registry) RegisterEditor(format Format, open EditorOpener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.editors[format] = open
}

// ReadableFormats lists the formats with a registered reader.
func (r *Registry) ReadableFormats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := lo.Keys(r.readers)
	slices.Sort(formats)
	return formats
}

// EditableFormats lists the formats with a registered editor.
func (r *Registry) EditableFormats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := lo.Keys(r.editors)
	slices.Sort(formats)
	return formats
}

// OpenReader detects the format of set from its entry volume and opens it.
func (r *Registry) OpenReader(ctx context.Context, p *volume.Provider, set volume.Set, opts Options) (Reader, Kind, error) {
	entry, err := p.Stream(filepath.Base(set.Entry))
	if err != nil {
		return nil, Kind{}, errors.Wrap(errors.KindVolumeNotFound, fmt.Sprintf("cannot open %s", filepath.Base(set.Entry)), err)
	}
	header, err := ReadHeader(entry)
	_ = entry.Close()
	if err != nil {
		return nil, Kind{}, errors.NewOperationError(errors.KindIOError, "cannot read archive header", err)
	}

	kind := Detect(set.Entry, header)

	r.mu.RLock()
	open, ok := r.readers[kind.Format]
	r.mu.RUnlock()
	if !ok {
		return nil, kind, errors.NewOperationError(errors.KindUnsupported,
			fmt.Sprintf("no reader for %s (%s)", filepath.Base(set.Entry), formatName(kind)), nil)
	}

	reader, err := open(ctx, p, set, kind, opts)
	if err != nil {
		return nil, kind, err
	}
	return reader, kind, nil
}

// OpenEditor opens the archive at path for a merge-rewrite. Multi-volume
// archives cannot be rewritten.
func (r *Registry) OpenEditor(ctx context.Context, fsys afero.Fs, path string, opts Options) (Editor, Kind, error) {
	if volume.Detect(path).Multi() {
		return nil, Kind{}, errors.NewOperationError(errors.KindUnsupported,
			fmt.Sprintf("%s is part of a multi-volume set and cannot be updated in place", filepath.Base(path)), nil)
	}

	kind := DetectName(path)
	if f, err := fsys.Open(path); err == nil {
		header, herr := ReadHeader(f)
		_ = f.Close()
		if herr != nil {
			return nil, Kind{}, errors.NewOperationError(errors.KindIOError, "cannot read archive header", herr)
		}
		if len(header) > 0 {
			kind = Detect(path, header)
		}
	}

	r.mu.RLock()
	open, ok := r.editors[kind.Format]
	r.mu.RUnlock()
	if !ok || kind.Compression != CompressionNone {
		return nil, kind, errors.NewOperationError(errors.KindUnsupported,
			fmt.Sprintf("%s archives cannot be updated in place", formatName(kind)), nil)
	}

	editor, err := open(ctx, fsys, path, kind, opts)
	if err != nil {
		return nil, kind, err
	}
	return editor, kind, nil
}

func formatName(k Kind) string {
	if k.Format == FormatUnknown {
		return "unknown format"
	}
	return k.String()
}
