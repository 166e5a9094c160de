package volume

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/metrics"
	"github.com/spf13/afero"
)

// ErrProviderClosed is returned for requests made after Close.
var ErrProviderClosed = errors.New("volume provider closed")

// Provider opens the physical files behind the logical volume names a codec
// asks for. It keeps one handle per volume for the lifetime of a session and
// is the only place where volume files are opened.
type Provider struct {
	ctx context.Context
	fs  afero.Fs
	dir string
	log *slog.Logger

	mu      sync.Mutex
	handles map[string]afero.File
	order   []string
	missing []string
	closed  bool
}

// NewProvider creates a provider for the archive at archivePath. Volume
// names are resolved against the archive's directory. ctx is the
// cancellation signal of the owning operation.
func NewProvider(ctx context.Context, fsys afero.Fs, archivePath string) *Provider {
	return &Provider{
		ctx:     ctx,
		fs:      fsys,
		dir:     filepath.Dir(archivePath),
		log:     slog.Default().With("component", "volume-provider"),
		handles: make(map[string]afero.File),
	}
}

// Stream returns a reader positioned at the start of the named volume.
//
// Repeated requests for the same name reuse the cached handle: it is seeked
// back to offset 0 and wrapped in a new Stream. A volume that does not exist
// yields a *fs.PathError wrapping fs.ErrNotExist so the codec can report the
// missing volume itself. When the operation has been cancelled no new volume
// is opened and a KindCancelled error is returned instead.
func (p *Provider) Stream(name string) (*Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}

	if f, ok := p.handles[name]; ok {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, errors.NewOperationError(errors.KindIOError, fmt.Sprintf("failed to rewind volume %q", name), err)
		}
		return newStream(name, f)
	}

	select {
	case <-p.ctx.Done():
		return nil, errors.Cancelled(p.ctx.Err())
	default:
	}

	physical := p.resolve(name)
	f, err := p.fs.Open(physical)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.log.DebugContext(p.ctx, "Volume requested by codec is missing", "volume", name, "path", physical)
			if !slices.Contains(p.missing, name) {
				p.missing = append(p.missing, name)
			}
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return nil, errors.NewOperationError(errors.KindIOError, fmt.Sprintf("failed to open volume %q", name), err)
	}

	p.handles[name] = f
	p.order = append(p.order, name)
	metrics.VolumesOpened.WithLabelValues(Detect(name).String()).Inc()
	p.log.DebugContext(p.ctx, "Opened volume", "volume", name, "path", physical, "open_volumes", len(p.handles))

	return newStream(name, f)
}

// Stat describes the named volume without opening it.
func (p *Provider) Stat(name string) (fs.FileInfo, error) {
	return p.fs.Stat(p.resolve(name))
}

// Opened returns the names of the volumes opened so far, in opening order.
func (p *Provider) Opened() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.order...)
}

// Missing returns the names that were requested but did not exist, in
// request order. Codecs that look ahead for the next volume leave one entry
// here even for a complete set.
func (p *Provider) Missing() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.missing...)
}

// Close releases every cached handle. It is safe to call more than once;
// only the first call closes anything.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, name := range p.order {
		if err := p.handles[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close volume %q: %w", name, err))
		}
	}
	p.handles = nil
	p.order = nil

	return errors.Join(errs...)
}

// resolve keeps only the file name of a codec supplied name and places it
// next to the archive.
func (p *Provider) resolve(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return filepath.Join(p.dir, path.Base(name))
}
