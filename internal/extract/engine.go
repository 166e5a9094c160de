// Package extract streams an archive's entries to disk.
package extract

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/config"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/metrics"
	"github.com/javi11/zipxtract/internal/pathutil"
	"github.com/javi11/zipxtract/internal/progress"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/spf13/afero"
)

// Request describes one extraction.
type Request struct {
	// ArchivePath may name any volume of the set.
	ArchivePath string
	// Destination overrides the configured extraction parent directory.
	Destination string
	Password    string
}

// Engine extracts archives. It is safe for concurrent use; every call works
// on its own volume provider and destination.
type Engine struct {
	fs     afero.Fs
	cfg    *config.Config
	codecs *archive.Registry
	log    *slog.Logger
}

// NewEngine creates an engine. cfg is a snapshot owned by the engine and
// must not be modified afterwards.
func NewEngine(fsys afero.Fs, cfg *config.Config, codecs *archive.Registry) *Engine {
	return &Engine{
		fs:     fsys,
		cfg:    cfg,
		codecs: codecs,
		log:    slog.Default().With("component", "extract-engine"),
	}
}

// Plan is what an extraction will do, known once the archive is open.
type Plan struct {
	Set         volume.Set
	Kind        archive.Kind
	Items       []archive.Item
	TotalBytes  int64
	Destination string
}

// Extract decodes the archive named by req into a fresh directory and
// returns its absolute path. Progress is reported to sink as a percentage
// of decoded bytes. Output written before a failure is left in place.
func (e *Engine) Extract(ctx context.Context, req Request, sink progress.Sink) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Cancelled(err)
	}

	set, err := volume.Enumerate(e.fs, req.ArchivePath)
	if err != nil {
		return "", err
	}

	p := volume.NewProvider(ctx, e.fs, set.Entry)
	defer func() {
		if err := p.Close(); err != nil {
			e.log.WarnContext(ctx, "Failed to close volumes", "archive", set.First, "error", err)
		}
	}()

	reader, kind, err := e.codecs.OpenReader(ctx, p, set, e.cfg.Options(req.Password))
	if err != nil {
		return "", e.fail(ctx, err)
	}
	defer reader.Close()

	plan, err := e.plan(ctx, req, set, kind, reader)
	if err != nil {
		return "", e.fail(ctx, err)
	}

	e.log.InfoContext(ctx, "Extracting archive",
		"archive", set.First,
		"format", kind.String(),
		"volumes", len(set.Volumes),
		"items", len(plan.Items),
		"bytes", plan.TotalBytes,
		"destination", plan.Destination)

	tracker := progress.NewTracker(ctx, sink, plan.TotalBytes)
	ds := newDiskSink(ctx, e.fs, plan.Destination, tracker)

	if err := reader.Extract(ctx, ds); err != nil {
		e.log.WarnContext(ctx, "Extraction failed",
			"archive", set.First,
			"destination", plan.Destination,
			"written", ds.written,
			"error", err)
		return "", e.fail(ctx, err)
	}

	ds.restoreTimes()
	tracker.Finish()
	metrics.BytesExtracted.WithLabelValues(string(kind.Format)).Add(float64(ds.written))

	e.log.InfoContext(ctx, "Extraction complete",
		"archive", set.First,
		"destination", plan.Destination,
		"files", ds.files,
		"bytes", ds.written)

	return plan.Destination, nil
}

// Inspect opens the archive named by req and returns its plan without
// extracting anything.
func (e *Engine) Inspect(ctx context.Context, req Request) (*Plan, error) {
	set, err := volume.Enumerate(e.fs, req.ArchivePath)
	if err != nil {
		return nil, err
	}

	p := volume.NewProvider(ctx, e.fs, set.Entry)
	defer p.Close()

	reader, kind, err := e.codecs.OpenReader(ctx, p, set, e.cfg.Options(req.Password))
	if err != nil {
		return nil, e.fail(ctx, err)
	}
	defer reader.Close()

	items, err := reader.Items()
	if err != nil {
		return nil, e.fail(ctx, err)
	}
	return &Plan{Set: set, Kind: kind, Items: items, TotalBytes: totalBytes(items)}, nil
}

func (e *Engine) plan(ctx context.Context, req Request, set volume.Set, kind archive.Kind, reader archive.Reader) (*Plan, error) {
	items, err := reader.Items()
	if err != nil {
		return nil, err
	}

	parent := req.Destination
	if parent == "" {
		parent = e.cfg.ExtractionParent(set.First)
	}
	if abs, err := filepath.Abs(parent); err == nil {
		parent = abs
	}
	if err := pathutil.CheckDirectoryWritable(e.fs, parent); err != nil {
		return nil, errors.NewOperationError(errors.KindIOError, "extraction directory is not usable", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}
	dest, err := pathutil.UniqueDir(e.fs, parent, volume.BaseName(set.First))
	if err != nil {
		return nil, errors.NewOperationError(errors.KindIOError, "cannot create extraction directory", err)
	}

	return &Plan{
		Set:         set,
		Kind:        kind,
		Items:       items,
		TotalBytes:  totalBytes(items),
		Destination: dest,
	}, nil
}

func totalBytes(items []archive.Item) int64 {
	var total int64
	for _, item := range items {
		if !item.IsDir {
			total += item.Size
		}
	}
	return total
}

// fail turns err into the operation error returned to the caller. Once ctx
// is done, failures other than a password rejection are cancellations.
func (e *Engine) fail(ctx context.Context, err error) error {
	kind := errors.KindOf(err)
	if ctx.Err() != nil && kind != errors.KindWrongPassword {
		return errors.Cancelled(ctx.Err())
	}
	return errors.Wrap(kind, "extraction failed", err)
}
