package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/archive/codecs"
	"github.com/javi11/zipxtract/internal/config"
	"github.com/javi11/zipxtract/internal/database"
	"github.com/javi11/zipxtract/internal/extract"
	"github.com/javi11/zipxtract/internal/metrics"
	"github.com/javi11/zipxtract/internal/operation"
	"github.com/javi11/zipxtract/internal/pathutil"
	"github.com/javi11/zipxtract/internal/update"
	"github.com/spf13/afero"
)

// app wires the engines of one command invocation.
type app struct {
	cfg     *config.Config
	fs      afero.Fs
	codecs  *archive.Registry
	db      *database.DB
	extract *extract.Engine
	update  *update.Engine
	runner  *operation.Runner
}

// checkOutputPaths makes sure the directories of the files a command writes
// besides archives exist and are writable, before any work starts.
func checkOutputPaths(fsys afero.Fs, cfg *config.Config) error {
	dbPath := cfg.Database.Path
	if dbPath == database.MemoryPath {
		dbPath = ""
	}

	for _, f := range []struct{ path, kind string }{
		{cfg.Log.File, "log"},
		{dbPath, "database"},
		{cfg.Metrics.Textfile, "metrics textfile"},
	} {
		if err := pathutil.CheckFileDirectoryWritable(fsys, f.path, f.kind); err != nil {
			return err
		}
	}
	return nil
}

func initializeDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job database %s: %w", cfg.Database.Path, err)
	}
	return db, nil
}

// newApp builds the engines from the current configuration. A job database
// that cannot be opened only disables job history.
func newApp(ctx context.Context) *app {
	cfg := cfgManager.Snapshot()
	fsys := afero.NewOsFs()
	registry := codecs.Default()

	a := &app{
		cfg:     cfg,
		fs:      fsys,
		codecs:  registry,
		extract: extract.NewEngine(fsys, cfg, registry),
		update:  update.NewEngine(fsys, cfg, registry),
	}

	db, err := initializeDatabase(ctx, cfg)
	if err != nil {
		slog.WarnContext(ctx, "Job history disabled", "error", err)
		a.runner = operation.NewRunner(nil)
		return a
	}
	a.db = db
	a.runner = operation.NewRunner(db.Repository())
	return a
}

func (a *app) Close() {
	a.runner.Wait()
	if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		slog.Warn("Failed to write metrics textfile", "path", a.cfg.Metrics.Textfile, "error", err)
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
