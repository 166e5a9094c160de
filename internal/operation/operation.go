package operation

import (
	"context"

	"github.com/javi11/zipxtract/internal/database"
	"github.com/javi11/zipxtract/internal/extract"
	"github.com/javi11/zipxtract/internal/progress"
	"github.com/javi11/zipxtract/internal/update"
)

// Operation is a unit of work the runner can execute.
type Operation interface {
	Kind() database.JobKind
	ArchivePath() string
	// Files lists what the job store records alongside the job.
	Files() []database.JobFile
	Run(ctx context.Context, sink progress.Sink) (string, error)
}

// Extract runs an extraction.
type Extract struct {
	Engine  *extract.Engine
	Request extract.Request
}

func (o *Extract) Kind() database.JobKind { return database.JobKindExtract }

func (o *Extract) ArchivePath() string { return o.Request.ArchivePath }

func (o *Extract) Files() []database.JobFile {
	return []database.JobFile{{FilePath: o.Request.ArchivePath}}
}

func (o *Extract) Run(ctx context.Context, sink progress.Sink) (string, error) {
	return o.Engine.Extract(ctx, o.Request, sink)
}

// Update runs an archive update.
type Update struct {
	Engine  *update.Engine
	Request update.Request
}

func (o *Update) Kind() database.JobKind { return database.JobKindUpdate }

func (o *Update) ArchivePath() string { return o.Request.ArchivePath }

func (o *Update) Files() []database.JobFile {
	files := make([]database.JobFile, 0, len(o.Request.Add))
	for _, add := range o.Request.Add {
		files = append(files, database.JobFile{FilePath: add.Source, ItemName: add.Name})
	}
	return files
}

func (o *Update) Run(ctx context.Context, sink progress.Sink) (string, error) {
	return o.Engine.Update(ctx, o.Request, sink)
}
