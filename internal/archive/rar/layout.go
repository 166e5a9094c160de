package rar

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/javi11/rardecode/v2"
	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/volume"
)

// Part is the slice of one volume holding part of a file.
type Part struct {
	Volume     string
	DataOffset int64
	PackedSize int64
}

// FileLayout tells where a file's packed bytes live across the volumes.
type FileLayout struct {
	Path              string
	PackedSize        int64
	UnpackedSize      int64
	Compressed        bool
	CompressionMethod string
	Parts             []Part
}

// Layout maps every file of the archive headed by set.Entry onto the
// volumes that store it. It reads headers only.
func Layout(ctx context.Context, p *volume.Provider, set volume.Set, opts archive.Options) ([]FileLayout, error) {
	r := &reader{p: p, name: filepath.Base(set.Entry), multi: set.Scheme.Multi(), opts: opts}

	rOpts := r.options()
	if len(set.Volumes) > 1 && opts.DecoderConcurrency > 1 {
		rOpts = append(rOpts, rardecode.ParallelRead(true), rardecode.MaxConcurrentVolumes(opts.DecoderConcurrency))
	}

	if err := ctx.Err(); err != nil {
		return nil, archive.DecodeError("layout cancelled", err)
	}

	files, err := rardecode.ListArchiveInfo(r.name, rOpts...)
	if err != nil {
		return nil, r.classify(archive.Item{Path: r.name}, err)
	}

	out := make([]FileLayout, 0, len(files))
	for _, f := range files {
		fl := FileLayout{
			Path:              strings.ReplaceAll(f.Name, "\\", "/"),
			PackedSize:        f.TotalPackedSize,
			UnpackedSize:      f.TotalUnpackedSize,
			Compressed:        f.Compressed,
			CompressionMethod: f.CompressionMethod,
		}
		for _, part := range f.Parts {
			if part.PackedSize <= 0 {
				continue
			}
			fl.Parts = append(fl.Parts, Part{
				Volume:     filepath.Base(part.Path),
				DataOffset: part.DataOffset,
				PackedSize: part.PackedSize,
			})
		}
		out = append(out, fl)
	}
	return out, nil
}
