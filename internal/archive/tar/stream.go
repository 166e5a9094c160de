package tar

import (
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

var streamExts = map[archive.Compression][]string{
	archive.CompressionGzip:  {".gz"},
	archive.CompressionZstd:  {".zst"},
	archive.CompressionLz4:   {".lz4"},
	archive.CompressionBzip2: {".bz2"},
	archive.CompressionXz:    {".xz"},
}

type streamReader struct {
	log  *slog.Logger
	src  volume.SizedReaderAt
	kind archive.Kind
	opts archive.Options
	item archive.Item
}

// OpenStream opens a single compressed file as a one-entry archive. The
// entry is named after the file with its compression extension removed.
// Its size is only known after decoding the stream once.
func OpenStream(ctx context.Context, p *volume.Provider, set volume.Set, kind archive.Kind, opts archive.Options) (archive.Reader, error) {
	src, err := source(p, set)
	if err != nil {
		return nil, err
	}

	s := &streamReader{
		log:  slog.Default().With("component", "stream-reader"),
		src:  src,
		kind: kind,
		opts: opts,
	}

	info, err := p.Stat(filepath.Base(set.Entry))
	if err == nil {
		s.item.Modified = info.ModTime()
		s.item.Mode = info.Mode().Perm()
	}
	s.item.Path = streamName(filepath.Base(set.First), kind.Compression)

	size, err := s.copy(ctx, io.Discard)
	if err != nil {
		return nil, err
	}
	s.item.Size = size

	s.log.DebugContext(ctx, "Opened compressed stream",
		"entry", set.Entry,
		"compression", string(kind.Compression),
		"size", size)
	return s, nil
}

func streamName(name string, c archive.Compression) string {
	lower := strings.ToLower(name)
	for _, ext := range streamExts[c] {
		if strings.HasSuffix(lower, ext) && len(name) > len(ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return volume.BaseName(name)
}

func (s *streamReader) copy(ctx context.Context, w io.Writer) (int64, error) {
	sr := io.NewSectionReader(s.src, 0, s.src.Size())
	rc, err := decompress(s.kind.Compression, bufio.NewReaderSize(sr, readAhead), s.opts.DecoderConcurrency)
	if err != nil {
		return 0, archive.DecodeError(fmt.Sprintf("cannot open %s stream", s.kind.Compression), err)
	}
	defer rc.Close()

	n, err := io.CopyBuffer(w, &ctxReader{ctx: ctx, r: rc}, s.opts.Buffer())
	if err != nil {
		return n, archive.DecodeError(fmt.Sprintf("cannot decode %s", s.item.Path), err)
	}
	return n, nil
}

func (s *streamReader) Items() ([]archive.Item, error) {
	return []archive.Item{s.item}, nil
}

func (s *streamReader) Extract(ctx context.Context, sink archive.Sink) error {
	w, err := sink.Create(s.item)
	if err != nil {
		return err
	}
	if _, err := s.copy(ctx, w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *streamReader) Close() error {
	return nil
}

// ctxReader stops a long decode once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, errors.Cancelled(err)
	}
	return c.r.Read(p)
}
