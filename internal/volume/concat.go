package volume

import (
	"fmt"
	"io"
	"sort"
)

// SizedReaderAt is a random access source of known length.
type SizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// Segment locates one volume inside a Concat.
type Segment struct {
	Offset int64
	Size   int64
}

// Concat presents consecutive volumes as one logical byte stream. It serves
// byte-split sets (name.zip.001, ...) whose volumes are plain slices of a
// single archive file.
type Concat struct {
	parts    []SizedReaderAt
	segments []Segment
	size     int64
}

// NewConcat joins parts in order.
func NewConcat(parts ...SizedReaderAt) *Concat {
	c := &Concat{parts: parts, segments: make([]Segment, len(parts))}
	for i, p := range parts {
		c.segments[i] = Segment{Offset: c.size, Size: p.Size()}
		c.size += p.Size()
	}
	return c
}

// Concat opens the named volumes through the provider and joins them.
func (p *Provider) Concat(names []string) (*Concat, error) {
	parts := make([]SizedReaderAt, 0, len(names))
	for _, name := range names {
		s, err := p.Stream(name)
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	return NewConcat(parts...), nil
}

func (c *Concat) Size() int64 {
	return c.size
}

// Segments returns the position of every volume in the logical stream.
func (c *Concat) Segments() []Segment {
	return append([]Segment(nil), c.segments...)
}

func (c *Concat) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= c.size {
		return 0, io.EOF
	}

	// first segment that ends after off
	i := sort.Search(len(c.segments), func(i int) bool {
		return c.segments[i].Offset+c.segments[i].Size > off
	})

	read := 0
	for read < len(b) && i < len(c.parts) {
		seg := c.segments[i]
		local := off + int64(read) - seg.Offset
		chunk := b[read:]
		if remaining := seg.Size - local; int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		n, err := c.parts[i].ReadAt(chunk, local)
		read += n
		if err != nil && err != io.EOF {
			return read, err
		}
		if n < len(chunk) {
			return read, io.ErrUnexpectedEOF
		}
		i++
	}

	if read < len(b) {
		return read, io.EOF
	}
	return read, nil
}
