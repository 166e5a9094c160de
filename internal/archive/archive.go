// Package archive defines the contract between the engines and the codec
// adapters in its sub-packages. Codecs decode and encode; the engines own
// destinations, progress and cancellation.
package archive

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// Item is one entry of an archive.
type Item struct {
	// Index is the position of the entry in codec order.
	Index int
	// Path uses "/" as separator whatever the archive stores.
	Path     string
	IsDir    bool
	Size     int64
	Modified time.Time
	Mode     fs.FileMode
	// Encrypted is set when the codec knows the entry needs a password.
	Encrypted bool
}

// Options tune how a codec opens an archive. They come from the
// operation's configuration snapshot.
type Options struct {
	Password string
	// BufferSize is the copy buffer used while streaming entries.
	BufferSize int
	// DecoderConcurrency bounds decoder goroutines for codecs that support it.
	DecoderConcurrency int
	// CompressionLevel applies to entries a rewriter has to compress.
	CompressionLevel int
}

// DefaultBufferSize is used when Options.BufferSize is not set.
const DefaultBufferSize = 256 * 1024

// Buffer returns a copy buffer of the configured size.
func (o Options) Buffer() []byte {
	if o.BufferSize <= 0 {
		return make([]byte, DefaultBufferSize)
	}
	return make([]byte, o.BufferSize)
}

// Sink creates destinations for decoded entries. It is called between
// entries, which makes it the point where extraction can be stopped: any
// error it returns aborts Reader.Extract and is returned unchanged.
type Sink interface {
	// Directory materialises a directory entry.
	Directory(item Item) error
	// Create returns the writer receiving a file entry's decoded bytes.
	// The codec closes it once the entry is complete.
	Create(item Item) (io.WriteCloser, error)
}

// Reader is an opened archive ready for listing and extraction.
type Reader interface {
	// Items lists the entries in codec order.
	Items() ([]Item, error)
	// Extract decodes every entry, in Items order, into sink.
	Extract(ctx context.Context, sink Sink) error
	Close() error
}

// UpdateItem describes one entry of a rewritten archive.
type UpdateItem struct {
	// OldIndex is the index of the entry in the original archive when it is
	// carried over unchanged, or -1 for a new entry.
	OldIndex int
	// Item describes a new entry. It is ignored for carried over entries.
	Item Item
}

// UpdateSource feeds a rewrite, one target index at a time.
type UpdateSource interface {
	// Describe returns the entry at newIndex.
	Describe(newIndex int) (UpdateItem, error)
	// Open returns the content of the new entry at newIndex.
	Open(newIndex int) (io.ReadCloser, error)
}

// UpdateProgress receives the rewriter's item counters.
type UpdateProgress interface {
	SetTotal(total int64)
	SetCompleted(completed int64)
}

// Editor rewrites an existing archive into a new stream. Entries carried
// over from the original are copied without being decoded.
type Editor interface {
	Items() ([]Item, error)
	// Rewrite writes count entries, described by src, to w.
	Rewrite(ctx context.Context, w io.Writer, count int, src UpdateSource, progress UpdateProgress) error
	Close() error
}
