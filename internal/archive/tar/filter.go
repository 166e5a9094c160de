package tar

import (
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// decompress wraps r in the decoder for c. concurrency bounds the zstd
// decoder goroutines; zero keeps the library default.
func decompress(c archive.Compression, r io.Reader, concurrency int) (io.ReadCloser, error) {
	switch c {
	case archive.CompressionNone:
		return io.NopCloser(r), nil
	case archive.CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case archive.CompressionZstd:
		var opts []zstd.DOption
		if concurrency > 0 {
			opts = append(opts, zstd.WithDecoderConcurrency(concurrency))
		}
		d, err := zstd.NewReader(r, opts...)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case archive.CompressionLz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case archive.CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case archive.CompressionXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	default:
		return nil, errors.NewOperationError(errors.KindUnsupported, fmt.Sprintf("unknown compression %q", c), nil)
	}
}
