package zip

import (
	"compress/bzip2"
	"fmt"
	"io"
	"sync"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	yzip "github.com/yeka/zip"
)

const (
	flagEncrypted = 0x1
	methodAES     = 99
)

// yeka/zip only knows store and deflate.
func init() {
	yzip.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	yzip.RegisterDecompressor(methodBzip2, func(r io.Reader) io.ReadCloser {
		return io.NopCloser(bzip2.NewReader(r))
	})
	yzip.RegisterDecompressor(methodXz, xzDecompressor)
}

// decrypter opens password protected entries (ZipCrypto and WinZip AES)
// through yeka/zip. Its directory is parsed on first use.
type decrypter struct {
	src volume.SizedReaderAt

	once  sync.Once
	files []*yzip.File
	err   error
}

func (d *decrypter) open(index int, password string) (io.ReadCloser, error) {
	d.once.Do(func() {
		zr, err := yzip.NewReader(d.src, d.src.Size())
		if err != nil {
			d.err = err
			return
		}
		d.files = zr.File
	})
	if d.err != nil {
		return nil, d.err
	}
	if index >= len(d.files) {
		return nil, fmt.Errorf("%w: entry %d missing from directory", zip.ErrFormat, index)
	}

	f := d.files[index]
	f.SetPassword(password)
	return f.Open()
}

// encryptedError classifies a failure of an encrypted entry. AES entries
// carry a password verifier, so only a verifier mismatch is a wrong
// password. ZipCrypto has at best a one byte check and a bad key shows up
// as a decode or CRC failure.
func encryptedError(f *zip.File, item archive.Item, err error) error {
	var opErr *errors.OperationError
	switch {
	case errors.As(err, &opErr):
		return err
	case errors.Is(err, yzip.ErrPassword):
		return archive.WrongPassword(item, err)
	case errors.Is(err, yzip.ErrAlgorithm):
		return errors.NewOperationError(errors.KindUnsupported, fmt.Sprintf("%s: unsupported compression", item.Path), err)
	case f.Method != methodAES:
		return archive.WrongPassword(item, err)
	default:
		return archive.DecodeError(fmt.Sprintf("cannot decode %s", item.Path), err)
	}
}
