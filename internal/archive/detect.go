package archive

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/javi11/zipxtract/internal/volume"
)

// Format is an archive container.
type Format string

const (
	FormatUnknown  Format = ""
	FormatZip      Format = "zip"
	FormatSevenZip Format = "7z"
	FormatRar      Format = "rar"
	FormatTar      Format = "tar"
	// FormatStream is a single compressed file without a container.
	FormatStream Format = "stream"
)

// Compression is a whole-stream filter wrapped around a tar or a single file.
type Compression string

const (
	CompressionNone  Compression = ""
	CompressionGzip  Compression = "gzip"
	CompressionZstd  Compression = "zstd"
	CompressionLz4   Compression = "lz4"
	CompressionBzip2 Compression = "bzip2"
	CompressionXz    Compression = "xz"
)

// Kind is the result of format detection.
type Kind struct {
	Format      Format
	Compression Compression
}

func (k Kind) String() string {
	if k.Compression == CompressionNone {
		return string(k.Format)
	}
	return string(k.Format) + "+" + string(k.Compression)
}

// HeaderSize is how many leading bytes Detect wants to see.
const HeaderSize = 512

var containerMagic = []struct {
	magic  []byte
	format Format
}{
	{[]byte("PK\x03\x04"), FormatZip},
	{[]byte("PK\x05\x06"), FormatZip},
	{[]byte("PK\x07\x08"), FormatZip},
	{[]byte("7z\xBC\xAF\x27\x1C"), FormatSevenZip},
	{[]byte("Rar!\x1A\x07"), FormatRar},
}

var compressionMagic = []struct {
	magic       []byte
	compression Compression
}{
	{[]byte{0x1f, 0x8b}, CompressionGzip},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, CompressionZstd},
	{[]byte{0x04, 0x22, 0x4d, 0x18}, CompressionLz4},
	{[]byte("BZh"), CompressionBzip2},
	{[]byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, CompressionXz},
}

var compressionExts = map[string]Compression{
	".gz":   CompressionGzip,
	".tgz":  CompressionGzip,
	".zst":  CompressionZstd,
	".tzst": CompressionZstd,
	".lz4":  CompressionLz4,
	".bz2":  CompressionBzip2,
	".tbz2": CompressionBzip2,
	".xz":   CompressionXz,
	".txz":  CompressionXz,
}

// Detect identifies the archive named name from its leading bytes, falling
// back to the file name when the header is not conclusive.
func Detect(name string, header []byte) Kind {
	for _, m := range containerMagic {
		if bytes.HasPrefix(header, m.magic) {
			return Kind{Format: m.format}
		}
	}
	for _, m := range compressionMagic {
		if bytes.HasPrefix(header, m.magic) {
			return Kind{Format: filteredFormat(name), Compression: m.compression}
		}
	}
	if len(header) >= 262 && bytes.Equal(header[257:262], []byte("ustar")) {
		return Kind{Format: FormatTar}
	}
	return DetectName(name)
}

// DetectName identifies an archive from its file name only.
func DetectName(name string) Kind {
	switch volume.Detect(name) {
	case volume.SchemeRarPart, volume.SchemeRarLegacy, volume.SchemeNumeric:
		return Kind{Format: FormatRar}
	case volume.SchemeSevenZip:
		return Kind{Format: FormatSevenZip}
	case volume.SchemeZipSplit, volume.SchemeZipLegacy:
		return Kind{Format: FormatZip}
	}

	lower := strings.ToLower(filepath.Base(name))
	switch ext := filepath.Ext(lower); ext {
	case ".zip":
		return Kind{Format: FormatZip}
	case ".7z":
		return Kind{Format: FormatSevenZip}
	case ".rar":
		return Kind{Format: FormatRar}
	case ".tar":
		return Kind{Format: FormatTar}
	default:
		if c, ok := compressionExts[ext]; ok {
			return Kind{Format: filteredFormat(lower), Compression: c}
		}
	}
	return Kind{Format: FormatUnknown}
}

// filteredFormat tells a compressed tar from a compressed single file.
func filteredFormat(name string) Format {
	lower := strings.ToLower(filepath.Base(name))
	ext := filepath.Ext(lower)
	switch ext {
	case ".tgz", ".tbz2", ".txz", ".tzst":
		return FormatTar
	}
	if strings.HasSuffix(strings.TrimSuffix(lower, ext), ".tar") {
		return FormatTar
	}
	return FormatStream
}

// ReadHeader reads up to HeaderSize leading bytes of r.
func ReadHeader(r io.ReaderAt) ([]byte, error) {
	header := make([]byte, HeaderSize)
	n, err := r.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return header[:n], nil
}
