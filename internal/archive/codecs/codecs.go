// Package codecs wires the codec adapters into a registry.
package codecs

import (
	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/archive/rar"
	"github.com/javi11/zipxtract/internal/archive/sevenzip"
	"github.com/javi11/zipxtract/internal/archive/tar"
	"github.com/javi11/zipxtract/internal/archive/zip"
)

// Default returns a registry holding every built-in codec. 7z and RAR are
// read-only.
func Default() *archive.Registry {
	r := archive.NewRegistry()

	r.RegisterReader(archive.FormatZip, zip.Open)
	r.RegisterReader(archive.FormatRar, rar.Open)
	r.RegisterReader(archive.FormatSevenZip, sevenzip.Open)
	r.RegisterReader(archive.FormatTar, tar.Open)
	r.RegisterReader(archive.FormatStream, tar.OpenStream)

	r.RegisterEditor(archive.FormatZip, zip.OpenEditor)
	r.RegisterEditor(archive.FormatTar, tar.OpenEditor)

	return r
}
