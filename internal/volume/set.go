package volume

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/javi11/zipxtract/internal/errors"
	"github.com/spf13/afero"
)

// Set is the ordered list of physical volumes of one archive.
type Set struct {
	Scheme Scheme
	// First is the canonical first volume, the identity of the set.
	First string
	// Entry is the file a codec has to open to read the set. It differs
	// from First only for legacy RAR sets, whose head is name.rar.
	Entry   string
	Volumes []string
}

// Names returns the base names of the volumes, in order.
func (s Set) Names() []string {
	names := make([]string, len(s.Volumes))
	for i, v := range s.Volumes {
		names[i] = filepath.Base(v)
	}
	return names
}

// Enumerate resolves the first volume of path and lists every consecutive
// volume present on disk. Enumeration stops at the first gap; a missing
// first volume is reported as KindVolumeNotFound.
func Enumerate(fsys afero.Fs, path string) (Set, error) {
	first := ResolveFirstVolume(fsys, path)
	if Detect(first) == SchemeSingle {
		// name.rar and name.zip also head legacy sets
		first = legacyFirst(fsys, first)
	}
	set := Set{Scheme: Detect(first), First: first, Entry: first}

	if set.Scheme == SchemeRarLegacy {
		if head := legacyHead(first, ".rar"); exists(fsys, head) {
			set.Entry = head
			set.Volumes = append(set.Volumes, head)
		}
	}

	for name := first; name != ""; name = Next(name) {
		if !exists(fsys, name) {
			break
		}
		set.Volumes = append(set.Volumes, name)
		if !set.Scheme.Multi() {
			break
		}
	}

	if set.Scheme == SchemeZipLegacy {
		if tail := legacyHead(first, ".zip"); exists(fsys, tail) {
			set.Volumes = append(set.Volumes, tail)
		}
	}

	if len(set.Volumes) == 0 {
		return set, errors.NewOperationError(errors.KindVolumeNotFound,
			fmt.Sprintf("first volume %s not found", filepath.Base(first)),
			&fs.PathError{Op: "open", Path: first, Err: fs.ErrNotExist})
	}

	return set, nil
}

// legacyFirst returns name.r00 or name.z01 when path is the .rar head or
// .zip tail of a legacy set present on fsys, and path otherwise.
func legacyFirst(fsys afero.Fs, path string) string {
	ext := filepath.Ext(path)
	var suffix string
	switch strings.ToLower(ext) {
	case ".rar":
		suffix = ".r00"
	case ".zip":
		suffix = ".z01"
	default:
		return path
	}
	if ext[1] >= 'A' && ext[1] <= 'Z' {
		suffix = strings.ToUpper(suffix)
	}
	if candidate := strings.TrimSuffix(path, ext) + suffix; exists(fsys, candidate) {
		return candidate
	}
	return path
}

// legacyHead swaps the two digit volume extension of a legacy RAR or ZIP
// volume for ext, keeping the casing of the original extension letter.
func legacyHead(first, ext string) string {
	base := first[:len(first)-len(".r00")]
	if letter := first[len(first)-3]; letter >= 'A' && letter <= 'Z' {
		ext = strings.ToUpper(ext)
	}
	return base + ext
}
