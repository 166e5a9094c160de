// Package volume turns one user-picked file into the volume set of a
// multi-part archive and serves those volumes to archive codecs.
package volume

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Scheme identifies a multi-volume naming convention.
type Scheme int

const (
	// SchemeSingle is a plain, single-file archive.
	SchemeSingle Scheme = iota
	// SchemeRarPart is name.part001.rar, name.part002.rar, ...
	SchemeRarPart
	// SchemeRarLegacy is name.rar followed by name.r00, name.r01, ...
	SchemeRarLegacy
	// SchemeSevenZip is name.7z.001, name.7z.002, ...
	SchemeSevenZip
	// SchemeZipSplit is name.zip.001, name.zip.002, ...
	SchemeZipSplit
	// SchemeNumeric is a bare name.001, name.002, ...
	SchemeNumeric
	// SchemeZipLegacy is name.z01, name.z02, ... followed by name.zip.
	SchemeZipLegacy
)

func (s Scheme) String() string {
	switch s {
	case SchemeRarPart:
		return "rar-part"
	case SchemeRarLegacy:
		return "rar-legacy"
	case SchemeSevenZip:
		return "7z-split"
	case SchemeZipSplit:
		return "zip-split"
	case SchemeNumeric:
		return "numeric"
	case SchemeZipLegacy:
		return "zip-legacy"
	default:
		return "single"
	}
}

// Multi reports whether the scheme spans several files.
func (s Scheme) Multi() bool {
	return s != SchemeSingle
}

// Patterns match on the file name only. Group 1 is everything up to the
// volume number, group 2 the number, group 3 (part scheme) the suffix.
var (
	rarPartPattern   = regexp.MustCompile(`(?i)^(.*\.part)(\d+)(\.rar)$`)
	rarLegacyPattern = regexp.MustCompile(`(?i)^(.*\.r)(\d{2})$`)
	sevenZipPattern  = regexp.MustCompile(`(?i)^(.*\.7z\.)(\d{3})$`)
	zipSplitPattern  = regexp.MustCompile(`(?i)^(.*\.zip\.)(\d{3})$`)
	numericPattern   = regexp.MustCompile(`(?i)^(.*\.)(\d{3})$`)
	zipLegacyPattern = regexp.MustCompile(`(?i)^(.*\.z)(\d{2})$`)
)

var schemePatterns = []struct {
	scheme  Scheme
	pattern *regexp.Regexp
}{
	{SchemeRarPart, rarPartPattern},
	{SchemeRarLegacy, rarLegacyPattern},
	{SchemeSevenZip, sevenZipPattern},
	{SchemeZipSplit, zipSplitPattern},
	{SchemeNumeric, numericPattern},
	{SchemeZipLegacy, zipLegacyPattern},
}

// Detect returns the naming scheme of path.
func Detect(path string) Scheme {
	scheme, _ := match(filepath.Base(path))
	return scheme
}

func match(name string) (Scheme, []string) {
	for _, sp := range schemePatterns {
		if m := sp.pattern.FindStringSubmatch(name); m != nil {
			return sp.scheme, m
		}
	}
	return SchemeSingle, nil
}

// ResolveFirstVolume returns the first volume of the set that path belongs
// to. Only the .partNNN.rar scheme consults the filesystem, to choose
// between the zero-padding widths seen in the wild; every other scheme is a
// pure rename. Paths that match no scheme are returned unchanged. A wrong
// guess surfaces later as a missing volume when the codec opens it.
func ResolveFirstVolume(fsys afero.Fs, path string) string {
	dir, name := filepath.Split(path)
	scheme, m := match(name)

	switch scheme {
	case SchemeRarPart:
		candidates := []string{
			m[1] + "001" + m[3],
			m[1] + "01" + m[3],
		}
		for _, c := range candidates {
			if exists(fsys, dir+c) {
				return dir + c
			}
		}
		return dir + m[1] + "1" + m[3]
	case SchemeRarLegacy:
		return dir + m[1] + "00"
	case SchemeSevenZip, SchemeZipSplit, SchemeNumeric:
		return dir + m[1] + "001"
	case SchemeZipLegacy:
		return dir + m[1] + "01"
	default:
		return path
	}
}

// Next returns the name of the volume following path in its scheme, or ""
// for single-file archives.
func Next(path string) string {
	dir, name := filepath.Split(path)
	scheme, m := match(name)

	switch scheme {
	case SchemeRarPart:
		return dir + m[1] + increment(m[2]) + m[3]
	case SchemeRarLegacy:
		n, _ := strconv.Atoi(m[2])
		if n == 99 {
			// name.r99 is followed by name.s00
			prefix := m[1][:len(m[1])-1]
			letter := m[1][len(m[1])-1] + 1
			return dir + prefix + string(letter) + "00"
		}
		return dir + m[1] + fmt.Sprintf("%02d", n+1)
	case SchemeSevenZip, SchemeZipSplit, SchemeNumeric, SchemeZipLegacy:
		return dir + m[1] + increment(m[2])
	default:
		return ""
	}
}

// increment adds one to a decimal string keeping its zero padding.
func increment(num string) string {
	n, _ := strconv.Atoi(num)
	return fmt.Sprintf("%0*d", len(num), n+1)
}

// BaseName returns the archive name without volume suffix and archive
// extension, the default name of the extraction directory.
func BaseName(path string) string {
	name := filepath.Base(path)
	scheme, m := match(name)

	switch scheme {
	case SchemeRarPart:
		name = m[1][:len(m[1])-len(".part")]
	case SchemeRarLegacy, SchemeZipLegacy:
		name = m[1][:len(m[1])-len(".r")]
	case SchemeSevenZip:
		name = m[1][:len(m[1])-len(".7z.")]
	case SchemeZipSplit:
		name = m[1][:len(m[1])-len(".zip.")]
	case SchemeNumeric:
		name = trimArchiveExt(strings.TrimSuffix(m[1], "."))
	default:
		name = trimArchiveExt(name)
	}

	if name == "" {
		return filepath.Base(path)
	}
	return name
}

// compound extensions are checked before single ones.
var archiveExts = []string{
	".tar.gz", ".tar.zst", ".tar.lz4", ".tar.bz2", ".tar.xz",
	".tgz", ".tbz2", ".txz", ".tzst",
	".zip", ".7z", ".rar", ".tar",
	".gz", ".zst", ".lz4", ".bz2", ".xz",
}

func trimArchiveExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range archiveExts {
		if strings.HasSuffix(lower, ext) && len(name) > len(ext) {
			return name[:len(name)-len(ext)]
		}
	}
	if ext := filepath.Ext(name); ext != "" && len(name) > len(ext) {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func exists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}
