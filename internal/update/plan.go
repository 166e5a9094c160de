// Package update rewrites archives in place: entries are removed or added
// by streaming the untouched ones into a new archive that then replaces the
// original.
package update

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// AddItem names a file or directory to add. Directories are added with all
// their descendants under Name.
type AddItem struct {
	Source string
	// Name is the entry path inside the archive. Empty uses the base name
	// of Source.
	Name string
}

// Addition is one entry produced by expanding an AddItem.
type Addition struct {
	Source string
	Item   archive.Item
}

// Plan maps the entries of the rewritten archive onto the original one.
// Retained entries keep their original order and come first; additions
// follow in the order they were requested.
type Plan struct {
	OldCount int
	// Removed holds original indices, ascending and without duplicates.
	Removed []int
	Adds    []Addition
}

// NewPlan builds a plan removing every item matched by one of targets.
func NewPlan(items []archive.Item, targets []string, adds []Addition) *Plan {
	return &Plan{
		OldCount: len(items),
		Removed:  RemovedIndices(items, targets),
		Adds:     adds,
	}
}

// RemovedIndices returns the sorted, deduplicated indices of the items
// matched by targets. An item matches a target equal to its path or naming
// one of its ancestor directories.
func RemovedIndices(items []archive.Item, targets []string) []int {
	cleaned := lo.FilterMap(targets, func(t string, _ int) (string, bool) {
		t = strings.Trim(strings.ReplaceAll(t, "\\", "/"), "/")
		return t, t != ""
	})

	var removed []int
	for i, item := range items {
		for _, t := range cleaned {
			if item.Path == t || strings.HasPrefix(item.Path, t+"/") {
				removed = append(removed, i)
				break
			}
		}
	}
	slices.Sort(removed)
	return slices.Compact(removed)
}

// Retained is the number of original entries carried over.
func (p *Plan) Retained() int {
	return p.OldCount - len(p.Removed)
}

// Count is the number of entries in the rewritten archive.
func (p *Plan) Count() int {
	return p.Retained() + len(p.Adds)
}

// OldIndex maps an index below Retained onto the original archive.
func (p *Plan) OldIndex(newIndex int) int {
	oldIndex := newIndex
	removed := 0
	for _, r := range p.Removed {
		if oldIndex+removed >= r {
			removed++
		}
	}
	return oldIndex + removed
}

// Describe returns the entry at newIndex.
func (p *Plan) Describe(newIndex int) (archive.UpdateItem, error) {
	if newIndex < 0 || newIndex >= p.Count() {
		return archive.UpdateItem{}, fmt.Errorf("index %d out of range [0, %d)", newIndex, p.Count())
	}
	if newIndex >= p.Retained() {
		return archive.UpdateItem{OldIndex: -1, Item: p.Adds[newIndex-p.Retained()].Item}, nil
	}
	return archive.UpdateItem{OldIndex: p.OldIndex(newIndex)}, nil
}

// source feeds a plan to an archive editor, opening added files from fs on
// demand.
type source struct {
	fs   afero.Fs
	plan *Plan
}

func (s *source) Describe(newIndex int) (archive.UpdateItem, error) {
	return s.plan.Describe(newIndex)
}

func (s *source) Open(newIndex int) (io.ReadCloser, error) {
	i := newIndex - s.plan.Retained()
	if i < 0 || i >= len(s.plan.Adds) {
		return nil, fmt.Errorf("index %d is not an added entry", newIndex)
	}
	add := s.plan.Adds[i]
	if add.Item.IsDir {
		return nil, fmt.Errorf("%s is a directory", add.Item.Path)
	}
	f, err := s.fs.Open(add.Source)
	if err != nil {
		return nil, errors.NewOperationError(errors.KindIOError, fmt.Sprintf("cannot open %s", add.Source), err)
	}
	return f, nil
}

// Expand turns the requested additions into archive entries. Directories
// are walked in lexical order; every descendant becomes <name>/<relative
// path>. Entries other than regular files and directories are skipped.
func Expand(fsys afero.Fs, adds []AddItem) ([]Addition, error) {
	var out []Addition
	for _, add := range adds {
		name := strings.Trim(strings.ReplaceAll(add.Name, "\\", "/"), "/")
		if name == "" {
			name = filepath.Base(add.Source)
		}
		name = path.Clean(name)
		if name == "." || name == ".." || strings.HasPrefix(name, "../") {
			return nil, errors.NewOperationError(errors.KindIOError, fmt.Sprintf("invalid entry name %q", add.Name), nil)
		}

		err := afero.Walk(fsys, add.Source, func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && !info.Mode().IsRegular() {
				return nil
			}

			rel, err := filepath.Rel(add.Source, p)
			if err != nil {
				return err
			}
			entry := name
			if rel != "." {
				entry = name + "/" + filepath.ToSlash(rel)
			}

			item := archive.Item{
				Path:     entry,
				IsDir:    info.IsDir(),
				Modified: info.ModTime(),
				Mode:     info.Mode().Perm(),
			}
			if !item.IsDir {
				item.Size = info.Size()
			}
			out = append(out, Addition{Source: p, Item: item})
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(errors.KindIOError, fmt.Sprintf("cannot add %s", add.Source), err)
		}
	}
	return out, nil
}
