// Package pathutil provides path validation and destination naming utilities.
package pathutil

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/javi11/zipxtract/internal/errors"
	"github.com/spf13/afero"
)

// ErrUnsafePath is returned by SafeJoin for entry names that would land
// outside the destination.
var ErrUnsafePath = errors.New("path escapes destination")

// CheckDirectoryWritable checks if a directory exists and is writable.
// If the directory doesn't exist, it attempts to create it.
func CheckDirectoryWritable(fsys afero.Fs, dir string) error {
	if dir == "" {
		return fmt.Errorf("path cannot be empty")
	}

	// Convert to absolute path for clearer error messages
	absPath, err := filepath.Abs(dir)
	if err != nil {
		absPath = dir
	}

	info, err := fsys.Stat(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access directory %s: %w", absPath, err)
		}
		if err := fsys.MkdirAll(absPath, 0o755); err != nil {
			return fmt.Errorf("directory %s does not exist and cannot be created: %w", absPath, err)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("path %s exists but is not a directory", absPath)
	}

	// Test write permissions by creating a temporary file
	testFile := filepath.Join(absPath, ".zipxtract-write-test")
	file, err := fsys.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", absPath, err)
	}

	_, writeErr := file.Write([]byte("test"))
	_ = file.Close()
	_ = fsys.Remove(testFile)

	if writeErr != nil {
		return fmt.Errorf("directory %s is not writable: %w", absPath, writeErr)
	}

	return nil
}

// CheckFileDirectoryWritable checks if the directory containing a file path is writable.
func CheckFileDirectoryWritable(fsys afero.Fs, filePath string, fileType string) error {
	if filePath == "" {
		return nil // Empty path is valid for optional files like the log file
	}

	dir := filepath.Dir(filePath)
	if dir == "" || dir == "." {
		dir = "./"
	}

	if err := CheckDirectoryWritable(fsys, dir); err != nil {
		return fmt.Errorf("%s file directory check failed: %w", fileType, err)
	}

	return nil
}

// JoinAbsPath safely joins a base path with another path (which could be absolute or relative).
// If the second path is absolute and starts with the base path, it returns the second path as is.
// Otherwise, it joins them normally.
func JoinAbsPath(basePath, otherPath string) string {
	if basePath == "" {
		return otherPath
	}

	cleanBase := strings.TrimSuffix(filepath.ToSlash(basePath), "/")
	cleanOther := filepath.ToSlash(otherPath)

	if filepath.IsAbs(cleanOther) && (cleanOther == cleanBase || strings.HasPrefix(cleanOther, cleanBase+"/")) {
		return filepath.FromSlash(cleanOther)
	}

	relOther := strings.TrimPrefix(cleanOther, "/")
	return filepath.Join(basePath, filepath.FromSlash(relOther))
}

// UniqueDir creates and returns parent/base, or the first of "base (1)",
// "base (2)", ... that could be created. A name counts as taken only when
// Mkdir fails with an existing entry, so two callers racing for the same
// base never share a directory.
func UniqueDir(fsys afero.Fs, parent, base string) (string, error) {
	if err := fsys.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", parent, err)
	}

	candidate := filepath.Join(parent, base)
	for n := 1; ; n++ {
		err := fsys.Mkdir(candidate, 0o755)
		if err == nil {
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("cannot create %s: %w", candidate, err)
		}
		candidate = filepath.Join(parent, fmt.Sprintf("%s (%d)", base, n))
	}
}

// SafeJoin places the archive entry name under root. Absolute names and
// names climbing out of root with ".." are rejected.
func SafeJoin(root, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || path.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	return filepath.Join(root, filepath.FromSlash(cleaned)), nil
}
