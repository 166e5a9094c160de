// Package config holds the zipxtract settings and their validation.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/pathutil"
)

// AppName is the directory name used under the storage root when
// extract.use_app_name_dir is set, and under the XDG directories.
const AppName = "zipxtract"

// Config is the complete configuration. Engines receive a snapshot and
// never modify it.
type Config struct {
	// StorageRoot is the base for relative directories.
	StorageRoot string         `yaml:"storage_root" mapstructure:"storage_root"`
	Extract     ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	Archive     ArchiveConfig  `yaml:"archive" mapstructure:"archive"`
	Database    DatabaseConfig `yaml:"database" mapstructure:"database"`
	Log         LogConfig      `yaml:"log" mapstructure:"log"`
	Metrics     MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
}

// ExtractConfig tunes extraction.
type ExtractConfig struct {
	// Directory is the preferred extraction directory, absolute or relative
	// to the storage root. Empty extracts next to the archive.
	Directory          string `yaml:"directory" mapstructure:"directory"`
	UseAppNameDir      bool   `yaml:"use_app_name_dir" mapstructure:"use_app_name_dir"`
	BufferSize         int    `yaml:"buffer_size" mapstructure:"buffer_size" validate:"min=4096,max=67108864"`
	DecoderConcurrency int    `yaml:"decoder_concurrency" mapstructure:"decoder_concurrency" validate:"min=0,max=64"`
	// Parallel bounds how many archives the CLI extracts at once.
	Parallel int `yaml:"parallel" mapstructure:"parallel" validate:"min=1,max=32"`
}

// ArchiveConfig tunes archive updates.
type ArchiveConfig struct {
	// Directory is the preferred archive directory, used to resolve
	// relative archive paths given to update.
	Directory string `yaml:"directory" mapstructure:"directory"`
	// TempDir holds rewrite temp files. Empty uses the archive's directory.
	TempDir          string `yaml:"temp_dir" mapstructure:"temp_dir"`
	CompressionLevel int    `yaml:"compression_level" mapstructure:"compression_level" validate:"min=-2,max=9"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size" validate:"min=1"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups" validate:"min=0"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age" validate:"min=0"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	// Textfile is where operation metrics are written after each command,
	// in the node exporter textfile format. Empty disables metrics.
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StorageRoot: xdg.Home,
		Extract: ExtractConfig{
			BufferSize: archive.DefaultBufferSize,
			Parallel:   2,
		},
		Archive: ArchiveConfig{
			CompressionLevel: 6,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(xdg.DataHome, AppName, "jobs.db"),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints first, then the relations between
// settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if c.StorageRoot != "" && !filepath.IsAbs(c.StorageRoot) {
		return fmt.Errorf("storage_root must be absolute, got %q", c.StorageRoot)
	}
	for key, dir := range map[string]string{
		"extract.directory": c.Extract.Directory,
		"archive.directory": c.Archive.Directory,
	} {
		if dir != "" && !filepath.IsAbs(dir) && c.StorageRoot == "" {
			return fmt.Errorf("%s is relative but storage_root is not set", key)
		}
	}
	if c.Archive.TempDir != "" && !filepath.IsAbs(c.Archive.TempDir) {
		return fmt.Errorf("archive.temp_dir must be absolute, got %q", c.Archive.TempDir)
	}

	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("config has %d validation error(s):", len(validationErrs)))
		for _, fe := range validationErrs {
			sb.WriteString(fmt.Sprintf("\n  • %s: failed '%s' validation", fe.Namespace(), fe.Tag()))
			if fe.Param() != "" {
				sb.WriteString(fmt.Sprintf(" (param: %s)", fe.Param()))
			}
		}
		return errors.New(sb.String())
	}
	return err
}

// ExtractionParent returns the directory that receives the extraction
// directory of archivePath: the configured extraction directory, else
// <storage root>/zipxtract when use_app_name_dir is set, else the
// archive's own directory.
func (c *Config) ExtractionParent(archivePath string) string {
	switch {
	case c.Extract.Directory != "":
		return c.resolve(c.Extract.Directory)
	case c.Extract.UseAppNameDir && c.StorageRoot != "":
		return filepath.Join(c.StorageRoot, AppName)
	default:
		return filepath.Dir(archivePath)
	}
}

// ArchivePath resolves an archive path given on the command line. Relative
// paths are placed in the preferred archive directory when one is set.
func (c *Config) ArchivePath(path string) string {
	if filepath.IsAbs(path) || c.Archive.Directory == "" {
		return path
	}
	return filepath.Join(c.resolve(c.Archive.Directory), path)
}

func (c *Config) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return pathutil.JoinAbsPath(c.StorageRoot, dir)
}

// Options converts the snapshot into codec options.
func (c *Config) Options(password string) archive.Options {
	return archive.Options{
		Password:           password,
		BufferSize:         c.Extract.BufferSize,
		DecoderConcurrency: c.Extract.DecoderConcurrency,
		CompressionLevel:   c.Archive.CompressionLevel,
	}
}
