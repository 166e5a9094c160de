package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/jinzhu/copier"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. ZIPXTRACT_LOG_LEVEL.
const EnvPrefix = "ZIPXTRACT"

// DefaultPath is the configuration file used when none is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// Manager loads the configuration and hands out snapshots of it.
type Manager struct {
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	current *Config
}

// NewManager creates a manager reading path from fsys. An empty path uses
// DefaultPath.
func NewManager(fsys afero.Fs, path string) *Manager {
	if path == "" {
		path = DefaultPath()
	}
	return &Manager{fs: fsys, path: path, current: Default()}
}

// Path returns the configuration file location.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the configuration file, when present, applies environment
// overrides and validates the result.
func (m *Manager) Load() error {
	v := viper.New()
	v.SetFs(m.fs)
	v.SetConfigFile(m.path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, Default()); err != nil {
		return err
	}

	if exists, _ := afero.Exists(m.fs, m.path); exists {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", m.path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = cfg
	m.mu.Unlock()
	return nil
}

// setDefaults registers every key of def with viper so that environment
// overrides apply to keys missing from the file.
func setDefaults(v *viper.Viper, def *Config) error {
	raw, err := yaml.Marshal(def)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}
	for key, value := range flatten("", tree) {
		v.SetDefault(key, value)
	}
	return nil
}

func flatten(prefix string, tree map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// Snapshot returns a deep copy of the current configuration.
func (m *Manager) Snapshot() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Config{}
	if err := copier.CopyWithOption(snap, m.current, copier.Option{DeepCopy: true}); err != nil {
		// Config holds only plain values; copier cannot fail on it.
		panic(fmt.Sprintf("config snapshot: %v", err))
	}
	return snap
}

// Update applies fn to a copy of the configuration and installs it when it
// still validates.
func (m *Manager) Update(fn func(*Config)) error {
	next := m.Snapshot()
	fn(next)
	if err := next.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
	return nil
}

// YAML renders cfg as written by WriteDefault.
func YAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// WriteDefault writes the built-in configuration to path. An existing file
// is kept unless force is set.
func WriteDefault(fsys afero.Fs, path string, force bool) error {
	if exists, _ := afero.Exists(fsys, path); exists && !force {
		return fmt.Errorf("%s already exists", path)
	}
	data, err := YAML(Default())
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return afero.WriteFile(fsys, path, data, os.FileMode(0o644))
}
