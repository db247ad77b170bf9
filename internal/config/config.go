// Package config loads the obfuhook TOML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/isseis/go-obfuhook/internal/deobf"
	"github.com/isseis/go-obfuhook/internal/logging"
	"github.com/isseis/go-obfuhook/internal/safefileio"
	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is read when no configuration file is named explicitly.
const DefaultPath = "obfuhook.toml"

// Patch store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Default values
const (
	DefaultLogLevel   = "info"
	DefaultBackend    = BackendFile
	DefaultPatchDir   = ".obfuhook/patches"
	DefaultSQLitePath = ".obfuhook/patches.db"
)

// Config is the whole configuration file.
type Config struct {
	Log     LogConfig   `toml:"log"`
	Patches PatchConfig `toml:"patches"`
	Pass    PassConfig  `toml:"pass"`
	Arch    ArchConfig  `toml:"architectures"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
	// Dir receives one JSON log file per run when set.
	Dir string `toml:"dir"`
}

// PatchConfig selects where patches are persisted.
type PatchConfig struct {
	Backend    string `toml:"backend"`
	Dir        string `toml:"dir"`
	SQLitePath string `toml:"sqlite_path"`
}

// PassConfig tunes the obfuscation pass.
type PassConfig struct {
	Policy string   `toml:"policy"`
	Idioms []string `toml:"idioms"`
}

// ArchConfig lists the architectures to hook.
type ArchConfig struct {
	Hook []string `toml:"hook"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Patches.Backend == "" {
		cfg.Patches.Backend = DefaultBackend
	}
	if cfg.Patches.Dir == "" {
		cfg.Patches.Dir = DefaultPatchDir
	}
	if cfg.Patches.SQLitePath == "" {
		cfg.Patches.SQLitePath = DefaultSQLitePath
	}
	if cfg.Pass.Policy == "" {
		cfg.Pass.Policy = deobf.PolicyFirstMatch
	}
}

// Parse decodes TOML content, applies defaults and validates the result.
// Unknown keys are rejected.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, strict.String())
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration at path. When path is DefaultPath and the
// file does not exist, defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	content, err := safefileio.SafeReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			return Default(), nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfigPath, path, err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func Validate(cfg *Config) error {
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return &ValidationError{Field: "log.level", Value: cfg.Log.Level, Cause: err}
	}
	switch cfg.Patches.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return &ValidationError{Field: "patches.backend", Value: cfg.Patches.Backend, Cause: ErrUnknownBackend}
	}
	if _, err := deobf.PolicyByName(cfg.Pass.Policy); err != nil {
		return &ValidationError{Field: "pass.policy", Value: cfg.Pass.Policy, Cause: err}
	}
	if _, err := deobf.IdiomsByName(cfg.Pass.Idioms); err != nil {
		return &ValidationError{Field: "pass.idioms", Value: fmt.Sprint(cfg.Pass.Idioms), Cause: err}
	}
	seen := make(map[string]bool)
	for _, name := range cfg.Arch.Hook {
		if seen[name] {
			return &ValidationError{Field: "architectures.hook", Value: name, Cause: ErrDuplicateEntry}
		}
		seen[name] = true
	}
	return nil
}

// Policy returns the configured conflict policy.
func (c *Config) Policy() deobf.ConflictPolicy {
	p, err := deobf.PolicyByName(c.Pass.Policy)
	if err != nil {
		return deobf.FirstMatch{}
	}
	return p
}

// Idioms returns the configured idioms, or nil for the full catalog.
func (c *Config) Idioms() []deobf.Idiom {
	idioms, err := deobf.IdiomsByName(c.Pass.Idioms)
	if err != nil || len(idioms) == 0 {
		return nil
	}
	return idioms
}
