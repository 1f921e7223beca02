// Package config loads the veilnote configuration file and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veilnote/veilnote/pkg/crypto"
)

// FileName is the configuration file name inside the vault directory.
const FileName = "config.yaml"

// Environment overrides. The sync token is env-only so it never lands in a
// file.
const (
	EnvVaultDir  = "VEILNOTE_VAULT_DIR"
	EnvSyncURL   = "VEILNOTE_SYNC_URL"
	EnvSyncToken = "VEILNOTE_SYNC_TOKEN"
)

// ErrUnsupportedVersion indicates a config file from a newer release.
var ErrUnsupportedVersion = errors.New("config: unsupported config version")

// Sync configures the background sync runner.
type Sync struct {
	// BaseURL of the sync service. Sync is disabled while empty.
	BaseURL string `yaml:"base_url"`
	// IntervalSeconds between sync cycles.
	IntervalSeconds int `yaml:"interval_seconds"`
	// BatchLimit caps operations per push/pull.
	BatchLimit int `yaml:"batch_limit"`
}

// Interval returns the sync cycle pacing as a duration.
func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// KDF optionally overrides the Argon2id cost parameters. Zero fields keep
// the defaults.
type KDF struct {
	MemoryKiB   uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
}

// Audit configures the security event log.
type Audit struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// Config is the resolved veilnote configuration.
type Config struct {
	Version  int    `yaml:"version"`
	VaultDir string `yaml:"vault_dir"`
	Sync     Sync   `yaml:"sync"`
	KDF      KDF    `yaml:"kdf"`
	Audit    Audit  `yaml:"audit"`

	// SyncToken comes from the environment only.
	SyncToken string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:  1,
		VaultDir: defaultVaultDir(),
		Sync: Sync{
			IntervalSeconds: 30,
			BatchLimit:      100,
		},
		Audit: Audit{
			Enabled:       true,
			RetentionDays: 365,
		},
	}
}

// Load reads the config file under the vault directory, falling back to
// defaults when it does not exist, then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()
	if dir := os.Getenv(EnvVaultDir); dir != "" {
		cfg.VaultDir = dir
	}

	data, err := os.ReadFile(filepath.Join(cfg.VaultDir, FileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No file is the common case.
	case err != nil:
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse config file: %w", err)
		}
		if cfg.Version > 1 {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, cfg.Version)
		}
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

// Save writes the configuration (minus the sync token) with 0600
// permissions.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.VaultDir, 0700); err != nil {
		return fmt.Errorf("config: failed to create vault directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.VaultDir, FileName), data, 0600); err != nil {
		return fmt.Errorf("config: failed to write config file: %w", err)
	}
	return nil
}

// Argon2Params resolves the KDF overrides against the defaults.
func (c *Config) Argon2Params() crypto.Argon2Params {
	p := crypto.DefaultArgon2Params
	if c.KDF.MemoryKiB > 0 {
		p.Memory = c.KDF.MemoryKiB
	}
	if c.KDF.Iterations > 0 {
		p.Time = c.KDF.Iterations
	}
	if c.KDF.Parallelism > 0 {
		p.Parallelism = c.KDF.Parallelism
	}
	return p
}

func applyEnv(cfg *Config) {
	if dir := os.Getenv(EnvVaultDir); dir != "" {
		cfg.VaultDir = dir
	}
	if url := os.Getenv(EnvSyncURL); url != "" {
		cfg.Sync.BaseURL = url
	}
	cfg.SyncToken = os.Getenv(EnvSyncToken)
}

func normalize(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Sync.IntervalSeconds <= 0 {
		cfg.Sync.IntervalSeconds = 30
	}
	if cfg.Sync.BatchLimit <= 0 {
		cfg.Sync.BatchLimit = 100
	}
	if cfg.Audit.RetentionDays <= 0 {
		cfg.Audit.RetentionDays = 365
	}
}

func defaultVaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".veilnote"
	}
	return filepath.Join(home, ".veilnote")
}

// Retention returns the audit retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}

// FormatKDF renders the effective KDF parameters for display.
func (c *Config) FormatKDF() string {
	p := c.Argon2Params()
	return "argon2id m=" + strconv.FormatUint(uint64(p.Memory), 10) +
		" t=" + strconv.FormatUint(uint64(p.Time), 10) +
		" p=" + strconv.FormatUint(uint64(p.Parallelism), 10)
}
