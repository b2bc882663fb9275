// Package config holds all carbontrace configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pipeline settings.
type Config struct {
	Name string `yaml:"name"`

	// File locations
	Paths PathsConfig `yaml:"paths"`

	// Download behavior
	HTTP HTTPConfig `yaml:"http"`

	// Concept vocabulary extensions
	Vocabulary VocabularyConfig `yaml:"vocabulary"`

	// Run behavior
	Run RunConfig `yaml:"run"`

	// Run-history ledger
	Ledger LedgerConfig `yaml:"ledger"`
}

// PathsConfig locates the source list and the data directories.
type PathsConfig struct {
	SourcesFile string `yaml:"sources_file"`
	CacheDir    string `yaml:"cache_dir"`
	OutDir      string `yaml:"out_dir"`
}

// HTTPConfig configures artifact downloads. Timeout applies per request.
type HTTPConfig struct {
	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

// TimeoutDuration parses the request timeout, falling back to 60s.
func (h HTTPConfig) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(h.Timeout); err == nil && d > 0 {
		return d
	}
	return 60 * time.Second
}

// VocabularyConfig extends the built-in concept vocabulary.
type VocabularyConfig struct {
	ExtraConcepts []string `yaml:"extra_concepts"`
	ExtraKeywords []string `yaml:"extra_keywords"`
}

// RunConfig bounds and annotates a pipeline run.
type RunConfig struct {
	// SourceBudget is the wall-clock limit per source; empty or zero
	// disables the bound.
	SourceBudget string `yaml:"source_budget"`
	// Notes is the free-text field written into the manifest.
	Notes string `yaml:"notes"`
}

// SourceBudgetDuration parses the per-source budget; zero when unset.
func (r RunConfig) SourceBudgetDuration() time.Duration {
	if d, err := time.ParseDuration(r.SourceBudget); err == nil && d > 0 {
		return d
	}
	return 0
}

// LedgerConfig controls the sqlite run-history ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "carbontrace",
		Paths: PathsConfig{
			SourcesFile: "sources_urls.txt",
			CacheDir:    filepath.Join("data", "raw"),
			OutDir:      filepath.Join("data", "out"),
		},
		HTTP: HTTPConfig{
			Timeout:   "60s",
			UserAgent: "carbontrace/1.0",
		},
		Run: RunConfig{
			SourceBudget: "5m",
			Notes:        "Finance (Revenue/OPL) today; ESRS Scope1/2 tags ready when available.",
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    filepath.Join("data", "state", "runs.db"),
		},
	}
}

// DefaultPath is the config file consulted when none is given explicitly.
const DefaultPath = "carbontrace.yaml"

// LoadOrDefault loads the given config file, or DefaultPath when it
// exists, or falls back to the built-in defaults. Environment overrides
// apply in every case.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return Load(DefaultPath)
	}
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a config file, layers it over the defaults and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Paths.SourcesFile == "" {
		return fmt.Errorf("paths.sources_file must not be empty")
	}
	if c.Paths.CacheDir == "" {
		return fmt.Errorf("paths.cache_dir must not be empty")
	}
	if c.Paths.OutDir == "" {
		return fmt.Errorf("paths.out_dir must not be empty")
	}
	if c.HTTP.Timeout != "" {
		if _, err := time.ParseDuration(c.HTTP.Timeout); err != nil {
			return fmt.Errorf("http.timeout: %w", err)
		}
	}
	if c.Run.SourceBudget != "" {
		if _, err := time.ParseDuration(c.Run.SourceBudget); err != nil {
			return fmt.Errorf("run.source_budget: %w", err)
		}
	}
	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path must not be empty when the ledger is enabled")
	}
	return nil
}

// applyEnvOverrides lets CARBONTRACE_* variables override file settings.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CARBONTRACE_SOURCES"); v != "" {
		c.Paths.SourcesFile = v
	}
	if v := os.Getenv("CARBONTRACE_CACHE_DIR"); v != "" {
		c.Paths.CacheDir = v
	}
	if v := os.Getenv("CARBONTRACE_OUT_DIR"); v != "" {
		c.Paths.OutDir = v
	}
	if v := os.Getenv("CARBONTRACE_LEDGER_PATH"); v != "" {
		c.Ledger.Path = v
	}
}
