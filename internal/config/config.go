package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"kin/internal/marker"
)

// Config holds all kin configuration. Command-line flags override it.
type Config struct {
	// Extraction grammar (kin extract)
	Extract ExtractConfig `yaml:"extract" json:"extract"`

	// Context-loading grammar (kin load)
	Load LoadConfig `yaml:"load" json:"load"`

	// Digest history store
	History HistoryConfig `yaml:"history" json:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ExtractConfig configures section extraction.
type ExtractConfig struct {
	Prefix         string `yaml:"prefix" json:"prefix"`                   // tag prefix, e.g. "kin" for [kin:start:NAME]
	PreviewLines   int    `yaml:"preview_lines" json:"preview_lines"`     // content lines kept per tag; -1 keeps all
	FilterPointers bool   `yaml:"filter_pointers" json:"filter_pointers"` // erase 0x... before digesting
	StrictTrailing bool   `yaml:"strict_trailing" json:"strict_trailing"` // fail on unterminated trailing section
	Collisions     string `yaml:"collisions" json:"collisions"`           // last-wins, error
	Format         string `yaml:"format" json:"format"`                   // json, yaml, cbor
	Parallelism    int    `yaml:"parallelism" json:"parallelism"`         // files extracted concurrently
	WatchDebounce  string `yaml:"watch_debounce" json:"watch_debounce"`
}

// LoadConfig configures context loading.
type LoadConfig struct {
	Token       string `yaml:"token" json:"token"`     // block token, e.g. "NUMPY"
	Barrier     string `yaml:"barrier" json:"barrier"` // barrier token
	Script      string `yaml:"script" json:"script"`   // auxiliary script evaluated before the first batch
	Advance     int    `yaml:"advance" json:"advance"` // batches loaded at startup
	EvalTimeout string `yaml:"eval_timeout" json:"eval_timeout"`
}

// HistoryConfig configures the digest history database.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path" json:"database_path"` // empty disables recording
}

// Formats accepted by ExtractConfig.Format.
var ValidFormats = []string{"json", "yaml", "cbor"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Extract: ExtractConfig{
			Prefix:         marker.DefaultPrefix,
			PreviewLines:   10,
			FilterPointers: true,
			Collisions:     "last-wins",
			Format:         "json",
			Parallelism:    4,
			WatchDebounce:  "250ms",
		},
		Load: LoadConfig{
			Token:       marker.DefaultToken,
			Barrier:     marker.DefaultBarrier,
			Advance:     1,
			EvalTimeout: "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    filepath.Join(".kin", "logs"),
		},
	}
}

// DefaultPath is where kin looks for a config file when none is given.
func DefaultPath() string {
	return filepath.Join(".kin", "config.yaml")
}

// Load loads configuration from a YAML, JSON or JSONC file. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KIN_PREFIX"); v != "" {
		c.Extract.Prefix = v
	}
	if v := os.Getenv("KIN_PREVIEW_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Extract.PreviewLines = n
		}
	}
	if v := os.Getenv("KIN_FILTER_POINTERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Extract.FilterPointers = b
		}
	}
	if v := os.Getenv("KIN_SCRIPT"); v != "" {
		c.Load.Script = v
	}
	if v := os.Getenv("KIN_HISTORY"); v != "" {
		c.History.DatabasePath = v
	}
	if v := os.Getenv("KIN_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}

// GetEvalTimeout returns the evaluation timeout as a duration.
func (c *Config) GetEvalTimeout() time.Duration {
	d, err := time.ParseDuration(c.Load.EvalTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetWatchDebounce returns the watch debounce as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Extract.WatchDebounce)
	if err != nil || d <= 0 {
		return 250 * time.Millisecond
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Extract.Prefix == "" {
		return fmt.Errorf("extract.prefix must not be empty")
	}
	if c.Load.Token == "" || c.Load.Barrier == "" {
		return fmt.Errorf("load.token and load.barrier must not be empty")
	}
	if c.Load.Token == c.Load.Barrier {
		return fmt.Errorf("load.token and load.barrier must differ (both %q)", c.Load.Token)
	}

	validFormat := false
	for _, f := range ValidFormats {
		if c.Extract.Format == f {
			validFormat = true
			break
		}
	}
	if !validFormat {
		return fmt.Errorf("invalid output format: %s (valid: %v)", c.Extract.Format, ValidFormats)
	}

	switch c.Extract.Collisions {
	case "last-wins", "error":
	default:
		return fmt.Errorf("invalid collision policy: %s (valid: last-wins, error)", c.Extract.Collisions)
	}

	if c.Extract.Parallelism < 1 {
		return fmt.Errorf("extract.parallelism must be at least 1, got %d", c.Extract.Parallelism)
	}
	if c.Load.Advance < 0 {
		return fmt.Errorf("load.advance must not be negative, got %d", c.Load.Advance)
	}
	return nil
}
