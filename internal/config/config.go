// Package config loads, overrides and saves cdpbridge configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/cdpbridge/internal/browser"
	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
	"github.com/roelfdiedericks/cdpbridge/internal/paths"
)

// Config represents the cdpbridge configuration file
type Config struct {
	Log     LoggingConfig  `json:"log" toml:"log" yaml:"log"`
	Browser browser.Config `json:"browser" toml:"browser" yaml:"browser"`
}

// LoggingConfig controls the global logger
type LoggingConfig struct {
	Level      string `json:"level" toml:"level" yaml:"level"`                // trace, debug, info, warn, error
	TimeFormat string `json:"timeFormat" toml:"timeFormat" yaml:"timeFormat"` // Go time layout
	ShowCaller bool   `json:"showCaller" toml:"showCaller" yaml:"showCaller"`
}

// Overrides are settings from the command line. Non-zero fields in Browser
// replace configured values, extensions are appended. The booleans cover
// settings whose override is "false", which a merge cannot express.
type Overrides struct {
	Browser   browser.Config
	LogLevel  string
	Headed    bool
	NoStealth bool
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: LoggingConfig{
			Level:      "info",
			TimeFormat: "15:04:05",
		},
		Browser: browser.DefaultConfig(),
	}
}

// Load reads the config at path, or the first one found by
// paths.ConfigPath when path is empty. File values are decoded over the
// defaults, so a partial file only changes what it names. The returned
// path is empty when no file was found.
func Load(path string) (*Config, string, error) {
	cfg := Default()

	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		if found == "" {
			L_debug("config: no config file, using defaults")
			return cfg, "", nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}
	if err := decode(path, data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}

	L_debug("config: loaded", "path", path)
	return cfg, path, nil
}

// Config file formats, chosen by file extension
const (
	FormatJSON = "json"
	FormatTOML = "toml"
	FormatYAML = "yaml"
)

// FormatOf returns the config format for path; unknown extensions are JSON
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// decode parses data into cfg
func decode(path string, data []byte, cfg *Config) error {
	switch FormatOf(path) {
	case FormatTOML:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		for _, key := range md.Undecoded() {
			L_warn("config: unknown key", "path", path, "key", key.String())
		}
		return nil
	case FormatYAML:
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// encode renders cfg in the format implied by path
func encode(path string, cfg *Config) ([]byte, error) {
	switch FormatOf(path) {
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to marshal TOML: %w", err)
		}
		return buf.Bytes(), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return append(data, '\n'), nil
	}
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		if _, err := ParseLevel(c.Log.Level); err != nil {
			return err
		}
	}
	return c.Browser.Validate()
}

// ApplyOverrides merges command line settings into c
func (c *Config) ApplyOverrides(o Overrides) error {
	if err := mergo.Merge(&c.Browser, o.Browser, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return fmt.Errorf("failed to apply overrides: %w", err)
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.Headed {
		c.Browser.Headless = false
	}
	if o.NoStealth {
		c.Browser.Stealth = false
	}
	return c.Validate()
}

// Logging returns the logger configuration
func (c *Config) Logging() (*LogConfig, error) {
	lc := DefaultLogConfig()
	if c.Log.Level != "" {
		level, err := ParseLevel(c.Log.Level)
		if err != nil {
			return nil, err
		}
		lc.Level = level
	}
	if c.Log.TimeFormat != "" {
		lc.TimeFormat = c.Log.TimeFormat
	}
	lc.ShowCaller = c.Log.ShowCaller
	return lc, nil
}

// Save writes c to path (JSON, TOML or YAML by extension), keeping the
// previous file as path.bak
func (c *Config) Save(path string) error {
	data, err := encode(path, c)
	if err != nil {
		return err
	}
	return saveWithBackup(path, data)
}
