package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config carries client options. None of them is interpreted by the
// prediction core; they are read by the runtime collaborators (library
// discovery, model loading, device selection) and otherwise passed through.
type Config struct {
	BaseURL  string `toml:"base_url" yaml:"base_url" json:"base_url"`
	Device   string `toml:"device" yaml:"device" json:"device"`
	Libonnx  string `toml:"libonnx" yaml:"libonnx" json:"libonnx"`
	Threads  int    `toml:"threads" yaml:"threads" json:"threads"`
	LogLevel string `toml:"log_level" yaml:"log_level" json:"log_level"`

	// Options holds consumer-defined settings, untouched by this module.
	Options map[string]any `toml:"options" yaml:"options" json:"options"`
}

// Clone returns a copy whose Options map is not shared with c.
func (c Config) Clone() Config {
	c.Options = maps.Clone(c.Options)
	return c
}

// Option returns a consumer-defined setting.
func (c Config) Option(key string) (any, bool) {
	v, ok := c.Options[key]
	return v, ok
}

// Load reads a configuration file based on its extension.
// Supports: .toml, .yaml/.yml, .json
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional loads path if it exists and returns a zero Config otherwise.
func LoadOptional(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return Load(path)
}
