package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// File formats understood by Parse.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
)

// Load builds a configuration from the defaults, the file at path (if path
// is not empty and the file exists) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file is not an error.
		case err != nil:
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			format, err := FormatFromPath(path)
			if err != nil {
				return Config{}, err
			}
			if err := decode(&cfg, path, data, format); err != nil {
				return Config{}, err
			}
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data in format on top of the defaults. It does not consult
// the environment.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	if err := decode(&cfg, "<"+format+">", data, format); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with DEVWIRE_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FormatFromPath returns the format implied by the file extension.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

func decode(cfg *Config, source string, data []byte, format string) error {
	var err error
	switch format {
	case FormatTOML:
		err = toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	case FormatYAML:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		err = yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	if err != nil {
		return &ParseError{Path: source, Err: err}
	}
	return nil
}
