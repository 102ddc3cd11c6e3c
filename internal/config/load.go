// internal/config/load.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads path, applies defaults, validates and normalizes.
// A missing file yields the defaults. The format follows the extension:
// .yaml/.yml is YAML, anything else is TOML.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := decode(path, raw, cfg); err != nil {
			return nil, err
		}
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func decode(path string, raw []byte, cfg *Config) error {
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		return nil
	}

	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var de *toml.DecodeError
		if errors.As(err, &de) {
			row, col := de.Position()
			return fmt.Errorf("config: parse %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg *Config) error {
	var (
		out []byte
		err error
	)
	if isYAML(path) {
		out, err = yaml.Marshal(cfg)
	} else {
		out, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	out = append([]byte("# lifelinetty config\n"), out...)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
