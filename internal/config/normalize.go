// internal/config/normalize.go
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Parity = strings.ToLower(cfg.Parity)
	cfg.StatusMirror.Parity = strings.ToLower(cfg.StatusMirror.Parity)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	// ~ in cache_dir
	if strings.HasPrefix(cfg.CacheDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.CacheDir = filepath.Join(home, cfg.CacheDir[2:])
		}
	}

	// tunnel allow-list: first occurrence wins
	seen := make(map[string]bool, len(cfg.Tunnel.Allow))
	allow := cfg.Tunnel.Allow[:0]
	for _, a := range cfg.Tunnel.Allow {
		if seen[a] {
			continue
		}
		seen[a] = true
		allow = append(allow, a)
	}
	cfg.Tunnel.Allow = allow

	// ------------------------------------------------------------
	// STATUS MIRROR NORMALIZATION (OPT-IN)
	// ------------------------------------------------------------

	// device_name: ASCII already validated, truncate to 16 characters
	if len(cfg.StatusMirror.DeviceName) > 16 {
		cfg.StatusMirror.DeviceName = cfg.StatusMirror.DeviceName[:16]
	}
}
