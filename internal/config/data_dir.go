// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
)

const (
	EnvBaseDir = "PEX_BASE_DIR"
	EnvConfig  = "PEX_CONFIG"
)

// DefaultCacheDir returns the cache root used when neither the file nor
// PEX_BASE_DIR sets one: <user cache dir>/pex, or ./pex-cache when the
// platform has no cache directory.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "pex")
	}
	return "pex-cache"
}

// DefaultConfigPath returns PEX_CONFIG, or <cache root>/config.yaml if that
// file exists, or "" (environment-only configuration).
func DefaultConfigPath(cacheDir string) string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	candidate := filepath.Join(cacheDir, "config.yaml")
	if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
		return candidate
	}
	return ""
}
