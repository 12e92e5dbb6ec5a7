// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os/exec"
	"strings"
)

// ResolveFFprobeBin returns an effective ffprobe binary path.
//
// Resolution order:
// 1) Explicit configured value (owned.ffprobe / PEX_FFPROBE_BIN)
// 2) "ffprobe" found on PATH
// 3) Empty string: probing disabled, HD detection falls back to filename hints
func ResolveFFprobeBin(configured string) string {
	return resolveFFprobeBinWithLookPath(configured, exec.LookPath)
}

func resolveFFprobeBinWithLookPath(configured string, lookPath func(string) (string, error)) string {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return configured
	}
	if p, err := lookPath("ffprobe"); err == nil {
		return p
	}
	return ""
}
