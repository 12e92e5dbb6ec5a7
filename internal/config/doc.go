// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the runtime configuration with the precedence
// defaults < YAML file < PEX_* environment variables, validates it and
// optionally watches the file for changes.
package config
