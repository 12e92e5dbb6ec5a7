// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configuration file path, or "" for env-only configuration.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults,
// then validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := AppConfig{}

	// 1. Set defaults
	setDefaults(&cfg)

	// 2. Load from file (if provided)
	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	// 3. Override with environment variables (highest priority)
	l.mergeEnvConfig(&cfg)

	cfg.Owned.FFprobeBin = ResolveFFprobeBin(cfg.Owned.FFprobeBin)
	if abs, err := filepath.Abs(cfg.CacheDir); err == nil {
		cfg.CacheDir = abs
	}
	cfg.Version = l.version

	// 4. Validate
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(cfg *AppConfig) {
	cfg.CacheDir = DefaultCacheDir()
	cfg.LogLevel = "info"
	cfg.Mirror.Freshness = DefaultMirrorFreshness
	cfg.Owned.Source = OwnedSourceFilesystem
	cfg.Schedule.AirtimeTolerance = DefaultAirtimeTolerance
	cfg.Schedule.PastLimit = DefaultSchedulePastLimit
	cfg.Assets = AssetsConfig{
		Retention:    DefaultAssetRetention,
		MaxEntries:   DefaultAssetMaxEntries,
		Workers:      DefaultAssetWorkers,
		RatePerHost:  DefaultAssetRatePerHost,
		Burst:        DefaultAssetBurst,
		FetchTimeout: DefaultAssetFetchTimeout,
		PosterWidth:  DefaultPosterWidth,
		IconSize:     DefaultIconSize,
		UploadBudget: DefaultUploadBudget,
	}
	cfg.Pipeline = PipelineConfig{
		Workers:       DefaultPipelineWorkers,
		MessageBuffer: DefaultMessageBuffer,
		PollBudget:    DefaultPollBudget,
	}
	cfg.Telemetry.SamplingRate = 1.0
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, src *FileConfig) error {
	if src.CacheDir != "" {
		cfg.CacheDir = expandHome(src.CacheDir)
	}
	if src.LogLevel != "" {
		cfg.LogLevel = src.LogLevel
	}
	if src.Guide.Source != "" {
		cfg.Guide.Source = expandHome(src.Guide.Source)
	}
	if src.Library.Source != "" {
		cfg.Library.Source = expandHome(src.Library.Source)
	}
	if src.Owned.Source != "" {
		cfg.Owned.Source = OwnedSource(strings.ToLower(src.Owned.Source))
	}
	if len(src.Owned.Roots) > 0 {
		roots := make([]string, 0, len(src.Owned.Roots))
		for _, r := range src.Owned.Roots {
			roots = append(roots, expandHome(r))
		}
		cfg.Owned.Roots = roots
	}
	if src.Owned.FFprobe != "" {
		cfg.Owned.FFprobeBin = src.Owned.FFprobe
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"mirror.freshness", src.Mirror.Freshness, &cfg.Mirror.Freshness},
		{"schedule.airtimeTolerance", src.Schedule.AirtimeTolerance, &cfg.Schedule.AirtimeTolerance},
		{"schedule.pastLimit", src.Schedule.PastLimit, &cfg.Schedule.PastLimit},
		{"assets.retention", src.Assets.Retention, &cfg.Assets.Retention},
		{"assets.fetchTimeout", src.Assets.FetchTimeout, &cfg.Assets.FetchTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", d.field, d.raw, err)
		}
		*d.dst = parsed
	}

	setInt(&cfg.Assets.MaxEntries, src.Assets.MaxEntries)
	setInt(&cfg.Assets.Workers, src.Assets.Workers)
	setInt(&cfg.Assets.Burst, src.Assets.Burst)
	setInt(&cfg.Assets.PosterWidth, src.Assets.PosterWidth)
	setInt(&cfg.Assets.IconSize, src.Assets.IconSize)
	setInt(&cfg.Assets.UploadBudget, src.Assets.UploadBudget)
	if src.Assets.RatePerHost != nil {
		cfg.Assets.RatePerHost = *src.Assets.RatePerHost
	}
	setInt(&cfg.Pipeline.Workers, src.Pipeline.Workers)
	setInt(&cfg.Pipeline.MessageBuffer, src.Pipeline.MessageBuffer)
	setInt(&cfg.Pipeline.PollBudget, src.Pipeline.PollBudget)

	if src.Metrics.Listen != "" {
		cfg.Metrics.Listen = src.Metrics.Listen
	}
	if src.Telemetry.Enabled != nil {
		cfg.Telemetry.Enabled = *src.Telemetry.Enabled
	}
	if src.Telemetry.Endpoint != "" {
		cfg.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.SamplingRate != nil {
		cfg.Telemetry.SamplingRate = *src.Telemetry.SamplingRate
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.CacheDir = l.envString(EnvBaseDir, cfg.CacheDir)
	cfg.LogLevel = l.envString("PEX_LOG_LEVEL", cfg.LogLevel)
	cfg.Guide.Source = l.envString("PEX_GUIDE_DB_SOURCE", cfg.Guide.Source)
	cfg.Library.Source = l.envString("PEX_LIBRARY_DB_SOURCE", cfg.Library.Source)
	cfg.Owned.Source = OwnedSource(strings.ToLower(l.envString("PEX_OWNED_SOURCE", string(cfg.Owned.Source))))
	cfg.Owned.Roots = l.envList("PEX_LIBRARY_ROOTS", cfg.Owned.Roots)
	cfg.Owned.FFprobeBin = l.envString("PEX_FFPROBE_BIN", cfg.Owned.FFprobeBin)
	cfg.Mirror.Freshness = l.envDuration("PEX_MIRROR_FRESHNESS", cfg.Mirror.Freshness)
	cfg.Schedule.AirtimeTolerance = l.envDuration("PEX_SCHEDULE_TOLERANCE", cfg.Schedule.AirtimeTolerance)
	cfg.Assets.Retention = l.envDuration("PEX_ASSET_RETENTION", cfg.Assets.Retention)
	cfg.Assets.MaxEntries = l.envInt("PEX_ASSET_MAX_ENTRIES", cfg.Assets.MaxEntries)
	cfg.Assets.Workers = l.envInt("PEX_ASSET_WORKERS", cfg.Assets.Workers)
	cfg.Assets.RatePerHost = l.envFloat("PEX_ASSET_RATE_PER_HOST", cfg.Assets.RatePerHost)
	cfg.Pipeline.Workers = l.envInt("PEX_PIPELINE_WORKERS", cfg.Pipeline.Workers)
	cfg.Pipeline.MessageBuffer = l.envInt("PEX_PIPELINE_BUFFER", cfg.Pipeline.MessageBuffer)
	cfg.Metrics.Listen = l.envString("PEX_METRICS_LISTEN", cfg.Metrics.Listen)
	cfg.Telemetry.Enabled = l.envBool("PEX_TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString("PEX_TRACING_ENDPOINT", cfg.Telemetry.Endpoint)
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
