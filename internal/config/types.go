// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// OwnedSource selects the ownership resolution strategy.
type OwnedSource string

const (
	OwnedSourceFilesystem OwnedSource = "filesystem"
	OwnedSourceLibrary    OwnedSource = "library"
)

// Defaults.
const (
	DefaultMirrorFreshness   = 24 * time.Hour
	DefaultAssetRetention    = 14 * 24 * time.Hour
	DefaultAssetMaxEntries   = 4000
	DefaultAssetWorkers      = 8
	DefaultAssetRatePerHost  = 8.0
	DefaultAssetBurst        = 4
	DefaultAssetFetchTimeout = 20 * time.Second
	DefaultPosterWidth       = 320
	DefaultIconSize          = 256
	DefaultAirtimeTolerance  = 5 * time.Minute
	DefaultSchedulePastLimit = 24 * time.Hour
	DefaultPipelineWorkers   = 4
	DefaultMessageBuffer     = 64
	DefaultPollBudget        = 16
	DefaultUploadBudget      = 4
)

// AppConfig is the effective, validated configuration.
type AppConfig struct {
	Version  string
	CacheDir string
	LogLevel string

	Guide   SourceConfig
	Library SourceConfig

	Mirror    MirrorConfig
	Owned     OwnedConfig
	Schedule  ScheduleConfig
	Assets    AssetsConfig
	Pipeline  PipelineConfig
	Metrics   MetricsConfig
	Telemetry TelemetryConfig
}

// SourceConfig points at an external database file to mirror.
// An empty Source means "use whatever local snapshot exists".
type SourceConfig struct {
	Source string
}

type MirrorConfig struct {
	Freshness time.Duration
}

type OwnedConfig struct {
	Source     OwnedSource
	Roots      []string
	FFprobeBin string
}

type ScheduleConfig struct {
	// AirtimeTolerance bounds how far a subscription airtime may be from a
	// guide entry's start and still match it.
	AirtimeTolerance time.Duration
	// PastLimit drops subscription airtimes older than now-PastLimit.
	PastLimit time.Duration
}

type AssetsConfig struct {
	Retention    time.Duration
	MaxEntries   int
	Workers      int
	RatePerHost  float64
	Burst        int
	FetchTimeout time.Duration
	PosterWidth  int
	IconSize     int
	UploadBudget int
}

type PipelineConfig struct {
	Workers       int
	MessageBuffer int
	PollBudget    int
}

type MetricsConfig struct {
	// Listen is the optional address for the /metrics and /healthz listener.
	Listen string
}

type TelemetryConfig struct {
	Enabled      bool
	Endpoint     string
	SamplingRate float64
}

// FileConfig mirrors the YAML layout. Durations are strings in Go
// duration syntax ("24h", "336h").
type FileConfig struct {
	CacheDir string `yaml:"cacheDir,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`

	Guide   FileSource `yaml:"guide,omitempty"`
	Library FileSource `yaml:"library,omitempty"`

	Mirror struct {
		Freshness string `yaml:"freshness,omitempty"`
	} `yaml:"mirror,omitempty"`

	Owned struct {
		Source  string   `yaml:"source,omitempty"`
		Roots   []string `yaml:"roots,omitempty"`
		FFprobe string   `yaml:"ffprobe,omitempty"`
	} `yaml:"owned,omitempty"`

	Schedule struct {
		AirtimeTolerance string `yaml:"airtimeTolerance,omitempty"`
		PastLimit        string `yaml:"pastLimit,omitempty"`
	} `yaml:"schedule,omitempty"`

	Assets struct {
		Retention    string   `yaml:"retention,omitempty"`
		MaxEntries   *int     `yaml:"maxEntries,omitempty"`
		Workers      *int     `yaml:"workers,omitempty"`
		RatePerHost  *float64 `yaml:"ratePerHost,omitempty"`
		Burst        *int     `yaml:"burst,omitempty"`
		FetchTimeout string   `yaml:"fetchTimeout,omitempty"`
		PosterWidth  *int     `yaml:"posterWidth,omitempty"`
		IconSize     *int     `yaml:"iconSize,omitempty"`
		UploadBudget *int     `yaml:"uploadBudget,omitempty"`
	} `yaml:"assets,omitempty"`

	Pipeline struct {
		Workers       *int `yaml:"workers,omitempty"`
		MessageBuffer *int `yaml:"messageBuffer,omitempty"`
		PollBudget    *int `yaml:"pollBudget,omitempty"`
	} `yaml:"pipeline,omitempty"`

	Metrics struct {
		Listen string `yaml:"listen,omitempty"`
	} `yaml:"metrics,omitempty"`

	Telemetry struct {
		Enabled      *bool    `yaml:"enabled,omitempty"`
		Endpoint     string   `yaml:"endpoint,omitempty"`
		SamplingRate *float64 `yaml:"samplingRate,omitempty"`
	} `yaml:"telemetry,omitempty"`
}

type FileSource struct {
	Source string `yaml:"source,omitempty"`
}
