// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe classifies owned video files as HD or SD, using file name
// markers first and an external ffprobe run (with a persistent result
// cache) when the name is inconclusive.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrUnavailable is returned when no ffprobe binary is configured.
var ErrUnavailable = errors.New("ffprobe unavailable")

// Resolution of the first video stream.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are known.
func (r Resolution) Valid() bool { return r.Width > 0 && r.Height > 0 }

// HD applies the 1280x720 threshold; either dimension is enough.
func (r Resolution) HD() bool { return r.Width >= 1280 || r.Height >= 720 }

// Runner measures the resolution of a media file.
type Runner interface {
	Resolution(ctx context.Context, path string) (Resolution, error)
}

// FFprobe runs the ffprobe executable.
type FFprobe struct {
	Bin     string
	Timeout time.Duration
}

// Resolution implements Runner.
func (f FFprobe) Resolution(ctx context.Context, path string) (Resolution, error) {
	if f.Bin == "" {
		return Resolution{}, ErrUnavailable
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	// #nosec G204 -- binary comes from config, path is passed after "--"
	cmd := exec.CommandContext(ctx, f.Bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		"--", path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		errStr := stderr.String()
		if len(errStr) > 1024 {
			errStr = errStr[:1024] + "..."
		}
		return Resolution{}, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, errStr)
	}
	return parseStreams(out)
}

type probeData struct {
	Streams []Resolution `json:"streams"`
}

func parseStreams(out []byte) (Resolution, error) {
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return Resolution{}, fmt.Errorf("json decode: %w", err)
	}
	for _, s := range data.Streams {
		if s.Valid() {
			return s, nil
		}
	}
	return Resolution{}, fmt.Errorf("ffprobe returned no video stream")
}
