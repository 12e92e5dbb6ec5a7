// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guide

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGenres(t *testing.T) {
	assert.Equal(t, []string{"Action", "Drama"}, ParseGenres("Drama| Action |Drama||"))
	assert.Empty(t, ParseGenres(""))
}

func TestHumanizeChannel(t *testing.T) {
	tests := map[string]string{
		"006 ITV2":         "ITV2",
		"itv2":             "ITV2",
		"itv.com":          "ITV",
		"www.channel4.com": "CHANNEL4",
		"BBCONEHD":         "BBCONE HD",
		"SKYSPORTSUHD":     "SKYSPORTS UHD",
		"sky_cinema-hd":    "SKY CINEMA HD",
		"Film4":            "Film4",
		"101":              "101",
	}
	for in, want := range tests {
		assert.Equal(t, want, HumanizeChannel(in), in)
	}
}

func TestInferBroadcastHD(t *testing.T) {
	tests := []struct {
		tags, channel string
		want          bool
	}{
		{"Drama|1080i", "", true},
		{"Drama", "ITV HD", true},
		{"Drama", "BBCONEHDG", true},
		{"Drama", "Sky 4K Movies", true},
		{"Drama", "ITV2", false},
		{"", "HDTV Classics Channel", false},
		{"", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferBroadcastHD(tt.tags, tt.channel), "%q/%q", tt.tags, tt.channel)
	}
}
