// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		stem    string
		display string
		year    int
	}{
		{"Harry Potter and the Goblet of Fire (2005) - 4", "Harry Potter and the Goblet of Fire", 2005},
		{"Some Film (2000) - TVHD", "Some Film", 2000},
		{"Example Movie - Director's Cut", "Example Movie", 0},
		{"2012 (2009)", "2012", 2009},
		{"Movie.Name.2010.1080p.BluRay.x264-GROUP", "Movie Name", 2010},
		{"Blade Runner 2049 (2017) 2160p", "Blade Runner 2049", 2017},
		{"[YTS] Movie Title (1999) [1080p]", "Movie Title", 1999},
		{"Heat (1995) {tmdb-949}", "Heat", 1995},
		{"Arrival [2016] Extended Edition", "Arrival", 2016},
		{"The_Thing_1982_REMASTERED", "The Thing", 1982},
		{"Mission Impossible - Dead Reckoning (2023)", "Mission Impossible - Dead Reckoning", 2023},
		{"  Alien (1979)\u200B", "Alien", 1979},
	}
	for _, tt := range tests {
		t.Run(tt.stem, func(t *testing.T) {
			k := Filename(tt.stem, 0)
			assert.Equal(t, tt.display, k.Display)
			assert.Equal(t, tt.year, k.Year)
		})
	}
}

func TestFilenameYearHintWins(t *testing.T) {
	k := Filename("Dune (2020)", 2021)
	assert.Equal(t, "Dune", k.Display)
	assert.Equal(t, 2021, k.Year)
}

func TestTitleKeepsBareNumbers(t *testing.T) {
	k := Title("Blade Runner 2049", 0)
	assert.Equal(t, "Blade Runner 2049", k.Display)
	assert.Equal(t, 0, k.Year)

	k = Title("Dune (2021)", 0)
	assert.Equal(t, "Dune", k.Display)
	assert.Equal(t, 2021, k.Year)

	k = Title("Blade Runner (Director's Cut)", 1982)
	assert.Equal(t, "Blade Runner", k.Display)
}

func TestCompare(t *testing.T) {
	tests := map[string]string{
		"Amélie":                      "amelie",
		"Schindler's List":            "schindlers list",
		"Schindler’s List":            "schindlers list",
		"Fast & Furious":              "fast and furious",
		"WALL·E":                      "wall e",
		"  Spider-Man:  Homecoming ": "spider man homecoming",
		"":                            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Compare(in), in)
	}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "dune:2021", Title("Dune", 2021).String())
	assert.Equal(t, "some film:0", Title("Some Film", 0).String())
}

func TestParseKey(t *testing.T) {
	k, ok := ParseKey("dune:2021")
	require.True(t, ok)
	assert.Equal(t, "dune", k.Compare)
	assert.Equal(t, 2021, k.Year)

	_, ok = ParseKey("no-year")
	assert.False(t, ok)
	_, ok = ParseKey(":2021")
	assert.False(t, ok)
	_, ok = ParseKey("dune:abc")
	assert.False(t, ok)
}

// Normalizing an already-normalized key yields the same key.
func TestNormalizationIsIdempotent(t *testing.T) {
	stems := []string{
		"Harry Potter and the Goblet of Fire (2005) - 4",
		"Some Film (2000) - TVHD",
		"Example Movie - Director's Cut",
		"2012 (2009)",
		"Movie.Name.2010.1080p.BluRay.x264-GROUP",
		"Blade Runner 2049 (2017) 2160p",
		"A - BC - 4",
		"Amélie (2001) 720p",
		"The Lord of the Rings - The Return of the King (2003) Extended",
		"Heat",
		"Halloween (1978) (2018)",
		"Rocky - IV (1985)",
	}
	for _, stem := range stems {
		first := Filename(stem, 0)
		second := Filename(first.Display, first.Year)
		assert.Equal(t, first, second, stem)

		third := Title(first.Display, first.Year)
		assert.Equal(t, first.String(), third.String(), stem)
	}
}

func TestTitleIsIdempotent(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Halloween (1978) (2018)", "halloween:2018"},
		{"Rocky - IV", "rocky iv:0"},
		{"Mission: Impossible - II", "mission impossible ii:0"},
		{"Alien - The Director's Cut (1979)", "alien:1979"},
		{"Star Wars - 4", "star wars 4:0"},
		{"(2009)", "2009:2009"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			first := Title(tt.title, 0)
			assert.Equal(t, tt.want, first.String())

			second := Title(first.Display, first.Year)
			assert.Equal(t, first, second)
		})
	}
}

func TestFallbackWhenOnlyNoise(t *testing.T) {
	k := Filename("(2009)", 0)
	assert.False(t, k.IsZero())
	assert.Equal(t, 2009, k.Year)
}
