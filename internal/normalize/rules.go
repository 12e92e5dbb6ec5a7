// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	noiseWords = `2160p|1080p|1080i|720p|576p|480p|4k|uhd|hdr10\+?|hdr|dolby[ .]?vision|remux|` +
		`blu-?ray|bdrip|brrip|web-?dl|web-?rip|hdtv|dvd-?rip|dvdscr|hdrip|` +
		`x26[45]|h[ .]?26[45]|hevc|xvid|divx|aac(?:[ .]?[25][ .][01])?|ac3|dts(?:-hd)?|truehd|atmos|` +
		`10bit|proper|repack`
	editionWords = `(?:the[ .])?(?:director'?s[ .]cut|extended(?:[ .](?:edition|cut))?|unrated|uncut|remastered|` +
		`theatrical(?:[ .]cut)?|imax(?:[ .]edition)?|special[ .]edition|collector'?s[ .]edition|` +
		`criterion(?:[ .]collection)?|anniversary[ .]edition)`
	// Tails after a dash marker longer than this are treated as part of the title.
	maxTagTail = 24
)

var (
	// Release info inside a name: cut from the first noise token onward.
	noiseTokenRx = regexp.MustCompile(`(?i)(?:^|[\s\-\[\(])(?:` + noiseWords + `|` + editionWords + `)(?:$|[\s\-\]\)])`)
	noiseFullRx  = regexp.MustCompile(`(?i)^(?:` + noiseWords + `|` + editionWords + `)$`)
	trailNoiseRx = regexp.MustCompile(`(?i)[\s\-_.,]+(?:` + noiseWords + `|` + editionWords + `)\s*$`)
	parenNoiseRx = regexp.MustCompile(`(?i)\(\s*(?:` + noiseWords + `|` + editionWords + `)\s*\)`)

	yearBracketRx = regexp.MustCompile(`[\(\[\{]\s*((?:19|20)\d{2})\s*[\)\]\}]`)
	yearBareRx    = regexp.MustCompile(`(?:^|\s)((?:19|20)\d{2})(?:\s|$)`)

	// Provider ids and Plex edition braces: {tmdb-123} [imdbid-tt1] {edition-Extended}
	providerTagRx = regexp.MustCompile(`(?i)[\[{](?:tmdb|tmdbid|imdb|imdbid|tvdb|tvdbid|edition)[=-][^\]}]*[\]}]`)
	squareGroupRx = regexp.MustCompile(`\[[^\]]*\]`)
	romanRx       = regexp.MustCompile(`^[IVXLC]+$`)
	spaceRunRx    = regexp.MustCompile(`\s+`)
)

var dashMarkers = []string{" -- ", " - ", " – ", " — ", "- "}

// trimInvisible trims Unicode whitespace and invisible edge characters.
func trimInvisible(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) ||
			r == '\u200B' || // Zero Width Space
			r == '\u200C' || // Zero Width Non-Joiner
			r == '\u200D' || // Zero Width Joiner
			r == '\uFEFF' // BOM
	})
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaceRunRx.ReplaceAllString(s, " "))
}

// sceneSeparators turns "Movie.Name.2010.1080p" into "Movie Name 2010 1080p".
// Names that already contain spaces are left alone.
func sceneSeparators(s string) string {
	if strings.ContainsRune(s, ' ') {
		return s
	}
	if strings.Count(s, ".") < 2 && !strings.ContainsRune(s, '_') {
		return s
	}
	return strings.NewReplacer(".", " ", "_", " ").Replace(s)
}

// extractBracketYear removes every bracketed year token and returns the
// last one.
func extractBracketYear(s string) (string, int) {
	all := yearBracketRx.FindAllStringSubmatchIndex(s, -1)
	if len(all) == 0 {
		return s, 0
	}
	last := all[len(all)-1]
	year := atoi4(s[last[2]:last[3]])
	return yearBracketRx.ReplaceAllString(s, " "), year
}

// extractBareYear finds the last bare 19xx/20xx token preceded by title text
// and returns the text before it.
func extractBareYear(s string) (string, int) {
	all := yearBareRx.FindAllStringSubmatchIndex(s, -1)
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if strings.TrimSpace(s[:m[2]]) == "" {
			continue
		}
		return s[:m[2]], atoi4(s[m[2]:m[3]])
	}
	return s, 0
}

// cutAtNoise truncates s at the first release-info token that has title text before it.
func cutAtNoise(s string) string {
	for _, m := range noiseTokenRx.FindAllStringIndex(s, -1) {
		if strings.TrimSpace(strings.Trim(s[:m[0]], "-([ ")) == "" {
			continue
		}
		return s[:m[0]]
	}
	return s
}

// trimTails repeatedly removes trailing noise words, and for file names
// dash-marked tags, until nothing changes, so the result is a fixpoint.
// Metadata titles keep their dash tails: "Rocky - IV" is a title.
func trimTails(s string, m mode) string {
	for {
		before := s
		s = strings.TrimRight(collapseSpaces(s), "-_., ")
		if loc := trailNoiseRx.FindStringIndex(s); loc != nil && strings.TrimSpace(s[:loc[0]]) != "" {
			s = s[:loc[0]]
		}
		if m == modeFilename {
			s = cutDashTag(s)
		}
		if s == before {
			return s
		}
	}
}

func cutDashTag(s string) string {
	idx, width := -1, 0
	for _, marker := range dashMarkers {
		if i := strings.LastIndex(s, marker); i > idx {
			idx, width = i, len(marker)
		}
	}
	if idx <= 0 {
		return s
	}
	head := strings.TrimSpace(s[:idx])
	tail := strings.TrimSpace(s[idx+width:])
	if head == "" || len(tail) > maxTagTail || !isTagTail(tail) {
		return s
	}
	return head
}

// isTagTail reports whether a dash tail looks like decoration rather than a
// subtitle: digits ("- 4"), an upper-case tag ("- TVHD") or a noise phrase.
// Roman numerals ("- IV") are sequel numbers, not tags.
func isTagTail(tail string) bool {
	if tail == "" {
		return true
	}
	if romanRx.MatchString(tail) {
		return false
	}
	if noiseFullRx.MatchString(tail) {
		return true
	}
	digits, letters := true, 0
	for _, r := range tail {
		switch {
		case unicode.IsDigit(r):
		case unicode.IsUpper(r):
			digits = false
			letters++
		case r == ' ':
			digits = false
		default:
			return false
		}
	}
	return digits || letters >= 2
}

func atoi4(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
