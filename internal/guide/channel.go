// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guide

import (
	"sort"
	"strings"
)

// ParseGenres splits a '|' separated tag list, sorted and deduplicated.
func ParseGenres(tags string) []string {
	var out []string
	for _, g := range strings.Split(tags, "|") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return dedupeSorted(out)
}

func dedupeSorted(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// HumanizeChannel makes a channel label readable: "006 itv2" becomes
// "ITV2", "itv.com" becomes "ITV", "BBCONEHD" becomes "BBCONE HD".
func HumanizeChannel(raw string) string {
	s := strings.TrimSpace(raw)

	// Leading virtual channel number.
	cut := 0
	for i, r := range s {
		if (r >= '0' && r <= '9') || r == ' ' || r == '\t' {
			cut = i + 1
			continue
		}
		break
	}
	if cut > 0 && cut < len(s) {
		s = s[cut:]
	}

	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")

	if host, ok := hostLabel(s); ok {
		return host
	}

	if isLowerLabel(s) {
		s = strings.ToUpper(s)
	}

	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "UHD") && !strings.HasSuffix(upper, " UHD") && len(s) > 3:
		s = strings.TrimRight(s[:len(s)-3], " ") + " UHD"
	case strings.HasSuffix(upper, "HD") && !strings.HasSuffix(upper, " HD") && len(s) > 2:
		s = strings.TrimRight(s[:len(s)-2], " ") + " HD"
	}
	return s
}

func hostLabel(s string) (string, bool) {
	if !strings.Contains(s, ".") {
		return "", false
	}
	for _, r := range s {
		if !isASCIIAlnum(r) && r != '.' {
			return "", false
		}
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" || part == "www" {
			continue
		}
		if len(part) >= 2 {
			return strings.ToUpper(part), true
		}
		return "", false
	}
	return "", false
}

func isLowerLabel(s string) bool {
	hasLower := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9', r == ' ':
		default:
			return false
		}
	}
	return hasLower
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

var hdTagMarkers = []string{"2160", "uhd", "4k", "hdr", "1080", "720", " hd ", "(hd)", "[hd]"}

// InferBroadcastHD guesses whether an airing is broadcast in HD from its
// tags and channel name ("ITV HD", "ITVHD", "BBCONEHDG").
func InferBroadcastHD(tags, channel string) bool {
	t := strings.ToLower(tags)
	for _, n := range hdTagMarkers {
		if strings.Contains(t, n) {
			return true
		}
	}

	spaced := strings.ToLower(strings.TrimSpace(channel))
	if spaced == "" {
		return false
	}
	if strings.HasSuffix(spaced, " hd") || strings.Contains(spaced, " hd ") {
		return true
	}

	var b strings.Builder
	for _, r := range spaced {
		if isASCIIAlnum(r) {
			b.WriteRune(r)
		}
	}
	compact := strings.ToUpper(b.String())
	if strings.Contains(compact, "UHD") || strings.Contains(compact, "4K") {
		return true
	}
	// "HD" followed by at most a short region suffix (HDA, HDUK).
	if pos := strings.LastIndex(compact, "HD"); pos >= 0 && len(compact)-(pos+2) <= 3 {
		return true
	}
	return false
}
