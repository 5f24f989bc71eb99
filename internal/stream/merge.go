// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// =============================================================================
// OVERLAP MERGING
// =============================================================================

// DefaultWindow is the number of characters WindowMerger compares.
const DefaultWindow = 20

// Merger removes text from an incoming delta that the accumulated content
// already ends with. Merge returns the part of incoming that should be
// appended to existing, which may be empty.
type Merger interface {
	Merge(existing, incoming string) string
}

// WindowMerger compares the last Window characters of the existing content
// with the first Window characters of the incoming delta and strips the
// longest overlap from the delta.
//
// This is a heuristic. An overlap longer than the window survives, and a
// delta that genuinely repeats the previous text ("ha" followed by "ha") is
// swallowed. A delta that lies entirely within the overlap merges to "".
type WindowMerger struct {
	// Window is measured in runes. Zero means DefaultWindow.
	Window int
}

// Merge implements Merger.
func (m WindowMerger) Merge(existing, incoming string) string {
	if existing == "" || incoming == "" {
		return incoming
	}

	window := m.Window
	if window <= 0 {
		window = DefaultWindow
	}

	end := lastRunes(existing, window)
	start := firstRunes(incoming, window)

	for n := min(len(end), len(start)); n > 0; n-- {
		if runesEqual(end[len(end)-n:], start[:n]) {
			return incoming[runeOffset(incoming, n):]
		}
	}
	return incoming
}

// AffixMerger strips the longest suffix of the whole existing content that is
// also a prefix of the incoming delta. It has no window limit, so it catches
// long re-deliveries at the cost of a scan per delta. The same repeat caveat
// as WindowMerger applies.
type AffixMerger struct{}

// Merge implements Merger.
func (AffixMerger) Merge(existing, incoming string) string {
	if existing == "" || incoming == "" {
		return incoming
	}

	// Candidate prefix lengths in bytes, each ending on a rune boundary.
	bounds := make([]int, 0, utf8.RuneCountInString(incoming))
	for i := range incoming {
		if i > 0 {
			bounds = append(bounds, i)
		}
	}
	bounds = append(bounds, len(incoming))

	for i := len(bounds) - 1; i >= 0; i-- {
		if strings.HasSuffix(existing, incoming[:bounds[i]]) {
			return incoming[bounds[i]:]
		}
	}
	return incoming
}

// NopMerger appends every delta verbatim.
type NopMerger struct{}

// Merge implements Merger.
func (NopMerger) Merge(_, incoming string) string {
	return incoming
}

// Merger names accepted by NewMerger.
const (
	MergerWindow = "window"
	MergerAffix  = "affix"
	MergerNone   = "none"
)

// NewMerger returns the merger called name. window applies to the window
// merger only.
func NewMerger(name string, window int) (Merger, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", MergerWindow:
		return WindowMerger{Window: window}, nil
	case MergerAffix:
		return AffixMerger{}, nil
	case MergerNone:
		return NopMerger{}, nil
	default:
		return nil, fmt.Errorf("unknown merger %q", name)
	}
}

func lastRunes(s string, n int) []rune {
	// Walk back at most n runes without decoding the whole string.
	i := len(s)
	for count := 0; i > 0 && count < n; count++ {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return []rune(s[i:])
}

func firstRunes(s string, n int) []rune {
	out := make([]rune, 0, n)
	for _, r := range s {
		if len(out) == n {
			break
		}
		out = append(out, r)
	}
	return out
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
