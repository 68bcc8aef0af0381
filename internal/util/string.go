// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
)

// Ellipsis is appended by Ellipsize when it cuts a string.
const Ellipsis = "..."

// UNICODE: Rune-aware truncation keeps multi-byte characters intact.

// Ellipsize keeps the first maxRunes runes of s and appends Ellipsis when
// anything was cut. The ellipsis does not count against maxRunes.
func Ellipsize(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}

// CollapseSpace trims s and replaces every run of whitespace with a single
// ASCII space.
func CollapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PadWidth truncates or right-pads s to exactly width terminal columns.
// Double-width characters (CJK) count as two columns.
func PadWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return len([]rune(s))
}
