package utils

import (
	"strings"
	"unicode"
)

// DefaultSegmentLimit is the largest message most chat transports accept.
const DefaultSegmentLimit = 4000

// SplitSegments splits text into chunks of at most limit runes. Cuts prefer
// a paragraph break, then a line break, then a space; a hard cut is used
// only when a chunk has none of them.
func SplitSegments(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultSegmentLimit
	}
	rest := []rune(strings.TrimSpace(text))
	if len(rest) == 0 {
		return nil
	}

	var segments []string
	for len(rest) > limit {
		window := rest[:limit]
		cut := lastIndex(window, []rune("\n\n"))
		if cut <= 0 {
			cut = lastIndex(window, []rune("\n"))
		}
		if cut <= 0 {
			cut = lastSpace(window)
		}
		if cut <= 0 {
			cut = limit
		}

		segment := strings.TrimRightFunc(string(rest[:cut]), unicode.IsSpace)
		if segment != "" {
			segments = append(segments, segment)
		}
		rest = []rune(strings.TrimLeftFunc(string(rest[cut:]), unicode.IsSpace))
	}
	if len(rest) > 0 {
		segments = append(segments, string(rest))
	}
	return segments
}

func lastIndex(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func lastSpace(s []rune) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' || s[i] == '\t' {
			return i
		}
	}
	return -1
}
