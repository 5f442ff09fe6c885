package retrieval

import (
	"strings"
	"unicode"
)

const (
	chunkSize    = 800
	chunkOverlap = 80
)

// Chunk splits text into pieces of at most size runes that overlap by
// overlap runes. Cuts prefer paragraph breaks, then line breaks, then
// spaces, as long as the piece stays at least half full.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	overlap = min(max(overlap, 0), size/2) //nolint:mnd

	var out []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			end = start + breakAt(runes[start:end])
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
		start = nextStart(runes, start, end, overlap)
	}
	return out
}

// nextStart backs the overlap up to a word boundary when one is close.
func nextStart(runes []rune, start, end, overlap int) int {
	next := max(end-overlap, start+1)
	for i := next; i > start+1 && i > end-2*overlap; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return next
}

func breakAt(r []rune) int {
	half := len(r) / 2 //nolint:mnd
	for _, sep := range []string{"\n\n", "\n", " "} {
		s := []rune(sep)
		for i := len(r) - len(s); i >= half; i-- {
			if string(r[i:i+len(s)]) == sep {
				return i + len(s)
			}
		}
	}
	return len(r)
}
