package textutil

import "strings"

// Truncate limits text to maxLen characters, cutting at a word boundary when
// one exists. Truncated text gets an ellipsis suffix. Counts runes, not bytes,
// so a cut never splits a multi-byte character.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	cut := string(runes[:maxLen])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return cut[:idx] + "..."
	}
	return cut + "..."
}

// Collapse squeezes runs of whitespace into single spaces and trims the ends.
// OCR output tends to carry ragged line breaks that bloat prompts.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
