package util

import "unicode/utf8"

// CharLen is the length of text in characters (code points), the unit all
// stored positions use.
func CharLen(text string) int {
	return utf8.RuneCountInString(text)
}

// Substring returns the characters in [pos0, pos1), clamping both ends to the
// text so a stale range never panics.
func Substring(text string, pos0, pos1 int) string {
	runes := []rune(text)
	if pos0 < 0 {
		pos0 = 0
	}
	if pos1 > len(runes) {
		pos1 = len(runes)
	}
	if pos0 >= pos1 {
		return ""
	}
	return string(runes[pos0:pos1])
}
