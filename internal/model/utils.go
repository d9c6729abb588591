package model

import "unicode/utf8"

// TruncateString limits a string to maxLength bytes before it is stored in
// a bounded column, backing off to a rune boundary so the stored value is
// still valid UTF-8.
func TruncateString(s string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if len(s) <= maxLength {
		return s
	}
	cut := maxLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
