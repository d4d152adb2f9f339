package helpers

import "unicode/utf8"

// Truncate shortens s to at most n bytes plus "...", backing off to a rune boundary so
// the result stays valid UTF-8.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return "..."
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
