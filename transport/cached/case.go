package cached

import (
	"strings"
	"unicode"
)

// toSnake converts a namespace to snake_case. Runs of punctuation (pointer
// stars, generic brackets, path slashes) collapse into one underscore and
// never lead or trail the result.
func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	pending := false
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pending = b.Len() > 0
			continue
		}
		if b.Len() > 0 && !pending && wordBoundary(runes, i) {
			pending = true
		}
		if pending {
			b.WriteByte('_')
			pending = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// wordBoundary reports whether a new word starts at runes[i]: lower to upper
// (userID), the last capital of an acronym (HTTPServer) or letters to digits.
func wordBoundary(runes []rune, i int) bool {
	prev, r := runes[i-1], runes[i]
	switch {
	case unicode.IsUpper(r):
		if unicode.IsLower(prev) || unicode.IsDigit(prev) {
			return true
		}
		return unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
	case unicode.IsDigit(r):
		return unicode.IsLetter(prev)
	}
	return false
}
