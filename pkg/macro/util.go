package macro

import (
	"strings"
	"unicode/utf16"
)

// indexOf is strings.Index under a short local name, kept for symmetry
// with indexFrom's byte-offset arithmetic.
func indexOf(haystack, needle string) int {
	return strings.Index(haystack, needle)
}

// utf16Len returns s's length in UTF-16 code units, matching mdot's
// position convention.
func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}
