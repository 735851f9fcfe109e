package documents

import (
	"strings"
	"unicode/utf8"
)

// CountWords returns the number of whitespace-separated words in content.
func CountWords(content string) int {
	return len(strings.Fields(content))
}

// CountCharacters returns the number of characters in content.
func CountCharacters(content string) int {
	return utf8.RuneCountInString(content)
}
