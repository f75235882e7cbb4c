package fill

import (
	"strings"
	"unicode/utf8"
)

// ExcerptRadius is how much surrounding text a question generator sees.
const ExcerptRadius = 200

// Excerpt returns up to radius bytes on each side of the n-th occurrence of
// placeholder, widened to rune boundaries. It returns "" when that
// occurrence does not exist.
func Excerpt(content, placeholder string, n, radius int) string {
	at := indexOfOccurrence(content, placeholder, n)
	if at < 0 {
		return ""
	}
	start := at - radius
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	end := at + len(placeholder) + radius
	if end > len(content) {
		end = len(content)
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	return strings.TrimSpace(content[start:end])
}

func indexOfOccurrence(content, placeholder string, n int) int {
	if placeholder == "" || n < 0 {
		return -1
	}
	offset := 0
	for i := 0; ; i++ {
		idx := strings.Index(content[offset:], placeholder)
		if idx < 0 {
			return -1
		}
		if i == n {
			return offset + idx
		}
		offset += idx + len(placeholder)
	}
}
