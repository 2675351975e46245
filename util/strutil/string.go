package strutil

import (
	"strings"
)

// Check if the string is empty or only contains whitespaces.
func IsBlankStr(s string) bool {
	return s == "" || strings.TrimSpace(s) == ""
}

// Substring such that len(s) <= max, appending "..." when s is truncated.
func Ellipsis(s string, max int) string {
	ru := []rune(s)
	if len(ru) <= max {
		return s
	}
	return string(ru[:max]) + "..."
}

func Spaces(count int) string {
	if count < 1 {
		return ""
	}
	return strings.Repeat(" ", count)
}

// Return the first string that is not blank.
func FirstNonBlank(s ...string) string {
	for _, v := range s {
		if !IsBlankStr(v) {
			return v
		}
	}
	return ""
}
