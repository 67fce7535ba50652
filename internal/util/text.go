package util

import "strings"

// SanitizeText drops invalid UTF-8 sequences and NUL bytes. PDF extraction
// produces both, and Postgres rejects them in text columns.
func SanitizeText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// CollapseWhitespace replaces every run of whitespace with a single space
// and trims the ends.
func CollapseWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
