package textutil

import (
	"regexp"
	"strings"
)

var unsafeStemChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileStem maps an external identifier such as "cs/0601001" onto a file name
// stem shared by the PDF, image and package paths of an item. Runs of
// characters outside [A-Za-z0-9._-] become one underscore.
func FileStem(externalID string) string {
	stem := unsafeStemChars.ReplaceAllString(strings.TrimSpace(externalID), "_")
	if strings.Trim(stem, "._") == "" {
		return "unknown"
	}
	return stem
}

// Truncate returns at most max runes of value. A non-positive max returns
// value unchanged.
func Truncate(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}

// SplitList splits a comma or newline separated list, trimming blanks and
// dropping duplicates while preserving order.
func SplitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	return Dedupe(fields)
}

// Dedupe trims every entry and drops blanks and repeats, preserving order.
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
