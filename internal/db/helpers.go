package db

import (
	"database/sql"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for every stored timestamp.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in the storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp. Empty input yields the zero time.
func ParseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(TimeLayout, value); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}

// ParseNullTime parses a nullable stored timestamp.
func ParseNullTime(value sql.NullString) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return ParseTime(value.String)
}

// NullableString maps empty strings to SQL NULL.
func NullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// Placeholders returns "?, ?, ..." for n parameters.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}
