// Package sqlguard validates SQL before it reaches the read-only query tool.
//
// The guard is a security boundary: it rejects by default. The "starts with
// SELECT" check is the primary guarantee; the keyword deny-list is a floor
// on top of it, not the mechanism itself.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrValidation marks all guard rejections. Callers branch with errors.Is.
var ErrValidation = errors.New("sqlguard: validation failed")

// Limit bounds for wrapped read queries.
const (
	MinLimit = 1
	MaxLimit = 1000

	// DefaultLimit applies when an evidence query config omits the limit.
	DefaultLimit = 200
)

// blockedKeywords match as whole words, case-insensitively, anywhere in the
// statement body. Identifiers containing these as substrings (e.g. id_drop)
// are allowed.
var blockedKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|copy|call|do)\b`)

// Validate checks that sql is a single read-only SELECT statement and
// returns the normalized query (trimmed, trailing separator removed).
func Validate(sql string) (string, error) {
	query := strings.TrimSpace(sql)
	query = strings.TrimSuffix(query, ";")

	if query == "" {
		return "", fmt.Errorf("%w: query cannot be empty", ErrValidation)
	}
	if strings.Contains(query, ";") {
		return "", fmt.Errorf("%w: only one SQL statement is allowed", ErrValidation)
	}
	if !strings.HasPrefix(strings.ToLower(query), "select") {
		return "", fmt.Errorf("%w: only SELECT queries are allowed", ErrValidation)
	}
	if blockedKeywords.MatchString(query) {
		return "", fmt.Errorf("%w: query contains blocked SQL keywords", ErrValidation)
	}
	return query, nil
}

// ValidateLimit checks the row limit for a wrapped read query.
func ValidateLimit(limit int) error {
	if limit < MinLimit || limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between %d and %d", ErrValidation, MinLimit, MaxLimit)
	}
	return nil
}
