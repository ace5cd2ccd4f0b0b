package annotation

import (
	"errors"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	ErrContentEmpty   = errors.New("content is required and must be a non-empty string")
	ErrContentTooLong = errors.New("content exceeds maximum length of 10000 characters")
)

var strict = bluemonday.StrictPolicy()

// SanitizeContent trims, length-checks and strips markup from free text.
// The length limit applies to the trimmed input in runes.
func SanitizeContent(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrContentEmpty
	}
	if len([]rune(s)) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return strict.Sanitize(s), nil
}
