// CLAUDE:SUMMARY Annotation record, status and submission shapes shared by the engine, the client and the feedback service.
// Package annotation defines the records exchanged between the annotation
// engine and the feedback service, and the limits both sides enforce.
package annotation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Limits enforced at the service boundary.
const (
	MaxContentLength  = 10000
	MaxScreenshotSize = 500 * 1024 // data URI length
	MaxSelectorLength = 500
	MaxURLPathLength  = 500
)

// Status is the lifecycle state of an annotation.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// ErrStatus is returned by ParseStatus for unknown values.
var ErrStatus = errors.New("annotation: invalid status")

// ParseStatus accepts "open" or "resolved", case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusOpen:
		return StatusOpen, nil
	case StatusResolved:
		return StatusResolved, nil
	}
	return "", fmt.Errorf("%w: %q", ErrStatus, s)
}

// Record is a stored annotation. Screenshot is a data URI and is omitted
// from list responses.
type Record struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id,omitempty"`
	URLPath    string    `json:"url_path"`
	Selector   string    `json:"selector,omitempty"`
	Content    string    `json:"content,omitempty"`
	Status     Status    `json:"status"`
	Meta       Meta      `json:"meta"`
	Screenshot string    `json:"screenshot_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Submission is the body of a create request.
type Submission struct {
	ProjectID  string `json:"project_id"`
	Content    string `json:"content"`
	Selector   string `json:"selector,omitempty"`
	URLPath    string `json:"url_path"`
	Meta       Meta   `json:"meta"`
	Screenshot string `json:"screenshot_base64,omitempty"`
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
