// Package safe holds the small input-hardening helpers shared by the
// feedback service and its client: identifier checks, origin matching and
// bounded reads.
package safe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxResponseBody caps JSON response reads (2 MiB).
const MaxResponseBody int64 = 2 << 20

// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrTooLarge = errors.New("safe: body exceeds limit")

// ValidateIdentifier accepts 1..128 characters from [A-Za-z0-9_.-].
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("safe: identifier must not be empty")
	}
	if len(s) > 128 {
		return fmt.Errorf("safe: identifier too long (max 128)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("safe: invalid character %q in identifier", r)
		}
	}
	return nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// SameHost reports whether two URLs share host and port. Unparseable or
// host-less input never matches.
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil || ua.Host == "" {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil || ub.Host == "" {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host)
}

// IsLoopback reports whether rawURL points at localhost or a loopback IP.
func IsLoopback(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// HTTPURL checks that rawURL is an absolute http(s) URL with a host.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safe: invalid URL: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("safe: only http and https URLs are allowed")
	}
	if u.Host == "" {
		return fmt.Errorf("safe: URL has no host")
	}
	return nil
}
