// Package shield provides the HTTP middleware stack of the pinpoint
// service: security headers, JSON body limits, request tracing, per-IP
// rate limiting and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	rl := shield.NewRateLimiter(shield.RateLimitConfig{PerSecond: 2, Burst: 10})
//	for _, mw := range shield.DefaultStack(rl) {
//	    r.Use(mw)
//	}
package shield

import (
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultMaxJSONBody fits a maximum-size screenshot data URI plus the
// rest of a submission.
const DefaultMaxJSONBody int64 = 1 << 20

// DefaultStack returns the standard middleware stack of the service.
// Order: HeadToGet → SecurityHeaders → MaxJSONBody → TraceID → RateLimiter.
// A nil limiter leaves rate limiting out.
func DefaultStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(DefaultMaxJSONBody),
		TraceID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
