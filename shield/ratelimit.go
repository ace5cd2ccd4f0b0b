package shield

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the token bucket applied to each client IP.
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
	// Only requests with these methods are limited. Empty means all.
	Methods []string
	// Path prefixes never limited.
	Exclude []string
	// Idle buckets are dropped after this long. Default 10 minutes.
	IdleTTL time.Duration
}

func (c *RateLimitConfig) defaults() {
	if c.PerSecond <= 0 {
		c.PerSecond = 1
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-IP rate limiting with golang.org/x/time/rate.
type RateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.RWMutex
	visitors map[string]*visitor
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter. Call StartGC to drop idle buckets.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg.defaults()
	return &RateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// StartGC drops idle buckets every IdleTTL/2 until done is closed.
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	tick := time.NewTicker(rl.cfg.IdleTTL / 2)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	cutoff := rl.now().Add(-rl.cfg.IdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	now := rl.now()
	rl.mu.RLock()
	v, ok := rl.visitors[ip]
	rl.mu.RUnlock()
	if ok {
		rl.mu.Lock()
		v.lastSeen = now
		rl.mu.Unlock()
		return v.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	// Double-check after acquiring the write lock.
	if v, ok := rl.visitors[ip]; ok {
		v.lastSeen = now
		return v.limiter
	}
	v = &visitor{
		limiter:  rate.NewLimiter(rate.Limit(rl.cfg.PerSecond), rl.cfg.Burst),
		lastSeen: now,
	}
	rl.visitors[ip] = v
	return v.limiter
}

// Allow reports whether a request from ip may proceed now.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.limiter(ip).AllowN(rl.now(), 1)
}

// Len returns the number of tracked IPs.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.visitors)
}

func (rl *RateLimiter) applies(r *http.Request) bool {
	for _, prefix := range rl.cfg.Exclude {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	if len(rl.cfg.Methods) == 0 {
		return true
	}
	for _, m := range rl.cfg.Methods {
		if strings.EqualFold(m, r.Method) {
			return true
		}
	}
	return false
}

// Middleware is the HTTP middleware that enforces the limit with a 429
// JSON response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.applies(r) {
			next.ServeHTTP(w, r)
			return
		}
		ip := ExtractIP(r)
		if rl.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip)
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(1/rl.cfg.PerSecond)))))
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg}); err != nil {
		slog.Debug("shield: write error response", "error", err)
	}
}
