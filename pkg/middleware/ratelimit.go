// Package middleware provides HTTP middleware for the opatlas API server.
package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opatlas/opatlas/pkg/config"
)

const (
	// Rate limit header names.
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"

	// Cleanup interval for stale per-client limiters.
	defaultCleanupInterval = 5 * time.Minute
)

// RateLimitInfo contains information about the current rate limit state.
type RateLimitInfo struct {
	// Limit is the maximum number of requests allowed per second.
	Limit float64
	// Remaining is the number of requests remaining in the current window.
	Remaining int
	// ResetAt is the Unix timestamp when the rate limit resets.
	ResetAt int64
}

// RateLimiter limits mutating requests per client IP using a token
// bucket per client.
type RateLimiter struct {
	log logrus.FieldLogger
	cfg config.RateLimitConfig

	mu       sync.RWMutex
	limiters map[string]*limiterEntry
	stopCh   chan struct{}
}

// limiterEntry holds a rate limiter and metadata for one client.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
	resetAt  int64
}

// NewRateLimiter creates a new rate limiter middleware.
func NewRateLimiter(log logrus.FieldLogger, cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		log:      log.WithField("component", "rate-limiter"),
		cfg:      cfg,
		limiters: make(map[string]*limiterEntry, 64),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Middleware returns an HTTP middleware that enforces rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := rl.getClientIP(r)
		allowed, info := rl.allow(clientIP)

		w.Header().Set(HeaderRateLimitLimit, fmt.Sprintf("%.2f", info.Limit))
		w.Header().Set(HeaderRateLimitRemaining, fmt.Sprintf("%d", info.Remaining))
		w.Header().Set(HeaderRateLimitReset, fmt.Sprintf("%d", info.ResetAt))

		if !allowed {
			rl.log.WithFields(logrus.Fields{
				"client_ip": clientIP,
				"remaining": info.Remaining,
			}).Debug("Rate limit exceeded")

			retryAfter := int(rl.cfg.GetBlockDuration().Seconds())
			w.Header().Set(HeaderRetryAfter, fmt.Sprintf("%d", retryAfter))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow checks if a request from the client is allowed.
func (rl *RateLimiter) allow(clientIP string) (bool, RateLimitInfo) {
	entry := rl.getOrCreateEntry(clientIP)

	remaining := int(entry.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	info := RateLimitInfo{
		Limit:     rl.cfg.GetRequestsPerSecond(),
		Remaining: remaining,
		ResetAt:   entry.resetAt,
	}

	if !entry.limiter.Allow() {
		return false, info
	}

	return true, info
}

// getOrCreateEntry gets or creates a rate limiter entry for the client.
func (rl *RateLimiter) getOrCreateEntry(clientIP string) *limiterEntry {
	rl.mu.RLock()
	entry, exists := rl.limiters[clientIP]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		entry.lastUsed = time.Now()
		entry.resetAt = time.Now().Add(rl.cfg.GetBlockDuration()).Unix()
		rl.mu.Unlock()
		return entry
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring the write lock.
	if entry, exists := rl.limiters[clientIP]; exists {
		entry.lastUsed = time.Now()
		return entry
	}

	entry = &limiterEntry{
		limiter:  rate.NewLimiter(rate.Limit(rl.cfg.GetRequestsPerSecond()), rl.cfg.GetBurstSize()),
		lastUsed: time.Now(),
		resetAt:  time.Now().Add(rl.cfg.GetBlockDuration()).Unix(),
	}
	rl.limiters[clientIP] = entry

	return entry
}

// getClientIP extracts the client IP, honoring X-Forwarded-For and
// X-Real-IP only when the request comes from a trusted proxy.
func (rl *RateLimiter) getClientIP(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}

	if rl.isTrustedProxy(remoteIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ips := strings.Split(xff, ",")
			if clientIP := strings.TrimSpace(ips[0]); clientIP != "" {
				return clientIP
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	return remoteIP
}

// isTrustedProxy checks if the given IP is in the trusted proxies list.
func (rl *RateLimiter) isTrustedProxy(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, trusted := range rl.cfg.TrustedProxies {
		if strings.Contains(trusted, "/") {
			_, ipNet, err := net.ParseCIDR(trusted)
			if err != nil {
				continue
			}
			if ipNet.Contains(parsedIP) {
				return true
			}
		} else if trusted == ip {
			return true
		}
	}

	return false
}

// cleanupLoop periodically removes stale per-client limiters.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup removes entries inactive for longer than the cleanup interval.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-defaultCleanupInterval)
	removed := 0

	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}

	if removed > 0 {
		rl.log.WithField("removed", removed).Debug("Cleaned up stale rate limiters")
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() error {
	close(rl.stopCh)
	return nil
}
