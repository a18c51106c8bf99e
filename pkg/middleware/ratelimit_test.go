package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opatlas/opatlas/pkg/config"
)

func testRateLimiter(t *testing.T, cfg config.RateLimitConfig) *RateLimiter {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	rl := NewRateLimiter(log, cfg)
	t.Cleanup(func() { _ = rl.Close() })

	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterDisabledPassesThrough(t *testing.T) {
	rl := testRateLimiter(t, config.RateLimitConfig{Enabled: false})
	handler := rl.Middleware(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiterSetsHeaders(t *testing.T) {
	rl := testRateLimiter(t, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 10,
		BurstSize:         5,
	})
	handler := rl.Middleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRateLimitLimit))
	assert.NotEmpty(t, rec.Header().Get(HeaderRateLimitRemaining))
	assert.NotEmpty(t, rec.Header().Get(HeaderRateLimitReset))
}

func TestRateLimiterBlocksOverBurst(t *testing.T) {
	// A vanishingly small refill rate means the burst is all a client gets
	// within this test.
	rl := testRateLimiter(t, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		BurstSize:         2,
		BlockDuration:     "1m",
	})
	handler := rl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterBlockedResponseHasRetryAfter(t *testing.T) {
	rl := testRateLimiter(t, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		BlockDuration:     "30s",
	})
	handler := rl.Middleware(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get(HeaderRetryAfter))
}

func TestRateLimiterTracksClientsSeparately(t *testing.T) {
	rl := testRateLimiter(t, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.001,
		BurstSize:         1,
	})
	handler := rl.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	second := httptest.NewRequest(http.MethodPost, "/", nil)
	second.RemoteAddr = "10.0.0.2:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	// The first client's bucket is empty; the second client is unaffected.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		trustedProxies []string
		headers        map[string]string
		want           string
	}{
		{
			name:       "plain remote addr",
			remoteAddr: "192.168.1.10:4567",
			want:       "192.168.1.10",
		},
		{
			name:       "forwarded header ignored from untrusted source",
			remoteAddr: "192.168.1.10:4567",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:       "192.168.1.10",
		},
		{
			name:           "forwarded header honored from trusted proxy",
			remoteAddr:     "10.0.0.1:4567",
			trustedProxies: []string{"10.0.0.1"},
			headers:        map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			want:           "203.0.113.9",
		},
		{
			name:           "trusted proxy CIDR",
			remoteAddr:     "10.0.0.7:4567",
			trustedProxies: []string{"10.0.0.0/8"},
			headers:        map[string]string{"X-Real-IP": "203.0.113.9"},
			want:           "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := testRateLimiter(t, config.RateLimitConfig{
				Enabled:        true,
				TrustedProxies: tt.trustedProxies,
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for key, value := range tt.headers {
				req.Header.Set(key, value)
			}

			assert.Equal(t, tt.want, rl.getClientIP(req))
		})
	}
}
