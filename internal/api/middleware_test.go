package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trades-marketplace/internal/common/auth"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)

	assert.True(t, rl.Allow("ip:10.0.0.1"))
	assert.False(t, rl.Allow("ip:10.0.0.1"))
	assert.True(t, rl.Allow("ip:10.0.0.2"))
	assert.True(t, rl.Allow("user:u1"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("ip:10.0.0.1")
	now = now.Add(2 * time.Minute)
	rl.Allow("ip:10.0.0.2")
	now = now.Add(2 * time.Minute)
	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "ip:10.0.0.1")
	assert.Contains(t, rl.visitors, "ip:10.0.0.2")
}

func TestRateLimiterPrefersUserKey(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
		if userID != "" {
			req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: userID}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Same client IP, different users.
	assert.Equal(t, http.StatusNoContent, send("u1"))
	assert.Equal(t, http.StatusNoContent, send("u2"))
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))
	assert.Equal(t, http.StatusNoContent, send(""))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 20, rl.burst)
	assert.InDelta(t, 10, float64(rl.rps), 0.0001)
}
