package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for i := range 3 {
		w := hit(h, "192.168.1.1:12345", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
	}

	w := hit(h, "192.168.1.1:12345", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, "20", w.Header().Get("Retry-After"))
}

func TestRateLimit_Refill(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 2, Window: time.Minute})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for range 2 {
		_, _, ok := rl.allow("k")
		require.True(t, ok)
	}
	_, retry, ok := rl.allow("k")
	require.False(t, ok)
	assert.InDelta(t, 30, retry.Seconds(), 0.01)

	now = now.Add(30 * time.Second)
	_, _, ok = rl.allow("k")
	assert.True(t, ok)
}

func TestRateLimit_Evict(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.allow("a")
	rl.evict(now.Add(30 * time.Second))
	assert.Len(t, rl.clients, 1)

	rl.evict(now.Add(2 * time.Minute))
	assert.Empty(t, rl.clients)
}

func TestRateLimit_Keys(t *testing.T) {
	t.Run("per IP", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234", nil).Code)
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234", nil).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:5678", nil).Code)
	})
	t.Run("forwarded for", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
		xff := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}

		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:4444", xff).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.168.1.2:5555", xff).Code)
	})
	t.Run("custom key", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{
			Max:     1,
			Window:  time.Minute,
			KeyFunc: func(r *http.Request) string { return r.Header.Get("api_key") },
		})(okHandler())

		assert.Equal(t, http.StatusOK, hit(h, "1.1.1.1:1", map[string]string{"api_key": "a"}).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "2.2.2.2:2", map[string]string{"api_key": "a"}).Code)
		assert.Equal(t, http.StatusOK, hit(h, "1.1.1.1:1", map[string]string{"api_key": "b"}).Code)
	})
}
