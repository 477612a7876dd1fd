package rate_limiter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doRequest(l *Limiter, key string) int {
	r := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	r.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	passed := false
	l.ServeHTTP(w, r, func(http.ResponseWriter, *http.Request) { passed = true })
	if passed {
		return http.StatusOK
	}
	return w.Code
}

func TestBurstThenThrottle(t *testing.T) {
	l := New(60, 3, testLogger())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(l, "alice"), "request %d within burst", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, doRequest(l, "alice"))
}

func TestCallersAreIndependent(t *testing.T) {
	l := New(60, 1, testLogger())

	assert.Equal(t, http.StatusOK, doRequest(l, "alice"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(l, "alice"))
	assert.Equal(t, http.StatusOK, doRequest(l, "bob"))
}

func TestAnonymousKeyedByForwardedIP(t *testing.T) {
	l := New(60, 1, testLogger())

	newReq := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		return r
	}

	pass := func(r *http.Request) bool {
		w := httptest.NewRecorder()
		ok := false
		l.ServeHTTP(w, r, func(http.ResponseWriter, *http.Request) { ok = true })
		return ok
	}

	assert.True(t, pass(newReq("203.0.113.5")))
	assert.False(t, pass(newReq("203.0.113.5")))
	assert.True(t, pass(newReq("203.0.113.6")))
}
