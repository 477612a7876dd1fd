package rate_limiter

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter applies a per-caller request budget. Authenticated callers are
// keyed by their bearer token, anonymous ones by client IP, so a busy
// partner cannot starve everyone behind the same NAT.
type Limiter struct {
	perMinute int
	burst     int
	logger    *slog.Logger

	mu      sync.Mutex
	callers map[string]*callerLimiter
}

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func New(perMinute, burst int, logger *slog.Logger) *Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	l := &Limiter{
		perMinute: perMinute,
		burst:     burst,
		logger:    logger,
		callers:   make(map[string]*callerLimiter),
	}
	go l.cleanupLoop()
	return l
}

// ServeHTTP implements the negroni middleware contract.
func (l *Limiter) ServeHTTP(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	key := callerKey(r)
	if !l.allow(key) {
		l.logger.Warn("Rate limit exceeded",
			slog.String("caller", key),
			slog.String("path", r.URL.Path))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded"}`))
		return
	}
	next(w, r)
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.callers[key]
	if !ok {
		cl = &callerLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst),
		}
		l.callers[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

// cleanupLoop drops limiters idle for more than ten minutes so the map
// does not grow without bound.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		l.mu.Lock()
		for key, cl := range l.callers {
			if cl.lastSeen.Before(cutoff) {
				delete(l.callers, key)
			}
		}
		l.mu.Unlock()
	}
}

func callerKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token := strings.TrimPrefix(auth, "Bearer "); token != auth {
			return "token:" + token
		}
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
