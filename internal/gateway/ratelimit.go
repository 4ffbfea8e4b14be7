package gateway

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// rateLimiter is a per-client sliding-window limiter. Each client (by
// remote IP) may make rpm requests in any 60-second window; excess
// requests get 429 with a Retry-After hint.
//
// Admin, health, and metrics paths bypass the limiter so operators can
// always see a cluster that is being hammered.
type rateLimiter struct {
	rpm    int
	window time.Duration

	mu      sync.Mutex
	clients map[string][]time.Time
	lastGC  time.Time
}

func newRateLimiter(rpm int) *rateLimiter {
	return &rateLimiter{
		rpm:     rpm,
		window:  time.Minute,
		clients: make(map[string][]time.Time),
		lastGC:  time.Now(),
	}
}

// allow records a request for the client and reports whether it fits in
// the window. remaining is the budget left after this request; retryAfter
// is how long until the oldest counted request ages out.
func (rl *rateLimiter) allow(client string, now time.Time) (ok bool, remaining int, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)
	recent := rl.clients[client][:0]
	for _, t := range rl.clients[client] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.rpm {
		rl.clients[client] = recent
		return false, 0, recent[0].Sub(cutoff)
	}

	recent = append(recent, now)
	rl.clients[client] = recent

	// Occasionally drop clients that have gone idle, so the map does not
	// grow with every IP ever seen.
	if now.Sub(rl.lastGC) > 5*rl.window {
		for c, ts := range rl.clients {
			if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
				delete(rl.clients, c)
			}
		}
		rl.lastGC = now
	}
	return true, rl.rpm - len(recent), 0
}

// exempt reports whether a path skips rate limiting.
func (rl *rateLimiter) exempt(path string) bool {
	return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/admin/")
}

// middleware enforces the limit around next.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.rpm <= 0 || rl.exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		client := clientIP(r)
		ok, remaining, retryAfter := rl.allow(client, time.Now())
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.rpm))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		if !ok {
			rateLimited.Inc()
			secs := int(retryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the caller's address, preferring the first
// X-Forwarded-For hop when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
