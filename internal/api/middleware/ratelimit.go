package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Limiter counts requests per key over a sliding window.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time

	done chan struct{}
	stop sync.Once
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// NewLimiter allows limit requests per key in any window-long span.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}

	l := &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
		done:   make(chan struct{}),
	}
	go l.sweep(time.Minute)
	return l
}

// Allow records a request for key unless the key is over its budget.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := trim(l.hits[key], now.Add(-l.window))

	if len(recent) >= l.limit {
		l.hits[key] = recent
		return Decision{Reset: recent[0].Add(l.window)}
	}

	l.hits[key] = append(recent, now)
	return Decision{
		Allowed:   true,
		Remaining: l.limit - len(recent) - 1,
		Reset:     now.Add(l.window),
	}
}

// Stop ends the background sweep. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stop.Do(func() { close(l.done) })
}

// trim drops timestamps at or before cutoff. hits is in arrival order.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (l *Limiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-l.window)
			for key, hits := range l.hits {
				if len(trim(hits, cutoff)) == 0 {
					delete(l.hits, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Handler rejects requests whose key is over budget with 429.
func (l *Limiter) Handler(key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				wait := d.Reset.Sub(l.now())
				h.Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
				deny(w, http.StatusTooManyRequests, "Rate limit exceeded", "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit limits each client IP to requests per windowSeconds.
func RateLimit(requests, windowSeconds int) func(http.Handler) http.Handler {
	l := NewLimiter(requests, time.Duration(windowSeconds)*time.Second)
	return l.Handler(getClientIP)
}

// RateLimitByParam limits attempts against the resource named by a chi URL
// parameter, whichever IP they come from. Mount it with r.With so the
// parameter is already resolved.
func RateLimitByParam(param string, requests, windowSeconds int) func(http.Handler) http.Handler {
	l := NewLimiter(requests, time.Duration(windowSeconds)*time.Second)
	return l.Handler(func(r *http.Request) string {
		if v := chi.URLParam(r, param); v != "" {
			return param + ":" + v
		}
		return getClientIP(r)
	})
}

// getClientIP prefers proxy headers over RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
