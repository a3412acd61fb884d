package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ParseRate parses a "<n>/<unit>" limit string, e.g. "10/minute".
// Recognised units: second, minute, hour, day.
func ParseRate(spec string) (rate.Limit, int, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("rate %q: want <n>/<unit>", spec)
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("rate %q: bad count", spec)
	}

	var window time.Duration
	switch strings.TrimSpace(strings.ToLower(parts[1])) {
	case "second":
		window = time.Second
	case "minute":
		window = time.Minute
	case "hour":
		window = time.Hour
	case "day":
		window = 24 * time.Hour
	default:
		return 0, 0, fmt.Errorf("rate %q: unknown unit", spec)
	}
	return rate.Limit(float64(n) / window.Seconds()), n, nil
}

// ipLimiter hands out one token bucket per client IP. Buckets idle past
// their window are pruned opportunistically.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	limit   rate.Limit
	burst   int
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > time.Hour {
			delete(l.buckets, key)
		}
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

// RateLimit enforces a per-client-IP limit over the wrapped routes. An
// empty or unparseable spec disables the limit.
func RateLimit(spec string) func(http.Handler) http.Handler {
	limit, burst, err := ParseRate(spec)
	if strings.TrimSpace(spec) == "" || err != nil {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := &ipLimiter{buckets: make(map[string]*ipBucket), limit: limit, burst: burst}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, splitErr := net.SplitHostPort(r.RemoteAddr)
			if splitErr != nil {
				ip = r.RemoteAddr
			}
			if !limiter.get(ip).Allow() {
				WriteError(w, r, http.StatusTooManyRequests,
					"RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
