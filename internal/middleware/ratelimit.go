// ratelimit.go implements a per-IP token bucket limiter for the public
// auth endpoints. It caps raw request volume from one address; the
// per-account login throttle lives in the auth service.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// ipLimiter is one client's bucket plus the time it was last used.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiterStore maps client IPs to buckets. Idle buckets are swept by
// sweep.
type ipLimiterStore struct {
	mu       sync.Mutex
	clients  map[string]*ipLimiter
	every    rate.Limit
	burst    int
	idleTTL  time.Duration
	interval time.Duration
}

func newIPLimiterStore(maxRequests int, window time.Duration) *ipLimiterStore {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &ipLimiterStore{
		clients:  make(map[string]*ipLimiter),
		every:    rate.Every(window / time.Duration(maxRequests)),
		burst:    maxRequests,
		idleTTL:  window * 2,
		interval: time.Minute,
	}
}

// allow reports whether ip may make a request now, and if not, how long
// until the next token.
func (s *ipLimiterStore) allow(ip string, now time.Time) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.clients[ip]
	if !ok {
		cl = &ipLimiter{limiter: rate.NewLimiter(s.every, s.burst)}
		s.clients[ip] = cl
	}
	cl.lastSeen = now

	r := cl.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweep drops buckets idle longer than idleTTL.
func (s *ipLimiterStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, cl := range s.clients {
		if now.Sub(cl.lastSeen) > s.idleTTL {
			delete(s.clients, ip)
		}
	}
}

// RateLimit returns middleware that allows maxRequests per IP per window,
// refilling continuously. Returns 429 with Retry-After when exceeded. A
// background goroutine sweeps idle buckets once a minute for the life of the
// process.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	store := newIPLimiterStore(maxRequests, window)

	go func() {
		ticker := time.NewTicker(store.interval)
		defer ticker.Stop()
		for now := range ticker.C {
			store.sweep(now)
		}
	}()

	return rateLimitWith(store, time.Now)
}

func rateLimitWith(store *ipLimiterStore, now func() time.Time) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			ok, wait := store.allow(ip, now())
			if !ok {
				seconds := int((wait + time.Second - 1) / time.Second)
				slog.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", c.Request().URL.Path),
				)
				c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"type":        "too_many_requests",
					"message":     "Rate limit exceeded. Please try again later.",
					"retry_after": seconds,
				})
			}
			return next(c)
		}
	}
}
