package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"vetclinic/internal/config"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per API key, or per remote host for
// anonymous callers.
type rateLimiter struct {
	limiters sync.Map
	cfg      config.APIRateLimitConfig
	header   string
}

func newRateLimiter(cfg config.APIRateLimitConfig, header string) *rateLimiter {
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return &rateLimiter{cfg: cfg, header: header}
}

func (l *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.cfg.RPS <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.getLimiter(l.clientKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *rateLimiter) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(l.header)); apiKey != "" {
		return "key:" + apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return "ip:" + host
	}
	if r.RemoteAddr != "" {
		return "ip:" + r.RemoteAddr
	}
	return "unknown"
}

func (l *rateLimiter) getLimiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}

	burst := l.cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(l.cfg.RPS), burst)
	actual, loaded := l.limiters.LoadOrStore(key, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}
