package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/server/auth"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

type ctxKey string

const claimsKey ctxKey = "claims"

func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(common.AuthorizationHeaderName)
	if !strings.HasPrefix(h, common.BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, common.BearerPrefix))
}

func (s *HTTPServer) accessTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, r, common.ErrorUnauthorized)
			return
		}

		claims, err := s.sessions.Authorize(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// no bodies: they carry key material
		s.logger.Debug(r.Context(), "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// rateLimit throttles the passcode routes per client address, on top of the
// lockout ladder which is per account.
func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			if s.metrics != nil {
				s.metrics.RateLimited.Inc()
			}
			w.Header().Set("Retry-After", "1")
			s.writeJSON(w, http.StatusTooManyRequests, errorBody(errTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type multiLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	entries map[string]*limBucket
}

type limBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newMultiLimiter(limit rate.Limit, burst int, ttl time.Duration) *multiLimiter {
	if burst < 1 {
		burst = 1
	}
	return &multiLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*limBucket),
	}
}

func (m *multiLimiter) allow(key string) bool {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.entries[key]
	if b == nil {
		b = &limBucket{lim: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// sweep drops buckets idle for longer than the ttl.
func (m *multiLimiter) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.entries {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.entries, k)
		}
	}
}

// cleanup sweeps every interval until ctx is done.
func (m *multiLimiter) cleanup(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.sweep(now)
		}
	}
}

// clientIP keys the limiter by the peer address. Forwarded headers only
// count when the server trusts its proxy and middleware.RealIP rewrote
// RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
