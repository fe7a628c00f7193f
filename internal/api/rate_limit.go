package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/assetflow/internal/ratelimit"
)

// Rate-limited routes, as passed to RateLimiter.Allow.
const (
	RouteAssets = "/v1/assets"
	RouteJobs   = "/v1/jobs"
)

type RateLimiter interface {
	Allow(ctx context.Context, route, subject string) (ratelimit.Decision, error)
}

// withRateLimit guards the mutating routes. Limiter errors fail open.
func (s *Server) withRateLimit(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.rateLimiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
			if subject == "" {
				subject = "anonymous"
			}

			decision, err := s.rateLimiter.Allow(r.Context(), route, subject)
			if err != nil {
				s.logger.Warn().Err(err).Str("route", route).Str("subject", subject).Msg("rate limiter check failed")
				next.ServeHTTP(w, r)
				return
			}

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}
