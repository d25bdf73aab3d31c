package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/traveldiary/traveldiary-go/internal/api"
	"github.com/traveldiary/traveldiary-go/internal/appctx"
	"github.com/traveldiary/traveldiary-go/internal/identity"
	"github.com/traveldiary/traveldiary-go/internal/ratelimit"
)

// loggingMiddleware logs request information using slog and seeds the
// context with a request-scoped logger so downstream code logs with the
// request id attached.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		reqID := middleware.GetReqID(r.Context())
		ctx := appctx.WithRequestID(r.Context(), reqID)
		ctx = appctx.WithLogger(ctx, s.logger.With("request_id", reqID))
		r = r.WithContext(ctx)

		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", s.trustedProxies.GetClientIPString(r),
				"request_id", reqID,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware resolves the session and enforces authentication on
// protected paths. On public paths the user is still attached when a
// valid session is present: private share links need to know who is
// asking.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required := IsAuthRequired(r.URL.Path)

		sessionToken := identity.ExtractSessionToken(r)
		if sessionToken == "" {
			if required {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		u, err := s.deps.Identity.Authenticate(r.Context(), sessionToken)
		if err != nil {
			if !required {
				next.ServeHTTP(w, r)
				return
			}
			switch {
			case errors.Is(err, identity.ErrSessionExpired):
				api.WriteUnauthorized(w, api.ReasonSessionExpired, "session has expired")
			case errors.Is(err, identity.ErrNotAuthenticated):
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "session not found")
			default:
				api.WriteInternalError(w, "authentication failed")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), u)))
	})
}

type rateLimitTarget struct {
	limiter *ratelimit.Limiter
}

// rateLimitMiddleware applies cache-backed rate limiting to specific
// path prefixes, keyed by client IP.
func (s *Server) rateLimitMiddleware(targets map[string]rateLimitTarget) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var limiter *ratelimit.Limiter
			var matchedPath string
			for path, target := range targets {
				if r.URL.Path == path || strings.HasPrefix(r.URL.Path, path+"/") {
					limiter = target.limiter
					matchedPath = path
					break
				}
			}

			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := s.trustedProxies.GetClientIPString(r)
			result, err := limiter.Allow(r.Context(), clientIP)
			if err != nil {
				// On cache failure, allow the request rather than block traffic.
				s.logger.Warn("rate limit check failed", "path", matchedPath, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))

			if !result.Allowed {
				s.logger.Warn("rate limit exceeded",
					"path", matchedPath,
					"client_ip", clientIP,
				)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(result.ResetAt).Seconds())))
				api.WriteTooManyRequests(w, "too many requests, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
