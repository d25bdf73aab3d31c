package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/traveldiary/traveldiary-go/internal/access"
	"github.com/traveldiary/traveldiary-go/internal/api"
)

// RouteGroup defines an endpoint group with its auth requirements.
type RouteGroup struct {
	Name         string
	PathPrefix   string
	RequiresAuth bool
}

// routeGroups defines all endpoint groups and their auth requirements.
// This table is the single source of truth for routing decisions.
var routeGroups = []RouteGroup{
	{Name: "api", PathPrefix: "/api", RequiresAuth: true},              // API: auth required (exceptions in publicExceptions)
	{Name: "shared", PathPrefix: "/shared", RequiresAuth: false},       // Share link resolution: public, session attached when present
	{Name: "verify", PathPrefix: "/verify-email", RequiresAuth: false}, // Email verification links arrive from mail clients
}

// GetRouteGroups returns the route group definitions for testing.
func GetRouteGroups() []RouteGroup {
	return routeGroups
}

// publicExceptions are specific paths that don't require auth within
// otherwise protected groups.
var publicExceptions = []string{
	"/api/healthz",
	"/api/auth/register",
	"/api/auth/login",
	"/api/verification/request",
}

// IsAuthRequired checks if a given path requires authentication.
// This is used by the auth middleware to make gating decisions.
func IsAuthRequired(path string) bool {
	for _, exc := range publicExceptions {
		if pathMatchesPrefix(path, exc) {
			return false
		}
	}

	for _, rg := range routeGroups {
		if pathMatchesPrefix(path, rg.PathPrefix) {
			return rg.RequiresAuth
		}
	}

	// Default: require auth for unknown paths
	return true
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		if path[len(prefix)] == '/' {
			return true
		}
	}
	return false
}

// setupRoutes creates the chi router with all route groups mounted.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Global middleware stack (order matters for correct logging)
	// RequestID must come first so GetReqID works in loggingMiddleware.
	// loggingMiddleware wraps the response, Recoverer writes through the
	// wrapper, so the access log captures correct status for panics.
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Rate limiting for high-risk public endpoints
	r.Use(s.rateLimitMiddleware(map[string]rateLimitTarget{
		"/api/auth/login": {limiter: s.loginLimiter},
		"/shared":         {limiter: s.sharedLimiter},
	}))

	// Session resolution and auth gating (checks IsAuthRequired)
	r.Use(s.authMiddleware)

	require := s.deps.Access.Require

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", api.HealthHandler)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.authHandler.Register)
			r.Post("/login", s.authHandler.Login)
			r.Post("/logout", s.authHandler.Logout)
			r.Get("/me", s.authHandler.Me)
		})

		r.Route("/verification", func(r chi.Router) {
			r.Post("/request", s.deps.Verification.Request)
		})

		r.Route("/trips", func(r chi.Router) {
			r.Post("/", s.deps.Trips.Create)
			r.Get("/", s.deps.Trips.List)

			r.Route("/{tripID}", func(r chi.Router) {
				r.With(require(access.CanView)).Get("/", s.deps.Trips.Get)
				r.With(require(access.CanEdit)).Patch("/", s.deps.Trips.Update)

				r.Route("/collaborators", func(r chi.Router) {
					r.With(require(access.CanView)).Get("/", s.deps.Trips.ListCollaborators)
					r.With(require(access.CanManage)).Patch("/{userID}", s.deps.Trips.ChangeCollaboratorRole)
					r.With(require(access.CanManage)).Delete("/{userID}", s.deps.Trips.RemoveCollaborator)
				})

				r.Route("/invitations", func(r chi.Router) {
					r.With(require(access.CanInvite)).Post("/", s.deps.Invitations.Create)
					r.With(require(access.CanView)).Get("/", s.deps.Invitations.List)
					r.With(require(access.CanManage)).Delete("/{token}", s.deps.Invitations.Revoke)
				})

				r.Route("/share", func(r chi.Router) {
					r.With(require(access.CanManage)).Post("/", s.deps.ShareLinks.Create)
					r.With(require(access.CanView)).Get("/", s.deps.ShareLinks.Get)
					r.With(require(access.CanManage)).Patch("/", s.deps.ShareLinks.Update)
					r.With(require(access.CanManage)).Post("/rotate", s.deps.ShareLinks.Rotate)
					r.With(require(access.CanManage)).Delete("/", s.deps.ShareLinks.Revoke)
				})
			})
		})

		// Invitations addressed to the caller, resolved by token rather
		// than by trip.
		r.Route("/invitations", func(r chi.Router) {
			r.Get("/", s.deps.Invitations.ListMine)
			r.Post("/respond", s.deps.Invitations.Respond)
		})
	})

	// Public share link resolution
	r.Get("/shared/{token}", s.deps.ShareLinks.Resolve)

	// Email verification landing link
	r.Get("/verify-email/{token}", s.deps.Verification.Confirm)

	return r
}
