// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/traveldiary/traveldiary-go/internal/access"
	"github.com/traveldiary/traveldiary-go/internal/cache"
	"github.com/traveldiary/traveldiary-go/internal/config"
	"github.com/traveldiary/traveldiary-go/internal/identity"
	"github.com/traveldiary/traveldiary-go/internal/invites"
	"github.com/traveldiary/traveldiary-go/internal/ratelimit"
	"github.com/traveldiary/traveldiary-go/internal/sharelinks"
	platformtls "github.com/traveldiary/traveldiary-go/internal/platform/tls"
	"github.com/traveldiary/traveldiary-go/internal/trips"
	"github.com/traveldiary/traveldiary-go/internal/verification"
)

var ErrMissingDep = errors.New("missing required dependency")

// Deps holds all server dependencies.
type Deps struct {
	Identity     *identity.Service
	Trips        *trips.Handler
	Invitations  *invites.Handler
	ShareLinks   *sharelinks.Handler
	Verification *verification.Handler
	Access       *access.Resolver

	// Cache backs the rate limiters.
	Cache cache.CacheWithCounter

	// TLSManager provides certificates; the ACME manager (when mode is
	// acme) additionally serves HTTP-01 challenges.
	TLSManager  *platformtls.Manager
	ACMEManager *platformtls.ACMEManager
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg            *config.Config
	httpServer     *http.Server
	logger         *slog.Logger
	deps           *Deps
	trustedProxies *TrustedProxies
	authHandler    *identity.Handler

	loginLimiter  *ratelimit.Limiter
	sharedLimiter *ratelimit.Limiter
}

// New creates a new Server with the given configuration.
// Returns an error if required dependencies are missing.
func New(cfg *config.Config, logger *slog.Logger, deps *Deps) (*Server, error) {
	if err := validateDeps(deps); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		deps:           deps,
		trustedProxies: NewTrustedProxies(cfg.Server.TrustedProxies),
		authHandler:    identity.NewHandler(deps.Identity, cfg.TLS.Mode != "off"),
	}

	s.loginLimiter = ratelimit.New(deps.Cache, &ratelimit.Config{
		RequestsPerWindow: cfg.RateLimit.Login.RequestsPerWindow,
		Window:            time.Duration(cfg.RateLimit.Login.WindowSeconds) * time.Second,
		KeyPrefix:         "ratelimit:login:",
	})
	s.sharedLimiter = ratelimit.New(deps.Cache, &ratelimit.Config{
		RequestsPerWindow: cfg.RateLimit.Shared.RequestsPerWindow,
		Window:            time.Duration(cfg.RateLimit.Shared.WindowSeconds) * time.Second,
		KeyPrefix:         "ratelimit:shared:",
	})

	router := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"external_origin", s.cfg.ExternalOrigin,
		"tls_mode", s.cfg.TLS.Mode,
	)

	ln, err := s.listen()
	if err != nil {
		return err
	}

	if s.cfg.TLS.Mode == "off" {
		return s.httpServer.Serve(ln)
	}

	hostname := extractHostname(s.cfg.ExternalOrigin)
	tlsConfig, err := s.deps.TLSManager.GetTLSConfig(hostname)
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}
	if tlsConfig == nil {
		return fmt.Errorf("TLS config is nil for mode %s", s.cfg.TLS.Mode)
	}

	s.httpServer.TLSConfig = tlsConfig

	// ACME mode also needs a plain HTTP listener for HTTP-01 challenges.
	if s.cfg.TLS.Mode == "acme" && s.deps.ACMEManager != nil {
		go s.serveACMEChallenges()
	}

	s.logger.Info("starting server with TLS", "mode", s.cfg.TLS.Mode)
	return s.httpServer.ServeTLS(ln, "", "")
}

// listen opens the main listener, capped by server.max_conns when set.
func (s *Server) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	if s.cfg.Server.MaxConns > 0 {
		s.logger.Info("limiting concurrent connections", "max_conns", s.cfg.Server.MaxConns)
		ln = netutil.LimitListener(ln, s.cfg.Server.MaxConns)
	}
	return ln, nil
}

// serveACMEChallenges serves HTTP-01 challenge responses on the HTTP
// port. Everything else gets redirected to HTTPS.
func (s *Server) serveACMEChallenges() {
	challenge := s.deps.ACMEManager.ChallengeHandler()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) >= len("/.well-known/acme-challenge/") &&
			r.URL.Path[:len("/.well-known/acme-challenge/")] == "/.well-known/acme-challenge/" {
			challenge.ServeHTTP(w, r)
			return
		}
		target := s.cfg.ExternalOrigin + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})

	addr := fmt.Sprintf(":%d", s.cfg.TLS.HTTPPort)
	s.logger.Info("serving ACME challenges", "addr", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		s.logger.Error("ACME challenge listener failed", "error", err)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// extractHostname extracts just the hostname from an external origin URL.
// For TLS certificate generation, we need the hostname without port.
func extractHostname(externalOrigin string) string {
	fqdn := externalOrigin
	if idx := len("https://"); len(fqdn) > idx && fqdn[:idx] == "https://" {
		fqdn = fqdn[idx:]
	} else if idx := len("http://"); len(fqdn) > idx && fqdn[:idx] == "http://" {
		fqdn = fqdn[idx:]
	}
	if len(fqdn) > 0 && fqdn[len(fqdn)-1] == '/' {
		fqdn = fqdn[:len(fqdn)-1]
	}
	// Remove port if present
	for i := len(fqdn) - 1; i >= 0; i-- {
		if fqdn[i] == ':' {
			return fqdn[:i]
		}
		if fqdn[i] == ']' {
			// IPv6 address like [::1]:8080
			break
		}
	}
	return fqdn
}

// validateDeps checks that all required dependencies are provided.
func validateDeps(deps *Deps) error {
	if deps == nil {
		return errors.New("deps is nil")
	}
	if deps.Identity == nil {
		return fmt.Errorf("%w: Identity", ErrMissingDep)
	}
	if deps.Trips == nil {
		return fmt.Errorf("%w: Trips", ErrMissingDep)
	}
	if deps.Invitations == nil {
		return fmt.Errorf("%w: Invitations", ErrMissingDep)
	}
	if deps.ShareLinks == nil {
		return fmt.Errorf("%w: ShareLinks", ErrMissingDep)
	}
	if deps.Verification == nil {
		return fmt.Errorf("%w: Verification", ErrMissingDep)
	}
	if deps.Access == nil {
		return fmt.Errorf("%w: Access", ErrMissingDep)
	}
	if deps.Cache == nil {
		return fmt.Errorf("%w: Cache", ErrMissingDep)
	}
	return nil
}
