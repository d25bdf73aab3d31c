// Package identity implements account registration and session-based
// authentication. Passwords are stored as argon2id digests; sessions
// are opaque tokens with a fixed lifetime.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/grants/secret"
	"github.com/traveldiary/traveldiary-go/internal/grants/token"
	"github.com/traveldiary/traveldiary-go/internal/platform/logutil"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrSessionExpired     = errors.New("session expired")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

type userKey struct{}

// WithUser attaches the authenticated user to the context.
func WithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(userKey{}).(*store.User)
	return u, ok && u != nil
}

// Service manages accounts and sessions.
type Service struct {
	users      store.UserStore
	sessions   store.SessionStore
	verifier   *secret.Verifier
	clock      clock.Clock
	logger     *slog.Logger
	sessionTTL time.Duration
}

// New creates an identity service.
func New(users store.UserStore, sessions store.SessionStore, verifier *secret.Verifier, clk clock.Clock, logger *slog.Logger, sessionTTL time.Duration) *Service {
	return &Service{
		users:      users,
		sessions:   sessions,
		verifier:   verifier,
		clock:      clk,
		logger:     logutil.NoopIfNil(logger),
		sessionTTL: sessionTTL,
	}
}

// Register creates a new account. The email must not be in use.
func (s *Service) Register(ctx context.Context, email, name, password string) (*store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := s.verifier.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &store.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    s.clock.Now().Unix(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user registered", "user_id", u.ID)
	return u, nil
}

// Login verifies credentials and issues a session token. A wrong
// password and an unknown email are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*store.Session, *store.User, error) {
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ok, err := s.verifier.Verify(password, u.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, nil, ErrInvalidCredentials
	}

	t, err := token.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.clock.Now()
	sess := &store.Session{
		Token:     t,
		UserID:    u.ID,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(s.sessionTTL).Unix(),
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("user logged in", "user_id", u.ID)
	return sess, u, nil
}

// Logout deletes the session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	err := s.sessions.DeleteSession(ctx, sessionToken)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// Authenticate resolves a session token to its user. Expired sessions
// are deleted on sight.
func (s *Service) Authenticate(ctx context.Context, sessionToken string) (*store.User, error) {
	if sessionToken == "" {
		return nil, ErrNotAuthenticated
	}

	sess, err := s.sessions.GetSession(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if sess.ExpiresAt != 0 && s.clock.Now().Unix() > sess.ExpiresAt {
		// Lazy cleanup; the sweeper handles the rest.
		_ = s.sessions.DeleteSession(ctx, sessionToken)
		return nil, ErrSessionExpired
	}

	u, err := s.users.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	return u, nil
}
