// Package verification implements email address verification. A
// verification token is mailed to the address; confirming it marks the
// address verified, which gates invitation creation when the server is
// configured to require it.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/grants/token"
	"github.com/traveldiary/traveldiary-go/internal/notify"
	"github.com/traveldiary/traveldiary-go/internal/platform/logutil"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

// Service manages email verification tokens.
type Service struct {
	store    store.VerificationStore
	notifier notify.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	ttl      time.Duration
	origin   string
}

// New creates a verification service. ttl is the token lifetime.
func New(st store.VerificationStore, notifier notify.Notifier, clk clock.Clock, logger *slog.Logger, ttl time.Duration, externalOrigin string) *Service {
	return &Service{
		store:    st,
		notifier: notifier,
		clock:    clk,
		logger:   logutil.NoopIfNil(logger),
		ttl:      ttl,
		origin:   externalOrigin,
	}
}

// Request issues a fresh verification token for email and sends it.
// Repeated requests replace the outstanding token. Requesting
// verification for an already-verified address is a no-op.
func (s *Service) Request(ctx context.Context, email string) error {
	now := s.clock.Now()

	if existing, err := s.store.GetVerificationByEmail(ctx, email); err == nil && existing.Verified {
		return nil
	}

	t, err := token.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate verification token: %w", err)
	}

	v := &store.EmailVerification{
		Email:     email,
		Token:     t,
		Verified:  false,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	if err := s.store.PutVerification(ctx, v); err != nil {
		return fmt.Errorf("failed to store verification: %w", err)
	}

	msg := notify.Message{
		Template:  notify.TemplateEmailVerification,
		Recipient: email,
		Data: map[string]string{
			"verify_url": fmt.Sprintf("%s/verify-email/%s", s.origin, t),
		},
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		// Delivery failure does not invalidate the token.
		s.logger.Warn("verification mail delivery failed", "email", email, "error", err)
	}

	return nil
}

// Confirm validates a verification token and marks its address
// verified. Expired tokens return grants.ErrExpired; unknown tokens
// return grants.ErrNotFound.
func (s *Service) Confirm(ctx context.Context, t string) (string, error) {
	if !token.ValidateShape(t) {
		return "", grants.ErrNotFound
	}

	v, err := s.store.GetVerificationByToken(ctx, t)
	if err != nil {
		return "", grants.ErrNotFound
	}

	now := s.clock.Now()
	if v.ExpiresAt != 0 && now.Unix() > v.ExpiresAt {
		return "", grants.ErrExpired
	}

	if err := s.store.MarkVerified(ctx, v.Email, now.Unix()); err != nil {
		return "", fmt.Errorf("failed to mark verified: %w", err)
	}

	s.logger.Info("email verified", "email", v.Email)
	return v.Email, nil
}

// IsVerified reports whether email has completed verification. An
// address with no verification record is unverified; storage failures
// propagate so callers never mistake an outage for "unverified".
func (s *Service) IsVerified(ctx context.Context, email string) (bool, error) {
	v, err := s.store.GetVerificationByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load verification: %w", err)
	}
	return v.Verified, nil
}
