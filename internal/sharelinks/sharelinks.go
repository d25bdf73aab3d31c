// Package sharelinks implements anonymous capability links for trips:
// creation with optional password and expiry, in-place settings
// updates that preserve the token, explicit rotation, revocation, and
// anonymous resolution.
package sharelinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/grants/secret"
	"github.com/traveldiary/traveldiary-go/internal/grants/token"
	"github.com/traveldiary/traveldiary-go/internal/platform/logutil"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

var (
	// ErrPasswordRequired means the link is password-protected and no
	// password was presented.
	ErrPasswordRequired = errors.New("password required")

	// ErrActiveLinkExists means the trip already has an active link and
	// the server does not allow multiple.
	ErrActiveLinkExists = errors.New("an active share link already exists for this trip")
)

// Settings are the caller-supplied link fields. Pointer fields
// distinguish "leave unchanged" from explicit values on update.
type Settings struct {
	IsPublic     *bool
	AllowEditing *bool

	// Password protects the link when non-nil and non-empty; an
	// explicit empty string clears protection.
	Password *string

	// TTLDays sets expiry from now. Zero means never expire.
	TTLDays *int
}

// Resolution is the outcome of presenting a valid share token.
type Resolution struct {
	TripID       string
	AllowEditing bool
	IsPublic     bool
}

// Service manages share links.
type Service struct {
	links         store.ShareLinkStore
	collaborators store.CollaboratorStore
	trips         store.TripStore
	verifier      *secret.Verifier
	clock         clock.Clock
	logger        *slog.Logger

	defaultTTLDays int
	allowMultiple  bool
}

// Options configure a Service.
type Options struct {
	DefaultTTLDays     int
	AllowMultipleLinks bool
}

// New creates a share link service.
func New(st store.GrantStore, verifier *secret.Verifier, clk clock.Clock, logger *slog.Logger, opts Options) *Service {
	return &Service{
		links:          st,
		collaborators:  st,
		trips:          st,
		verifier:       verifier,
		clock:          clk,
		logger:         logutil.NoopIfNil(logger),
		defaultTTLDays: opts.DefaultTTLDays,
		allowMultiple:  opts.AllowMultipleLinks,
	}
}

// Create mints a share link for a trip. When multiple active links are
// disallowed, creation fails with ErrActiveLinkExists if one is live.
func (s *Service) Create(ctx context.Context, tripID, createdBy string, settings Settings) (*store.ShareLink, error) {
	now := s.clock.Now()

	if !s.allowMultiple {
		_, err := s.links.GetActiveShareLink(ctx, tripID, now.Unix())
		if err == nil {
			return nil, ErrActiveLinkExists
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to check active links: %w", err)
		}
	}

	t, err := token.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate share token: %w", err)
	}

	link := &store.ShareLink{
		Token:     t,
		TripID:    tripID,
		CreatedBy: createdBy,
		IsPublic:  true,
		CreatedAt: now.Unix(),
		UpdatedAt: now.Unix(),
	}

	if settings.IsPublic != nil {
		link.IsPublic = *settings.IsPublic
	}
	if settings.AllowEditing != nil {
		link.AllowEditing = *settings.AllowEditing
	}
	if settings.Password != nil && *settings.Password != "" {
		digest, err := s.verifier.Hash(*settings.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash link password: %w", err)
		}
		link.PasswordDigest = digest
	}

	ttlDays := s.defaultTTLDays
	if settings.TTLDays != nil {
		ttlDays = *settings.TTLDays
	}
	if ttlDays > 0 {
		link.ExpiresAt = now.Add(time.Duration(ttlDays) * 24 * time.Hour).Unix()
	}

	if err := s.links.CreateShareLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to store share link: %w", err)
	}

	s.logger.Info("share link created",
		"trip_id", tripID,
		"is_public", link.IsPublic,
		"allow_editing", link.AllowEditing,
		"protected", link.PasswordDigest != "")
	return link, nil
}

// Active returns the trip's active link, applying lazy expiry and
// revocation checks.
func (s *Service) Active(ctx context.Context, tripID string) (*store.ShareLink, error) {
	link, err := s.links.GetActiveShareLink(ctx, tripID, s.clock.Now().Unix())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, grants.ErrNotFound
		}
		return nil, err
	}
	return link, nil
}

// Update mutates the active link's settings in place. The token is
// deliberately preserved: a previously shared URL keeps working with
// the new settings. Use Rotate to invalidate the old URL.
func (s *Service) Update(ctx context.Context, tripID string, settings Settings) (*store.ShareLink, error) {
	link, err := s.Active(ctx, tripID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	patch := store.ShareLinkPatch{
		IsPublic:     settings.IsPublic,
		AllowEditing: settings.AllowEditing,
		UpdatedAt:    now.Unix(),
	}

	if settings.Password != nil {
		digest := ""
		if *settings.Password != "" {
			digest, err = s.verifier.Hash(*settings.Password)
			if err != nil {
				return nil, fmt.Errorf("failed to hash link password: %w", err)
			}
		}
		patch.PasswordDigest = &digest
	}

	if settings.TTLDays != nil {
		expiresAt := int64(0)
		if *settings.TTLDays > 0 {
			expiresAt = now.Add(time.Duration(*settings.TTLDays) * 24 * time.Hour).Unix()
		}
		patch.ExpiresAt = &expiresAt
	}

	ok, err := s.links.UpdateShareLink(ctx, link.Token, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, grants.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update share link: %w", err)
	}
	if !ok {
		// Revoked between the read and the write.
		return nil, grants.ErrRevoked
	}

	fresh, err := s.links.GetShareLink(ctx, link.Token)
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// Rotate replaces the active link with a freshly minted token carrying
// the same settings, revoking the old record. The old URL stops
// working; that is the point.
func (s *Service) Rotate(ctx context.Context, tripID, actorID string) (*store.ShareLink, error) {
	old, err := s.Active(ctx, tripID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if _, err := s.links.RevokeShareLink(ctx, old.Token, now.Unix()); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to revoke old link: %w", err)
		}
	}

	t, err := token.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate share token: %w", err)
	}

	replacement := &store.ShareLink{
		Token:          t,
		TripID:         old.TripID,
		CreatedBy:      actorID,
		IsPublic:       old.IsPublic,
		AllowEditing:   old.AllowEditing,
		PasswordDigest: old.PasswordDigest,
		CreatedAt:      now.Unix(),
		UpdatedAt:      now.Unix(),
		ExpiresAt:      old.ExpiresAt,
	}
	if err := s.links.CreateShareLink(ctx, replacement); err != nil {
		return nil, fmt.Errorf("failed to store rotated link: %w", err)
	}

	s.logger.Info("share link rotated", "trip_id", tripID)
	return replacement, nil
}

// Revoke revokes the trip's active link. Revoking a trip with no
// active link, or a link already revoked, succeeds without effect.
func (s *Service) Revoke(ctx context.Context, tripID string) error {
	link, err := s.Active(ctx, tripID)
	if err != nil {
		if errors.Is(err, grants.ErrNotFound) {
			return nil
		}
		return err
	}

	if _, err := s.links.RevokeShareLink(ctx, link.Token, s.clock.Now().Unix()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to revoke share link: %w", err)
	}

	s.logger.Info("share link revoked", "trip_id", tripID)
	return nil
}

// Resolve validates a presented share token and returns the granted
// access. The checks run in a fixed order so the caller learns only
// what the UI needs: revoked and expired map to gone, a protected link
// asks for a password, a wrong password is distinguishable from a
// missing link only after the token itself proved valid.
//
// Private links (IsPublic=false) additionally require the actor to
// already hold a named grant: trip owner or collaborator. Anonymous
// presentation of a private link reads as not found.
func (s *Service) Resolve(ctx context.Context, t string, presentedPassword string, actor *store.User) (*Resolution, error) {
	if !token.ValidateShape(t) {
		return nil, grants.ErrNotFound
	}

	link, err := s.links.GetShareLink(ctx, t)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, grants.ErrNotFound
		}
		return nil, err
	}

	if link.Revoked() {
		return nil, grants.ErrRevoked
	}

	now := s.clock.Now().Unix()
	if link.Expired(now) {
		return nil, grants.ErrExpired
	}

	if link.PasswordDigest != "" {
		if presentedPassword == "" {
			return nil, ErrPasswordRequired
		}
		ok, err := s.verifier.Verify(presentedPassword, link.PasswordDigest)
		if err != nil {
			return nil, fmt.Errorf("failed to verify link password: %w", err)
		}
		if !ok {
			return nil, grants.ErrWrongPassword
		}
	}

	if !link.IsPublic {
		held, err := s.holdsNamedGrant(ctx, link.TripID, actor)
		if err != nil {
			return nil, err
		}
		if !held {
			return nil, grants.ErrNotFound
		}
	}

	// Best effort access accounting; failure does not affect the grant.
	if err := s.links.TouchShareLink(ctx, t, now); err != nil {
		s.logger.Warn("share link touch failed", "error", err)
	}

	return &Resolution{
		TripID:       link.TripID,
		AllowEditing: link.AllowEditing,
		IsPublic:     link.IsPublic,
	}, nil
}

// holdsNamedGrant reports whether actor is the trip owner or a
// collaborator.
func (s *Service) holdsNamedGrant(ctx context.Context, tripID string, actor *store.User) (bool, error) {
	if actor == nil {
		return false, nil
	}
	trip, err := s.trips.GetTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if trip.OwnerID == actor.ID {
		return true, nil
	}
	_, err = s.collaborators.GetCollaborator(ctx, tripID, actor.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
