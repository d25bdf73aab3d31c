// Package invites implements the invitation lifecycle: creation with
// role and verification gates, atomic redemption, and revocation.
//
// Every transition out of pending goes through the store's conditional
// status swap. Accept side effects (the Collaborator upsert) happen
// only on the call whose swap succeeded, which bounds them to exactly
// one winner under concurrent redemption.
package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/grants/token"
	"github.com/traveldiary/traveldiary-go/internal/notify"
	"github.com/traveldiary/traveldiary-go/internal/platform/logutil"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

// Action is a redemption action presented with a token.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// ParseAction validates a redemption action string.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionAccept:
		return ActionAccept, nil
	case ActionDecline:
		return ActionDecline, nil
	default:
		return "", fmt.Errorf("invalid action %q: must be accept or decline", s)
	}
}

// terminalFor maps an action to the terminal status it produces.
func terminalFor(a Action) string {
	if a == ActionAccept {
		return store.InvitationAccepted
	}
	return store.InvitationDeclined
}

// Gate answers whether an email address has completed verification.
type Gate interface {
	IsVerified(ctx context.Context, email string) (bool, error)
}

// Params are the caller-supplied invitation fields.
type Params struct {
	InviteeEmail string
	Role         grants.Role
	Message      string

	// TTL overrides the service default when positive.
	TTL time.Duration
}

// Service implements the invitation state machine.
type Service struct {
	invitations   store.InvitationStore
	collaborators store.CollaboratorStore
	trips         store.TripStore
	gate          Gate
	notifier      notify.Notifier
	clock         clock.Clock
	logger        *slog.Logger

	defaultTTL  time.Duration
	requireGate bool
	origin      string
}

// Options configure a Service.
type Options struct {
	DefaultTTL           time.Duration
	RequireVerifiedEmail bool
	ExternalOrigin       string
}

// New creates an invitation service.
func New(st store.GrantStore, gate Gate, notifier notify.Notifier, clk clock.Clock, logger *slog.Logger, opts Options) *Service {
	return &Service{
		invitations:   st,
		collaborators: st,
		trips:         st,
		gate:          gate,
		notifier:      notifier,
		clock:         clk,
		logger:        logutil.NoopIfNil(logger),
		defaultTTL:    opts.DefaultTTL,
		requireGate:   opts.RequireVerifiedEmail,
		origin:        opts.ExternalOrigin,
	}
}

// Create mints a pending invitation for a trip. The requested role must
// not exceed the inviter's own role, and (when the server requires it)
// the invitee email must already be verified.
func (s *Service) Create(ctx context.Context, tripID string, inviter *store.User, inviterRole grants.Role, p Params) (*store.Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(p.InviteeEmail))
	if email == "" {
		return nil, fmt.Errorf("invitee email is required")
	}

	if !p.Role.AtMost(inviterRole) {
		return nil, grants.ErrRoleEscalation
	}

	if s.requireGate {
		verified, err := s.gate.IsVerified(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to check verification: %w", err)
		}
		if !verified {
			return nil, grants.ErrEmailUnverified
		}
	}

	t, err := token.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.clock.Now()
	inv := &store.Invitation{
		Token:         t,
		TripID:        tripID,
		InviterID:     inviter.ID,
		InviteeEmail:  email,
		Role:          string(p.Role),
		Message:       p.Message,
		Status:        store.InvitationPending,
		EmailVerified: s.requireGate,
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(ttl).Unix(),
	}
	if err := s.invitations.CreateInvitation(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to store invitation: %w", err)
	}

	// Notification failure never blocks creation; the token stays valid
	// and can be shared manually.
	s.sendInvitationMail(ctx, inv)

	s.logger.Info("invitation created",
		"trip_id", tripID,
		"inviter_id", inviter.ID,
		"role", inv.Role)
	return inv, nil
}

func (s *Service) sendInvitationMail(ctx context.Context, inv *store.Invitation) {
	data := map[string]string{
		"invite_url": fmt.Sprintf("%s/api/invitations/respond?token=%s", s.origin, inv.Token),
		"role":       inv.Role,
	}
	if inv.Message != "" {
		data["message"] = inv.Message
	}
	if trip, err := s.trips.GetTrip(ctx, inv.TripID); err == nil {
		data["trip_title"] = trip.Title
	}

	msg := notify.Message{
		Template:  notify.TemplateInvitation,
		Recipient: inv.InviteeEmail,
		Data:      data,
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("invitation mail delivery failed",
			"trip_id", inv.TripID, "error", err)
	}
}

// Get looks up an invitation, applying lazy expiry.
func (s *Service) Get(ctx context.Context, t string) (*store.Invitation, error) {
	if !token.ValidateShape(t) {
		return nil, grants.ErrNotFound
	}
	inv, err := s.invitations.GetInvitation(ctx, t)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, grants.ErrNotFound
		}
		return nil, err
	}
	return s.applyLazyExpiry(ctx, inv), nil
}

// applyLazyExpiry transitions a logically expired pending invitation to
// the stored expired state and returns the up-to-date record. The swap
// may lose to a concurrent resolve; the re-read result wins either way.
func (s *Service) applyLazyExpiry(ctx context.Context, inv *store.Invitation) *store.Invitation {
	if inv.Status != store.InvitationPending {
		return inv
	}
	now := s.clock.Now().Unix()
	if inv.ExpiresAt == 0 || now <= inv.ExpiresAt {
		return inv
	}

	resolvedAt := now
	swapped, err := s.invitations.SwapInvitationStatus(ctx, inv.Token,
		store.InvitationPending, store.InvitationExpired,
		store.InvitationPatch{ResolvedAt: &resolvedAt})
	if err != nil {
		s.logger.Warn("lazy expiry swap failed", "error", err)
		return inv
	}
	if swapped {
		inv.Status = store.InvitationExpired
		inv.ResolvedAt = resolvedAt
		return inv
	}
	if fresh, err := s.invitations.GetInvitation(ctx, inv.Token); err == nil {
		return fresh
	}
	return inv
}

// Resolve redeems an invitation token with an accept or decline action.
//
// The happy path is a single conditional write pending -> terminal. A
// lost write means another caller resolved first; the fresh record then
// decides between idempotent success and a state conflict.
func (s *Service) Resolve(ctx context.Context, t string, action Action, actor *store.User) (*store.Invitation, error) {
	if !token.ValidateShape(t) {
		return nil, grants.ErrNotFound
	}

	inv, err := s.invitations.GetInvitation(ctx, t)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, grants.ErrNotFound
		}
		return nil, err
	}

	if inv.Status != store.InvitationPending {
		return s.terminalOutcome(inv, action, actor)
	}

	now := s.clock.Now().Unix()
	if inv.ExpiresAt != 0 && now > inv.ExpiresAt {
		resolvedAt := now
		_, swapErr := s.invitations.SwapInvitationStatus(ctx, t,
			store.InvitationPending, store.InvitationExpired,
			store.InvitationPatch{ResolvedAt: &resolvedAt})
		if swapErr != nil {
			s.logger.Warn("expiry swap failed during resolve", "error", swapErr)
		}
		return nil, grants.ErrExpired
	}

	patch := store.InvitationPatch{ResolvedAt: &now}
	if action == ActionAccept {
		patch.AcceptedBy = &actor.ID
	}

	swapped, err := s.invitations.SwapInvitationStatus(ctx, t,
		store.InvitationPending, terminalFor(action), patch)
	if err != nil {
		return nil, fmt.Errorf("failed to transition invitation: %w", err)
	}

	if !swapped {
		// Lost the race: re-read and evaluate the terminal state.
		fresh, err := s.invitations.GetInvitation(ctx, t)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, grants.ErrNotFound
			}
			return nil, err
		}
		return s.terminalOutcome(fresh, action, actor)
	}

	inv.Status = terminalFor(action)
	inv.ResolvedAt = now
	if action == ActionAccept {
		inv.AcceptedBy = actor.ID
		if err := s.materializeCollaborator(ctx, inv, actor); err != nil {
			// The invitation is accepted; the index row is re-derivable
			// from it on the next permission lookup.
			s.logger.Error("collaborator upsert failed after accept",
				"trip_id", inv.TripID, "user_id", actor.ID, "error", err)
		}
	}

	s.logger.Info("invitation resolved",
		"trip_id", inv.TripID,
		"action", string(action),
		"actor_id", actor.ID)
	return inv, nil
}

// terminalOutcome classifies a resolve attempt against an invitation
// that is already terminal: idempotent success for a replay of the same
// outcome (accept replays must come from the same actor), expiry as
// ErrExpired, anything else as a state conflict naming the status.
func (s *Service) terminalOutcome(inv *store.Invitation, action Action, actor *store.User) (*store.Invitation, error) {
	switch inv.Status {
	case store.InvitationExpired:
		return nil, grants.ErrExpired
	case store.InvitationRevoked:
		return nil, grants.ErrRevoked
	case terminalFor(action):
		if action == ActionAccept && inv.AcceptedBy != actor.ID {
			return nil, &grants.StateConflictError{Status: inv.Status}
		}
		return inv, nil
	default:
		return nil, &grants.StateConflictError{Status: inv.Status}
	}
}

// materializeCollaborator upserts the derived Collaborator row for an
// accepted invitation. Idempotent; safe to retry.
func (s *Service) materializeCollaborator(ctx context.Context, inv *store.Invitation, actor *store.User) error {
	return s.collaborators.UpsertCollaborator(ctx, &store.Collaborator{
		TripID:     inv.TripID,
		UserID:     actor.ID,
		Email:      actor.Email,
		Role:       inv.Role,
		InvitedBy:  inv.InviterID,
		InvitedAt:  inv.CreatedAt,
		AcceptedAt: inv.ResolvedAt,
	})
}

// Revoke transitions a pending invitation to revoked. Already-terminal
// invitations are left alone and reported as success (idempotent).
// Authorization (admin/owner) is the caller's responsibility.
func (s *Service) Revoke(ctx context.Context, t string) error {
	if !token.ValidateShape(t) {
		return grants.ErrNotFound
	}

	now := s.clock.Now().Unix()
	swapped, err := s.invitations.SwapInvitationStatus(ctx, t,
		store.InvitationPending, store.InvitationRevoked,
		store.InvitationPatch{ResolvedAt: &now})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return grants.ErrNotFound
		}
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}

	if swapped {
		s.logger.Info("invitation revoked", "token_prefix", t[:8])
		if inv, err := s.invitations.GetInvitation(ctx, t); err == nil {
			msg := notify.Message{
				Template:  notify.TemplateInvitationRevoked,
				Recipient: inv.InviteeEmail,
				Data:      map[string]string{"trip_id": inv.TripID},
			}
			if err := s.notifier.Send(ctx, msg); err != nil {
				s.logger.Warn("revocation mail delivery failed", "error", err)
			}
		}
	}
	return nil
}

// ListByTrip returns a trip's invitations with lazy expiry applied.
func (s *Service) ListByTrip(ctx context.Context, tripID string) ([]*store.Invitation, error) {
	invs, err := s.invitations.ListInvitationsByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	for i, inv := range invs {
		invs[i] = s.applyLazyExpiry(ctx, inv)
	}
	return invs, nil
}

// ListByEmail returns the invitations addressed to an email with lazy
// expiry applied.
func (s *Service) ListByEmail(ctx context.Context, email string) ([]*store.Invitation, error) {
	invs, err := s.invitations.ListInvitationsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	for i, inv := range invs {
		invs[i] = s.applyLazyExpiry(ctx, inv)
	}
	return invs, nil
}
