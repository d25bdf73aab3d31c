// Package access computes the effective permission a caller holds on a
// trip, combining ownership, collaborator roles, and presented share
// tokens in a fixed priority order.
package access

import (
	"context"
	"errors"
	"log/slog"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/platform/logutil"
	"github.com/traveldiary/traveldiary-go/internal/sharelinks"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

// Resolver computes effective permissions.
type Resolver struct {
	trips         store.TripStore
	collaborators store.CollaboratorStore
	invitations   store.InvitationStore
	shares        *sharelinks.Service
	clock         clock.Clock
	logger        *slog.Logger
}

// New creates an access resolver.
func New(st store.GrantStore, shares *sharelinks.Service, clk clock.Clock, logger *slog.Logger) *Resolver {
	return &Resolver{
		trips:         st,
		collaborators: st,
		invitations:   st,
		shares:        shares,
		clock:         clk,
		logger:        logutil.NoopIfNil(logger),
	}
}

// EffectivePermission resolves what actor (nil when anonymous) may do
// on tripID, optionally presenting a share token and its password.
//
// Priority: owner, then collaborator, then share token. A caller with
// no grant at all gets the zero permission; the trip's existence is
// not hidden, only its contents.
func (r *Resolver) EffectivePermission(ctx context.Context, tripID string, actor *store.User, shareToken, sharePassword string) (*grants.Grant, error) {
	trip, err := r.trips.GetTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, grants.ErrNotFound
		}
		return nil, err
	}

	if actor != nil {
		if trip.OwnerID == actor.ID {
			return &grants.Grant{
				Permission: grants.ForRole(grants.RoleOwner),
				Role:       grants.RoleOwner,
			}, nil
		}

		role, ok, err := r.collaboratorRole(ctx, tripID, actor)
		if err != nil {
			return nil, err
		}
		if ok {
			return &grants.Grant{
				Permission: grants.ForRole(role),
				Role:       role,
			}, nil
		}
	}

	if shareToken != "" {
		res, err := r.shares.Resolve(ctx, shareToken, sharePassword, actor)
		switch {
		case err == nil:
			if res.TripID == tripID {
				return &grants.Grant{
					Permission:    grants.ForShareLink(res.AllowEditing),
					ViaShareToken: true,
				}, nil
			}
			// Valid token for a different trip grants nothing here.
		case errors.Is(err, sharelinks.ErrPasswordRequired),
			errors.Is(err, grants.ErrWrongPassword):
			// Surface password problems so the UI can prompt again.
			return nil, err
		default:
			// Invalid, revoked, or expired tokens degrade to no grant.
		}
	}

	return &grants.Grant{Permission: grants.None()}, nil
}

// rematerializeWindow bounds how long after acceptance a missing
// Collaborator row is rebuilt from its Invitation. The window only
// needs to cover the gap between the accept swap and the collaborator
// upsert; an unbounded fallback would resurrect collaborators that an
// admin later removed.
const rematerializeWindow = int64(3600) // seconds

// collaboratorRole looks up the actor's collaborator role, lazily
// re-materializing a missing row from a recently accepted invitation.
// That covers the crash window between an accept's status swap and its
// collaborator upsert.
func (r *Resolver) collaboratorRole(ctx context.Context, tripID string, actor *store.User) (grants.Role, bool, error) {
	c, err := r.collaborators.GetCollaborator(ctx, tripID, actor.ID)
	if err == nil {
		role, perr := grants.ParseRole(c.Role)
		if perr != nil {
			return "", false, perr
		}
		return role, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", false, err
	}

	// Fallback: an accepted invitation redeemed by this user proves the
	// grant even without the derived row.
	invs, err := r.invitations.ListInvitationsByEmail(ctx, actor.Email)
	if err != nil {
		return "", false, err
	}
	now := r.clock.Now().Unix()
	for _, inv := range invs {
		if inv.TripID != tripID || inv.Status != store.InvitationAccepted || inv.AcceptedBy != actor.ID {
			continue
		}
		if inv.ResolvedAt != 0 && now-inv.ResolvedAt > rematerializeWindow {
			continue
		}
		role, perr := grants.ParseRole(inv.Role)
		if perr != nil {
			return "", false, perr
		}

		rebuilt := &store.Collaborator{
			TripID:     tripID,
			UserID:     actor.ID,
			Email:      actor.Email,
			Role:       inv.Role,
			InvitedBy:  inv.InviterID,
			InvitedAt:  inv.CreatedAt,
			AcceptedAt: inv.ResolvedAt,
		}
		if err := r.collaborators.UpsertCollaborator(ctx, rebuilt); err != nil {
			r.logger.Warn("collaborator re-materialization failed",
				"trip_id", tripID, "user_id", actor.ID, "error", err)
		} else {
			r.logger.Info("collaborator re-materialized from accepted invitation",
				"trip_id", tripID, "user_id", actor.ID)
		}
		return role, true, nil
	}

	return "", false, nil
}
