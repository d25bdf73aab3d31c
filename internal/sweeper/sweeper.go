// Package sweeper runs the background expiry pass: pending invitations
// whose expiry has passed are transitioned to the stored expired state
// with the same conditional write the resolve path uses, so the two
// can run concurrently without coordination.
//
// Share links keep no stored expired state; the sweeper only counts
// them for observability. Expired login sessions are deleted outright.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/platform/logutil"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

// Sweeper periodically expires stale grants.
type Sweeper struct {
	store  store.GrantStore
	clock  clock.Clock
	logger *slog.Logger

	interval  time.Duration
	batchSize int
}

// New creates a sweeper. interval <= 0 disables Run (SweepOnce still
// works, for tests and manual triggering).
func New(st store.GrantStore, clk clock.Clock, logger *slog.Logger, interval time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		store:     st,
		clock:     clk,
		logger:    logutil.NoopIfNil(logger),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run sweeps on a ticker until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs one expiry pass and returns how many invitations
// it transitioned.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := s.clock.Now().Unix()

	expired := 0
	invs, err := s.store.ListPendingExpiredBefore(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error("sweep: listing expired invitations failed", "error", err)
	} else {
		for _, inv := range invs {
			resolvedAt := now
			swapped, err := s.store.SwapInvitationStatus(ctx, inv.Token,
				store.InvitationPending, store.InvitationExpired,
				store.InvitationPatch{ResolvedAt: &resolvedAt})
			if err != nil {
				s.logger.Warn("sweep: expiry swap failed",
					"trip_id", inv.TripID, "error", err)
				continue
			}
			// A lost swap means a concurrent resolve got there first;
			// either way the record left pending.
			if swapped {
				expired++
			}
		}
	}

	staleLinks, err := s.store.CountActiveExpiredShareLinks(ctx, now)
	if err != nil {
		s.logger.Error("sweep: counting expired share links failed", "error", err)
		staleLinks = -1
	}

	sessions, err := s.store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		s.logger.Error("sweep: deleting expired sessions failed", "error", err)
	}

	if expired > 0 || staleLinks > 0 || sessions > 0 {
		s.logger.Info("sweep complete",
			"invitations_expired", expired,
			"share_links_past_expiry", staleLinks,
			"sessions_deleted", sessions)
	}

	return expired
}
