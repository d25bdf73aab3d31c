// Package trips manages the trip records that grants attach to.
package trips

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/platform/logutil"
	"github.com/traveldiary/traveldiary-go/internal/store"
)

// Params are the caller-supplied trip fields.
type Params struct {
	Title       string `json:"title"`
	Destination string `json:"destination"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// Service manages trip records.
type Service struct {
	store  store.TripStore
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a trip service.
func New(st store.TripStore, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{store: st, clock: clk, logger: logutil.NoopIfNil(logger)}
}

// Create creates a trip owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, p Params) (*store.Trip, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}

	now := s.clock.Now().Unix()
	t := &store.Trip{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       p.Title,
		Destination: p.Destination,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTrip(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create trip: %w", err)
	}

	s.logger.Info("trip created", "trip_id", t.ID, "owner_id", ownerID)
	return t, nil
}

// Get returns a trip by id.
func (s *Service) Get(ctx context.Context, id string) (*store.Trip, error) {
	return s.store.GetTrip(ctx, id)
}

// Update applies new field values to a trip. Authorization is the
// caller's responsibility.
func (s *Service) Update(ctx context.Context, id string, p Params) (*store.Trip, error) {
	t, err := s.store.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(p.Title) != "" {
		t.Title = p.Title
	}
	if p.Destination != "" {
		t.Destination = p.Destination
	}
	if p.StartDate != "" {
		t.StartDate = p.StartDate
	}
	if p.EndDate != "" {
		t.EndDate = p.EndDate
	}
	t.UpdatedAt = s.clock.Now().Unix()

	if err := s.store.UpdateTrip(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update trip: %w", err)
	}
	return t, nil
}

// ListOwned returns trips owned by ownerID.
func (s *Service) ListOwned(ctx context.Context, ownerID string) ([]*store.Trip, error) {
	return s.store.ListTripsByOwner(ctx, ownerID)
}
