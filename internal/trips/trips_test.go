package trips

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/store"
	jsonstore "github.com/traveldiary/traveldiary-go/internal/store/json"
)

func newTestService(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	st, err := jsonstore.NewDriver(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	clk := clock.NewFake(time.Unix(80000, 0))
	return New(st, clk, nil), clk
}

func TestCreate(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	trip, err := svc.Create(ctx, "owner-1", Params{Title: "Norway", Destination: "Bergen"})
	if err != nil {
		t.Fatal(err)
	}
	if trip.ID == "" {
		t.Error("trip has no id")
	}
	if trip.OwnerID != "owner-1" {
		t.Errorf("owner = %q", trip.OwnerID)
	}
	if trip.CreatedAt != clk.Now().Unix() || trip.UpdatedAt != trip.CreatedAt {
		t.Errorf("timestamps = %d/%d", trip.CreatedAt, trip.UpdatedAt)
	}

	if _, err := svc.Create(ctx, "owner-1", Params{Title: "   "}); err == nil {
		t.Error("blank title accepted")
	}
}

func TestUpdatePatchesOnlyProvidedFields(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	trip, err := svc.Create(ctx, "owner-1", Params{
		Title:       "Norway",
		Destination: "Bergen",
		StartDate:   "2026-06-01",
	})
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(time.Hour)

	got, err := svc.Update(ctx, trip.ID, Params{Destination: "Oslo"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Norway" {
		t.Errorf("title changed: %q", got.Title)
	}
	if got.Destination != "Oslo" {
		t.Errorf("destination = %q", got.Destination)
	}
	if got.StartDate != "2026-06-01" {
		t.Errorf("start date changed: %q", got.StartDate)
	}
	if got.UpdatedAt != clk.Now().Unix() {
		t.Errorf("UpdatedAt = %d, want %d", got.UpdatedAt, clk.Now().Unix())
	}
	if got.CreatedAt != trip.CreatedAt {
		t.Error("CreatedAt changed on update")
	}
}

func TestUpdateUnknownTrip(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Update(context.Background(), "missing", Params{Title: "x"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListOwned(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, title := range []string{"One", "Two"} {
		if _, err := svc.Create(ctx, "owner-1", Params{Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Create(ctx, "owner-2", Params{Title: "Other"}); err != nil {
		t.Fatal(err)
	}

	ts, err := svc.ListOwned(ctx, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 2 {
		t.Errorf("ListOwned returned %d trips, want 2", len(ts))
	}
}
