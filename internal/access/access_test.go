package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/grants/secret"
	"github.com/traveldiary/traveldiary-go/internal/sharelinks"
	"github.com/traveldiary/traveldiary-go/internal/store"
	jsonstore "github.com/traveldiary/traveldiary-go/internal/store/json"
)

type fixture struct {
	st       store.GrantStore
	clk      *clock.Fake
	shares   *sharelinks.Service
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := jsonstore.NewDriver(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	clk := clock.NewFake(time.Unix(100000, 0))
	shares := sharelinks.New(st, secret.NewVerifierFast(), clk, nil, sharelinks.Options{
		DefaultTTLDays: 30,
	})
	return &fixture{
		st:       st,
		clk:      clk,
		shares:   shares,
		resolver: New(st, shares, clk, nil),
	}
}

var (
	owner    = &store.User{ID: "owner-1", Email: "owner@example.com"}
	stranger = &store.User{ID: "stranger-1", Email: "stranger@example.com"}
)

func (f *fixture) seedTrip(t *testing.T) {
	t.Helper()
	err := f.st.CreateTrip(context.Background(), &store.Trip{
		ID: "trip-1", OwnerID: owner.ID, Title: "Patagonia",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestEffectivePermissionTripNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.EffectivePermission(context.Background(), "missing", owner, "", "")
	if !errors.Is(err, grants.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestEffectivePermissionOwner(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)

	g, err := f.resolver.EffectivePermission(context.Background(), "trip-1", owner, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if g.Role != grants.RoleOwner {
		t.Errorf("role = %q, want owner", g.Role)
	}
	p := g.Permission
	if !p.CanView || !p.CanEdit || !p.CanInvite || !p.CanManageCollaborators {
		t.Errorf("owner permission = %+v, want all", p)
	}
}

func TestEffectivePermissionCollaborator(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)
	ctx := context.Background()

	tests := []struct {
		role       string
		wantEdit   bool
		wantInvite bool
	}{
		{"viewer", false, false},
		{"editor", true, false},
		{"admin", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			u := &store.User{ID: "collab-" + tt.role, Email: tt.role + "@example.com"}
			if err := f.st.UpsertCollaborator(ctx, &store.Collaborator{
				TripID: "trip-1", UserID: u.ID, Email: u.Email, Role: tt.role,
			}); err != nil {
				t.Fatal(err)
			}

			g, err := f.resolver.EffectivePermission(ctx, "trip-1", u, "", "")
			if err != nil {
				t.Fatal(err)
			}
			if string(g.Role) != tt.role {
				t.Errorf("role = %q, want %q", g.Role, tt.role)
			}
			if g.Permission.CanEdit != tt.wantEdit || g.Permission.CanInvite != tt.wantInvite {
				t.Errorf("permission = %+v", g.Permission)
			}
		})
	}
}

func TestEffectivePermissionAnonymousNoGrant(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)

	g, err := f.resolver.EffectivePermission(context.Background(), "trip-1", nil, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if g.Permission != grants.None() {
		t.Errorf("anonymous permission = %+v, want none", g.Permission)
	}
}

func TestEffectivePermissionShareToken(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)
	ctx := context.Background()

	editing := true
	link, err := f.shares.Create(ctx, "trip-1", owner.ID, sharelinks.Settings{
		AllowEditing: &editing,
	})
	if err != nil {
		t.Fatal(err)
	}

	g, err := f.resolver.EffectivePermission(ctx, "trip-1", nil, link.Token, "")
	if err != nil {
		t.Fatal(err)
	}
	if !g.ViaShareToken {
		t.Error("grant should be marked as share-token derived")
	}
	if !g.Permission.CanView || !g.Permission.CanEdit {
		t.Errorf("permission = %+v", g.Permission)
	}
	if g.Permission.CanInvite || g.Permission.CanManageCollaborators {
		t.Error("share token must never confer invite/manage")
	}
}

func TestEffectivePermissionShareTokenWrongTrip(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)
	ctx := context.Background()

	if err := f.st.CreateTrip(ctx, &store.Trip{ID: "trip-2", OwnerID: owner.ID}); err != nil {
		t.Fatal(err)
	}
	link, err := f.shares.Create(ctx, "trip-2", owner.ID, sharelinks.Settings{})
	if err != nil {
		t.Fatal(err)
	}

	// A valid token for another trip grants nothing on this one.
	g, err := f.resolver.EffectivePermission(ctx, "trip-1", nil, link.Token, "")
	if err != nil {
		t.Fatal(err)
	}
	if g.Permission != grants.None() {
		t.Errorf("permission = %+v, want none", g.Permission)
	}
}

func TestEffectivePermissionShareTokenPasswordSurfaces(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)
	ctx := context.Background()

	pw := "hunter2"
	link, err := f.shares.Create(ctx, "trip-1", owner.ID, sharelinks.Settings{Password: &pw})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.resolver.EffectivePermission(ctx, "trip-1", nil, link.Token, "")
	if !errors.Is(err, sharelinks.ErrPasswordRequired) {
		t.Errorf("no password error = %v, want ErrPasswordRequired", err)
	}
	_, err = f.resolver.EffectivePermission(ctx, "trip-1", nil, link.Token, "wrong")
	if !errors.Is(err, grants.ErrWrongPassword) {
		t.Errorf("wrong password error = %v, want ErrWrongPassword", err)
	}
	if _, err := f.resolver.EffectivePermission(ctx, "trip-1", nil, link.Token, pw); err != nil {
		t.Errorf("correct password error = %v", err)
	}
}

func TestEffectivePermissionInvalidTokenDegrades(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)

	g, err := f.resolver.EffectivePermission(context.Background(), "trip-1", stranger,
		"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "")
	if err != nil {
		t.Fatalf("invalid tokens should degrade, not error: %v", err)
	}
	if g.Permission != grants.None() {
		t.Errorf("permission = %+v, want none", g.Permission)
	}
}

func TestEffectivePermissionCollaboratorBeatsShareToken(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)
	ctx := context.Background()

	u := &store.User{ID: "collab-1", Email: "collab@example.com"}
	if err := f.st.UpsertCollaborator(ctx, &store.Collaborator{
		TripID: "trip-1", UserID: u.ID, Email: u.Email, Role: "admin",
	}); err != nil {
		t.Fatal(err)
	}
	link, err := f.shares.Create(ctx, "trip-1", owner.ID, sharelinks.Settings{})
	if err != nil {
		t.Fatal(err)
	}

	// The read-only share token must not mask the admin role.
	g, err := f.resolver.EffectivePermission(ctx, "trip-1", u, link.Token, "")
	if err != nil {
		t.Fatal(err)
	}
	if g.ViaShareToken || g.Role != grants.RoleAdmin {
		t.Errorf("grant = %+v, want admin role", g)
	}
}

func TestCollaboratorRematerialization(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)
	ctx := context.Background()

	// An accepted invitation with no Collaborator row models a crash
	// between the accept swap and the upsert.
	now := f.clk.Now().Unix()
	inv := &store.Invitation{
		Token:        "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		TripID:       "trip-1",
		InviterID:    owner.ID,
		InviteeEmail: stranger.Email,
		Role:         "editor",
		Status:       store.InvitationAccepted,
		AcceptedBy:   stranger.ID,
		CreatedAt:    now - 100,
		ResolvedAt:   now - 60,
	}
	if err := f.st.CreateInvitation(ctx, inv); err != nil {
		t.Fatal(err)
	}

	g, err := f.resolver.EffectivePermission(ctx, "trip-1", stranger, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if g.Role != grants.RoleEditor {
		t.Fatalf("role = %q, want editor from re-materialization", g.Role)
	}

	// The derived row was rebuilt.
	c, err := f.st.GetCollaborator(ctx, "trip-1", stranger.ID)
	if err != nil {
		t.Fatalf("collaborator not rebuilt: %v", err)
	}
	if c.Role != "editor" || c.InvitedBy != owner.ID {
		t.Errorf("rebuilt collaborator = %+v", c)
	}
}

func TestRematerializationWindowBound(t *testing.T) {
	f := newFixture(t)
	f.seedTrip(t)
	ctx := context.Background()

	// The acceptance is old; a missing Collaborator row now means an
	// admin removed it, not a crash. No grant.
	now := f.clk.Now().Unix()
	inv := &store.Invitation{
		Token:        "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
		TripID:       "trip-1",
		InviterID:    owner.ID,
		InviteeEmail: stranger.Email,
		Role:         "editor",
		Status:       store.InvitationAccepted,
		AcceptedBy:   stranger.ID,
		CreatedAt:    now - 10000,
		ResolvedAt:   now - rematerializeWindow - 1,
	}
	if err := f.st.CreateInvitation(ctx, inv); err != nil {
		t.Fatal(err)
	}

	g, err := f.resolver.EffectivePermission(ctx, "trip-1", stranger, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if g.Permission != grants.None() {
		t.Errorf("permission = %+v, want none for a stale acceptance", g.Permission)
	}
	if _, err := f.st.GetCollaborator(ctx, "trip-1", stranger.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("stale acceptance must not resurrect the collaborator")
	}
}
