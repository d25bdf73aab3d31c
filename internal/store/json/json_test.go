package json

import (
	"context"
	"errors"
	"testing"

	"github.com/traveldiary/traveldiary-go/internal/store"
)

func newTestDriver(t *testing.T) store.GrantStore {
	t.Helper()
	d, err := NewDriver(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return d
}

func TestNewDriverRequiresDataDir(t *testing.T) {
	_, err := NewDriver(&store.DriverConfig{Driver: "json"})
	if err == nil {
		t.Fatal("expected error for missing data_dir")
	}
}

func TestInvitationSwap(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	inv := &store.Invitation{
		Token:        "tok-swap",
		TripID:       "trip-1",
		InviteeEmail: "alice@example.com",
		Role:         "editor",
		Status:       store.InvitationPending,
		CreatedAt:    100,
		ExpiresAt:    1000,
	}
	if err := d.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("CreateInvitation() error = %v", err)
	}

	// Duplicate token is rejected.
	if err := d.CreateInvitation(ctx, inv); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("duplicate create error = %v, want ErrAlreadyExists", err)
	}

	acceptedBy := "user-1"
	resolvedAt := int64(500)
	swapped, err := d.SwapInvitationStatus(ctx, "tok-swap",
		store.InvitationPending, store.InvitationAccepted,
		store.InvitationPatch{AcceptedBy: &acceptedBy, ResolvedAt: &resolvedAt})
	if err != nil {
		t.Fatalf("SwapInvitationStatus() error = %v", err)
	}
	if !swapped {
		t.Fatal("first swap should succeed")
	}

	// Second swap from pending loses: the status no longer matches.
	swapped, err = d.SwapInvitationStatus(ctx, "tok-swap",
		store.InvitationPending, store.InvitationDeclined, store.InvitationPatch{})
	if err != nil {
		t.Fatalf("SwapInvitationStatus() error = %v", err)
	}
	if swapped {
		t.Fatal("swap with stale expect should report false")
	}

	got, err := d.GetInvitation(ctx, "tok-swap")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.InvitationAccepted {
		t.Errorf("status = %q, want accepted", got.Status)
	}
	if got.AcceptedBy != "user-1" || got.ResolvedAt != 500 {
		t.Errorf("patch not applied: %+v", got)
	}

	// Unknown token is an error, not a lost swap.
	_, err = d.SwapInvitationStatus(ctx, "tok-missing",
		store.InvitationPending, store.InvitationExpired, store.InvitationPatch{})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("swap on missing token error = %v, want ErrNotFound", err)
	}
}

func TestListPendingExpiredBefore(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	records := []*store.Invitation{
		{Token: "tok-expired-1", TripID: "t", Status: store.InvitationPending, ExpiresAt: 50},
		{Token: "tok-expired-2", TripID: "t", Status: store.InvitationPending, ExpiresAt: 80},
		{Token: "tok-live0000", TripID: "t", Status: store.InvitationPending, ExpiresAt: 500},
		{Token: "tok-noexpiry", TripID: "t", Status: store.InvitationPending, ExpiresAt: 0},
		{Token: "tok-accepted", TripID: "t", Status: store.InvitationAccepted, ExpiresAt: 50},
	}
	for _, inv := range records {
		if err := d.CreateInvitation(ctx, inv); err != nil {
			t.Fatal(err)
		}
	}

	got, err := d.ListPendingExpiredBefore(ctx, 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d expired pending invitations, want 2", len(got))
	}

	// Limit caps the batch.
	got, err = d.ListPendingExpiredBefore(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d with limit 1, want 1", len(got))
	}
}

func TestShareLinkLifecycle(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	link := &store.ShareLink{
		Token:     "share-token",
		TripID:    "trip-1",
		IsPublic:  true,
		CreatedAt: 100,
		ExpiresAt: 1000,
	}
	if err := d.CreateShareLink(ctx, link); err != nil {
		t.Fatal(err)
	}

	// Active lookup honors expiry.
	if _, err := d.GetActiveShareLink(ctx, "trip-1", 500); err != nil {
		t.Errorf("GetActiveShareLink before expiry error = %v", err)
	}
	if _, err := d.GetActiveShareLink(ctx, "trip-1", 2000); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetActiveShareLink after expiry error = %v, want ErrNotFound", err)
	}

	// Update applies the patch while active.
	editing := true
	ok, err := d.UpdateShareLink(ctx, "share-token", store.ShareLinkPatch{
		AllowEditing: &editing,
		UpdatedAt:    600,
	})
	if err != nil || !ok {
		t.Fatalf("UpdateShareLink() = %v, %v", ok, err)
	}

	// Touch increments the counter.
	if err := d.TouchShareLink(ctx, "share-token", 700); err != nil {
		t.Fatal(err)
	}
	got, err := d.GetShareLink(ctx, "share-token")
	if err != nil {
		t.Fatal(err)
	}
	if !got.AllowEditing || got.AccessCount != 1 || got.LastAccessedAt != 700 {
		t.Errorf("link after update+touch: %+v", got)
	}

	// First revoke wins; second is a no-op.
	ok, err = d.RevokeShareLink(ctx, "share-token", 800)
	if err != nil || !ok {
		t.Fatalf("RevokeShareLink() = %v, %v", ok, err)
	}
	ok, err = d.RevokeShareLink(ctx, "share-token", 900)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second revoke should report false")
	}

	// Updates are guarded against revoked links.
	ok, err = d.UpdateShareLink(ctx, "share-token", store.ShareLinkPatch{UpdatedAt: 950})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("update on revoked link should report false")
	}

	if _, err := d.GetActiveShareLink(ctx, "trip-1", 500); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("revoked link still active: %v", err)
	}
}

func TestCountActiveExpiredShareLinks(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	links := []*store.ShareLink{
		{Token: "s1", TripID: "a", ExpiresAt: 100},
		{Token: "s2", TripID: "b", ExpiresAt: 100, RevokedAt: 50},
		{Token: "s3", TripID: "c", ExpiresAt: 0},
	}
	for _, l := range links {
		if err := d.CreateShareLink(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	n, err := d.CountActiveExpiredShareLinks(ctx, 200)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 (revoked and never-expiring links excluded)", n)
	}
}

func TestCollaboratorUpsertIdempotent(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	c := &store.Collaborator{TripID: "trip-1", UserID: "user-1", Role: "viewer"}
	if err := d.UpsertCollaborator(ctx, c); err != nil {
		t.Fatal(err)
	}

	c.Role = "editor"
	if err := d.UpsertCollaborator(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := d.GetCollaborator(ctx, "trip-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Role != "editor" {
		t.Errorf("role = %q, want editor", got.Role)
	}

	list, err := d.ListCollaborators(ctx, "trip-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("got %d collaborators, want 1", len(list))
	}

	if err := d.DeleteCollaborator(ctx, "trip-1", "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GetCollaborator(ctx, "trip-1", "user-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("after delete error = %v, want ErrNotFound", err)
	}
}

func TestUserEmailUniqueness(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if err := d.CreateUser(ctx, &store.User{ID: "u1", Email: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	// Same address, different case.
	err := d.CreateUser(ctx, &store.User{ID: "u2", Email: "Alice@Example.com"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("duplicate email error = %v, want ErrAlreadyExists", err)
	}

	got, err := d.GetUserByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "u1" {
		t.Errorf("lookup returned %q, want u1", got.ID)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	sessions := []*store.Session{
		{Token: "live", UserID: "u", ExpiresAt: 1000},
		{Token: "dead", UserID: "u", ExpiresAt: 100},
		{Token: "forever", UserID: "u", ExpiresAt: 0},
	}
	for _, s := range sessions {
		if err := d.CreateSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	n, err := d.DeleteExpiredSessions(ctx, 500)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}
	if _, err := d.GetSession(ctx, "dead"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expired session still present")
	}
	if _, err := d.GetSession(ctx, "live"); err != nil {
		t.Error("live session deleted")
	}
}

func TestVerificationTokenReissue(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if err := d.PutVerification(ctx, &store.EmailVerification{
		Email: "bob@example.com", Token: "first-token", ExpiresAt: 100,
	}); err != nil {
		t.Fatal(err)
	}
	// A re-request overwrites the outstanding token.
	if err := d.PutVerification(ctx, &store.EmailVerification{
		Email: "bob@example.com", Token: "second-token", ExpiresAt: 200,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := d.GetVerificationByToken(ctx, "first-token"); !errors.Is(err, store.ErrNotFound) {
		t.Error("stale token still resolves")
	}
	v, err := d.GetVerificationByToken(ctx, "second-token")
	if err != nil {
		t.Fatal(err)
	}
	if v.Email != "bob@example.com" {
		t.Errorf("email = %q", v.Email)
	}

	if err := d.MarkVerified(ctx, "Bob@Example.com", 300); err != nil {
		t.Fatal(err)
	}
	// Idempotent: a second mark keeps the original timestamp.
	if err := d.MarkVerified(ctx, "bob@example.com", 400); err != nil {
		t.Fatal(err)
	}
	v, err = d.GetVerificationByEmail(ctx, "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Verified || v.VerifiedAt != 300 {
		t.Errorf("verification = %+v, want verified at 300", v)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	d1, err := NewDriver(&store.DriverConfig{Driver: "json", DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := d1.Init(ctx); err != nil {
		t.Fatal(err)
	}

	if err := d1.CreateTrip(ctx, &store.Trip{ID: "trip-1", OwnerID: "u1", Title: "Iceland"}); err != nil {
		t.Fatal(err)
	}
	if err := d1.CreateUser(ctx, &store.User{ID: "u1", Email: "owner@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := d1.CreateInvitation(ctx, &store.Invitation{
		Token: "persisted-token", TripID: "trip-1", Status: store.InvitationPending,
	}); err != nil {
		t.Fatal(err)
	}
	if err := d1.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh driver over the same directory sees the data and the
	// rebuilt indexes.
	d2, err := NewDriver(&store.DriverConfig{Driver: "json", DataDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := d2.Init(ctx); err != nil {
		t.Fatal(err)
	}

	trip, err := d2.GetTrip(ctx, "trip-1")
	if err != nil {
		t.Fatal(err)
	}
	if trip.Title != "Iceland" {
		t.Errorf("title = %q", trip.Title)
	}
	if _, err := d2.GetUserByEmail(ctx, "owner@example.com"); err != nil {
		t.Errorf("email index not rebuilt: %v", err)
	}
	if _, err := d2.GetInvitation(ctx, "persisted-token"); err != nil {
		t.Errorf("invitation not reloaded: %v", err)
	}
}

func TestClosedDriverRejectsWrites(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	err := d.CreateTrip(ctx, &store.Trip{ID: "t"})
	if !errors.Is(err, store.ErrClosed) {
		t.Errorf("write after close error = %v, want ErrClosed", err)
	}
}
