package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/grants/secret"
	"github.com/traveldiary/traveldiary-go/internal/store"
	jsonstore "github.com/traveldiary/traveldiary-go/internal/store/json"
)

func newTestService(t *testing.T) (*Service, *clock.Fake, store.GrantStore) {
	t.Helper()
	st, err := jsonstore.NewDriver(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	clk := clock.NewFake(time.Unix(50000, 0))
	svc := New(st, st, secret.NewVerifierFast(), clk, nil, 30*24*time.Hour)
	return svc, clk, st
}

func TestRegister(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "Alice@Example.com", "Alice", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email not normalized: %q", u.Email)
	}
	if u.PasswordHash == "" || u.PasswordHash == "s3cret" {
		t.Error("password not hashed")
	}

	// Duplicate registration, any case.
	_, err = svc.Register(ctx, "ALICE@example.com", "Impostor", "other")
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate error = %v, want ErrEmailTaken", err)
	}

	// Missing fields.
	if _, err := svc.Register(ctx, "", "x", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("empty email error = %v", err)
	}
	if _, err := svc.Register(ctx, "b@example.com", "x", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("empty password error = %v", err)
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice@example.com", "Alice", "s3cret"); err != nil {
		t.Fatal(err)
	}

	// Unknown email and wrong password are indistinguishable.
	if _, _, err := svc.Login(ctx, "nobody@example.com", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email error = %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v", err)
	}

	sess, u, err := svc.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if sess.UserID != u.ID {
		t.Errorf("session user = %q, want %q", sess.UserID, u.ID)
	}
	wantExpiry := clk.Now().Add(30 * 24 * time.Hour).Unix()
	if sess.ExpiresAt != wantExpiry {
		t.Errorf("session expiry = %d, want %d", sess.ExpiresAt, wantExpiry)
	}

	got, err := svc.Authenticate(ctx, sess.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != u.ID {
		t.Errorf("authenticated user = %q", got.ID)
	}
}

func TestAuthenticateExpiredSession(t *testing.T) {
	svc, clk, st := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice@example.com", "Alice", "s3cret"); err != nil {
		t.Fatal(err)
	}
	sess, _, err := svc.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(31 * 24 * time.Hour)

	_, err = svc.Authenticate(ctx, sess.Token)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("error = %v, want ErrSessionExpired", err)
	}

	// Lazy cleanup deleted the session.
	if _, err := st.GetSession(ctx, sess.Token); !errors.Is(err, store.ErrNotFound) {
		t.Error("expired session not deleted on sight")
	}
}

func TestAuthenticateUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, ""); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("empty token error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, "unknown-token"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("unknown token error = %v", err)
	}
}

func TestLogout(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice@example.com", "Alice", "s3cret"); err != nil {
		t.Fatal(err)
	}
	sess, _, err := svc.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Logout(ctx, sess.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, sess.Token); !errors.Is(err, ErrNotAuthenticated) {
		t.Error("session survived logout")
	}

	// Logging out an unknown token is not an error.
	if err := svc.Logout(ctx, "already-gone"); err != nil {
		t.Errorf("logout unknown token error = %v", err)
	}
}

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserFromContext(ctx); ok {
		t.Error("empty context should carry no user")
	}

	u := &store.User{ID: "u1"}
	ctx = WithUser(ctx, u)
	got, ok := UserFromContext(ctx)
	if !ok || got.ID != "u1" {
		t.Errorf("UserFromContext = %v, %v", got, ok)
	}
}
