package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/clock"
	"github.com/traveldiary/traveldiary-go/internal/grants"
	"github.com/traveldiary/traveldiary-go/internal/notify"
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
	clk := clock.NewFake(time.Unix(20000, 0))
	svc := New(st, notify.NewLogNotifier(nil), clk, nil, 24*time.Hour, "http://localhost:8400")
	return svc, clk, st
}

func TestRequestAndConfirm(t *testing.T) {
	svc, _, st := newTestService(t)
	ctx := context.Background()

	if err := svc.Request(ctx, "alice@example.com"); err != nil {
		t.Fatal(err)
	}

	ok, err := svc.IsVerified(ctx, "alice@example.com")
	if err != nil || ok {
		t.Fatalf("IsVerified before confirm = %v, %v", ok, err)
	}

	v, err := st.GetVerificationByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}

	email, err := svc.Confirm(ctx, v.Token)
	if err != nil {
		t.Fatal(err)
	}
	if email != "alice@example.com" {
		t.Errorf("confirmed email = %q", email)
	}

	ok, err = svc.IsVerified(ctx, "alice@example.com")
	if err != nil || !ok {
		t.Errorf("IsVerified after confirm = %v, %v", ok, err)
	}
}

func TestRequestReplacesToken(t *testing.T) {
	svc, _, st := newTestService(t)
	ctx := context.Background()

	if err := svc.Request(ctx, "bob@example.com"); err != nil {
		t.Fatal(err)
	}
	first, err := st.GetVerificationByEmail(ctx, "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Request(ctx, "bob@example.com"); err != nil {
		t.Fatal(err)
	}
	second, err := st.GetVerificationByEmail(ctx, "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}

	if first.Token == second.Token {
		t.Fatal("re-request did not replace the token")
	}
	// The stale token no longer confirms.
	if _, err := svc.Confirm(ctx, first.Token); !errors.Is(err, grants.ErrNotFound) {
		t.Errorf("stale token error = %v, want ErrNotFound", err)
	}
}

func TestRequestAlreadyVerifiedIsNoop(t *testing.T) {
	svc, _, st := newTestService(t)
	ctx := context.Background()

	if err := svc.Request(ctx, "carol@example.com"); err != nil {
		t.Fatal(err)
	}
	v, err := st.GetVerificationByEmail(ctx, "carol@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Confirm(ctx, v.Token); err != nil {
		t.Fatal(err)
	}

	// A new request after verification must not reset the state.
	if err := svc.Request(ctx, "carol@example.com"); err != nil {
		t.Fatal(err)
	}
	ok, err := svc.IsVerified(ctx, "carol@example.com")
	if err != nil || !ok {
		t.Errorf("IsVerified = %v, %v; want still verified", ok, err)
	}
}

func TestConfirmExpiredToken(t *testing.T) {
	svc, clk, st := newTestService(t)
	ctx := context.Background()

	if err := svc.Request(ctx, "dave@example.com"); err != nil {
		t.Fatal(err)
	}
	v, err := st.GetVerificationByEmail(ctx, "dave@example.com")
	if err != nil {
		t.Fatal(err)
	}

	clk.Advance(25 * time.Hour)

	if _, err := svc.Confirm(ctx, v.Token); !errors.Is(err, grants.ErrExpired) {
		t.Errorf("expired token error = %v, want ErrExpired", err)
	}
	ok, _ := svc.IsVerified(ctx, "dave@example.com")
	if ok {
		t.Error("expired confirmation must not verify the address")
	}
}

func TestConfirmRejectsMalformedAndUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Confirm(ctx, "bogus"); !errors.Is(err, grants.ErrNotFound) {
		t.Errorf("malformed token error = %v", err)
	}
	if _, err := svc.Confirm(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); !errors.Is(err, grants.ErrNotFound) {
		t.Errorf("unknown token error = %v", err)
	}
}

func TestIsVerifiedUnknownEmail(t *testing.T) {
	svc, _, _ := newTestService(t)

	ok, err := svc.IsVerified(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("unknown email should not error: %v", err)
	}
	if ok {
		t.Error("unknown email reported verified")
	}
}

// brokenVerificationStore fails every lookup, simulating an outage.
type brokenVerificationStore struct {
	err error
}

func (b *brokenVerificationStore) PutVerification(ctx context.Context, v *store.EmailVerification) error {
	return b.err
}

func (b *brokenVerificationStore) GetVerificationByEmail(ctx context.Context, email string) (*store.EmailVerification, error) {
	return nil, b.err
}

func (b *brokenVerificationStore) GetVerificationByToken(ctx context.Context, token string) (*store.EmailVerification, error) {
	return nil, b.err
}

func (b *brokenVerificationStore) MarkVerified(ctx context.Context, email string, at int64) error {
	return b.err
}

func TestIsVerifiedStoreFailure(t *testing.T) {
	outage := errors.New("storage unavailable")
	clk := clock.NewFake(time.Unix(20000, 0))
	svc := New(&brokenVerificationStore{err: outage}, notify.NewLogNotifier(nil), clk, nil, 24*time.Hour, "http://localhost:8400")

	ok, err := svc.IsVerified(context.Background(), "alice@example.com")
	if !errors.Is(err, outage) {
		t.Fatalf("error = %v, want the storage failure", err)
	}
	if ok {
		t.Error("failed lookup must not report verified")
	}
}
