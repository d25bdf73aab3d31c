package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traveldiary/traveldiary-go/internal/cache"
)

func TestSetGet(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "key", []byte("value"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "value" {
		t.Errorf("got %q", got)
	}

	// The stored value is isolated from caller mutation.
	got[0] = 'X'
	again, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != "value" {
		t.Errorf("stored value mutated: %q", again)
	}
}

func TestGetMissing(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()

	_, err := c.Get(context.Background(), "nope")
	if !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestExpiry(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := c.Get(ctx, "short"); !errors.Is(err, cache.ErrExpired) {
		t.Errorf("error = %v, want ErrExpired", err)
	}
	ok, err := c.Exists(ctx, "short")
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; want false", ok, err)
	}
}

func TestDelete(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "key", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "key"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "key"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("error after delete = %v", err)
	}
}

func TestIncrement(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Increment(ctx, "counter", 1, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Increment = %d, want %d", got, want)
		}
	}

	n, err := c.GetCount(ctx, "counter")
	if err != nil || n != 3 {
		t.Errorf("GetCount = %d, %v", n, err)
	}

	if err := c.Reset(ctx, "counter"); err != nil {
		t.Fatal(err)
	}
	n, err = c.GetCount(ctx, "counter")
	if err != nil || n != 0 {
		t.Errorf("GetCount after reset = %d, %v", n, err)
	}
}

func TestIncrementWindowReset(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Increment(ctx, "win", 5, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	// An expired counter starts a fresh window.
	got, err := c.Increment(ctx, "win", 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("Increment after expiry = %d, want 1", got)
	}
}

func TestRegisteredDriver(t *testing.T) {
	c, err := cache.New("memory", map[string]any{
		"default_ttl_seconds":      60,
		"cleanup_interval_seconds": 0,
	})
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	defer c.Close()

	if err := c.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
}
