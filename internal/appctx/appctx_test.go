package appctx

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestLoggerRoundTrip(t *testing.T) {
	ctx := context.Background()

	if _, ok := LoggerFromContext(ctx); ok {
		t.Error("empty context should carry no logger")
	}
	if GetLogger(ctx) == nil {
		t.Fatal("GetLogger must fall back to a usable logger")
	}

	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx = WithLogger(ctx, l)

	got, ok := LoggerFromContext(ctx)
	if !ok || got != l {
		t.Errorf("LoggerFromContext = %v, %v", got, ok)
	}
	if GetLogger(ctx) != l {
		t.Error("GetLogger ignored the attached logger")
	}
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	if id := RequestID(ctx); id != "" {
		t.Errorf("RequestID on empty context = %q", id)
	}

	ctx = WithRequestID(ctx, "req-42")
	if id := RequestID(ctx); id != "req-42" {
		t.Errorf("RequestID = %q, want req-42", id)
	}
}
