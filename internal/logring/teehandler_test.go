package logring

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTeeHandlerCapturesAndForwards(t *testing.T) {
	var buf bytes.Buffer
	ring := NewRing(10)
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewTeeHandler(inner, ring))

	logger.Info("hello", "room", "default")

	if !strings.Contains(buf.String(), "hello") {
		t.Error("record not forwarded to inner handler")
	}

	got := ring.Recent(0, slog.LevelDebug)
	if len(got) != 1 {
		t.Fatalf("ring has %d entries, want 1", len(got))
	}
	if got[0].Message != "hello" {
		t.Errorf("message = %q", got[0].Message)
	}
	if got[0].Attrs["room"] != "default" {
		t.Errorf("attrs = %v", got[0].Attrs)
	}
}

func TestTeeHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	ring := NewRing(10)
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewTeeHandler(inner, ring)).With("component", "session").WithGroup("conn")

	logger.Warn("slow peer", "user", "alice")

	got := ring.Recent(0, slog.LevelDebug)
	if len(got) != 1 {
		t.Fatalf("ring has %d entries, want 1", len(got))
	}
	if got[0].Attrs["component"] != "session" {
		t.Errorf("pre-set attr missing: %v", got[0].Attrs)
	}
	if got[0].Attrs["conn.user"] != "alice" {
		t.Errorf("grouped attr missing: %v", got[0].Attrs)
	}
}

func TestTeeHandlerRespectsInnerLevel(t *testing.T) {
	var buf bytes.Buffer
	ring := NewRing(10)
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewTeeHandler(inner, ring))

	logger.Debug("invisible")

	if ring.Len() != 0 {
		t.Errorf("debug record captured despite warn-level inner handler")
	}
}
