package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sketchrelay/sketchrelay/internal/history"
	"github.com/sketchrelay/sketchrelay/internal/logring"
	"github.com/sketchrelay/sketchrelay/internal/relay"
	"github.com/sketchrelay/sketchrelay/internal/room"
)

func newDeps() (*relay.Tracker, *room.Registry, *history.Store) {
	return relay.NewTracker(), room.NewRegistry(time.Second), history.NewStore(500)
}

func TestHealthHandler(t *testing.T) {
	tr, registry, store := newDeps()
	h := NewHandler(tr, registry, store, 1000, "test-version", true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Version != "test-version" {
		t.Errorf("version = %q, want %q", resp.Version, "test-version")
	}
	if resp.ActiveConnections != 0 {
		t.Errorf("active_connections = %d, want 0", resp.ActiveConnections)
	}
	if resp.Details == nil {
		t.Error("details should not be nil")
	}
}

func TestHealthHandlerReflectsState(t *testing.T) {
	tr, registry, store := newDeps()

	tr.TryAcquire("10.0.0.1", 100, 100)
	tr.TryAcquire("10.0.0.2", 100, 100)
	registry.Add("lobby", "alice", nil)
	store.Append("lobby", history.Operation{Type: history.OpDraw, UserID: "alice"})
	store.Append("lobby", history.Operation{Type: history.OpDraw, UserID: "alice"})

	h := NewHandler(tr, registry, store, 1000, "test-version", true)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.ActiveConnections != 2 {
		t.Errorf("active_connections = %d, want 2", resp.ActiveConnections)
	}
	if resp.ActiveRooms != 1 {
		t.Errorf("active_rooms = %d, want 1", resp.ActiveRooms)
	}
	if resp.RetainedOperations != 2 {
		t.Errorf("retained_operations = %d, want 2", resp.RetainedOperations)
	}
	if resp.Details == nil || resp.Details.TotalConnections != 2 {
		t.Errorf("details = %+v, want total_connections 2", resp.Details)
	}
}

func TestHealthHandlerDegradedAtCapacity(t *testing.T) {
	tr, registry, store := newDeps()
	tr.TryAcquire("10.0.0.1", 100, 100)
	tr.TryAcquire("10.0.0.2", 100, 100)

	h := NewHandler(tr, registry, store, 2, "test-version", false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want %q", resp.Status, "degraded")
	}
}

func TestHealthHandlerCompact(t *testing.T) {
	tr, registry, store := newDeps()
	h := NewHandler(tr, registry, store, 1000, "test-version", false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Details != nil {
		t.Error("details should be omitted when detailed is off")
	}
	if resp.Version != "" {
		t.Error("version should be omitted when detailed is off")
	}
}

func TestLogsHandler(t *testing.T) {
	ring := logring.NewRing(10)
	ring.Add(logring.Entry{Time: time.Now(), Level: slog.LevelInfo, Message: "first"})
	ring.Add(logring.Entry{Time: time.Now(), Level: slog.LevelWarn, Message: "second"})
	ring.Add(logring.Entry{Time: time.Now(), Level: slog.LevelDebug, Message: "third"})

	h := NewLogsHandler(ring)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusOK)
	}

	var entries []logEntryResponse
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// Newest first
	if entries[0].Message != "third" {
		t.Errorf("entries[0] = %q, want %q", entries[0].Message, "third")
	}
}

func TestLogsHandlerLevelFilter(t *testing.T) {
	ring := logring.NewRing(10)
	ring.Add(logring.Entry{Time: time.Now(), Level: slog.LevelDebug, Message: "noise"})
	ring.Add(logring.Entry{Time: time.Now(), Level: slog.LevelError, Message: "boom"})

	h := NewLogsHandler(ring)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs?level=warn", nil))

	var entries []logEntryResponse
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "boom" {
		t.Errorf("entries = %+v, want only the error entry", entries)
	}
}

func TestLogsHandlerRejectsPost(t *testing.T) {
	h := NewLogsHandler(logring.NewRing(10))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logs", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
