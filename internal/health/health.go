// Package health serves the loopback operations endpoints: a JSON health
// snapshot and the recent in-memory log entries.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/sketchrelay/sketchrelay/internal/history"
	"github.com/sketchrelay/sketchrelay/internal/logring"
	"github.com/sketchrelay/sketchrelay/internal/relay"
	"github.com/sketchrelay/sketchrelay/internal/room"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status             string   `json:"status"`
	Uptime             string   `json:"uptime"`
	ActiveConnections  int      `json:"active_connections"`
	ActiveRooms        int      `json:"active_rooms"`
	RetainedOperations int      `json:"retained_operations"`
	Version            string   `json:"version"`
	Timestamp          string   `json:"timestamp"`
	Details            *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	TotalConnections int64   `json:"total_connections"`
	TotalMessages    int64   `json:"total_messages"`
	HistoryRooms     int     `json:"history_rooms"`
	MemoryMB         float64 `json:"memory_mb"`
}

// Handler serves the health check endpoint.
type Handler struct {
	startTime time.Time
	tracker   *relay.Tracker
	registry  *room.Registry
	store     *history.Store
	maxConns  int
	version   string
	detailed  bool
}

// NewHandler creates a health check handler. maxConns is the configured
// connection cap; at or above it the relay reports degraded.
func NewHandler(tr *relay.Tracker, registry *room.Registry, store *history.Store, maxConns int, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		tracker:   tr,
		registry:  registry,
		store:     store,
		maxConns:  maxConns,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP handles health check requests. The ops listener binds loopback
// only, so systemd, Prometheus or a local curl can poll this without going
// through the public WebSocket listener.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpCode := http.StatusOK
	if h.maxConns > 0 && h.tracker.ConnectionCount() >= h.maxConns {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:             status,
		Uptime:             time.Since(h.startTime).Round(time.Second).String(),
		ActiveConnections:  h.tracker.ConnectionCount(),
		ActiveRooms:        h.registry.RoomCount(),
		RetainedOperations: h.store.TotalOperations(),
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			TotalConnections: h.tracker.TotalConnections(),
			TotalMessages:    h.tracker.TotalMessages(),
			HistoryRooms:     h.store.RoomCount(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}

// logEntryResponse mirrors logring.Entry for JSON serialization.
type logEntryResponse struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// LogsHandler serves the most recent in-memory log entries as JSON.
type LogsHandler struct {
	ring *logring.Ring
}

// NewLogsHandler creates a logs handler over the given ring.
func NewLogsHandler(ring *logring.Ring) *LogsHandler {
	return &LogsHandler{ring: ring}
}

func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if v := r.URL.Query().Get("level"); v != "" {
		switch v {
		case "debug":
			minLevel = slog.LevelDebug
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	entries := h.ring.Recent(limit, minLevel)
	resp := make([]logEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = logEntryResponse{
			Time:    e.Time.Format(time.RFC3339Nano),
			Level:   e.Level.String(),
			Message: e.Message,
			Attrs:   e.Attrs,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
