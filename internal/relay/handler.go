// Package relay accepts WebSocket connections, applies admission control,
// and hands each accepted connection to a drawing session.
package relay

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/sketchrelay/sketchrelay/internal/config"
	"github.com/sketchrelay/sketchrelay/internal/metrics"
	"github.com/sketchrelay/sketchrelay/internal/security"
	"github.com/sketchrelay/sketchrelay/internal/session"
)

// Handler is the HTTP handler that upgrades client connections and runs
// their drawing sessions until disconnect.
type Handler struct {
	Config      *config.Config
	Tracker     *Tracker
	Hub         *session.Hub
	ConnLimiter *security.ConnLimiter // optional, nil if rate limiting disabled
	Metrics     *metrics.Metrics      // optional, nil if metrics disabled
	ShutdownCtx context.Context       // cancelled on server shutdown

	// drainCtx is cancelled when the server begins draining connections.
	// Active connections watch this to send graceful close frames.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	// mu protects Config during hot-reload
	mu sync.RWMutex
}

// NewHandler creates a relay handler.
func NewHandler(cfg *config.Config, tr *Tracker, hub *session.Hub, cl *security.ConnLimiter, shutdownCtx context.Context) *Handler {
	drainCtx, drainCancel := context.WithCancel(context.Background())
	return &Handler{
		Config:      cfg,
		Tracker:     tr,
		Hub:         hub,
		ConnLimiter: cl,
		ShutdownCtx: shutdownCtx,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
	}
}

// StartDrain signals all active connections to begin graceful shutdown.
// Each connection's drain watcher sends a WebSocket close frame.
func (h *Handler) StartDrain() {
	h.drainCancel()
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Config
}

// UpdateConfig swaps the config (called on SIGHUP).
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Config = cfg
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()

	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		slog.Error("failed to parse remote address", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// Rate limit check before any upgrade work
	if cfg.Security.RateLimit.Enabled && h.ConnLimiter != nil && !h.ConnLimiter.Allow(clientIP) {
		slog.Warn("connection rate limit exceeded", "client_ip", clientIP)
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues("rate_limited").Inc()
		}
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// Connection limits (atomic check-and-increment to prevent TOCTOU race)
	if reason := h.Tracker.TryAcquire(clientIP, cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP); reason != "" {
		if reason == "max_connections" {
			slog.Warn("max connections reached", "current", h.Tracker.ConnectionCount(), "max", cfg.Security.MaxConnections)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		} else {
			slog.Warn("max connections per IP reached", "client_ip", clientIP, "current", h.Tracker.ConnectionCountForIP(clientIP))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues(reason).Inc()
		}
		return
	}
	defer h.Tracker.Release(clientIP)

	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
		defer h.Metrics.ActiveConnections.Dec()
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("failed to accept WebSocket", "client_ip", clientIP, "error", err)
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues("accept_failure").Inc()
		}
		return
	}
	conn.SetReadLimit(cfg.Server.MaxMessageSize)

	roomID := r.URL.Query().Get("room")
	slog.Info("connection established", "client_ip", clientIP, "room", roomID)

	// Use ShutdownCtx (not r.Context()) as the parent so a server shutdown
	// unblocks the session's read loop.
	connCtx, connCancel := context.WithCancel(h.ShutdownCtx)
	defer connCancel()

	// Guard close calls with sync.Once: context cancellation can trigger
	// internal closes in coder/websocket concurrently with our cleanup.
	var closeOnce sync.Once
	closeConn := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() { conn.Close(code, reason) })
	}

	// Keepalive pings detect dead connections. Ping must run concurrently
	// with the read loop per coder/websocket docs.
	if cfg.Server.PingInterval > 0 {
		go h.keepAlive(connCtx, conn, cfg.Server.PingInterval, cfg.Server.PongTimeout, connCancel)
	}

	// Drain watcher: when the server starts draining, send a graceful close
	// frame. The session's read loop then returns and deregisters the member.
	go func() {
		select {
		case <-h.drainCtx.Done():
			closeConn(websocket.StatusGoingAway, "server shutting down")
		case <-connCtx.Done():
			// Connection already closing for another reason
		}
	}()

	// Per-connection inbound message rate limiter
	var msgLimiter *rate.Limiter
	if cfg.Security.RateLimit.Enabled && cfg.Security.RateLimit.MessagesPerSecond > 0 {
		msgLimiter = rate.NewLimiter(rate.Limit(cfg.Security.RateLimit.MessagesPerSecond), cfg.Security.RateLimit.MessagesPerSecond)
	}

	start := time.Now()
	sess := h.Hub.NewSession(conn, roomID, clientIP, msgLimiter)
	sess.Run(connCtx)

	closeConn(websocket.StatusNormalClosure, "")
	slog.Info("connection closed", "client_ip", clientIP, "duration", time.Since(start).String())
}

// keepAlive sends periodic WebSocket pings to detect dead connections.
// If a ping fails or times out, it closes the connection and cancels the
// connection context.
func (h *Handler) keepAlive(ctx context.Context, conn *websocket.Conn, interval, pongTimeout time.Duration, onFail context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}
