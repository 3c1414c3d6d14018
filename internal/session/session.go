// Package session implements the per-connection protocol state machine and
// the per-room serialization that keeps concurrent editors consistent.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/sketchrelay/sketchrelay/internal/history"
	"github.com/sketchrelay/sketchrelay/internal/metrics"
	"github.com/sketchrelay/sketchrelay/internal/protocol"
	"github.com/sketchrelay/sketchrelay/internal/room"
)

// Hub owns the shared room state and hands out sessions. One Hub exists per
// process; it is constructed at startup and passed into every connection
// handler rather than living in a package global.
type Hub struct {
	Registry *room.Registry
	History  *history.Store
	Metrics  *metrics.Metrics // optional, nil if metrics disabled

	// OnMessage, when set, is invoked once per accepted inbound frame. The
	// connection layer uses it to keep its lifetime message counter.
	OnMessage func()

	defaultRoom  string
	writeTimeout time.Duration

	// locks serializes message handling per room: state mutation and
	// broadcast dispatch for one message complete before the next message
	// for the same room starts. Entries are never removed, mirroring the
	// never-destroyed history logs.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewHub creates a hub around the given registry and history store.
func NewHub(registry *room.Registry, store *history.Store, defaultRoom string, writeTimeout time.Duration) *Hub {
	return &Hub{
		Registry:     registry,
		History:      store,
		defaultRoom:  defaultRoom,
		writeTimeout: writeTimeout,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (h *Hub) roomLock(roomID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		h.locks[roomID] = l
	}
	return l
}

func (h *Hub) updateStateGauges() {
	if h.Metrics == nil {
		return
	}
	h.Metrics.ActiveRooms.Set(float64(h.Registry.RoomCount()))
	h.Metrics.RetainedOperations.Set(float64(h.History.TotalOperations()))
}

// Session is the protocol state machine for one connection. userID stays
// empty until a valid join is processed; every other kind arriving before
// that is dropped rather than crashing on the missing id.
type Session struct {
	hub     *Hub
	conn    *websocket.Conn
	roomID  string
	userID  string
	remote  string
	limiter *rate.Limiter // optional per-connection message rate limit
}

// NewSession creates a session for an accepted connection. roomID falls
// back to the hub's default room when empty.
func (h *Hub) NewSession(conn *websocket.Conn, roomID, remote string, limiter *rate.Limiter) *Session {
	if roomID == "" {
		roomID = h.defaultRoom
	}
	return &Session{
		hub:     h,
		conn:    conn,
		roomID:  roomID,
		remote:  remote,
		limiter: limiter,
	}
}

// Run reads frames until the connection closes or ctx is cancelled, then
// deregisters the member and notifies the room. Each connection has exactly
// one reader, so a client's own messages are handled in arrival order.
func (s *Session) Run(ctx context.Context) {
	defer s.close()

	for {
		msgType, payload, err := s.conn.Read(ctx)
		if err != nil {
			slog.Debug("session: read loop ended", "remote", s.remote, "user", s.userID, "reason", err)
			return
		}
		if msgType != websocket.MessageText {
			slog.Debug("session: ignoring non-text frame", "remote", s.remote)
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
		s.handle(ctx, payload)
	}
}

// handle dispatches one inbound frame. Malformed frames are logged and
// dropped; the connection stays open and awaits the next frame.
func (s *Session) handle(ctx context.Context, payload []byte) {
	msg, err := protocol.ParseInbound(payload)
	if err != nil {
		slog.Warn("session: dropping malformed frame", "remote", s.remote, "user", s.userID, "error", err)
		s.countError("malformed_frame")
		return
	}

	if s.hub.Metrics != nil {
		s.hub.Metrics.MessagesTotal.WithLabelValues(msg.Type).Inc()
	}
	if s.hub.OnMessage != nil {
		s.hub.OnMessage()
	}

	if msg.Type == protocol.KindJoin {
		s.handleJoin(ctx, msg)
		return
	}

	// Everything below requires a completed join.
	if s.userID == "" {
		slog.Debug("session: dropping frame from unjoined connection", "remote", s.remote, "kind", msg.Type)
		s.countError("not_joined")
		return
	}

	switch msg.Type {
	case protocol.KindDraw:
		s.handleDraw(msg)
	case protocol.KindCursor:
		// Ephemeral, nothing persisted: no room lock needed.
		s.hub.Registry.Broadcast(s.roomID, s.userID, protocol.Cursor(s.userID, msg.X, msg.Y))
	case protocol.KindUndo:
		s.handleUndo()
	case protocol.KindRedo:
		s.handleRedo()
	case protocol.KindClear:
		s.handleClear()
	}
}

func (s *Session) handleJoin(ctx context.Context, msg *protocol.Inbound) {
	if s.userID != "" {
		slog.Debug("session: duplicate join ignored", "remote", s.remote, "user", s.userID)
		return
	}
	if msg.UserID == "" {
		slog.Warn("session: join without userId dropped", "remote", s.remote)
		s.countError("join_missing_user")
		return
	}

	lock := s.hub.roomLock(s.roomID)
	lock.Lock()
	defer lock.Unlock()

	s.userID = msg.UserID
	s.hub.Registry.Add(s.roomID, s.userID, s.conn)

	users := s.hub.Registry.UserIDs(s.roomID)
	snapshot := s.hub.History.Snapshot(s.roomID)

	// Reply to the sender only, then notify everyone else.
	if err := s.write(ctx, protocol.Init(snapshot, users)); err != nil {
		slog.Debug("session: init write failed", "remote", s.remote, "user", s.userID, "reason", err)
	}
	s.hub.Registry.Broadcast(s.roomID, s.userID, protocol.UserJoined(s.userID, users))
	s.hub.updateStateGauges()

	slog.Info("session: user joined", "room", s.roomID, "user", s.userID, "members", len(users), "snapshot_ops", len(snapshot))
}

func (s *Session) handleDraw(msg *protocol.Inbound) {
	lock := s.hub.roomLock(s.roomID)
	lock.Lock()
	defer lock.Unlock()

	s.hub.History.Append(s.roomID, history.Operation{
		Type:   history.OpDraw,
		UserID: s.userID,
		Data:   msg.Data,
	})

	// Including the sender: its local render already happened, the round
	// trip confirms the stroke was recorded.
	s.hub.Registry.Broadcast(s.roomID, "", protocol.Draw(s.userID, msg.Data))
	s.hub.updateStateGauges()
}

func (s *Session) handleUndo() {
	lock := s.hub.roomLock(s.roomID)
	lock.Lock()
	defer lock.Unlock()

	op, ok := s.hub.History.Undo(s.roomID)
	if !ok {
		// Nothing to undo: silent no-op, no frame goes out.
		return
	}
	s.hub.Registry.Broadcast(s.roomID, "", protocol.Undo(op.ID))
	s.hub.updateStateGauges()
}

func (s *Session) handleRedo() {
	lock := s.hub.roomLock(s.roomID)
	lock.Lock()
	defer lock.Unlock()

	op, ok := s.hub.History.Redo(s.roomID)
	if !ok {
		return
	}
	s.hub.Registry.Broadcast(s.roomID, "", protocol.Redo(op))
	s.hub.updateStateGauges()
}

func (s *Session) handleClear() {
	lock := s.hub.roomLock(s.roomID)
	lock.Lock()
	defer lock.Unlock()

	s.hub.History.Clear(s.roomID)
	s.hub.Registry.Broadcast(s.roomID, "", protocol.Clear())
	s.hub.updateStateGauges()
}

// close deregisters the member and tells the room. The history log is left
// untouched even when the room empties.
func (s *Session) close() {
	if s.userID == "" {
		return
	}

	lock := s.hub.roomLock(s.roomID)
	lock.Lock()
	defer lock.Unlock()

	s.hub.Registry.Remove(s.roomID, s.userID)
	users := s.hub.Registry.UserIDs(s.roomID)
	s.hub.Registry.Broadcast(s.roomID, "", protocol.UserLeft(s.userID, users))
	s.hub.updateStateGauges()

	slog.Info("session: user left", "room", s.roomID, "user", s.userID, "members", len(users))
}

// write sends a frame to this session's own connection with the hub's
// write timeout.
func (s *Session) write(ctx context.Context, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.hub.writeTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, payload)
}

func (s *Session) countError(kind string) {
	if s.hub.Metrics != nil {
		s.hub.Metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	}
}
