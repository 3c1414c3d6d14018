// Package room tracks which connections belong to which room and fans
// messages out to them. Pure membership bookkeeping; drawing semantics
// live in the history and session packages.
package room

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const sendQueueSize = 256

// Member is a live connection handle for one user in one room. Each member
// has a single writer goroutine draining a bounded send queue, so frames
// reach a given recipient in dispatch order while a slow peer never blocks
// the rest of the room.
type Member struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (m *Member) stop() {
	m.once.Do(func() { close(m.done) })
}

// Registry maps roomID -> userID -> live connection handle.
// Thread-safe via sync.RWMutex. A room's membership entry is deleted when
// its last member leaves; any history the room accumulated is owned by the
// history store and is unaffected.
type Registry struct {
	mu           sync.RWMutex
	rooms        map[string]map[string]*Member
	writeTimeout time.Duration
	onSend       func(ok bool) // optional metrics hook
}

// NewRegistry creates an empty registry. writeTimeout bounds each
// per-recipient write.
func NewRegistry(writeTimeout time.Duration) *Registry {
	return &Registry{
		rooms:        make(map[string]map[string]*Member),
		writeTimeout: writeTimeout,
	}
}

// SetSendHook installs a callback invoked after every delivery attempt
// with whether it succeeded. Used for metrics; nil disables it.
func (r *Registry) SetSendHook(fn func(ok bool)) {
	r.onSend = fn
}

// Add inserts a member, creating the room on first reference, and starts
// its writer. A duplicate userID overwrites the previous handle: the last
// connection wins, and the replaced member's writer is stopped.
func (r *Registry) Add(roomID, userID string, conn *websocket.Conn) {
	m := &Member{
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Member)
	}
	if prev, ok := r.rooms[roomID][userID]; ok {
		prev.stop()
	}
	r.rooms[roomID][userID] = m
	r.mu.Unlock()

	go r.writeLoop(m)
	slog.Debug("room: member added", "room", roomID, "user", userID)
}

// Remove deletes a member and stops its writer. When the room empties, its
// membership entry is deleted too. No-op for unknown rooms or users.
func (r *Registry) Remove(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	if members == nil {
		return
	}
	m, ok := members[userID]
	if !ok {
		return
	}
	m.stop()
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	slog.Debug("room: member removed", "room", roomID, "user", userID)
}

// UserIDs returns the member ids of a room, sorted for deterministic
// frames. Empty (non-nil) for unknown rooms.
func (r *Registry) UserIDs(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MemberCount returns the number of members in a room.
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// TotalMembers returns the member count across all rooms.
func (r *Registry) TotalMembers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, members := range r.rooms {
		total += len(members)
	}
	return total
}

// Broadcast queues payload for every member of a room except excludeUserID
// (no exclusion when empty). Delivery is fire-and-forget: a member whose
// queue is full or whose transport has died is skipped, never retried, and
// the sender is not told.
func (r *Registry) Broadcast(roomID, excludeUserID string, payload []byte) {
	r.mu.RLock()
	members := r.rooms[roomID]
	targets := make([]*Member, 0, len(members))
	for id, m := range members {
		if id != excludeUserID {
			targets = append(targets, m)
		}
	}
	r.mu.RUnlock()

	for _, m := range targets {
		select {
		case m.send <- payload:
		default:
			slog.Debug("room: send queue full, frame dropped", "room", roomID, "user", m.UserID)
			if r.onSend != nil {
				r.onSend(false)
			}
		}
	}
}

// writeLoop drains a member's send queue onto its connection. Exits when
// the member is removed or a write fails; a dead transport just drops the
// remaining queue on the floor.
func (r *Registry) writeLoop(m *Member) {
	for {
		select {
		case <-m.done:
			return
		case payload := <-m.send:
			ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
			err := m.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if r.onSend != nil {
				r.onSend(err == nil)
			}
			if err != nil {
				slog.Debug("room: write failed, stopping writer", "user", m.UserID, "reason", err)
				return
			}
		}
	}
}
