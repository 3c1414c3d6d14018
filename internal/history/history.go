// Package history holds the authoritative per-room operation log with a
// shared undo/redo cursor. Undo acts on the most recent operation room-wide,
// not on the caller's own strokes; that asymmetry is part of the protocol
// and must not be narrowed to per-user undo.
package history

import (
	"sync"
	"time"
)

// Operation kinds stored in a room log.
const (
	OpDraw  = "draw"
	OpClear = "clear"
)

// Segment is one straight sub-stroke. A full pen stroke arrives as a
// sequence of these accumulated while the pointer is held down.
type Segment struct {
	X0    float64 `json:"x0"`
	Y0    float64 `json:"y0"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	Color string  `json:"color"`
	Size  float64 `json:"size"`
	Erase bool    `json:"erase"`
}

// Operation is one atomic drawing action recorded in a room's log.
// Field names match the wire format sent in init/redo frames.
type Operation struct {
	ID        uint64    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	Data      []Segment `json:"data"`
	Timestamp int64     `json:"timestamp"`
}

// roomLog is the log for a single room: ordered operations plus a cursor.
// Operations at indices > cursor are the redo-able suffix. cursor == -1
// means everything is undone (or the log is empty).
type roomLog struct {
	ops    []Operation
	cursor int
	nextID uint64
}

// Store keeps one log per room. Logs are created lazily on first reference
// and never destroyed; a room whose members all leave keeps its history
// until the process exits. That unbounded growth across distinct room keys
// is a known trade-off: a member rejoining an idle room must get its canvas
// back, so logs cannot be swept when the room empties.
//
// Thread-safe via sync.RWMutex. Callers that need a whole message handled
// atomically (mutate then broadcast) serialize per room above this layer.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string]*roomLog
	maxOps  int
	nowFunc func() time.Time
}

// NewStore creates a store that retains up to maxOps operations per room.
func NewStore(maxOps int) *Store {
	return &Store{
		rooms:   make(map[string]*roomLog),
		maxOps:  maxOps,
		nowFunc: time.Now,
	}
}

// SetMaxOps updates the retention cap. Applies on the next Append per room;
// existing longer logs shrink as new operations arrive.
func (s *Store) SetMaxOps(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxOps = n
	}
}

func (s *Store) log(roomID string) *roomLog {
	rl, ok := s.rooms[roomID]
	if !ok {
		rl = &roomLog{cursor: -1, nextID: 1}
		s.rooms[roomID] = rl
	}
	return rl
}

// Append records a new operation: any redo suffix beyond the cursor is
// discarded first, the operation gets the room's next monotonic ID, and
// the cursor moves to the new tail. If the log then exceeds the retention
// cap, the oldest operations are evicted and the cursor shifts down by the
// number evicted (never below -1). Returns the stored operation.
func (s *Store) Append(roomID string, op Operation) Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	rl := s.log(roomID)

	// A new edit makes any undone branch unreachable.
	if rl.cursor < len(rl.ops)-1 {
		rl.ops = rl.ops[:rl.cursor+1]
	}

	op.ID = rl.nextID
	rl.nextID++
	if op.Timestamp == 0 {
		op.Timestamp = s.nowFunc().UnixMilli()
	}
	rl.ops = append(rl.ops, op)
	rl.cursor = len(rl.ops) - 1

	if excess := len(rl.ops) - s.maxOps; excess > 0 {
		rl.ops = rl.ops[excess:]
		rl.cursor -= excess
		if rl.cursor < -1 {
			rl.cursor = -1
		}
	}

	return op
}

// Undo steps the cursor back over the most recently applied operation in
// the room, regardless of who authored it, and returns that operation.
// Returns false without mutating anything when nothing is left to undo.
func (s *Store) Undo(roomID string) (Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rl := s.log(roomID)
	if rl.cursor < 0 {
		return Operation{}, false
	}
	op := rl.ops[rl.cursor]
	rl.cursor--
	return op, true
}

// Redo re-applies the first operation of the redo suffix and returns it.
// Returns false without mutating anything when the cursor is at the tail.
func (s *Store) Redo(roomID string) (Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rl := s.log(roomID)
	if rl.cursor >= len(rl.ops)-1 {
		return Operation{}, false
	}
	rl.cursor++
	return rl.ops[rl.cursor], true
}

// Clear unconditionally resets the room to an empty log. No operation is
// recorded for the clear itself, so it cannot be undone. The ID sequence
// keeps counting so ids stay unique across a clear.
func (s *Store) Clear(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rl := s.log(roomID)
	rl.ops = nil
	rl.cursor = -1
}

// Snapshot returns a copy of the currently-applied prefix ops[0..cursor].
// The redo suffix is deliberately excluded: it is not part of the
// authoritative drawing and must not reach new joiners. Never nil.
func (s *Store) Snapshot(roomID string) []Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rl, ok := s.rooms[roomID]
	if !ok || rl.cursor < 0 {
		return []Operation{}
	}
	out := make([]Operation, rl.cursor+1)
	copy(out, rl.ops[:rl.cursor+1])
	return out
}

// Len returns the number of retained operations for a room, including any
// redo suffix.
func (s *Store) Len(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rl, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	return len(rl.ops)
}

// Cursor returns the room's current cursor position (-1 when empty or
// fully undone).
func (s *Store) Cursor(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rl, ok := s.rooms[roomID]
	if !ok {
		return -1
	}
	return rl.cursor
}

// TotalOperations returns the number of retained operations across all
// rooms, for health and metrics reporting.
func (s *Store) TotalOperations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, rl := range s.rooms {
		total += len(rl.ops)
	}
	return total
}

// RoomCount returns the number of rooms with a live log, including rooms
// whose members have all left.
func (s *Store) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
