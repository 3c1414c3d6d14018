// Package protocol defines the JSON text frames exchanged with drawing
// clients: a closed set of inbound kinds dispatched by the session handler,
// and typed builders for every server-generated frame.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/sketchrelay/sketchrelay/internal/history"
)

// Inbound message kinds (client -> server).
const (
	KindJoin   = "join"
	KindDraw   = "draw"
	KindCursor = "cursor"
	KindUndo   = "undo"
	KindRedo   = "redo"
	KindClear  = "clear"
)

// Server -> client only kinds.
const (
	KindInit       = "init"
	KindUserJoined = "user_joined"
	KindUserLeft   = "user_left"
)

// Inbound is the decoded form of one client frame. Only the fields for the
// frame's kind are populated; the rest stay at their zero values.
type Inbound struct {
	Type   string            `json:"type"`
	UserID string            `json:"userId"`
	Data   []history.Segment `json:"data"`
	X      float64           `json:"x"`
	Y      float64           `json:"y"`
}

// ParseInbound decodes a client frame and rejects unknown kinds. The
// caller treats any error as a malformed message: log and drop, never
// tear down the connection.
func ParseInbound(payload []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	switch msg.Type {
	case KindJoin, KindDraw, KindCursor, KindUndo, KindRedo, KindClear:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("frame missing type discriminator")
	default:
		return nil, fmt.Errorf("unknown frame type %q", msg.Type)
	}
}

type initFrame struct {
	Type       string              `json:"type"`
	Operations []history.Operation `json:"operations"`
	Users      []string            `json:"users"`
}

type membershipFrame struct {
	Type   string   `json:"type"`
	UserID string   `json:"userId"`
	Users  []string `json:"users"`
}

type drawFrame struct {
	Type   string            `json:"type"`
	UserID string            `json:"userId"`
	Data   []history.Segment `json:"data"`
}

type cursorFrame struct {
	Type   string  `json:"type"`
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type undoFrame struct {
	Type        string `json:"type"`
	OperationID uint64 `json:"operationId"`
}

type redoFrame struct {
	Type      string            `json:"type"`
	Operation history.Operation `json:"operation"`
}

type clearFrame struct {
	Type string `json:"type"`
}

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All frame types marshal cleanly; reaching this is a bug.
		panic(fmt.Sprintf("protocol: marshal %T: %v", v, err))
	}
	return data
}

// Init is the reply to a join: the applied snapshot plus current members.
func Init(operations []history.Operation, users []string) []byte {
	if operations == nil {
		operations = []history.Operation{}
	}
	return marshal(initFrame{Type: KindInit, Operations: operations, Users: users})
}

// UserJoined notifies existing members of a new arrival.
func UserJoined(userID string, users []string) []byte {
	return marshal(membershipFrame{Type: KindUserJoined, UserID: userID, Users: users})
}

// UserLeft notifies remaining members of a departure.
func UserLeft(userID string, users []string) []byte {
	return marshal(membershipFrame{Type: KindUserLeft, UserID: userID, Users: users})
}

// Draw rebroadcasts a stroke with its author attached.
func Draw(userID string, data []history.Segment) []byte {
	return marshal(drawFrame{Type: KindDraw, UserID: userID, Data: data})
}

// Cursor rebroadcasts an ephemeral pointer position.
func Cursor(userID string, x, y float64) []byte {
	return marshal(cursorFrame{Type: KindCursor, UserID: userID, X: x, Y: y})
}

// Undo announces the id of the operation everyone must remove.
func Undo(operationID uint64) []byte {
	return marshal(undoFrame{Type: KindUndo, OperationID: operationID})
}

// Redo announces the full operation everyone must re-apply.
func Redo(op history.Operation) []byte {
	return marshal(redoFrame{Type: KindRedo, Operation: op})
}

// Clear announces a wipe of the room's canvas.
func Clear() []byte {
	return marshal(clearFrame{Type: KindClear})
}
