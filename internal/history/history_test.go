package history

import (
	"testing"
)

func drawOp(user string) Operation {
	return Operation{
		Type:   OpDraw,
		UserID: user,
		Data:   []Segment{{X0: 0, Y0: 0, X1: 10, Y1: 10, Color: "#000", Size: 3}},
	}
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	s := NewStore(500)

	a := s.Append("r1", drawOp("alice"))
	b := s.Append("r1", drawOp("bob"))

	if a.ID == 0 {
		t.Error("first operation ID should be assigned")
	}
	if b.ID <= a.ID {
		t.Errorf("IDs not monotonic: %d then %d", a.ID, b.ID)
	}
	if a.Timestamp == 0 {
		t.Error("timestamp should be assigned on append")
	}
}

func TestUndoRedoIsInverse(t *testing.T) {
	s := NewStore(500)

	for i := 0; i < 5; i++ {
		s.Append("r1", drawOp("alice"))
	}
	before := s.Snapshot("r1")

	for k := 1; k <= 5; k++ {
		for i := 0; i < k; i++ {
			if _, ok := s.Undo("r1"); !ok {
				t.Fatalf("undo %d/%d failed", i+1, k)
			}
		}
		for i := 0; i < k; i++ {
			if _, ok := s.Redo("r1"); !ok {
				t.Fatalf("redo %d/%d failed", i+1, k)
			}
		}

		after := s.Snapshot("r1")
		if len(after) != len(before) {
			t.Fatalf("k=%d: snapshot length %d, want %d", k, len(after), len(before))
		}
		for i := range after {
			if after[i].ID != before[i].ID {
				t.Errorf("k=%d: op %d has ID %d, want %d", k, i, after[i].ID, before[i].ID)
			}
		}
	}
}

func TestUndoReturnsMostRecentRegardlessOfAuthor(t *testing.T) {
	s := NewStore(500)

	s.Append("r1", drawOp("alice"))
	last := s.Append("r1", drawOp("bob"))

	// Undo issued "by alice" still removes bob's operation: the cursor is
	// a shared, room-wide control.
	op, ok := s.Undo("r1")
	if !ok {
		t.Fatal("undo failed")
	}
	if op.ID != last.ID || op.UserID != "bob" {
		t.Errorf("undid op %d by %s, want %d by bob", op.ID, op.UserID, last.ID)
	}
}

func TestAppendTruncatesRedoSuffix(t *testing.T) {
	s := NewStore(500)

	s.Append("r1", drawOp("alice"))
	discarded := s.Append("r1", drawOp("alice"))
	s.Undo("r1")

	s.Append("r1", drawOp("bob"))

	// The undone branch is gone: redo has nothing to recover.
	if op, ok := s.Redo("r1"); ok {
		t.Errorf("redo recovered discarded op %d", op.ID)
	}

	snap := s.Snapshot("r1")
	for _, op := range snap {
		if op.ID == discarded.ID {
			t.Errorf("discarded op %d still present in snapshot", discarded.ID)
		}
	}
	if len(snap) != 2 {
		t.Errorf("snapshot has %d ops, want 2", len(snap))
	}
}

func TestRetentionCapEvictsOldest(t *testing.T) {
	s := NewStore(500)

	first := s.Append("r1", drawOp("alice"))
	for i := 0; i < 500; i++ {
		s.Append("r1", drawOp("alice"))
	}

	if n := s.Len("r1"); n != 500 {
		t.Fatalf("log has %d ops, want 500", n)
	}
	if c := s.Cursor("r1"); c != 499 {
		t.Errorf("cursor = %d, want 499", c)
	}
	for _, op := range s.Snapshot("r1") {
		if op.ID == first.ID {
			t.Errorf("first op %d should have been evicted", first.ID)
		}
	}
}

func TestEvictionShiftsCursor(t *testing.T) {
	s := NewStore(3)

	s.Append("r1", drawOp("a"))
	s.Append("r1", drawOp("a"))
	s.Append("r1", drawOp("a"))
	s.Undo("r1")
	s.Undo("r1")
	if c := s.Cursor("r1"); c != 0 {
		t.Fatalf("cursor = %d, want 0", c)
	}

	// Append truncates the redo suffix (2 ops), then appends: 2 ops total,
	// under the cap, cursor at tail.
	s.Append("r1", drawOp("a"))
	if c, n := s.Cursor("r1"), s.Len("r1"); c != 1 || n != 2 {
		t.Errorf("cursor=%d len=%d, want 1 and 2", c, n)
	}

	// Fill past the cap and verify the cursor tracks the shifted tail.
	s.Append("r1", drawOp("a"))
	s.Append("r1", drawOp("a"))
	if c, n := s.Cursor("r1"), s.Len("r1"); c != 2 || n != 3 {
		t.Errorf("cursor=%d len=%d, want 2 and 3", c, n)
	}
}

func TestCursorNeverBelowMinusOne(t *testing.T) {
	s := NewStore(1)

	s.Append("r1", drawOp("a"))
	s.Undo("r1")
	// cursor is -1 with one retained op; appending truncates everything,
	// appends one, evicts nothing.
	s.Append("r1", drawOp("a"))
	if c := s.Cursor("r1"); c != 0 {
		t.Errorf("cursor = %d, want 0", c)
	}
	s.Undo("r1")
	if c := s.Cursor("r1"); c != -1 {
		t.Errorf("cursor = %d, want -1", c)
	}
}

func TestUndoRedoNoOpAtBounds(t *testing.T) {
	s := NewStore(500)

	if _, ok := s.Undo("empty"); ok {
		t.Error("undo on empty log should report nothing to undo")
	}
	if _, ok := s.Redo("empty"); ok {
		t.Error("redo on empty log should report nothing to redo")
	}

	s.Append("r1", drawOp("a"))
	if _, ok := s.Redo("r1"); ok {
		t.Error("redo at tail should report nothing to redo")
	}
	s.Undo("r1")
	if _, ok := s.Undo("r1"); ok {
		t.Error("undo past the start should report nothing to undo")
	}
	// The failed calls must not have mutated state.
	if c, n := s.Cursor("r1"), s.Len("r1"); c != -1 || n != 1 {
		t.Errorf("cursor=%d len=%d after no-ops, want -1 and 1", c, n)
	}
}

func TestClearResetsAndIsNotUndoable(t *testing.T) {
	s := NewStore(500)

	s.Append("r1", drawOp("a"))
	s.Append("r1", drawOp("a"))
	s.Undo("r1")

	s.Clear("r1")

	if n := s.Len("r1"); n != 0 {
		t.Errorf("len = %d after clear, want 0", n)
	}
	if c := s.Cursor("r1"); c != -1 {
		t.Errorf("cursor = %d after clear, want -1", c)
	}
	if _, ok := s.Undo("r1"); ok {
		t.Error("clear must not be undoable")
	}
	if _, ok := s.Redo("r1"); ok {
		t.Error("redo must not survive a clear")
	}
}

func TestIDsStayUniqueAcrossClear(t *testing.T) {
	s := NewStore(500)

	a := s.Append("r1", drawOp("x"))
	s.Clear("r1")
	b := s.Append("r1", drawOp("x"))

	if b.ID <= a.ID {
		t.Errorf("ID %d after clear not greater than %d before", b.ID, a.ID)
	}
}

func TestSnapshotExcludesRedoSuffix(t *testing.T) {
	s := NewStore(500)

	s.Append("r1", drawOp("a"))
	kept := s.Append("r1", drawOp("a"))
	s.Append("r1", drawOp("a"))
	s.Undo("r1")

	snap := s.Snapshot("r1")
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d ops, want 2", len(snap))
	}
	if snap[len(snap)-1].ID != kept.ID {
		t.Errorf("snapshot tail = op %d, want %d", snap[len(snap)-1].ID, kept.ID)
	}
}

func TestSnapshotEmptyAndUnknownRoom(t *testing.T) {
	s := NewStore(500)

	if snap := s.Snapshot("nope"); snap == nil || len(snap) != 0 {
		t.Errorf("unknown room snapshot = %v, want empty non-nil", snap)
	}

	s.Append("r1", drawOp("a"))
	s.Undo("r1")
	if snap := s.Snapshot("r1"); len(snap) != 0 {
		t.Errorf("fully-undone snapshot has %d ops, want 0", len(snap))
	}
}

func TestSnapshotReturnsCopy(t *testing.T) {
	s := NewStore(500)
	s.Append("r1", drawOp("a"))

	snap := s.Snapshot("r1")
	snap[0].UserID = "mallory"

	if got := s.Snapshot("r1")[0].UserID; got != "a" {
		t.Errorf("store mutated through snapshot: userId = %q", got)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	s := NewStore(500)

	s.Append("r1", drawOp("a"))
	s.Append("r2", drawOp("b"))
	s.Undo("r1")

	if len(s.Snapshot("r2")) != 1 {
		t.Error("undo in r1 leaked into r2")
	}
	if s.RoomCount() != 2 {
		t.Errorf("room count = %d, want 2", s.RoomCount())
	}
	if s.TotalOperations() != 2 {
		t.Errorf("total operations = %d, want 2", s.TotalOperations())
	}
}
