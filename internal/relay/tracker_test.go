package relay

import "testing"

func TestTrackerTryAcquire(t *testing.T) {
	tr := NewTracker()

	// Within limits
	if reason := tr.TryAcquire("10.0.0.1", 3, 2); reason != "" {
		t.Errorf("TryAcquire() = %q, want empty", reason)
	}
	if got := tr.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", got)
	}

	// Second from same IP, still within per-IP limit of 2
	if reason := tr.TryAcquire("10.0.0.1", 3, 2); reason != "" {
		t.Errorf("TryAcquire() = %q, want empty", reason)
	}

	// Third from same IP hits the per-IP limit
	if reason := tr.TryAcquire("10.0.0.1", 3, 2); reason != "max_connections_per_ip" {
		t.Errorf("TryAcquire() = %q, want %q", reason, "max_connections_per_ip")
	}
	// Rejection must not bump the count
	if got := tr.ConnectionCount(); got != 2 {
		t.Errorf("ConnectionCount() = %d, want 2 (no increment on rejection)", got)
	}

	// Different IP succeeds, global count is 2 with a limit of 3
	if reason := tr.TryAcquire("10.0.0.2", 3, 2); reason != "" {
		t.Errorf("TryAcquire() = %q, want empty", reason)
	}

	// Global limit reached
	if reason := tr.TryAcquire("10.0.0.3", 3, 2); reason != "max_connections" {
		t.Errorf("TryAcquire() = %q, want %q", reason, "max_connections")
	}
}

func TestTrackerRelease(t *testing.T) {
	tr := NewTracker()

	tr.TryAcquire("10.0.0.1", 100, 100)
	tr.TryAcquire("10.0.0.1", 100, 100)
	tr.TryAcquire("10.0.0.2", 100, 100)

	if got := tr.ConnectionCountForIP("10.0.0.1"); got != 2 {
		t.Errorf("ConnectionCountForIP(10.0.0.1) = %d, want 2", got)
	}

	tr.Release("10.0.0.1")
	if got := tr.ConnectionCount(); got != 2 {
		t.Errorf("ConnectionCount() after release = %d, want 2", got)
	}
	if got := tr.ConnectionCountForIP("10.0.0.1"); got != 1 {
		t.Errorf("ConnectionCountForIP(10.0.0.1) after release = %d, want 1", got)
	}

	// Releasing the last connection for an IP drops its map entry
	tr.Release("10.0.0.2")
	if got := tr.ConnectionCountForIP("10.0.0.2"); got != 0 {
		t.Errorf("ConnectionCountForIP(10.0.0.2) after full release = %d, want 0", got)
	}
}

func TestTrackerTotals(t *testing.T) {
	tr := NewTracker()

	tr.TryAcquire("10.0.0.1", 100, 100)
	tr.TryAcquire("10.0.0.1", 100, 100)
	tr.Release("10.0.0.1")

	if got := tr.TotalConnections(); got != 2 {
		t.Errorf("TotalConnections() = %d, want 2 (counts lifetime, not active)", got)
	}

	tr.IncrementMessages()
	tr.IncrementMessages()
	tr.IncrementMessages()

	if got := tr.TotalMessages(); got != 3 {
		t.Errorf("TotalMessages() = %d, want 3", got)
	}
}
