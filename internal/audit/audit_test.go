package audit

import (
	"path/filepath"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	if err := log.Record("bastion", EventOpenRequested, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := log.Record("bastion", EventOpenSucceeded, "pid=123"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType != EventOpenSucceeded {
		t.Fatalf("expected most recent event first, got %q", events[0].EventType)
	}
	if events[1].Host != "bastion" {
		t.Fatalf("expected host %q, got %q", "bastion", events[1].Host)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	for i := 0; i < 5; i++ {
		if err := log.Record("host", EventTunnelKilled, ""); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	events, err := log.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestNilLogIsNoOp(t *testing.T) {
	var log *Log
	if err := log.Record("host", EventSessionError, ""); err != nil {
		t.Fatalf("Record on nil Log should be a no-op, got %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close on nil Log should be a no-op, got %v", err)
	}
}
