package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStoreBlockUnblock(t *testing.T) {
	s, err := NewStore("", false)
	if err != nil {
		t.Fatal(err)
	}

	if blocked, _ := s.IsBlocked("203.0.113.7"); blocked {
		t.Error("fresh store reports identity blocked")
	}

	if err := s.Block("203.0.113.7", "abuse", "tester", 0); err != nil {
		t.Fatal(err)
	}
	blocked, until := s.IsBlocked("203.0.113.7")
	if !blocked {
		t.Fatal("block not recorded")
	}
	if !until.IsZero() {
		t.Error("permanent block reported a non-zero expiry")
	}

	if err := s.Unblock("203.0.113.7"); err != nil {
		t.Fatal(err)
	}
	if blocked, _ := s.IsBlocked("203.0.113.7"); blocked {
		t.Error("unblock did not remove the block")
	}
}

func TestTimedBlockExpires(t *testing.T) {
	s, err := NewStore("", false)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Block("203.0.113.7", "abuse", "tester", 30*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	blocked, until := s.IsBlocked("203.0.113.7")
	if !blocked || until.IsZero() {
		t.Fatal("timed block missing or without expiry")
	}

	time.Sleep(50 * time.Millisecond)
	if blocked, _ := s.IsBlocked("203.0.113.7"); blocked {
		t.Error("expired block still reported active")
	}

	if removed := s.Prune(); removed != 1 {
		t.Errorf("Prune removed %d rules, want 1", removed)
	}
}

func TestAllowOverridesBlock(t *testing.T) {
	s, err := NewStore("", false)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Block("203.0.113.7", "abuse", "tester", 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Allow("203.0.113.7", "false positive", "tester"); err != nil {
		t.Fatal(err)
	}

	if blocked, _ := s.IsBlocked("203.0.113.7"); blocked {
		t.Error("allow did not clear the block")
	}
	if !s.IsAllowed("203.0.113.7") {
		t.Error("allow not recorded")
	}

	if err := s.Disallow("203.0.113.7"); err != nil {
		t.Fatal(err)
	}
	if s.IsAllowed("203.0.113.7") {
		t.Error("disallow did not remove the exemption")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")

	s, err := NewStore(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Block("203.0.113.7", "abuse", "tester", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s.Allow("198.51.100.1", "partner", "tester"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewStore(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if blocked, _ := reopened.IsBlocked("203.0.113.7"); !blocked {
		t.Error("block lost across reopen")
	}
	if !reopened.IsAllowed("198.51.100.1") {
		t.Error("allow lost across reopen")
	}

	blocked, allowed := reopened.Counts()
	if blocked != 1 || allowed != 1 {
		t.Errorf("Counts() = (%d, %d), want (1, 1)", blocked, allowed)
	}
}

func TestReloadPicksUpExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	s, err := NewStore(path, true)
	if err != nil {
		t.Fatal(err)
	}

	external := `{"version":"1","blocked":[{"identity":"192.0.2.200","action":"block","created_at":"2026-01-01T00:00:00Z"}],"allowed":[]}`
	if err := os.WriteFile(path, []byte(external), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if blocked, _ := s.IsBlocked("192.0.2.200"); !blocked {
		t.Error("externally added block not visible after reload")
	}
}

func TestCorruptFileRejectedAtLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path, true); err == nil {
		t.Error("corrupt rules file accepted at construction")
	}
}
