package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := NewLogger(&Config{
		LogPath:       path,
		Enabled:       true,
		MaxSizeMB:     10,
		FlushInterval: time.Hour, // flush manually in tests
		BatchSize:     1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("malformed event line: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestLogAndFlush(t *testing.T) {
	l, path := newTestLogger(t)

	l.Log(Event{
		EventType:    TypeRateLimit,
		Identity:     "203.0.113.7",
		Key:          "203.0.113.7|/tours|abc",
		Reason:       "rate limit exceeded",
		RequestCount: 101,
		Limit:        100,
		Overage:      1,
	})
	l.Log(Event{
		EventType: TypeBot,
		Identity:  "198.51.100.1",
		Reason:    "bot traffic detected",
		UserAgent: "curl/8.5.0",
	})

	if got := l.EventCount(); got != 2 {
		t.Errorf("EventCount = %d, want 2", got)
	}

	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	got := readEvents(t, path)
	if len(got) != 2 {
		t.Fatalf("read %d events, want 2", len(got))
	}
	if got[0].EventType != TypeRateLimit || got[0].Identity != "203.0.113.7" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[0].Timestamp == "" {
		t.Error("timestamp not filled in")
	}
	if got[1].UserAgent != "curl/8.5.0" {
		t.Errorf("second event user agent = %q", got[1].UserAgent)
	}
}

func TestSeverityAssignment(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{EventType: TypeDistributed}, "critical"},
		{Event{EventType: TypeManualBlock}, "high"},
		{Event{EventType: TypeRateLimit, Overage: 10}, "high"},
		{Event{EventType: TypeRateLimit, Overage: 1}, "medium"},
		{Event{EventType: TypeBot}, "low"},
	}
	for _, tt := range tests {
		if got := severityFor(tt.event); got != tt.want {
			t.Errorf("severityFor(%s, overage=%d) = %q, want %q",
				tt.event.EventType, tt.event.Overage, got, tt.want)
		}
	}
}

func TestExplicitSeverityKept(t *testing.T) {
	l, path := newTestLogger(t)
	l.Log(Event{EventType: TypeBot, Severity: "critical", Identity: "x"})
	l.Flush()

	got := readEvents(t, path)
	if len(got) != 1 || got[0].Severity != "critical" {
		t.Errorf("explicit severity overwritten: %+v", got)
	}
}

func TestBatchTriggersFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l, err := NewLogger(&Config{
		LogPath:       path,
		Enabled:       true,
		FlushInterval: time.Hour,
		BatchSize:     3,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 3; i++ {
		l.Log(Event{EventType: TypeBot, Identity: "x"})
	}

	// The batch boundary wrote without an explicit Flush.
	if got := readEvents(t, path); len(got) != 3 {
		t.Errorf("read %d events after batch fill, want 3", len(got))
	}
}

func TestDisabledLoggerIsNoOp(t *testing.T) {
	l, err := NewLogger(&Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Log(Event{EventType: TypeBot, Identity: "x"})
	if got := l.EventCount(); got != 0 {
		t.Errorf("disabled logger counted %d events", got)
	}
	if err := l.Flush(); err != nil {
		t.Errorf("disabled Flush returned %v", err)
	}
}

func TestCompressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotated.log")
	if err := os.WriteFile(path, []byte("line one\nline two\n"), 0644); err != nil {
		t.Fatal(err)
	}

	compressFile(path)

	if _, err := os.Stat(path + ".br"); err != nil {
		t.Fatalf("compressed file missing: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original file not removed after compression")
	}
}
