// Package events writes admission-control security events as JSON lines with
// buffering, size-based rotation, and compression of rotated files.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

// Event types emitted by the admission layer.
const (
	TypeRateLimit   = "rate_limit"
	TypeBot         = "bot_traffic"
	TypeDistributed = "distributed_attack"
	TypeManualBlock = "manual_block"
)

// Event is one block or violation record.
type Event struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Severity  string `json:"severity"`

	Identity string `json:"identity"`
	Key      string `json:"key,omitempty"`
	Subnet   string `json:"subnet,omitempty"`
	Reason   string `json:"reason"`

	RequestCount   int `json:"request_count,omitempty"`
	Limit          int `json:"limit,omitempty"`
	Overage        int `json:"overage,omitempty"`
	SuspicionScore int `json:"suspicion_score,omitempty"`
	IdentityCount  int `json:"identity_count,omitempty"`
	AgentCount     int `json:"agent_count,omitempty"`
	BlockDuration  int `json:"block_duration_sec,omitempty"`

	Path      string `json:"path,omitempty"`
	Method    string `json:"method,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Config controls the event log.
type Config struct {
	LogPath       string
	Enabled       bool
	LogToConsole  bool
	MaxSizeMB     int
	MaxAgeDays    int
	CompressOld   bool // rotated files are brotli-compressed
	FlushInterval time.Duration
	BatchSize     int
}

// DefaultConfig returns the settings used by the daemon.
func DefaultConfig() *Config {
	return &Config{
		LogPath:       "./logs/guard_events.log",
		Enabled:       true,
		MaxSizeMB:     100,
		MaxAgeDays:    30,
		CompressOld:   true,
		FlushInterval: time.Second,
		BatchSize:     100,
	}
}

// Logger buffers events and flushes them on a timer or when the batch
// fills. Safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	bufw    *bufio.Writer
	enc     *json.Encoder
	buffer  []Event
	count   int64
	enabled bool
	console bool

	path          string
	maxSizeMB     int
	maxAgeDays    int
	compressOld   bool
	flushInterval time.Duration
	batchSize     int

	done      chan struct{}
	closeOnce sync.Once
}

// NewLogger opens (or creates) the event log. A disabled config yields a
// no-op logger so callers never have to nil-check.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return &Logger{enabled: false, done: make(chan struct{})}, nil
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	bufw := bufio.NewWriterSize(file, 64*1024)
	l := &Logger{
		file:          file,
		bufw:          bufw,
		enc:           json.NewEncoder(bufw),
		buffer:        make([]Event, 0, cfg.BatchSize),
		enabled:       true,
		console:       cfg.LogToConsole,
		path:          cfg.LogPath,
		maxSizeMB:     cfg.MaxSizeMB,
		maxAgeDays:    cfg.MaxAgeDays,
		compressOld:   cfg.CompressOld,
		flushInterval: cfg.FlushInterval,
		batchSize:     cfg.BatchSize,
		done:          make(chan struct{}),
	}

	go l.run()
	l.cleanupOldLogs()

	return l, nil
}

// Log queues an event. The timestamp and severity are filled in if empty.
func (l *Logger) Log(e Event) {
	if !l.enabled {
		return
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(time.RFC3339)
	}
	if e.Severity == "" {
		e.Severity = severityFor(e)
	}

	l.mu.Lock()
	l.count++
	l.buffer = append(l.buffer, e)
	if len(l.buffer) >= l.batchSize {
		l.flushLocked()
	}
	l.mu.Unlock()

	if l.console {
		log.Printf("[guard] [%s] %s identity=%s reason=%q", e.Severity, e.EventType, e.Identity, e.Reason)
	}
}

func severityFor(e Event) string {
	switch e.EventType {
	case TypeDistributed:
		return "critical"
	case TypeManualBlock:
		return "high"
	case TypeRateLimit:
		if e.Overage >= 10 {
			return "high"
		}
		return "medium"
	default:
		return "low"
	}
}

func (l *Logger) run() {
	flush := time.NewTicker(l.flushInterval)
	rotate := time.NewTicker(time.Hour)
	defer flush.Stop()
	defer rotate.Stop()

	for {
		select {
		case <-flush.C:
			l.mu.Lock()
			l.flushLocked()
			l.mu.Unlock()
		case <-rotate.C:
			l.checkRotation()
			l.cleanupOldLogs()
		case <-l.done:
			return
		}
	}
}

// flushLocked writes the buffer to disk. Callers hold l.mu.
func (l *Logger) flushLocked() {
	if l.enc == nil || len(l.buffer) == 0 {
		return
	}
	for _, e := range l.buffer {
		if err := l.enc.Encode(e); err != nil {
			log.Printf("event log write failed: %v", err)
		}
	}
	l.buffer = l.buffer[:0]
	if err := l.bufw.Flush(); err != nil {
		log.Printf("event log flush failed: %v", err)
	}
}

func (l *Logger) checkRotation() {
	if !l.enabled || l.maxSizeMB <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := l.file.Stat()
	if err != nil {
		return
	}
	if info.Size() < int64(l.maxSizeMB)*1024*1024 {
		return
	}
	l.rotateLocked()
}

func (l *Logger) rotateLocked() {
	l.flushLocked()
	_ = l.file.Close()

	rotated := fmt.Sprintf("%s.%s", l.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(l.path, rotated); err != nil {
		log.Printf("event log rotation failed: %v", err)
		return
	}
	if l.compressOld {
		go compressFile(rotated)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("event log reopen after rotation failed: %v", err)
		l.enabled = false
		return
	}
	l.file = file
	l.bufw = bufio.NewWriterSize(file, 64*1024)
	l.enc = json.NewEncoder(l.bufw)
}

// compressFile brotli-compresses a rotated log and removes the original.
func compressFile(path string) {
	src, err := os.Open(path)
	if err != nil {
		log.Printf("event log compression failed: %v", err)
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".br")
	if err != nil {
		log.Printf("event log compression failed: %v", err)
		return
	}
	defer dst.Close()

	bw := brotli.NewWriterLevel(dst, brotli.BestCompression)
	if _, err := io.Copy(bw, src); err != nil {
		log.Printf("event log compression failed: %v", err)
		bw.Close()
		return
	}
	if err := bw.Close(); err != nil {
		log.Printf("event log compression failed: %v", err)
		return
	}
	os.Remove(path)
}

func (l *Logger) cleanupOldLogs() {
	if !l.enabled || l.maxAgeDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -l.maxAgeDays)
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil {
		return
	}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(m)
		}
	}
}

// Flush forces buffered events to disk.
func (l *Logger) Flush() error {
	if !l.enabled {
		return nil
	}
	l.mu.Lock()
	l.flushLocked()
	l.mu.Unlock()
	return nil
}

// EventCount returns the number of events logged since start.
func (l *Logger) EventCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close stops the background flusher and closes the file.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if !l.enabled || l.file == nil {
			return
		}
		l.mu.Lock()
		l.flushLocked()
		err = l.file.Close()
		l.mu.Unlock()
	})
	return err
}
