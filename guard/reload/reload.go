// Package reload watches the override-rules and bot-signature files and
// applies external edits without a restart.
package reload

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"gatekeeper/guard/botsig"
	"gatekeeper/guard/metrics"
	"gatekeeper/guard/rules"

	"github.com/fsnotify/fsnotify"
)

// Config holds reload manager configuration.
type Config struct {
	RulesStore     *rules.Store
	Signatures     *botsig.Matcher
	SignaturesPath string
	DebounceTime   time.Duration // minimum time between reloads of one file
}

// Manager watches files and triggers reloads with debouncing.
type Manager struct {
	watcher    *fsnotify.Watcher
	rulesStore *rules.Store
	sigs       *botsig.Matcher
	sigsPath   string

	mu         sync.Mutex
	lastReload map[string]time.Time
	debounce   time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager starts watching the configured files. Files that do not exist
// yet are skipped with a warning; the manager still runs for the rest.
func NewManager(cfg Config) (*Manager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	if cfg.DebounceTime == 0 {
		cfg.DebounceTime = 2 * time.Second
	}

	m := &Manager{
		watcher:    watcher,
		rulesStore: cfg.RulesStore,
		sigs:       cfg.Signatures,
		sigsPath:   cfg.SignaturesPath,
		lastReload: make(map[string]time.Time),
		debounce:   cfg.DebounceTime,
		done:       make(chan struct{}),
	}

	if cfg.RulesStore != nil && cfg.RulesStore.Path() != "" {
		if err := watcher.Add(cfg.RulesStore.Path()); err != nil {
			log.Printf("Warning: cannot watch override rules file: %v", err)
		} else {
			log.Printf("Watching override rules file: %s", cfg.RulesStore.Path())
		}
	}
	if cfg.Signatures != nil && cfg.SignaturesPath != "" {
		if err := watcher.Add(cfg.SignaturesPath); err != nil {
			log.Printf("Warning: cannot watch bot signatures file: %v", err)
		} else {
			log.Printf("Watching bot signatures file: %s", cfg.SignaturesPath)
		}
	}

	go m.watch()
	return m, nil
}

func (m *Manager) watch() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.handleChange(event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) handleChange(path string) {
	m.mu.Lock()
	last := m.lastReload[path]
	now := time.Now()
	if now.Sub(last) < m.debounce {
		m.mu.Unlock()
		return
	}
	m.lastReload[path] = now
	m.mu.Unlock()

	base := filepath.Base(path)
	switch {
	case m.rulesStore != nil && path == m.rulesStore.Path():
		if err := m.rulesStore.Reload(); err != nil {
			log.Printf("Override rules reload failed: %v", err)
			return
		}
		metrics.ConfigReloads.WithLabelValues("rules").Inc()
		log.Printf("Override rules reloaded from %s", base)
	case m.sigs != nil && path == m.sigsPath:
		if err := m.sigs.LoadFile(path); err != nil {
			log.Printf("Bot signatures reload failed: %v", err)
			return
		}
		metrics.ConfigReloads.WithLabelValues("signatures").Inc()
		log.Printf("Bot signatures reloaded from %s", base)
	}
}

// Close stops watching.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = m.watcher.Close()
	})
	return err
}
