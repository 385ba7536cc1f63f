// Package botsig matches user-agent strings against known automation
// signatures. The seed list is static; signatures can also be learned at
// runtime when attack detection independently flags a matching agent.
package botsig

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
)

// seedSignatures covers the common crawlers, scrapers, and HTTP clients.
// Matching is case-insensitive substring, so "GoogleBot/2.1" hits "googlebot".
var seedSignatures = []string{
	"googlebot",
	"bingbot",
	"slurp",
	"duckduckbot",
	"baiduspider",
	"yandexbot",
	"semrushbot",
	"ahrefsbot",
	"mj12bot",
	"petalbot",
	"bytespider",
	"headlesschrome",
	"phantomjs",
	"selenium",
	"puppeteer",
	"python-requests",
	"python-urllib",
	"scrapy",
	"go-http-client",
	"okhttp",
	"curl/",
	"wget/",
}

// automationHints is the generic heuristic used to decide whether a
// user-agent seen during an attack is worth learning as a signature.
var automationHints = []string{"bot", "crawler", "spider", "scraper", "curl", "wget", "python", "http-client", "headless"}

// Matcher holds the signature set. Safe for concurrent use.
type Matcher struct {
	mu         sync.RWMutex
	signatures map[string]struct{} // seed + file-loaded, lowercased
	learned    map[string]struct{} // runtime additions, lowercased
}

// NewMatcher builds a matcher from the seed list plus any extra signatures.
func NewMatcher(extra ...string) *Matcher {
	m := &Matcher{
		signatures: make(map[string]struct{}, len(seedSignatures)+len(extra)),
		learned:    make(map[string]struct{}),
	}
	for _, s := range seedSignatures {
		m.signatures[s] = struct{}{}
	}
	for _, s := range extra {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			m.signatures[s] = struct{}{}
		}
	}
	return m
}

// Match reports whether the user-agent contains any known signature.
func (m *Matcher) Match(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for sig := range m.signatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	for sig := range m.learned {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

// LooksAutomated applies the generic heuristic, independent of the
// signature set. Used to gate runtime learning.
func LooksAutomated(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, hint := range automationHints {
		if strings.Contains(ua, hint) {
			return true
		}
	}
	return false
}

// Learn adds a signature observed during an attack. Append-only; learned
// signatures survive a LoadFile replacing the seed set.
func (m *Matcher) Learn(userAgent string) {
	sig := strings.ToLower(strings.TrimSpace(userAgent))
	if sig == "" {
		return
	}

	m.mu.Lock()
	m.learned[sig] = struct{}{}
	m.mu.Unlock()
}

// Count returns the total number of signatures, seed and learned.
func (m *Matcher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.signatures) + len(m.learned)
}

// Signatures returns a sorted snapshot of all signatures.
func (m *Matcher) Signatures() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.signatures)+len(m.learned))
	for s := range m.signatures {
		out = append(out, s)
	}
	for s := range m.learned {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Strings(out)
	return out
}

// LoadFile replaces the seed set with a JSON array of signatures from disk.
// Learned signatures are kept.
func (m *Matcher) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}

	next := make(map[string]struct{}, len(list))
	for _, s := range list {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			next[s] = struct{}{}
		}
	}

	m.mu.Lock()
	m.signatures = next
	m.mu.Unlock()

	return nil
}
