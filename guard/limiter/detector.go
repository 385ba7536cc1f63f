package limiter

import (
	"sync"
	"time"

	"gatekeeper/guard/identity"
)

// detector tracks the two distributed-attack signals: per-identity violation
// scores and per-subnet identity cardinality. Both tables are shared across
// keys, so all access goes through its own lock.
type detector struct {
	mu        sync.Mutex
	suspicion map[string]int
	clusters  map[string]*clusterEntry

	suspicionThreshold int
	clusterThreshold   int
	horizon            time.Duration
}

type clusterEntry struct {
	identities map[string]struct{}
	lastSeen   time.Time
}

func newDetector(cfg *Config) *detector {
	return &detector{
		suspicion:          make(map[string]int),
		clusters:           make(map[string]*clusterEntry),
		suspicionThreshold: cfg.SuspicionThreshold,
		clusterThreshold:   cfg.ClusterThreshold,
		horizon:            cfg.ClusterHorizon,
	}
}

// escalated reports whether the identity's violation score is past the
// blocking threshold.
func (d *detector) escalated(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspicion[id] > d.suspicionThreshold
}

// suspected reports whether the identity has any violation history. Used by
// the quota calculator, which only cares about presence.
func (d *detector) suspected(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspicion[id] > 0
}

// raise increments the identity's violation score and returns the new value.
func (d *detector) raise(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspicion[id]++
	return d.suspicion[id]
}

// forget clears all suspicion history for an identity (manual unblock).
func (d *detector) forget(id string) {
	d.mu.Lock()
	delete(d.suspicion, id)
	d.mu.Unlock()
}

// observe records the identity under its subnet and reports whether the
// subnet's distinct-identity count has reached the clustering threshold.
// Once a subnet clusters, every request from it trips this check until the
// entry ages out.
func (d *detector) observe(id string, now time.Time) (subnet string, clustered bool) {
	subnet = identity.Subnet(id)

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.clusters[subnet]
	if !ok {
		entry = &clusterEntry{identities: make(map[string]struct{})}
		d.clusters[subnet] = entry
	}
	entry.identities[id] = struct{}{}
	entry.lastSeen = now

	return subnet, len(entry.identities) >= d.clusterThreshold
}

// cleanup expires subnet entries idle past the horizon and, once the
// suspicion table exceeds its size bound, prunes low-score entries.
func (d *detector) cleanup(now time.Time, maxEntries, minScore int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for subnet, entry := range d.clusters {
		if now.Sub(entry.lastSeen) > d.horizon {
			delete(d.clusters, subnet)
		}
	}

	if len(d.suspicion) > maxEntries {
		for id, score := range d.suspicion {
			if score < minScore {
				delete(d.suspicion, id)
			}
		}
	}
}

// suspiciousCount returns the number of identities with violation history.
func (d *detector) suspiciousCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.suspicion)
}

// score returns the identity's current violation count.
func (d *detector) score(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspicion[id]
}
