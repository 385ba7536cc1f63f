package limiter

import (
	"errors"
	"time"
)

// Config holds admission-control settings. Immutable once the service is
// constructed.
type Config struct {
	// Window counting
	Window      time.Duration // length of one counting window
	MaxRequests int           // base quota per key per window
	BlockBase   time.Duration // block escalation unit on violation

	// Progressive delay
	ProgressiveDelay bool
	MaxDelay         time.Duration // cap on a single progressive delay

	// Custom composite-key generator. Receives the request, the resolved
	// identity, and the fingerprint. Nil uses identity|path|fingerprint.
	KeyFunc func(req *RequestInfo, identity, fingerprint string) string

	// Distributed-attack detection
	SuspicionThreshold int           // block once an identity's score exceeds this
	ClusterThreshold   int           // distinct identities per subnet before blocking
	ClusterHorizon     time.Duration // subnet entries idle longer than this expire
	AttackRetryAfter   time.Duration // retry-after reported on attack blocks

	// Dynamic quota penalties
	MaxIdentitiesPerKey int // beyond this, quota x0.3
	MaxAgentsPerKey     int // beyond this, quota x0.5

	// Garbage collection
	CleanupInterval     time.Duration
	GracePeriod         time.Duration // how long expired records linger
	MaxSuspicionEntries int           // prune the table once it grows past this
	MinSuspicionScore   int           // entries below this are pruned

	// OnLimit is invoked whenever a key transitions to blocked.
	OnLimit func(identity, key, reason string)
}

// DefaultConfig returns sensible defaults for a content site.
func DefaultConfig() *Config {
	return &Config{
		Window:              time.Minute,
		MaxRequests:         100,
		BlockBase:           time.Minute,
		ProgressiveDelay:    false,
		MaxDelay:            5 * time.Second,
		SuspicionThreshold:  10,
		ClusterThreshold:    20,
		ClusterHorizon:      10 * time.Minute,
		AttackRetryAfter:    5 * time.Minute,
		MaxIdentitiesPerKey: 5,
		MaxAgentsPerKey:     3,
		CleanupInterval:     time.Minute,
		GracePeriod:         5 * time.Minute,
		MaxSuspicionEntries: 10000,
		MinSuspicionScore:   2,
	}
}

// StrictConfig returns more aggressive protection for abuse-heavy routes.
func StrictConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxRequests = 30
	cfg.BlockBase = 5 * time.Minute
	cfg.ProgressiveDelay = true
	cfg.SuspicionThreshold = 5
	cfg.ClusterThreshold = 10
	cfg.MinSuspicionScore = 1
	return cfg
}

// validate fills zero values from defaults and rejects nonsense. A broken
// config is a construction-time error, never a per-request one.
func (c *Config) validate() error {
	def := DefaultConfig()

	if c.Window < 0 || c.MaxRequests < 0 || c.BlockBase < 0 {
		return errors.New("limiter: window, max requests, and block base must not be negative")
	}
	if c.Window == 0 {
		c.Window = def.Window
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = def.MaxRequests
	}
	if c.BlockBase == 0 {
		c.BlockBase = def.BlockBase
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.SuspicionThreshold <= 0 {
		c.SuspicionThreshold = def.SuspicionThreshold
	}
	if c.ClusterThreshold <= 0 {
		c.ClusterThreshold = def.ClusterThreshold
	}
	if c.ClusterHorizon <= 0 {
		c.ClusterHorizon = def.ClusterHorizon
	}
	if c.AttackRetryAfter <= 0 {
		c.AttackRetryAfter = def.AttackRetryAfter
	}
	if c.MaxIdentitiesPerKey <= 0 {
		c.MaxIdentitiesPerKey = def.MaxIdentitiesPerKey
	}
	if c.MaxAgentsPerKey <= 0 {
		c.MaxAgentsPerKey = def.MaxAgentsPerKey
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = def.GracePeriod
	}
	if c.MaxSuspicionEntries <= 0 {
		c.MaxSuspicionEntries = def.MaxSuspicionEntries
	}
	if c.MinSuspicionScore <= 0 {
		c.MinSuspicionScore = def.MinSuspicionScore
	}
	return nil
}
