// Package limiter implements the per-request admission decision: composite
// keys from identity, path, and header fingerprint; fixed-window counting
// with dynamic quotas; bot-signature short-circuits; distributed-attack
// clustering; blocking with capped escalation; and optional progressive
// delay as soft backpressure.
//
// All state lives on a Service instance. There is no cross-process
// coordination; scaling past one process means promoting the window store
// and the suspicion/cluster tables to an external shared store.
package limiter

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"gatekeeper/guard/botsig"
	"gatekeeper/guard/events"
	"gatekeeper/guard/fingerprint"
	"gatekeeper/guard/identity"
	"gatekeeper/guard/metrics"
	"gatekeeper/guard/rules"
)

// Rejection reasons reported in decisions.
const (
	ReasonBot       = "bot traffic detected"
	ReasonAttack    = "distributed attack detected"
	ReasonBlocked   = "temporarily blocked"
	ReasonRateLimit = "rate limit exceeded"
)

// RequestInfo is the framework-free view of a request the guard consumes.
type RequestInfo struct {
	RemoteAddr string
	Path       string
	Method     string
	Headers    http.Header
}

// Decision is the admission verdict for one request.
type Decision struct {
	Limited    bool
	Reason     string
	RetryAfter time.Duration
	Remaining  int // quota left in the window; -1 when not applicable
}

// record is one window's state for a composite key. Mutations happen under
// the record's own lock so concurrent requests on different keys never
// contend.
type record struct {
	mu            sync.Mutex
	count         int
	windowResetAt time.Time
	blockedUntil  time.Time
	firstSeen     time.Time
	lastSeen      time.Time
	fingerprint   string
	identities    map[string]struct{}
	agents        map[string]struct{}
}

// Service is a self-contained admission controller.
type Service struct {
	cfg *Config

	mu      sync.RWMutex
	records map[string]*record

	det   *detector
	bots  *botsig.Matcher
	rules *rules.Store
	log   *events.Logger

	now func() time.Time

	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures optional collaborators on construction.
type Option func(*Service)

// WithSignatures supplies a shared bot-signature matcher, typically one
// backed by a hot-reloaded signature file.
func WithSignatures(m *botsig.Matcher) Option {
	return func(s *Service) { s.bots = m }
}

// WithRules supplies a persistent manual-override store.
func WithRules(r *rules.Store) Option {
	return func(s *Service) { s.rules = r }
}

// WithEvents supplies an attack-event logger.
func WithEvents(l *events.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a Service. A nil config gets defaults; an invalid one is a
// construction-time error.
func New(cfg *Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		records: make(map[string]*record),
		det:     newDetector(cfg),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.bots == nil {
		s.bots = botsig.NewMatcher()
	}
	if s.log == nil {
		// No-op logger so the hot path never nil-checks.
		l, err := events.NewLogger(&events.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		s.log = l
	}
	if s.rules == nil {
		// Memory-only store so manual overrides always have somewhere to live.
		r, err := rules.NewStore("", false)
		if err != nil {
			return nil, err
		}
		s.rules = r
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s, nil
}

// Check runs the full admission decision for one request. It never returns
// an error: parsing gaps fail open, quota and block conditions fail closed.
func (s *Service) Check(ctx context.Context, req *RequestInfo) Decision {
	start := time.Now()
	defer func() {
		metrics.DecisionDuration.Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	id := identity.Resolve(req.Headers, req.RemoteAddr)
	ua := req.Headers.Get("User-Agent")

	// Operator overrides come first: an allowed identity bypasses every
	// check, a manually blocked one is rejected before any counting.
	if s.rules.IsAllowed(id) {
		metrics.RequestsAllowed.Inc()
		return Decision{Remaining: -1}
	}
	if blocked, until := s.rules.IsBlocked(id); blocked {
		retry := s.cfg.AttackRetryAfter
		if !until.IsZero() {
			retry = until.Sub(now)
		}
		metrics.RequestsLimited.WithLabelValues("manual").Inc()
		return Decision{Limited: true, Reason: ReasonBlocked, RetryAfter: retry}
	}

	// Bot signatures short-circuit without touching any counter.
	if s.bots.Match(ua) {
		metrics.RequestsLimited.WithLabelValues("bot").Inc()
		s.log.Log(events.Event{
			EventType: events.TypeBot,
			Identity:  id,
			Reason:    ReasonBot,
			Path:      req.Path,
			Method:    req.Method,
			UserAgent: ua,
		})
		return Decision{Limited: true, Reason: ReasonBot, RetryAfter: s.cfg.Window}
	}

	// Distributed-attack heuristics, both evaluated before per-key counting.
	if s.det.escalated(id) {
		if ua != "" && botsig.LooksAutomated(ua) {
			s.bots.Learn(ua)
		}
		metrics.RequestsLimited.WithLabelValues("attack").Inc()
		s.log.Log(events.Event{
			EventType:      events.TypeDistributed,
			Identity:       id,
			Reason:         ReasonAttack,
			SuspicionScore: s.det.score(id),
			UserAgent:      ua,
		})
		return Decision{Limited: true, Reason: ReasonAttack, RetryAfter: s.cfg.AttackRetryAfter}
	}
	if id != identity.Unknown {
		if subnet, clustered := s.det.observe(id, now); clustered {
			metrics.RequestsLimited.WithLabelValues("attack").Inc()
			s.log.Log(events.Event{
				EventType: events.TypeDistributed,
				Identity:  id,
				Subnet:    subnet,
				Reason:    ReasonAttack,
				UserAgent: ua,
			})
			return Decision{Limited: true, Reason: ReasonAttack, RetryAfter: s.cfg.AttackRetryAfter}
		}
	}

	fp := fingerprint.Generate(req.Method, req.Headers)
	key := s.key(req, id, fp)
	rec := s.getOrCreate(key, fp, now)

	rec.mu.Lock()

	if rec.blockedUntil.After(now) {
		retry := rec.blockedUntil.Sub(now)
		rec.mu.Unlock()
		metrics.RequestsLimited.WithLabelValues("blocked").Inc()
		return Decision{Limited: true, Reason: ReasonBlocked, RetryAfter: retry}
	}

	rec.lastSeen = now
	rec.identities[id] = struct{}{}
	if ua != "" {
		rec.agents[ua] = struct{}{}
	}

	limit := s.effectiveQuota(id, rec)
	rec.count++

	if rec.count > limit {
		overage := rec.count - limit
		if overage > 10 {
			overage = 10
		}
		rec.blockedUntil = now.Add(time.Duration(overage) * s.cfg.BlockBase)
		retry := rec.windowResetAt.Sub(now)
		count := rec.count
		idCount := len(rec.identities)
		agentCount := len(rec.agents)
		blockSec := int(rec.blockedUntil.Sub(now).Seconds())
		rec.mu.Unlock()

		score := s.det.raise(id)
		metrics.RequestsLimited.WithLabelValues("rate_limit").Inc()
		s.log.Log(events.Event{
			EventType:      events.TypeRateLimit,
			Identity:       id,
			Key:            key,
			Reason:         ReasonRateLimit,
			RequestCount:   count,
			Limit:          limit,
			Overage:        overage,
			SuspicionScore: score,
			IdentityCount:  idCount,
			AgentCount:     agentCount,
			BlockDuration:  blockSec,
			Path:           req.Path,
			Method:         req.Method,
			UserAgent:      ua,
		})
		if s.cfg.OnLimit != nil {
			s.cfg.OnLimit(id, key, ReasonRateLimit)
		}
		return Decision{Limited: true, Reason: ReasonRateLimit, RetryAfter: retry}
	}

	count := rec.count
	rec.mu.Unlock()

	if s.cfg.ProgressiveDelay {
		s.delay(ctx, count, limit)
	}

	metrics.RequestsAllowed.Inc()
	return Decision{Remaining: limit - count}
}

// key builds the composite key, falling back to "unknown" for an empty path
// so malformed requests still aggregate somewhere.
func (s *Service) key(req *RequestInfo, id, fp string) string {
	if s.cfg.KeyFunc != nil {
		return s.cfg.KeyFunc(req, id, fp)
	}
	path := req.Path
	if path == "" {
		path = "unknown"
	}
	return fmt.Sprintf("%s|%s|%s", id, path, fp)
}

// getOrCreate fetches the record for a key, replacing it with a fresh one
// when its window has elapsed and no block is active.
func (s *Service) getOrCreate(key, fp string, now time.Time) *record {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()

	if ok && !s.expired(rec, now) {
		return rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double check after acquiring the write lock.
	if rec, ok = s.records[key]; ok && !s.expired(rec, now) {
		return rec
	}

	rec = &record{
		count:         0,
		windowResetAt: now.Add(s.cfg.Window),
		firstSeen:     now,
		lastSeen:      now,
		fingerprint:   fp,
		identities:    make(map[string]struct{}),
		agents:        make(map[string]struct{}),
	}
	s.records[key] = rec
	return rec
}

// expired reports whether a record's window has elapsed with no active
// block, meaning it must be replaced rather than counted against.
func (s *Service) expired(rec *record, now time.Time) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return !now.Before(rec.windowResetAt) && !rec.blockedUntil.After(now)
}

// effectiveQuota applies the penalty multipliers. Callers hold rec.mu.
func (s *Service) effectiveQuota(id string, rec *record) int {
	quota := float64(s.cfg.MaxRequests)
	if s.det.suspected(id) {
		quota *= 0.5
	}
	if len(rec.identities) > s.cfg.MaxIdentitiesPerKey {
		quota *= 0.3
	}
	if len(rec.agents) > s.cfg.MaxAgentsPerKey {
		quota *= 0.5
	}
	n := int(quota)
	if n < 0 {
		n = 0
	}
	return n
}

// delay suspends the caller when the window is 80-100% consumed, growing
// exponentially with proximity to the ceiling. It aborts early if the
// client goes away; the request was being admitted regardless.
func (s *Service) delay(ctx context.Context, count, limit int) {
	if limit <= 0 || count > limit {
		return
	}
	frac := float64(count) / float64(limit)
	if frac < 0.8 {
		return
	}

	proximity := (frac - 0.8) / 0.2 // 0 at 80%, 1 at the ceiling
	d := time.Duration(float64(100*time.Millisecond) * math.Pow(2, proximity*5))
	if d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}

	metrics.RequestsDelayed.Inc()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Stats is the read-only introspection snapshot.
type Stats struct {
	ActiveKeys           int   `json:"activeKeys"`
	TotalRequests        int   `json:"totalRequests"`
	SuspiciousIdentities int   `json:"suspiciousIdentities"`
	BotSignatures        int   `json:"botSignatures"`
	ManualBlocks         int   `json:"manualBlocks"`
	EventsLogged         int64 `json:"eventsLogged"`
}

// GetStats aggregates current counters across all live records.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	total := 0
	keys := len(s.records)
	for _, rec := range s.records {
		rec.mu.Lock()
		total += rec.count
		rec.mu.Unlock()
	}
	s.mu.RUnlock()

	blocked, _ := s.rules.Counts()

	st := Stats{
		ActiveKeys:           keys,
		TotalRequests:        total,
		SuspiciousIdentities: s.det.suspiciousCount(),
		BotSignatures:        s.bots.Count(),
		ManualBlocks:         blocked,
	}
	if s.log != nil {
		st.EventsLogged = s.log.EventCount()
	}
	return st
}

// IdentityInfo returns what the guard currently knows about one identity.
func (s *Service) IdentityInfo(id string) map[string]interface{} {
	blocked, until := s.rules.IsBlocked(id)

	matching := 0
	s.mu.RLock()
	for _, rec := range s.records {
		rec.mu.Lock()
		if _, ok := rec.identities[id]; ok {
			matching++
		}
		rec.mu.Unlock()
	}
	s.mu.RUnlock()

	info := map[string]interface{}{
		"identity":         id,
		"suspicion_score":  s.det.score(id),
		"manually_blocked": blocked,
		"active_keys":      matching,
		"allowed":          s.rules.IsAllowed(id),
	}
	if blocked && !until.IsZero() {
		info["blocked_until"] = until.Format(time.RFC3339)
	}
	return info
}

// BlockIdentity force-blocks an identity for the given duration, covering
// every path and fingerprint it uses.
func (s *Service) BlockIdentity(id string, d time.Duration) error {
	if err := s.rules.Block(id, "manual override", "admin", d); err != nil {
		return err
	}
	metrics.ManualBlocks.Inc()
	s.log.Log(events.Event{
		EventType:     events.TypeManualBlock,
		Identity:      id,
		Reason:        "manual block",
		BlockDuration: int(d.Seconds()),
	})
	return nil
}

// UnblockIdentity removes a manual block, drops the identity's window
// records, and clears its suspicion history.
func (s *Service) UnblockIdentity(id string) error {
	if err := s.rules.Unblock(id); err != nil {
		return err
	}
	s.det.forget(id)

	s.mu.Lock()
	for key, rec := range s.records {
		rec.mu.Lock()
		_, seen := rec.identities[id]
		rec.mu.Unlock()
		if seen {
			delete(s.records, key)
		}
	}
	s.mu.Unlock()

	return nil
}

// AllowIdentity exempts an identity from all checks.
func (s *Service) AllowIdentity(id, reason string) error {
	return s.rules.Allow(id, reason, "admin")
}

// RunCleanup performs one garbage-collection pass: expired unblocked
// records go away, the suspicion table is pruned past its size bound, and
// stale subnet clusters expire. Idempotent; safe to call from tests.
func (s *Service) RunCleanup() {
	now := s.now()

	s.mu.Lock()
	for key, rec := range s.records {
		rec.mu.Lock()
		stale := now.After(rec.windowResetAt.Add(s.cfg.GracePeriod)) && !rec.blockedUntil.After(now)
		rec.mu.Unlock()
		if stale {
			delete(s.records, key)
		}
	}
	keys := len(s.records)
	s.mu.Unlock()

	s.det.cleanup(now, s.cfg.MaxSuspicionEntries, s.cfg.MinSuspicionScore)
	s.rules.Prune()

	metrics.ActiveKeys.Set(float64(keys))
	metrics.SuspiciousIdentities.Set(float64(s.det.suspiciousCount()))
	metrics.BotSignatures.Set(float64(s.bots.Count()))
}

func (s *Service) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.RunCleanup()
		case <-s.done:
			return
		}
	}
}

// Signatures exposes the bot-signature matcher, for reload wiring.
func (s *Service) Signatures() *botsig.Matcher {
	return s.bots
}

// Rules exposes the override store, for reload wiring.
func (s *Service) Rules() *rules.Store {
	return s.rules
}

// Close stops the garbage collector. The service stays usable for checks
// afterwards, but nothing expires anymore.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.cleanup.Stop()
		close(s.done)
	})
	return nil
}
