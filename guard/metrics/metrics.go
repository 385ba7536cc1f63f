package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission decision metrics
	RequestsAllowed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_requests_allowed_total",
			Help: "Total number of requests admitted by the guard",
		},
	)

	RequestsLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_requests_limited_total",
			Help: "Total number of requests rejected by the guard",
		},
		[]string{"reason"},
	)

	DecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_decision_duration_seconds",
			Help:    "Admission decision duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RequestsDelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_requests_delayed_total",
			Help: "Total number of requests slowed by progressive delay",
		},
	)

	// State gauges, refreshed on each cleanup pass
	ActiveKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_active_keys",
			Help: "Number of live window records",
		},
	)

	SuspiciousIdentities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_suspicious_identities",
			Help: "Number of identities with a suspicion score",
		},
	)

	BotSignatures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_bot_signatures",
			Help: "Number of bot signatures, seeded plus learned",
		},
	)

	// Override metrics
	ManualBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_manual_blocks_total",
			Help: "Total number of manual identity blocks applied",
		},
	)

	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_config_reloads_total",
			Help: "Total number of rule and signature file reloads",
		},
		[]string{"file"},
	)
)
