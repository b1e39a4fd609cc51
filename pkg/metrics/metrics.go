// Package metrics registers the process-wide Prometheus collectors.
// Collectors live here rather than in their owning packages so the
// exposition surface is visible in one place.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lnmt"

var (
	// SchedulerTicks counts evaluated scheduler ticks.
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Scheduler ticks evaluated.",
	})

	// JobRuns counts finished job runs by terminal status.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Job runs by terminal status.",
	}, []string{"status"})

	// JobRunDuration observes wall time of finished runs.
	JobRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_run_duration_seconds",
		Help:      "Wall time of finished job runs.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// DispatchSkips counts admitted jobs skipped because no worker was idle.
	DispatchSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "dispatch_skips_total",
		Help:      "Admitted jobs skipped due to worker saturation.",
	})

	// DevicesOnline tracks the current online device count.
	DevicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "devices_online",
		Help:      "Devices currently considered online.",
	})

	// SessionsOpen tracks the number of open usage sessions.
	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "sessions_open",
		Help:      "Usage sessions currently open.",
	})

	// LeaseParseErrors counts malformed lease file lines.
	LeaseParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "lease_parse_errors_total",
		Help:      "Malformed lease file lines skipped.",
	})

	// ThresholdBreaches counts VLAN usage threshold breach events.
	ThresholdBreaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "threshold_breaches_total",
		Help:      "VLAN usage threshold breaches by direction.",
	}, []string{"direction"})

	// ProbeStatus exposes the latest probe result (0 ok, 1 warn, 2 fail).
	ProbeStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "health",
		Name:      "probe_status",
		Help:      "Latest probe status (0 ok, 1 warn, 2 fail).",
	}, []string{"probe"})

	// SelfHealAttempts counts recovery dispatches by module.
	SelfHealAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "health",
		Name:      "self_heal_attempts_total",
		Help:      "Self-heal recovery dispatches by module.",
	}, []string{"module"})

	// LoginFailures counts rejected login attempts.
	LoginFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "login_failures_total",
		Help:      "Rejected login attempts.",
	})

	// Lockouts counts account lockouts applied.
	Lockouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "lockouts_total",
		Help:      "Account lockouts applied.",
	})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "API requests by route and status class.",
	}, []string{"route", "class"})
)
