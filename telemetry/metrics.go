// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsProcessed prometheus.Counter
	CommandsDuplicate prometheus.Counter
	CommandsErrored   prometheus.Counter
	CommandsIgnored   prometheus.Counter
	PointsAwarded     prometheus.Counter
	PointsSpent       prometheus.Counter
	ReconcileRuns     prometheus.Counter
	PublishFailures   prometheus.Counter
	SignalsEmitted    prometheus.Counter

	// Histograms (seconds)
	ReconcileDuration prometheus.Observer
	CommandDuration   prometheus.Observer

	// Gauges
	RosterSize prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_commands_processed_total", Help: "Number of chat commands fully processed"})
		CommandsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_commands_duplicate_total", Help: "Number of deliveries dropped by the dedup journal"})
		CommandsErrored = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_commands_errored_total", Help: "Number of commands whose handler failed unexpectedly"})
		CommandsIgnored = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_commands_ignored_total", Help: "Number of chat lines with no matching command"})
		PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_points_awarded_total", Help: "Lurk points paid out by reconciliation passes"})
		PointsSpent = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_points_spent_total", Help: "Points debited by spend commands"})
		ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_reconcile_runs_total", Help: "Number of roster reconciliation passes"})
		PublishFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_publish_failures_total", Help: "Chat publish attempts that failed"})
		SignalsEmitted = promauto.NewCounter(prometheus.CounterOpts{Name: "lurkbot_signals_emitted_total", Help: "Overlay signal lines published"})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "lurkbot_reconcile_duration_seconds", Help: "Reconciliation pass duration seconds", Buckets: prometheus.DefBuckets})
		CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "lurkbot_command_duration_seconds", Help: "Command processing duration seconds", Buckets: prometheus.DefBuckets})
		RosterSize = promauto.NewGauge(prometheus.GaugeOpts{Name: "lurkbot_roster_size", Help: "Participants seen in the most recent roster fetch"})
	})
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
