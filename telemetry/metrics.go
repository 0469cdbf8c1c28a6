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
	MessagesScanned  prometheus.Counter
	PhraseMatches    prometheus.Counter
	MentionsRecorded prometheus.Counter
	MentionRetries   prometheus.Counter
	CommandsHandled  *prometheus.CounterVec
	LedgerErrors     *prometheus.CounterVec

	// Histograms (seconds)
	LedgerOpDuration *prometheus.HistogramVec

	// Gauges
	MeterGauge   prometheus.Gauge
	ChatInFlight prometheus.Gauge
	DBOpenConns  prometheus.Gauge
	DBInUseConns prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesScanned = promauto.NewCounter(prometheus.CounterOpts{Name: "masa_messages_scanned_total", Help: "Chat messages passed to the phrase matcher"})
		PhraseMatches = promauto.NewCounter(prometheus.CounterOpts{Name: "masa_phrase_matches_total", Help: "Chat messages that matched the phrase"})
		MentionsRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "masa_mentions_recorded_total", Help: "Mention events committed to the ledger"})
		MentionRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "masa_mention_retries_total", Help: "RecordMention retries after storage contention"})
		CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "masa_chat_commands_total", Help: "Chat commands handled by name"}, []string{"command"})
		LedgerErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "masa_ledger_errors_total", Help: "Ledger operation failures by operation and class"}, []string{"op", "class"})
		LedgerOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "masa_ledger_op_duration_seconds",
			Help:    "Ledger operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"})
		MeterGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "masa_meter", Help: "Last polled total of mention events"})
		ChatInFlight = promauto.NewGauge(prometheus.GaugeOpts{Name: "masa_chat_in_flight", Help: "Chat messages currently being handled"})
		DBOpenConns = promauto.NewGauge(prometheus.GaugeOpts{Name: "masa_db_open_connections", Help: "Open database connections"})
		DBInUseConns = promauto.NewGauge(prometheus.GaugeOpts{Name: "masa_db_in_use_connections", Help: "Database connections in use"})
	})
}

// SetMeter records the last polled meter value.
func SetMeter(n int64) {
	if MeterGauge != nil {
		MeterGauge.Set(float64(n))
	}
}

// SetChatInFlight records the number of chat handlers currently running.
func SetChatInFlight(n int) {
	if ChatInFlight != nil {
		ChatInFlight.Set(float64(n))
	}
}

// UpdateDatabasePoolMetrics records connection pool occupancy.
func UpdateDatabasePoolMetrics(open, inUse int) {
	if DBOpenConns != nil {
		DBOpenConns.Set(float64(open))
	}
	if DBInUseConns != nil {
		DBInUseConns.Set(float64(inUse))
	}
}

// IncCounter increments c if it has been registered.
func IncCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncCommand counts a handled chat command.
func IncCommand(name string) {
	if CommandsHandled != nil {
		CommandsHandled.WithLabelValues(name).Inc()
	}
}

// ObserveLedgerOp records latency for op and, when class is non-empty, a failure.
func ObserveLedgerOp(op string, start time.Time, class string) {
	if LedgerOpDuration != nil {
		LedgerOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if class != "" && LedgerErrors != nil {
		LedgerErrors.WithLabelValues(op, class).Inc()
	}
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

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
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
