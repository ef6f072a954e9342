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
	RequestsTotal     prometheus.Counter
	RequestErrors     *prometheus.CounterVec // label: kind
	ProviderRotations prometheus.Counter
	RepliesSent       prometheus.Counter
	DigestCycles      prometheus.Counter

	// Histograms (seconds)
	RequestDuration prometheus.Observer

	// Gauges
	DialogueQueueDepth prometheus.Gauge
	DigestBufferDepth  prometheus.Gauge
	SuspendedGauge     prometheus.Gauge // 1=suspended, 0=running
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RequestsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "gpt_requests_total", Help: "Number of provider generation requests issued"})
		RequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "gpt_request_errors_total", Help: "Number of failed provider requests by classified kind"}, []string{"kind"})
		ProviderRotations = promauto.NewCounter(prometheus.CounterOpts{Name: "gpt_provider_rotations_total", Help: "Number of provider pool rotations"})
		RepliesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_replies_sent_total", Help: "Number of replies emitted to chat"})
		DigestCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "digest_cycles_total", Help: "Number of digest batches sent to the provider"})
		RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "gpt_request_duration_seconds", Help: "Provider request duration seconds", Buckets: prometheus.DefBuckets})
		DialogueQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "dialogue_queue_depth", Help: "Current number of queued direct messages"})
		DigestBufferDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "digest_buffer_depth", Help: "Current number of buffered ambient chat lines"})
		SuspendedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_suspended", Help: "Bot suspended=1 running=0"})
	})
}

// ObserveRequest records one provider request and its duration.
func ObserveRequest(d time.Duration) {
	if RequestsTotal != nil {
		RequestsTotal.Inc()
	}
	if RequestDuration != nil {
		RequestDuration.Observe(d.Seconds())
	}
}

// CountRequestError increments the error counter under the classified kind
// label ("rate_limited", "unavailable", "safety", "unknown", "other").
func CountRequestError(kind string) {
	if RequestErrors == nil || kind == "" {
		return
	}
	RequestErrors.WithLabelValues(kind).Inc()
}

// SetDialogueQueueDepth records the direct-reply queue depth.
func SetDialogueQueueDepth(n int) {
	if DialogueQueueDepth != nil {
		DialogueQueueDepth.Set(float64(n))
	}
}

// SetDigestBufferDepth records the digest buffer depth.
func SetDigestBufferDepth(n int) {
	if DigestBufferDepth != nil {
		DigestBufferDepth.Set(float64(n))
	}
}

// UpdateSuspendedGauge sets the gauge to 1 when suspended.
func UpdateSuspendedGauge(suspended bool) {
	if SuspendedGauge != nil {
		if suspended {
			SuspendedGauge.Set(1)
		} else {
			SuspendedGauge.Set(0)
		}
	}
}

// TimeFunc measures the duration of fn and records it in obs if non-nil.
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

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
