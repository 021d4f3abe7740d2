// Package telemetry provides Prometheus metrics, tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Drop reasons for MessagesDropped.
const (
	DropFiltered = "filtered"
	DropNoTiming = "no_timing"
)

// Metrics holds the counters of one archiving run. Each run registers on its
// own registry so a process (or a test) can run several without collisions.
type Metrics struct {
	Registry *prometheus.Registry

	// Counters
	JobsStarted     prometheus.Counter
	JobsSucceeded   prometheus.Counter
	JobsSkipped     prometheus.Counter
	JobsFailed      *prometheus.CounterVec // kind
	PagesFetched    prometheus.Counter
	MessagesFetched prometheus.Counter
	MessagesWritten prometheus.Counter
	MessagesDropped *prometheus.CounterVec // reason
	APIRetries      prometheus.Counter

	// Histograms (seconds)
	PageFetchDuration prometheus.Observer
	JobDuration       prometheus.Observer

	// Gauges
	JobsInFlight prometheus.Gauge
}

// NewMetrics registers the run metrics on reg, or on a fresh registry when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Registry:          reg,
		JobsStarted:       f.NewCounter(prometheus.CounterOpts{Name: "vodchat_jobs_started_total", Help: "Number of archival jobs started"}),
		JobsSucceeded:     f.NewCounter(prometheus.CounterOpts{Name: "vodchat_jobs_succeeded_total", Help: "Number of archival jobs finished"}),
		JobsSkipped:       f.NewCounter(prometheus.CounterOpts{Name: "vodchat_jobs_skipped_total", Help: "Number of jobs whose outputs were already complete"}),
		JobsFailed:        f.NewCounterVec(prometheus.CounterOpts{Name: "vodchat_jobs_failed_total", Help: "Number of archival jobs failed, by failure kind"}, []string{"kind"}),
		PagesFetched:      f.NewCounter(prometheus.CounterOpts{Name: "vodchat_pages_fetched_total", Help: "Number of comment pages fetched"}),
		MessagesFetched:   f.NewCounter(prometheus.CounterOpts{Name: "vodchat_messages_fetched_total", Help: "Number of chat messages received from the API"}),
		MessagesWritten:   f.NewCounter(prometheus.CounterOpts{Name: "vodchat_messages_written_total", Help: "Number of chat messages written to output files"}),
		MessagesDropped:   f.NewCounterVec(prometheus.CounterOpts{Name: "vodchat_messages_dropped_total", Help: "Number of chat messages not written, by reason"}, []string{"reason"}),
		APIRetries:        f.NewCounter(prometheus.CounterOpts{Name: "vodchat_api_retries_total", Help: "Number of retried Twitch API requests"}),
		PageFetchDuration: f.NewHistogram(prometheus.HistogramOpts{Name: "vodchat_page_fetch_duration_seconds", Help: "Comment page fetch duration seconds", Buckets: prometheus.DefBuckets}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{Name: "vodchat_job_duration_seconds", Help: "Archival job duration seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12)}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{Name: "vodchat_jobs_in_flight", Help: "Archival jobs currently running"}),
	}
}

// RetryNotifier returns a callback suitable for twitchapi.RetryPolicy.Notify.
func (m *Metrics) RetryNotifier(log *slog.Logger) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		m.APIRetries.Inc()
		log.Warn("twitch api request failed, retrying", slog.Duration("wait", wait), slog.Any("err", err))
	}
}

// Push sends the registry to a Prometheus Pushgateway, grouped by run id.
func (m *Metrics) Push(ctx context.Context, url, job, runID string, client *http.Client) error {
	p := push.New(url, job).Gatherer(m.Registry)
	if runID != "" {
		p = p.Grouping("run", runID)
	}
	if client != nil {
		p = p.Client(client)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
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

// LoggerWithCorr returns base (or the default logger) with a corr attribute if present.
func LoggerWithCorr(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := GetCorrelation(ctx); id != "" {
		return base.With(slog.String("corr", id))
	}
	return base
}
