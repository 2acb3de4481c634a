package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"RSSBouncer/internal/domain"
)

const namespace = "rssbouncer"

// Recorder owns a private registry so tests and one-shot runs never touch
// the global default registry.
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	routed        *prometheus.CounterVec
	persisted     prometheus.Counter
	alreadySeen   prometheus.Counter
	expired       prometheus.Counter
	failedFeeds   prometheus.Counter
	failedBatches prometheus.Counter
	failedEntries prometheus.Counter
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_routed_total",
			Help:      "Entries classified and routed, by collection.",
		}, []string{"collection"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookmarks_saved_total",
			Help:      "Bookmarks written to the bookmarking service.",
		}),
		alreadySeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_already_seen_total",
			Help:      "Entries dropped because a processed marker exists.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_expired_total",
			Help:      "Entries marked without classification because they are too old.",
		}),
		failedFeeds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feeds_failed_total",
			Help:      "Feeds that could not be fetched or processed.",
		}),
		failedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Batches whose classification failed after retries.",
		}),
		failedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_failed_total",
			Help:      "Entries left unmarked because routing failed.",
		}),
	}

	r.registry.MustRegister(
		r.runs, r.runDuration, r.routed, r.persisted, r.alreadySeen,
		r.expired, r.failedFeeds, r.failedBatches, r.failedEntries,
	)
	return r
}

// ObserveRun folds a finished run summary into the collectors.
func (r *Recorder) ObserveRun(summary *domain.RunSummary) {
	if r == nil || summary == nil {
		return
	}

	outcome := "ok"
	switch {
	case summary.Aborted:
		outcome = "aborted"
	case summary.Partial:
		outcome = "partial"
	case !summary.Succeeded():
		outcome = "failed"
	}
	r.runs.WithLabelValues(outcome).Inc()

	if !summary.FinishedAt.IsZero() {
		r.runDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	}
	for collection, n := range summary.Routed {
		r.routed.WithLabelValues(string(collection)).Add(float64(n))
	}
	r.persisted.Add(float64(summary.Persisted))
	r.alreadySeen.Add(float64(summary.AlreadySeen))
	r.expired.Add(float64(summary.Expired))
	r.failedFeeds.Add(float64(len(summary.FailedFeeds)))
	r.failedBatches.Add(float64(len(summary.FailedBatches)))
	r.failedEntries.Add(float64(len(summary.FailedEntries)))
}

// Handler exposes the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Push sends the registry to a Prometheus Pushgateway; used by one-shot runs.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}

	pusher := push.New(gatewayURL, job).
		Gatherer(r.registry).
		Client(&http.Client{Timeout: 10 * time.Second})
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
