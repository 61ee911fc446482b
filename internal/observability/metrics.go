// Package observability exposes crawl metrics in Prometheus format.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "catalogcrawl"

// Metrics holds the Prometheus collectors for a crawl.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestsRetried *prometheus.CounterVec
	RequestsFailed  *prometheus.CounterVec
	ResponsesTotal  *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec

	RecordsEmitted prometheus.Counter
	RecordsDropped prometheus.Counter
	RecordsStored  prometheus.Counter

	ActiveWorkers   prometheus.Gauge
	QueueDepth      prometheus.Gauge
	BytesDownloaded prometheus.Counter

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewMetrics registers all collectors on reg. A nil reg gets a private
// registry, so several engines can live in one process.
func NewMetrics(reg *prometheus.Registry, logger *slog.Logger) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests sent, by label",
		}, []string{"label"}),
		RequestsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_retried_total",
			Help:      "Requests rescheduled after a failure, by label",
		}, []string{"label"}),
		RequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_failed_total",
			Help:      "Requests that failed for good, by label",
		}, []string{"label"}),
		ResponsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "responses_total",
			Help:      "Responses received, by status class",
		}, []string{"class"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching a page",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"label"}),
		RecordsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_emitted_total",
			Help:      "Product records accepted by the pipeline",
		}),
		RecordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_dropped_total",
			Help:      "Product records dropped by the pipeline",
		}),
		RecordsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_stored_total",
			Help:      "Product records written to storage",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_workers",
			Help:      "Workers currently processing a request",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_depth",
			Help:      "Requests waiting in the frontier",
		}),
		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_downloaded_total",
			Help:      "Response bytes downloaded",
		}),
		gatherer: reg,
		logger:   logger.With("component", "metrics"),
	}
}

// ObserveResponse records one response status.
func (m *Metrics) ObserveResponse(status int) {
	m.ResponsesTotal.WithLabelValues(fmt.Sprintf("%dxx", status/100)).Inc()
}

// Handler serves the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StartServer serves metrics on path and a liveness probe on /health until
// ctx is cancelled.
func (m *Metrics) StartServer(ctx context.Context, port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv
}
