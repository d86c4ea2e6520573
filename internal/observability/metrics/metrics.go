// Package metrics exposes Prometheus instrumentation for batch execution,
// proof verification and the HTTP API.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "merklebatch"

// Outcome labels for batches_total.
const (
	OutcomeExecuted = "executed"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
)

// Stage labels for side_effect_failures_total.
const (
	StageArchive  = "archive"
	StageDispatch = "dispatch"
)

// Collector owns a private registry so tests and embedded servers do not share
// global state.
type Collector struct {
	registry *prometheus.Registry

	batches         *prometheus.CounterVec
	records         prometheus.Counter
	verifications   *prometheus.CounterVec
	sideEffects     *prometheus.CounterVec
	rootUpdates     prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpErrors      *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	batchSizeRecord prometheus.Histogram
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches submitted for execution, by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_executed_total",
			Help:      "Records appended to the execution log.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Standalone proof verifications, by result.",
		}, []string{"result"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Failures archiving or dispatching an already decided batch.",
		}, []string{"stage"}),
		rootUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "root_updates_total",
			Help:      "Accepted commitment root replacements.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"handler", "method"}),
		batchSizeRecord: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_records",
			Help:      "Number of records per submitted batch.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
	}
	c.registry.MustRegister(
		c.batches,
		c.records,
		c.verifications,
		c.sideEffects,
		c.rootUpdates,
		c.httpRequests,
		c.httpErrors,
		c.httpLatency,
		c.batchSizeRecord,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveBatch records the outcome of one ExecuteBatch call.
func (c *Collector) ObserveBatch(outcome string, records int) {
	if c == nil {
		return
	}
	c.batches.WithLabelValues(outcome).Inc()
	c.batchSizeRecord.Observe(float64(records))
	if outcome == OutcomeExecuted {
		c.records.Add(float64(records))
	}
}

// ObserveVerification records a standalone verification result.
func (c *Collector) ObserveVerification(valid bool) {
	if c == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	c.verifications.WithLabelValues(result).Inc()
}

// ObserveSideEffectFailure counts an archive or dispatch failure.
func (c *Collector) ObserveSideEffectFailure(stage string) {
	if c == nil {
		return
	}
	c.sideEffects.WithLabelValues(stage).Inc()
}

// ObserveRootUpdate counts an accepted SetRoot.
func (c *Collector) ObserveRootUpdate() {
	if c == nil {
		return
	}
	c.rootUpdates.Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
