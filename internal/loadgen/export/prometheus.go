// Package export publishes run metrics to external systems: a Prometheus
// scrape endpoint while the run is live and InfluxDB once it has finished.
package export

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
)

const namespace = "catalog_loadgen"

// DefaultMetricsPath is where the scrape endpoint is mounted.
const DefaultMetricsPath = "/metrics"

// Source is the live view a Collector reads on every scrape.
// *engine.Engine satisfies it.
type Source interface {
	Snapshot() *metrics.Snapshot
	CheckSummaries() []metrics.CheckSummary
	Progress() float64
}

// Collector exposes a running load test as Prometheus metrics. Values are
// read from the source at scrape time, so nothing is recorded twice.
type Collector struct {
	source Source

	requests        *prometheus.Desc
	failedRequests  *prometheus.Desc
	transportErrors *prometheus.Desc
	iterations      *prometheus.Desc
	activeVUs       *prometheus.Desc
	latency         *prometheus.Desc
	stepLatency     *prometheus.Desc
	checks          *prometheus.Desc
	progress        *prometheus.Desc
	phase           *prometheus.Desc
}

// NewCollector creates a collector over source. constLabels are attached to
// every series, typically the run id and profile.
func NewCollector(source Source, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}

	return &Collector{
		source:          source,
		requests:        desc("http_reqs_total", "Requests issued against the catalog."),
		failedRequests:  desc("http_req_failed_total", "Requests with no response or a status outside 2xx/3xx."),
		transportErrors: desc("transport_errors_total", "Requests that never received a response."),
		iterations:      desc("iterations_total", "Completed workflow iterations."),
		activeVUs:       desc("active_vus", "Virtual users currently running the workflow."),
		latency:         desc("http_req_duration_seconds", "Request latency percentiles over the run.", "percentile"),
		stepLatency:     desc("step_duration_seconds", "Request latency percentiles per workflow step.", "step", "percentile"),
		checks:          desc("checks_total", "Check outcomes by check name.", "check", "result"),
		progress:        desc("progress_ratio", "Fraction of the ramp profile completed."),
		phase:           desc("phase", "Current run phase; the active phase has value 1.", "phase"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.failedRequests
	ch <- c.transportErrors
	ch <- c.iterations
	ch <- c.activeVUs
	ch <- c.latency
	ch <- c.stepLatency
	ch <- c.checks
	ch <- c.progress
	ch <- c.phase
}

// Collect implements prometheus.Collector. Nothing is emitted before the
// first run has started.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()
	if snap == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.failedRequests, prometheus.CounterValue, float64(snap.FailedRequests))
	ch <- prometheus.MustNewConstMetric(c.transportErrors, prometheus.CounterValue, float64(snap.TransportErrors))
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(snap.Iterations))
	ch <- prometheus.MustNewConstMetric(c.activeVUs, prometheus.GaugeValue, float64(snap.ActiveVUs))
	ch <- prometheus.MustNewConstMetric(c.progress, prometheus.GaugeValue, c.source.Progress())
	ch <- prometheus.MustNewConstMetric(c.phase, prometheus.GaugeValue, 1, string(snap.CurrentPhase))

	if snap.Latency.Count > 0 {
		for p, v := range percentiles(snap.Latency) {
			ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, v.Seconds(), p)
		}
	}
	for step, stats := range snap.Steps {
		if stats.Count == 0 {
			continue
		}
		for p, v := range percentiles(stats) {
			ch <- prometheus.MustNewConstMetric(c.stepLatency, prometheus.GaugeValue, v.Seconds(), step, p)
		}
	}

	for _, s := range c.source.CheckSummaries() {
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(s.Passes), s.Name, "pass")
		ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(s.Fails), s.Name, "fail")
	}
}

func percentiles(l metrics.LatencyStats) map[string]time.Duration {
	return map[string]time.Duration{
		"p50": l.P50,
		"p90": l.P90,
		"p95": l.P95,
		"p99": l.P99,
	}
}

// Handler returns a scrape handler serving only the collector's metrics.
func Handler(source Source, constLabels prometheus.Labels) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(source, constLabels)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// MetricsServer serves the scrape endpoint for the duration of a run.
type MetricsServer struct {
	server *http.Server
	logger logrus.FieldLogger
}

// NewMetricsServer creates a server on addr exposing source at
// DefaultMetricsPath.
func NewMetricsServer(addr string, source Source, constLabels prometheus.Labels, logger logrus.FieldLogger) (*MetricsServer, error) {
	handler, err := Handler(source, constLabels)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	mux := http.NewServeMux()
	mux.Handle(DefaultMetricsPath, handler)

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down.
func (s *MetricsServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.server.Addr).Info("metrics endpoint listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
