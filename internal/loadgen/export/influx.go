package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/influxdb3"
	"github.com/sirupsen/logrus"

	"github.com/paklog/catalog-loadgen/internal/loadgen/config"
	"github.com/paklog/catalog-loadgen/internal/loadgen/engine"
	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
)

const writeBatchSize = 5000

// InfluxSink writes a finished run to InfluxDB 3: one point per time-series
// bucket, one per check and one summary point.
type InfluxSink struct {
	client      *influxdb3.Client
	measurement string
	logger      logrus.FieldLogger
}

// NewInfluxSink connects to the configured database.
func NewInfluxSink(cfg *config.InfluxConfig, logger logrus.FieldLogger) (*InfluxSink, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, errors.New("influx host is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.Host,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create influx client: %w", err)
	}

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = config.DefaultMeasurement
	}

	return &InfluxSink{
		client:      client,
		measurement: measurement,
		logger:      logger.WithField("database", cfg.Database),
	}, nil
}

// WriteResult writes result in batches. It stops at the first failed batch.
func (s *InfluxSink) WriteResult(ctx context.Context, result *engine.Result) error {
	points := ResultPoints(s.measurement, result)

	for start := 0; start < len(points); start += writeBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+writeBatchSize, len(points))
		if err := s.client.WritePoints(ctx, points[start:end]); err != nil {
			return fmt.Errorf("failed to write points %d-%d: %w", start, end, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"runId":  result.RunID,
		"points": len(points),
	}).Info("run exported to influx")
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() error {
	return s.client.Close()
}

// ResultPoints converts a result to points. Bucket points go to
// measurement, check points to measurement_checks and the summary to
// measurement_summary.
func ResultPoints(measurement string, result *engine.Result) []*influxdb3.Point {
	tags := map[string]string{
		"run_id":  result.RunID,
		"name":    result.Name,
		"profile": result.Profile,
	}
	withTags := func(extra map[string]string) map[string]string {
		out := make(map[string]string, len(tags)+len(extra))
		for k, v := range tags {
			if v != "" {
				out[k] = v
			}
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	points := make([]*influxdb3.Point, 0, len(result.TimeSeries)+8)
	for _, b := range result.TimeSeries {
		points = append(points, influxdb3.NewPoint(
			measurement,
			withTags(map[string]string{"phase": string(b.Phase)}),
			bucketFields(b),
			b.Timestamp,
		))
	}

	if result.Verdict == nil {
		return points
	}

	for _, c := range result.Verdict.Checks {
		points = append(points, influxdb3.NewPoint(
			measurement+"_checks",
			withTags(map[string]string{"check": c.Name}),
			map[string]any{
				"passes":             c.Passes,
				"fails":              c.Fails,
				"status_failures":    c.StatusFailures,
				"shape_failures":     c.ShapeFailures,
				"transport_failures": c.TransportFailures,
				"pass_rate":          c.PassRate,
			},
			result.EndTime,
		))
	}

	summary := map[string]any{
		"passed":          result.Verdict.OverallPassed,
		"aborted":         result.Aborted,
		"check_pass_rate": result.Verdict.CheckPassRate,
		"iterations":      result.Iterations,
		"duration_ms":     result.Duration.Milliseconds(),
		"vus_spawned":     int64(result.VUsSpawned),
	}
	if m := result.Metrics; m != nil {
		summary["requests"] = m.TotalRequests
		summary["failed_requests"] = m.FailedRequests
		summary["transport_errors"] = m.TransportErrors
		summary["rps"] = m.RPS
		summary["p95_ms"] = millis(m.Latency.P95)
		summary["p99_ms"] = millis(m.Latency.P99)
	}
	points = append(points, influxdb3.NewPoint(measurement+"_summary", withTags(nil), summary, result.EndTime))

	return points
}

func bucketFields(b *metrics.TimeBucket) map[string]any {
	return map[string]any{
		"requests":      b.IntervalRequests,
		"rps":           b.IntervalRPS,
		"error_rate":    b.IntervalErrorRate,
		"checks_failed": b.IntervalChecksFailed,
		"active_vus":    int64(b.ActiveVUs),
		"iterations":    b.TotalIterations,
		"latency_p50":   millis(b.LatencyP50),
		"latency_p90":   millis(b.LatencyP90),
		"latency_p95":   millis(b.LatencyP95),
		"latency_p99":   millis(b.LatencyP99),
		"latency_max":   millis(b.LatencyMax),
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
