package metrics

import (
	"time"
)

// Built-in metric names.
const (
	MetricReqDuration       = "http_req_duration"
	MetricIterationDuration = "iteration_duration"
	MetricReqs              = "http_reqs"
	MetricReqFailed         = "http_req_failed"
	MetricIterations        = "iterations"
	MetricChecks            = "checks"
)

// Tag keys used by sub-metrics.
const (
	TagStep  = "step"
	TagCheck = "check"
)

// SubMetric returns the name of a tagged sub-metric, e.g.
// http_req_duration{step:product created}.
func SubMetric(metric, tag, value string) string {
	return metric + "{" + tag + ":" + value + "}"
}

// Phase represents a phase of the load test.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"

	// PhaseGraceful is entered when the profile is over and the remaining
	// VUs are finishing their in-flight steps.
	PhaseGraceful Phase = "graceful-stop"

	PhaseDone Phase = "done"
)

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles holds latency percentile values.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64 `json:"totalRequests"`
	SuccessRequests int64 `json:"successRequests"`
	FailedRequests  int64 `json:"failedRequests"`

	// TransportErrors counts requests that never received a response.
	TransportErrors int64 `json:"transportErrors"`
	TotalBytes      int64 `json:"totalBytes"`

	Latency   LatencyStats `json:"latency"`
	Iteration LatencyStats `json:"iteration"`

	// Steps holds http_req_duration broken down by workflow step.
	Steps map[string]LatencyStats `json:"steps,omitempty"`

	Iterations   int64   `json:"iterations"`
	ChecksPassed int64   `json:"checksPassed"`
	ChecksFailed int64   `json:"checksFailed"`
	RPS          float64 `json:"rps"`

	// SteadyStateRPS only counts buckets taken while at a plateau.
	SteadyStateRPS float64 `json:"steadyStateRps"`
	ErrorRate      float64 `json:"errorRate"`

	ActiveVUs    int           `json:"activeVUs"`
	CurrentPhase Phase         `json:"currentPhase"`
	Elapsed      time.Duration `json:"elapsed"`
	StartTime    time.Time     `json:"startTime"`
	Timestamp    time.Time     `json:"timestamp"`
}

// TimeBucket is one interval of the run's time series.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative since the start of the run.
	TotalRequests   int64 `json:"totalRequests"`
	TotalFailures   int64 `json:"totalFailures"`
	TotalBytes      int64 `json:"totalBytes"`
	TotalChecks     int64 `json:"totalChecks"`
	TotalIterations int64 `json:"totalIterations"`

	// This interval only.
	IntervalRequests     int64   `json:"intervalRequests"`
	IntervalRPS          float64 `json:"intervalRPS"`
	IntervalErrorRate    float64 `json:"intervalErrorRate"`
	IntervalChecksFailed int64   `json:"intervalChecksFailed"`

	LatencyMin time.Duration `json:"latencyMin"`
	LatencyMax time.Duration `json:"latencyMax"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// Config contains configuration for the aggregator.
type Config struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 7200)
	MaxBuckets int

	// Histogram bounds in microseconds and precision.
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BucketInterval:   time.Second,
		MaxBuckets:       7200,
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}
