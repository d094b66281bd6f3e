// Package metrics accumulates request timings and check outcomes for a run
// and evaluates thresholds over them once the run is over.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/paklog/catalog-loadgen/internal/loadgen/check"
)

// Aggregator is the run's single shared accumulator.
//
// # Thread Safety
//
// All Record methods are safe for concurrent use by any number of VUs.
// Counters are atomic; each histogram has its own mutex, held only while a
// value is recorded or read. The background emitter runs in its own
// goroutine until Stop is called.
type Aggregator struct {
	config Config

	trendsMu sync.RWMutex
	trends   map[string]*trend

	countersMu sync.RWMutex
	counters   map[string]*counter

	checksMu   sync.RWMutex
	checks     map[string]*checkCounter
	checkOrder []string

	requests        atomic.Int64
	failedRequests  atomic.Int64
	transportErrors atomic.Int64
	bytes           atomic.Int64
	iterations      atomic.Int64
	checksPassed    atomic.Int64
	checksFailed    atomic.Int64

	activeVUs atomic.Int32

	bucketStore *TimeBucketStore

	phaseMu      sync.RWMutex
	phase        Phase
	phaseHistory []PhaseChange

	startTime time.Time
	stopTime  atomic.Pointer[time.Time]

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once
}

type trend struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

type counter struct {
	n      atomic.Int64
	failed atomic.Int64
}

type checkCounter struct {
	passes    atomic.Int64
	fails     atomic.Int64
	transport atomic.Int64
	status    atomic.Int64
	shape     atomic.Int64
}

// NewAggregator creates an aggregator with the default configuration and
// starts its time-series emitter.
func NewAggregator() *Aggregator {
	return NewAggregatorWithConfig(DefaultConfig())
}

// NewAggregatorWithConfig creates an aggregator with a custom configuration.
func NewAggregatorWithConfig(config Config) *Aggregator {
	def := DefaultConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = def.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Aggregator{
		config:        config,
		trends:        make(map[string]*trend),
		counters:      make(map[string]*counter),
		checks:        make(map[string]*checkCounter),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		phase:         PhaseInit,
		startTime:     time.Now(),
		emitterCancel: cancel,
	}

	a.emitterWg.Add(1)
	go a.runEmitter(ctx)

	return a
}

// RegisterChecks fixes the order in which checks are reported. Checks
// recorded without registration are appended in first-seen order.
func (a *Aggregator) RegisterChecks(names ...string) {
	for _, name := range names {
		a.checkCounterFor(name)
	}
}

// Record adds a check result.
func (a *Aggregator) Record(result check.CheckResult) {
	c := a.checkCounterFor(result.Name)

	if result.Passed {
		c.passes.Add(1)
		a.checksPassed.Add(1)
	} else {
		c.fails.Add(1)
		a.checksFailed.Add(1)
		switch result.Failure {
		case check.FailureTransport:
			c.transport.Add(1)
		case check.FailureStatus:
			c.status.Add(1)
		case check.FailureShape:
			c.shape.Add(1)
		}
	}

	a.bucketStore.RecordCheck(result.Passed)
}

func (a *Aggregator) checkCounterFor(name string) *checkCounter {
	a.checksMu.RLock()
	c, ok := a.checks[name]
	a.checksMu.RUnlock()
	if ok {
		return c
	}

	a.checksMu.Lock()
	defer a.checksMu.Unlock()
	if c, ok = a.checks[name]; ok {
		return c
	}
	c = &checkCounter{}
	a.checks[name] = c
	a.checkOrder = append(a.checkOrder, name)
	return c
}

// RecordDuration adds a sample to a trend metric.
func (a *Aggregator) RecordDuration(metric string, d time.Duration) {
	t := a.trendFor(metric)

	micros := d.Microseconds()
	if micros < a.config.HistogramMin {
		micros = a.config.HistogramMin
	}
	if micros > a.config.HistogramMax {
		micros = a.config.HistogramMax
	}

	t.mu.Lock()
	// Values are clamped to the histogram range, so RecordValue cannot fail.
	_ = t.hist.RecordValue(micros)
	t.mu.Unlock()
}

// RecordRequest records a request that received a response. The duration
// goes to http_req_duration and to the step's sub-metric.
func (a *Aggregator) RecordRequest(step string, d time.Duration, failed bool, bytes int64) {
	a.RecordDuration(MetricReqDuration, d)
	if step != "" {
		a.RecordDuration(SubMetric(MetricReqDuration, TagStep, step), d)
	}

	a.requests.Add(1)
	a.bytes.Add(bytes)
	if failed {
		a.failedRequests.Add(1)
	}
	a.countRequest(step, failed)
}

// RecordTransportError records a request that never received a response.
// It counts as a failed request but adds no duration sample.
func (a *Aggregator) RecordTransportError(step string) {
	a.requests.Add(1)
	a.failedRequests.Add(1)
	a.transportErrors.Add(1)
	a.countRequest(step, true)
}

func (a *Aggregator) countRequest(step string, failed bool) {
	if step != "" {
		c := a.counterFor(SubMetric(MetricReqs, TagStep, step))
		c.n.Add(1)
		if failed {
			c.failed.Add(1)
		}
	}
	a.bucketStore.RecordRequest(failed)
}

// RecordIteration records a completed workflow iteration.
func (a *Aggregator) RecordIteration(d time.Duration) {
	a.iterations.Add(1)
	a.RecordDuration(MetricIterationDuration, d)
}

func (a *Aggregator) trendFor(name string) *trend {
	a.trendsMu.RLock()
	t, ok := a.trends[name]
	a.trendsMu.RUnlock()
	if ok {
		return t
	}

	a.trendsMu.Lock()
	defer a.trendsMu.Unlock()
	if t, ok = a.trends[name]; ok {
		return t
	}
	t = &trend{hist: hdrhistogram.New(a.config.HistogramMin, a.config.HistogramMax, a.config.HistogramSigFigs)}
	a.trends[name] = t
	return t
}

func (a *Aggregator) counterFor(name string) *counter {
	a.countersMu.RLock()
	c, ok := a.counters[name]
	a.countersMu.RUnlock()
	if ok {
		return c
	}

	a.countersMu.Lock()
	defer a.countersMu.Unlock()
	if c, ok = a.counters[name]; ok {
		return c
	}
	c = &counter{}
	a.counters[name] = c
	return c
}

// SetPhase marks a phase transition. Repeated calls with the current phase
// are ignored.
func (a *Aggregator) SetPhase(phase Phase) {
	a.phaseMu.Lock()
	defer a.phaseMu.Unlock()

	if a.phase == phase {
		return
	}
	a.phase = phase
	a.phaseHistory = append(a.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  a.requests.Load(),
	})
}

// Phase returns the current phase.
func (a *Aggregator) Phase() Phase {
	a.phaseMu.RLock()
	defer a.phaseMu.RUnlock()
	return a.phase
}

// PhaseHistory returns a copy of all phase transitions.
func (a *Aggregator) PhaseHistory() []PhaseChange {
	a.phaseMu.RLock()
	defer a.phaseMu.RUnlock()

	result := make([]PhaseChange, len(a.phaseHistory))
	copy(result, a.phaseHistory)
	return result
}

// SetActiveVUs updates the active VU gauge.
func (a *Aggregator) SetActiveVUs(count int) {
	a.activeVUs.Store(int32(count))
}

// ActiveVUs returns the active VU gauge.
func (a *Aggregator) ActiveVUs() int {
	return int(a.activeVUs.Load())
}

// Iterations returns the number of completed iterations.
func (a *Aggregator) Iterations() int64 {
	return a.iterations.Load()
}

func (a *Aggregator) runEmitter(ctx context.Context) {
	defer a.emitterWg.Done()

	ticker := time.NewTicker(a.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.emitBucket()
		}
	}
}

func (a *Aggregator) emitBucket() {
	a.bucketStore.createBucket(bucketTotals{
		requests:   a.requests.Load(),
		failures:   a.failedRequests.Load(),
		bytes:      a.bytes.Load(),
		checks:     a.checksPassed.Load() + a.checksFailed.Load(),
		iterations: a.iterations.Load(),
		latencies:  a.percentiles(MetricReqDuration),
		activeVUs:  a.ActiveVUs(),
		phase:      a.Phase(),
	})
}

func (a *Aggregator) percentiles(metric string) LatencyPercentiles {
	s := a.latencyStats(metric)
	return LatencyPercentiles{Min: s.Min, Max: s.Max, P50: s.P50, P90: s.P90, P95: s.P95, P99: s.P99}
}

func (a *Aggregator) latencyStats(metric string) LatencyStats {
	a.trendsMu.RLock()
	t, ok := a.trends[metric]
	a.trendsMu.RUnlock()
	if !ok {
		return LatencyStats{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return LatencyStats{
		Min:    micros(t.hist.Min()),
		Max:    micros(t.hist.Max()),
		Mean:   micros(int64(t.hist.Mean())),
		StdDev: micros(int64(t.hist.StdDev())),
		P50:    micros(t.hist.ValueAtQuantile(50)),
		P90:    micros(t.hist.ValueAtQuantile(90)),
		P95:    micros(t.hist.ValueAtQuantile(95)),
		P99:    micros(t.hist.ValueAtQuantile(99)),
		Count:  t.hist.TotalCount(),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// Snapshot returns a point-in-time view of the run.
func (a *Aggregator) Snapshot() *Snapshot {
	elapsed := a.Elapsed()
	total := a.requests.Load()
	failed := a.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	steadyRPS, _ := a.bucketStore.SteadyStateRPS()

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: total - failed,
		FailedRequests:  failed,
		TransportErrors: a.transportErrors.Load(),
		TotalBytes:      a.bytes.Load(),
		Latency:         a.latencyStats(MetricReqDuration),
		Iteration:       a.latencyStats(MetricIterationDuration),
		Steps:           a.StepStats(),
		Iterations:      a.iterations.Load(),
		ChecksPassed:    a.checksPassed.Load(),
		ChecksFailed:    a.checksFailed.Load(),
		RPS:             rps,
		SteadyStateRPS:  steadyRPS,
		ErrorRate:       errorRate,
		ActiveVUs:       a.ActiveVUs(),
		CurrentPhase:    a.Phase(),
		Elapsed:         elapsed,
		StartTime:       a.startTime,
		Timestamp:       time.Now(),
	}
}

// StepStats returns http_req_duration statistics per workflow step.
func (a *Aggregator) StepStats() map[string]LatencyStats {
	prefix := MetricReqDuration + "{" + TagStep + ":"

	a.trendsMu.RLock()
	names := make([]string, 0, len(a.trends))
	for name := range a.trends {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			names = append(names, name)
		}
	}
	a.trendsMu.RUnlock()

	result := make(map[string]LatencyStats, len(names))
	for _, name := range names {
		step := name[len(prefix) : len(name)-1]
		result[step] = a.latencyStats(name)
	}
	return result
}

// CheckSummaries returns per-check counts in registration order.
func (a *Aggregator) CheckSummaries() []CheckSummary {
	a.checksMu.RLock()
	defer a.checksMu.RUnlock()

	result := make([]CheckSummary, 0, len(a.checkOrder))
	for _, name := range a.checkOrder {
		c := a.checks[name]
		s := CheckSummary{
			Name:              name,
			Passes:            c.passes.Load(),
			Fails:             c.fails.Load(),
			TransportFailures: c.transport.Load(),
			StatusFailures:    c.status.Load(),
			ShapeFailures:     c.shape.Load(),
		}
		if total := s.Passes + s.Fails; total > 0 {
			s.PassRate = float64(s.Passes) / float64(total)
		}
		result = append(result, s)
	}
	return result
}

// TimeSeries returns the retained time-series buckets.
func (a *Aggregator) TimeSeries() []*TimeBucket {
	return a.bucketStore.Buckets()
}

// LatestBucket returns the most recent time-series bucket, or nil.
func (a *Aggregator) LatestBucket() *TimeBucket {
	return a.bucketStore.Latest()
}

// Elapsed returns the time since the aggregator was created, frozen once
// Stop has been called.
func (a *Aggregator) Elapsed() time.Duration {
	if stop := a.stopTime.Load(); stop != nil {
		return stop.Sub(a.startTime)
	}
	return time.Since(a.startTime)
}

// StartTime returns when the aggregator was created.
func (a *Aggregator) StartTime() time.Time {
	return a.startTime
}

// Stop stops the emitter, emits a final bucket and freezes the elapsed time.
// It is safe to call more than once.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		a.emitterCancel()
		a.emitterWg.Wait()

		now := time.Now()
		a.stopTime.Store(&now)
		a.emitBucket()
	})
}
