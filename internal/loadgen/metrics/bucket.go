package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucketTotals are the cumulative values captured into a bucket.
type bucketTotals struct {
	requests   int64
	failures   int64
	bytes      int64
	checks     int64
	iterations int64
	latencies  LatencyPercentiles
	activeVUs  int
	phase      Phase
}

// TimeBucketStore keeps the run's time series in a fixed-size ring buffer.
// Once full, the oldest buckets are overwritten.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	// Interval accumulators, swapped to zero on every bucket.
	currentRequests     atomic.Int64
	currentFailures     atomic.Int64
	currentChecksFailed atomic.Int64
}

// NewTimeBucketStore creates a store holding at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = DefaultConfig().MaxBuckets
	}

	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest counts a request in the current interval.
func (s *TimeBucketStore) RecordRequest(failed bool) {
	s.currentRequests.Add(1)
	if failed {
		s.currentFailures.Add(1)
	}
}

// RecordCheck counts a check outcome in the current interval.
func (s *TimeBucketStore) RecordCheck(passed bool) {
	if !passed {
		s.currentChecksFailed.Add(1)
	}
}

func (s *TimeBucketStore) createBucket(totals bucketTotals) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	intervalRequests := s.currentRequests.Swap(0)
	intervalFailures := s.currentFailures.Swap(0)
	intervalChecksFailed := s.currentChecksFailed.Swap(0)

	seconds := now.Sub(s.lastBucketTime).Seconds()
	if seconds <= 0 {
		seconds = 1.0
	}

	errorRate := 0.0
	if intervalRequests > 0 {
		errorRate = float64(intervalFailures) / float64(intervalRequests)
	}

	bucket := &TimeBucket{
		Timestamp:            now,
		TotalRequests:        totals.requests,
		TotalFailures:        totals.failures,
		TotalBytes:           totals.bytes,
		TotalChecks:          totals.checks,
		TotalIterations:      totals.iterations,
		IntervalRequests:     intervalRequests,
		IntervalRPS:          float64(intervalRequests) / seconds,
		IntervalErrorRate:    errorRate,
		IntervalChecksFailed: intervalChecksFailed,
		LatencyMin:           totals.latencies.Min,
		LatencyMax:           totals.latencies.Max,
		LatencyP50:           totals.latencies.P50,
		LatencyP90:           totals.latencies.P90,
		LatencyP95:           totals.latencies.P95,
		LatencyP99:           totals.latencies.P99,
		ActiveVUs:            totals.activeVUs,
		Phase:                totals.phase,
	}

	s.buckets[s.head] = bucket
	s.head = (s.head + 1) % s.maxBuckets
	if s.count < s.maxBuckets {
		s.count++
	}
	s.lastBucketTime = now

	return bucket
}

// Buckets returns all retained buckets in chronological order.
func (s *TimeBucketStore) Buckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, s.count)
	start := 0
	if s.count == s.maxBuckets {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		result[i] = s.buckets[(start+i)%s.maxBuckets]
	}
	return result
}

// Recent returns up to n of the most recent buckets, oldest first.
func (s *TimeBucketStore) Recent(n int) []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > s.count {
		n = s.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]*TimeBucket, n)
	for i := 0; i < n; i++ {
		idx := (s.head - 1 - i + s.maxBuckets) % s.maxBuckets
		result[n-1-i] = s.buckets[idx]
	}
	return result
}

// Latest returns the most recent bucket, or nil if none.
func (s *TimeBucketStore) Latest() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}
	return s.buckets[(s.head-1+s.maxBuckets)%s.maxBuckets]
}

// Count returns the number of retained buckets.
func (s *TimeBucketStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// SteadyStateRPS averages the interval RPS of buckets taken in the steady
// phase. The second return value is the number of buckets used.
func (s *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var sum float64
	var n int
	for _, b := range s.Buckets() {
		if b.Phase != PhaseSteady {
			continue
		}
		sum += b.IntervalRPS
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
