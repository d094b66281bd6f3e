package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/paklog/catalog-loadgen/internal/loadgen/check"
)

func TestNewAggregator(t *testing.T) {
	agg := NewAggregator()
	defer agg.Stop()

	snapshot := agg.Snapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.CurrentPhase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.CurrentPhase, PhaseInit)
	}
}

func TestAggregator_RecordRequest(t *testing.T) {
	agg := NewAggregator()
	defer agg.Stop()

	agg.RecordRequest("product created", 10*time.Millisecond, false, 1000)
	agg.RecordRequest("product created", 20*time.Millisecond, false, 2000)
	agg.RecordRequest("product retrieved", 30*time.Millisecond, true, 500)
	agg.RecordTransportError("product deleted")

	snapshot := agg.Snapshot()

	if snapshot.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", snapshot.TotalRequests)
	}
	if snapshot.FailedRequests != 2 {
		t.Errorf("FailedRequests = %d, want 2", snapshot.FailedRequests)
	}
	if snapshot.TransportErrors != 1 {
		t.Errorf("TransportErrors = %d, want 1", snapshot.TransportErrors)
	}
	if snapshot.TotalBytes != 3500 {
		t.Errorf("TotalBytes = %d, want 3500", snapshot.TotalBytes)
	}

	// The transport error adds no duration sample.
	if snapshot.Latency.Count != 3 {
		t.Errorf("Latency.Count = %d, want 3", snapshot.Latency.Count)
	}
	if got := snapshot.Steps["product created"].Count; got != 2 {
		t.Errorf("Steps[product created].Count = %d, want 2", got)
	}
	if _, ok := snapshot.Steps["product deleted"]; ok {
		t.Error("Steps contains a step with only transport errors")
	}
}

func TestAggregator_Percentiles(t *testing.T) {
	agg := NewAggregator()
	defer agg.Stop()

	for i := 1; i <= 100; i++ {
		agg.RecordDuration(MetricReqDuration, time.Duration(i)*time.Millisecond)
	}

	stats := agg.Snapshot().Latency

	if stats.P50 < 45*time.Millisecond || stats.P50 > 55*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms", stats.P50)
	}
	if stats.P99 < 95*time.Millisecond || stats.P99 > 101*time.Millisecond {
		t.Errorf("P99 = %v, want ~99ms", stats.P99)
	}
	if stats.Min < 999*time.Microsecond || stats.Min > 1001*time.Microsecond {
		t.Errorf("Min = %v, want ~1ms", stats.Min)
	}
}

func TestAggregator_RecordChecks(t *testing.T) {
	agg := NewAggregator()
	defer agg.Stop()

	agg.RegisterChecks("product created", "product retrieved")

	now := time.Now()
	agg.Record(check.CheckResult{Name: "product retrieved", Passed: true, Timestamp: now})
	agg.Record(check.CheckResult{Name: "product created", Passed: true, Timestamp: now})
	agg.Record(check.CheckResult{Name: "product created", Failure: check.FailureStatus, Status: 409, Timestamp: now})
	agg.Record(check.CheckResult{Name: "product created", Failure: check.FailureTransport, Timestamp: now})
	agg.Record(check.CheckResult{Name: "product deleted", Failure: check.FailureShape, Timestamp: now})

	summaries := agg.CheckSummaries()
	if len(summaries) != 3 {
		t.Fatalf("len(CheckSummaries) = %d, want 3", len(summaries))
	}

	wantOrder := []string{"product created", "product retrieved", "product deleted"}
	for i, name := range wantOrder {
		if summaries[i].Name != name {
			t.Errorf("summaries[%d].Name = %q, want %q", i, summaries[i].Name, name)
		}
	}

	created := summaries[0]
	if created.Passes != 1 || created.Fails != 2 {
		t.Errorf("created passes/fails = %d/%d, want 1/2", created.Passes, created.Fails)
	}
	if created.StatusFailures != 1 || created.TransportFailures != 1 {
		t.Errorf("created status/transport = %d/%d, want 1/1", created.StatusFailures, created.TransportFailures)
	}
	if summaries[2].ShapeFailures != 1 {
		t.Errorf("deleted ShapeFailures = %d, want 1", summaries[2].ShapeFailures)
	}
}

func TestAggregator_ConcurrentRecording(t *testing.T) {
	agg := NewAggregator()
	defer agg.Stop()

	const workers = 50
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				agg.RecordRequest("product listed", time.Millisecond, false, 10)
				agg.Record(check.CheckResult{Name: "products listed", Passed: true})
				if i%10 == 0 {
					agg.RecordIteration(10 * time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()

	snapshot := agg.Snapshot()
	if snapshot.TotalRequests != workers*perWorker {
		t.Errorf("TotalRequests = %d, want %d", snapshot.TotalRequests, workers*perWorker)
	}
	if snapshot.Latency.Count != workers*perWorker {
		t.Errorf("Latency.Count = %d, want %d", snapshot.Latency.Count, workers*perWorker)
	}
	if snapshot.ChecksPassed != workers*perWorker {
		t.Errorf("ChecksPassed = %d, want %d", snapshot.ChecksPassed, workers*perWorker)
	}
	if snapshot.Iterations != workers*perWorker/10 {
		t.Errorf("Iterations = %d, want %d", snapshot.Iterations, workers*perWorker/10)
	}
}

func TestAggregator_SetPhase(t *testing.T) {
	agg := NewAggregator()
	defer agg.Stop()

	agg.SetPhase(PhaseRampUp)
	agg.SetPhase(PhaseRampUp)
	agg.SetPhase(PhaseSteady)

	if agg.Phase() != PhaseSteady {
		t.Errorf("Phase() = %v, want %v", agg.Phase(), PhaseSteady)
	}

	history := agg.PhaseHistory()
	if len(history) != 2 {
		t.Fatalf("len(PhaseHistory) = %d, want 2", len(history))
	}
	if history[0].Phase != PhaseRampUp || history[1].Phase != PhaseSteady {
		t.Errorf("PhaseHistory = %+v", history)
	}
}

func TestAggregator_TimeSeries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BucketInterval = 20 * time.Millisecond
	agg := NewAggregatorWithConfig(cfg)

	agg.SetActiveVUs(3)
	agg.RecordRequest("product created", 5*time.Millisecond, false, 0)

	time.Sleep(70 * time.Millisecond)
	agg.Stop()

	series := agg.TimeSeries()
	if len(series) < 2 {
		t.Fatalf("len(TimeSeries) = %d, want at least 2", len(series))
	}

	var intervalTotal int64
	for i, b := range series {
		intervalTotal += b.IntervalRequests
		if i > 0 && b.Timestamp.Before(series[i-1].Timestamp) {
			t.Errorf("bucket %d out of order", i)
		}
	}
	if intervalTotal != 1 {
		t.Errorf("sum of IntervalRequests = %d, want 1", intervalTotal)
	}

	last := agg.LatestBucket()
	if last.ActiveVUs != 3 || last.TotalRequests != 1 {
		t.Errorf("last bucket = %+v", last)
	}
}

func TestAggregator_StopFreezesElapsed(t *testing.T) {
	agg := NewAggregator()
	agg.Stop()
	agg.Stop()

	first := agg.Elapsed()
	time.Sleep(5 * time.Millisecond)
	if agg.Elapsed() != first {
		t.Errorf("Elapsed changed after Stop: %v -> %v", first, agg.Elapsed())
	}
}

func TestTimeBucketStore_Ring(t *testing.T) {
	store := NewTimeBucketStore(3)

	for i := int64(1); i <= 5; i++ {
		store.createBucket(bucketTotals{requests: i})
	}

	if store.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", store.Count())
	}

	buckets := store.Buckets()
	for i, want := range []int64{3, 4, 5} {
		if buckets[i].TotalRequests != want {
			t.Errorf("buckets[%d].TotalRequests = %d, want %d", i, buckets[i].TotalRequests, want)
		}
	}

	recent := store.Recent(2)
	if len(recent) != 2 || recent[0].TotalRequests != 4 || recent[1].TotalRequests != 5 {
		t.Errorf("Recent(2) returned wrong buckets")
	}
	if store.Latest().TotalRequests != 5 {
		t.Errorf("Latest().TotalRequests = %d, want 5", store.Latest().TotalRequests)
	}
}

func TestTimeBucketStore_SteadyStateRPS(t *testing.T) {
	store := NewTimeBucketStore(10)

	store.createBucket(bucketTotals{phase: PhaseRampUp})
	if rps, n := store.SteadyStateRPS(); rps != 0 || n != 0 {
		t.Errorf("SteadyStateRPS() = %v, %d; want 0, 0", rps, n)
	}

	store.RecordRequest(false)
	store.createBucket(bucketTotals{phase: PhaseSteady})
	if _, n := store.SteadyStateRPS(); n != 1 {
		t.Errorf("steady buckets = %d, want 1", n)
	}
}
