package executor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/paklog/catalog-loadgen/internal/loadgen"
	"github.com/paklog/catalog-loadgen/internal/loadgen/catalogtest"
	"github.com/paklog/catalog-loadgen/internal/loadgen/executor"
	"github.com/paklog/catalog-loadgen/internal/loadgen/fixture"
	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
)

// fakePool counts VUs without running any.
type fakePool struct {
	mu        sync.Mutex
	active    int
	maxActive int
	spawned   int
	retired   int
	stopAll   int
	aborted   bool
	graceOK   bool
}

func (p *fakePool) Spawn() *loadgen.VirtualUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active++
	p.spawned++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	return nil
}

func (p *fakePool) Retire(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > p.active {
		n = p.active
	}
	p.active -= n
	p.retired += n
	return n
}

func (p *fakePool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *fakePool) Live() int { return p.Active() }

func (p *fakePool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopAll++
	p.active = 0
}

func (p *fakePool) Wait(time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.graceOK || p.aborted
}

func (p *fakePool) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = true
}

// fakeGauges records phase transitions.
type fakeGauges struct {
	mu     sync.Mutex
	phases []metrics.Phase
	active []int
}

func (g *fakeGauges) SetPhase(phase metrics.Phase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.phases); n > 0 && g.phases[n-1] == phase {
		return
	}
	g.phases = append(g.phases, phase)
}

func (g *fakeGauges) SetActiveVUs(count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = append(g.active, count)
}

func (g *fakeGauges) Iterations() int64 { return 0 }

func quietLogger() *logrus.Logger {
	logger, _ := logtest.NewNullLogger()
	return logger
}

func TestNewRampingVUs_Validation(t *testing.T) {
	pool := &fakePool{}
	gauges := &fakeGauges{}

	if _, err := executor.NewRampingVUs(executor.Config{}, pool, gauges); err == nil {
		t.Error("expected error for empty profile")
	}

	cfg := executor.Config{Profile: executor.RampProfile{Stages: []executor.Stage{{Duration: time.Second, Target: 1}}}}
	if _, err := executor.NewRampingVUs(cfg, nil, gauges); err == nil {
		t.Error("expected error for nil pool")
	}
	if _, err := executor.NewRampingVUs(cfg, pool, nil); err == nil {
		t.Error("expected error for nil gauges")
	}
}

func TestRampingVUs_FollowsProfile(t *testing.T) {
	pool := &fakePool{graceOK: true}
	gauges := &fakeGauges{}

	e, err := executor.NewRampingVUs(executor.Config{
		Profile: executor.RampProfile{
			Stages: []executor.Stage{
				{Duration: 200 * time.Millisecond, Target: 6},
				{Duration: 200 * time.Millisecond, Target: 6},
				{Duration: 200 * time.Millisecond, Target: 2},
			},
		},
		PollInterval: 10 * time.Millisecond,
		Logger:       quietLogger(),
	}, pool, gauges)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed < 600*time.Millisecond {
		t.Errorf("Run() returned after %v, before the profile ended", elapsed)
	}
	if pool.maxActive != 6 {
		t.Errorf("max active = %d, want 6", pool.maxActive)
	}
	if pool.retired < 3 {
		t.Errorf("retired = %d, want at least 3 during ramp-down", pool.retired)
	}
	if pool.stopAll != 1 {
		t.Errorf("StopAll called %d times, want 1", pool.stopAll)
	}
	if pool.aborted {
		t.Error("Abort called although VUs stopped within the grace period")
	}

	want := []metrics.Phase{
		metrics.PhaseRampUp,
		metrics.PhaseSteady,
		metrics.PhaseRampDown,
		metrics.PhaseGraceful,
		metrics.PhaseDone,
	}
	if len(gauges.phases) != len(want) {
		t.Fatalf("phases = %v, want %v", gauges.phases, want)
	}
	for i := range want {
		if gauges.phases[i] != want[i] {
			t.Errorf("phases[%d] = %s, want %s", i, gauges.phases[i], want[i])
		}
	}

	if e.Aborted() {
		t.Error("Aborted() = true for a completed profile")
	}
	if e.Progress() != 1.0 {
		t.Errorf("Progress() = %v, want 1.0", e.Progress())
	}
	if e.IsRunning() {
		t.Error("IsRunning() = true after Run returned")
	}

	stats := e.Stats()
	if stats.TotalStages != 3 || stats.CurrentStage != 2 {
		t.Errorf("Stats() stage = %d of %d, want 2 of 3", stats.CurrentStage, stats.TotalStages)
	}
	if gauges.active[len(gauges.active)-1] != 0 {
		t.Errorf("final active gauge = %d, want 0", gauges.active[len(gauges.active)-1])
	}
}

func TestRampingVUs_CancelAborts(t *testing.T) {
	pool := &fakePool{graceOK: true}
	gauges := &fakeGauges{}

	e, err := executor.NewRampingVUs(executor.Config{
		Profile:      executor.RampProfile{Stages: []executor.Stage{{Duration: time.Hour, Target: 4, Step: true}}},
		PollInterval: 10 * time.Millisecond,
		Logger:       quietLogger(),
	}, pool, gauges)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if got := pool.Active(); got != 4 {
		t.Errorf("Active() = %d, want 4 for a step stage", got)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if !e.Aborted() {
		t.Error("Aborted() = false after cancel")
	}
	if pool.stopAll != 1 {
		t.Errorf("StopAll called %d times, want 1", pool.stopAll)
	}
}

func TestRampingVUs_GraceExpiryAborts(t *testing.T) {
	pool := &fakePool{graceOK: false}
	gauges := &fakeGauges{}

	e, err := executor.NewRampingVUs(executor.Config{
		Profile:      executor.RampProfile{Stages: []executor.Stage{{Duration: 50 * time.Millisecond, Target: 2, Step: true}}},
		PollInterval: 10 * time.Millisecond,
		GracefulStop: 10 * time.Millisecond,
		Logger:       quietLogger(),
	}, pool, gauges)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !pool.aborted {
		t.Error("in-flight requests were not cancelled after the grace period")
	}
	if e.Aborted() {
		t.Error("grace expiry must not mark the run aborted")
	}
}

func TestRampingVUs_RunTwice(t *testing.T) {
	e, err := executor.NewRampingVUs(executor.Config{
		Profile:      executor.RampProfile{Stages: []executor.Stage{{Duration: 20 * time.Millisecond, Target: 1}}},
		PollInterval: 5 * time.Millisecond,
		Logger:       quietLogger(),
	}, &fakePool{graceOK: true}, &fakeGauges{})
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if err := e.Run(context.Background()); err != executor.ErrAlreadyStarted {
		t.Errorf("second Run() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestRampingVUs_AgainstCatalog(t *testing.T) {
	catalog := catalogtest.NewServer(catalogtest.Options{})
	defer catalog.Close()

	agg := metrics.NewAggregator()
	defer agg.Stop()

	wf := loadgen.ProductWorkflow(loadgen.WorkflowOptions{})
	agg.RegisterChecks(wf.CheckNames()...)

	pool, err := loadgen.NewVUPool(loadgen.PoolConfig{
		BaseURL:  catalog.URL,
		Workflow: wf,
		Fixture:  fixture.DefaultTemplate(),
		Recorder: agg,
		Pacing:   5 * time.Millisecond,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewVUPool() error = %v", err)
	}
	defer pool.Close()

	e, err := executor.NewRampingVUs(executor.Config{
		Profile: executor.RampProfile{
			Stages: []executor.Stage{
				{Duration: 150 * time.Millisecond, Target: 3},
				{Duration: 300 * time.Millisecond, Target: 3},
			},
		},
		PollInterval: 10 * time.Millisecond,
		GracefulStop: 2 * time.Second,
		Logger:       quietLogger(),
	}, pool, agg)
	if err != nil {
		t.Fatalf("NewRampingVUs() error = %v", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	agg.Stop()

	if pool.Live() != 0 {
		t.Errorf("Live() = %d after Run, want 0", pool.Live())
	}
	if pool.Spawned() != 3 {
		t.Errorf("Spawned() = %d, want 3", pool.Spawned())
	}
	if agg.Phase() != metrics.PhaseDone {
		t.Errorf("Phase() = %s, want done", agg.Phase())
	}
	if agg.Iterations() == 0 {
		t.Error("no iterations completed")
	}

	verdict := agg.Finalize(nil)
	if verdict.CheckPassRate != 1.0 {
		t.Errorf("CheckPassRate = %v, want 1.0", verdict.CheckPassRate)
	}
}
