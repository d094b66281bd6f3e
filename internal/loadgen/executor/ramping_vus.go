package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paklog/catalog-loadgen/internal/loadgen"
	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
)

const (
	// DefaultPollInterval is how often the VU count is reconciled with the
	// profile.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultGracefulStop bounds how long VUs may take to finish their
	// in-flight step once the profile is over.
	DefaultGracefulStop = 30 * time.Second

	// abortWait bounds the wait for VUs after in-flight requests have been
	// cancelled.
	abortWait = 5 * time.Second
)

// Pool is the set of VUs the supervisor scales. *loadgen.VUPool implements it.
type Pool interface {
	Spawn() *loadgen.VirtualUser
	Retire(n int) int
	Active() int
	Live() int
	StopAll()
	Wait(timeout time.Duration) bool
	Abort()
}

// Gauges receives the supervisor's view of the run.
// *metrics.Aggregator implements it.
type Gauges interface {
	SetPhase(phase metrics.Phase)
	SetActiveVUs(count int)
	Iterations() int64
}

// Config configures RampingVUs.
type Config struct {
	Profile RampProfile

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// GracefulStop defaults to DefaultGracefulStop. Negative means no grace:
	// in-flight requests are cancelled as soon as the profile ends.
	GracefulStop time.Duration

	Logger logrus.FieldLogger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Profile.Validate(); err != nil {
		return err
	}
	if c.PollInterval < 0 {
		return &ValidationError{Field: "pollInterval", Message: "must be >= 0"}
	}
	return nil
}

// Stats contains supervisor statistics.
type Stats struct {
	StartTime        time.Time     `json:"startTime"`
	Elapsed          time.Duration `json:"elapsed"`
	TotalDuration    time.Duration `json:"totalDuration"`
	ActiveVUs        int           `json:"activeVUs"`
	LiveVUs          int           `json:"liveVUs"`
	TargetVUs        int           `json:"targetVUs"`
	Iterations       int64         `json:"iterations"`
	CurrentStage     int           `json:"currentStage"`
	CurrentStageName string        `json:"currentStageName,omitempty"`
	TotalStages      int           `json:"totalStages"`
	Aborted          bool          `json:"aborted"`
}

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("executor already started")

// RampingVUs keeps the number of active VUs equal to the profile's desired
// concurrency for the whole profile duration.
//
// Every PollInterval it computes the desired count, spawns VUs to cover a
// shortfall and retires the most recently spawned VUs on a surplus. Retired
// VUs finish their in-flight step before exiting. When the profile ends, or
// the parent context is cancelled, every VU is asked to stop and given
// GracefulStop to do so before in-flight requests are cancelled.
type RampingVUs struct {
	config Config
	pool   Pool
	gauges Gauges
	logger logrus.FieldLogger

	mu        sync.RWMutex
	startTime time.Time

	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	started      atomic.Bool
	finished     atomic.Bool
	aborted      atomic.Bool
}

// NewRampingVUs creates a supervisor for the given pool.
func NewRampingVUs(config Config, pool Pool, gauges Gauges) (*RampingVUs, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if gauges == nil {
		return nil, errors.New("gauges are required")
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.GracefulStop == 0 {
		config.GracefulStop = DefaultGracefulStop
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &RampingVUs{
		config: config,
		pool:   pool,
		gauges: gauges,
		logger: config.Logger,
	}, nil
}

// Run drives the pool through the profile and blocks until every VU has
// exited. Cancelling ctx ends the profile early and marks the run aborted;
// VUs are still given the graceful stop window.
func (e *RampingVUs) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	total := e.config.Profile.TotalDuration()

	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)

	e.logger.WithFields(logrus.Fields{
		"duration": total,
		"stages":   len(e.config.Profile.Stages),
		"maxVUs":   e.config.Profile.MaxTarget(),
	}).Info("ramp profile started")

	runCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	e.controller(runCtx)

	if ctx.Err() != nil {
		e.aborted.Store(true)
		e.logger.Warn("run cancelled before the profile completed")
	}

	e.shutdown()

	e.gauges.SetActiveVUs(0)
	e.gauges.SetPhase(metrics.PhaseDone)
	e.running.Store(false)
	e.finished.Store(true)

	return nil
}

// controller reconciles the VU count until ctx is done.
func (e *RampingVUs) controller(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	lastStage := -1
	for {
		lastStage = e.adjust(lastStage)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// adjust brings the pool to the desired concurrency for the current elapsed
// time and returns the current stage index.
func (e *RampingVUs) adjust(lastStage int) int {
	elapsed := e.elapsed()
	profile := e.config.Profile

	target := profile.DesiredConcurrency(elapsed)
	e.targetVUs.Store(int32(target))

	stageIdx, _ := profile.StageAt(elapsed)
	e.currentStage.Store(int32(stageIdx))
	if stageIdx != lastStage {
		stage := profile.Stages[stageIdx]
		e.logger.WithFields(logrus.Fields{
			"stage":  stageIdx,
			"name":   stage.Name,
			"target": stage.Target,
			"step":   stage.isStep(),
		}).Info("stage started")
	}

	active := e.pool.Active()
	switch {
	case target > active:
		for i := active; i < target; i++ {
			e.pool.Spawn()
		}
	case target < active:
		e.pool.Retire(active - target)
	}

	e.gauges.SetActiveVUs(target)
	e.gauges.SetPhase(stagePhase(profile, stageIdx))

	return stageIdx
}

// stagePhase classifies a stage by the direction it moves the level.
func stagePhase(profile RampProfile, idx int) metrics.Phase {
	from := profile.stageStartLevel(idx)
	to := profile.Stages[idx].Target

	switch {
	case to > from:
		return metrics.PhaseRampUp
	case to < from:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// shutdown stops every VU, waiting up to GracefulStop before cancelling
// in-flight requests.
func (e *RampingVUs) shutdown() {
	e.gauges.SetPhase(metrics.PhaseGraceful)
	e.pool.StopAll()

	grace := e.config.GracefulStop
	if grace > 0 && e.pool.Wait(grace) {
		return
	}

	e.logger.WithFields(logrus.Fields{
		"gracefulStop": grace,
		"remaining":    e.pool.Live(),
	}).Warn("graceful stop expired, cancelling in-flight requests")

	e.pool.Abort()
	if !e.pool.Wait(abortWait) {
		e.logger.WithField("remaining", e.pool.Live()).Error("VUs did not exit after abort")
	}
}

func (e *RampingVUs) elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startTime.IsZero() {
		return 0
	}
	return time.Since(e.startTime)
}

// Progress returns profile completion in [0, 1].
func (e *RampingVUs) Progress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	if !e.running.Load() {
		return 0.0
	}

	total := e.config.Profile.TotalDuration()
	progress := float64(e.elapsed()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// IsRunning reports whether Run is in progress.
func (e *RampingVUs) IsRunning() bool {
	return e.running.Load()
}

// Aborted reports whether the run was cut short by context cancellation.
func (e *RampingVUs) Aborted() bool {
	return e.aborted.Load()
}

// Stats returns supervisor statistics.
func (e *RampingVUs) Stats() *Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx < len(e.config.Profile.Stages) {
		stageName = e.config.Profile.Stages[stageIdx].Name
	}

	return &Stats{
		StartTime:        start,
		Elapsed:          e.elapsed(),
		TotalDuration:    e.config.Profile.TotalDuration(),
		ActiveVUs:        e.pool.Active(),
		LiveVUs:          e.pool.Live(),
		TargetVUs:        int(e.targetVUs.Load()),
		Iterations:       e.gauges.Iterations(),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Profile.Stages),
		Aborted:          e.aborted.Load(),
	}
}

var _ Pool = (*loadgen.VUPool)(nil)
var _ Gauges = (*metrics.Aggregator)(nil)
