// Package engine runs one catalog load test from configuration to verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/paklog/catalog-loadgen/internal/loadgen"
	"github.com/paklog/catalog-loadgen/internal/loadgen/config"
	"github.com/paklog/catalog-loadgen/internal/loadgen/executor"
	"github.com/paklog/catalog-loadgen/internal/loadgen/fixture"
	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
)

var (
	// ErrAlreadyRunning is returned by Run while a run is in progress.
	ErrAlreadyRunning = errors.New("engine is already running")

	// ErrThresholdsFailed marks a completed run whose verdict failed.
	ErrThresholdsFailed = errors.New("one or more thresholds failed")
)

// Engine is the orchestrator for a load run.
//
// It coordinates:
//   - Configuration validation, before any VU is spawned
//   - The VU pool and the ramping supervisor
//   - Metrics collection and the final verdict
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("spike.yaml")
//	engine, _ := NewEngine(cfg)
//	result, _ := engine.Run(context.Background())
//	fmt.Printf("Run passed: %v\n", result.Passed())
type Engine struct {
	config     *config.TestConfig
	profile    executor.RampProfile
	workflow   *loadgen.Workflow
	fixture    *fixture.Template
	thresholds []metrics.Threshold

	logger        logrus.FieldLogger
	pollInterval  time.Duration
	metricsConfig metrics.Config

	mu         sync.RWMutex
	running    bool
	aggregator *metrics.Aggregator
	supervisor *executor.RampingVUs
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPollInterval overrides how often the VU count is reconciled.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.pollInterval = d
	}
}

// WithMetricsConfig overrides the aggregator configuration.
func WithMetricsConfig(cfg metrics.Config) Option {
	return func(e *Engine) {
		e.metricsConfig = cfg
	}
}

// Result contains the complete outcome of a run.
type Result struct {
	RunID   string `json:"runId"`
	Name    string `json:"name"`
	Profile string `json:"profile,omitempty"`
	BaseURL string `json:"baseUrl"`

	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Duration        time.Duration `json:"duration"`
	PlannedDuration time.Duration `json:"plannedDuration"`

	// Aborted is set when the run was cancelled before the profile ended.
	Aborted bool `json:"aborted"`

	Iterations int64 `json:"iterations"`
	MaxVUs     int   `json:"maxVUs"`
	VUsSpawned int   `json:"vusSpawned"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	Phases     []metrics.PhaseChange `json:"phases,omitempty"`
	Verdict    *metrics.RunVerdict   `json:"verdict"`
}

// Passed reports whether every threshold passed.
func (r *Result) Passed() bool {
	return r.Verdict != nil && r.Verdict.OverallPassed
}

// Err returns ErrThresholdsFailed when the verdict failed, nil otherwise.
func (r *Result) Err() error {
	if r.Passed() {
		return nil
	}
	return ErrThresholdsFailed
}

// NewEngine validates cfg and prepares a run. Defaults are applied to cfg
// in place.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	profile, err := cfg.RampProfile()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	thresholds, err := metrics.ParseThresholds(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	workflow := loadgen.ProductWorkflow(loadgen.WorkflowOptions{Strict: cfg.Checks.Strict})
	if err := workflow.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	e := &Engine{
		config:        cfg,
		profile:       profile,
		workflow:      workflow,
		fixture:       cfg.FixtureTemplate(),
		thresholds:    thresholds,
		logger:        logrus.StandardLogger(),
		pollInterval:  executor.DefaultPollInterval,
		metricsConfig: metrics.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes the profile against the catalog and returns the result.
//
// Failed checks and unreachable targets never end a run early; only
// cancelling ctx does, in which case the result is marked aborted and VUs
// are still given the graceful stop window.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true

	runID := uuid.NewString()
	agg := metrics.NewAggregatorWithConfig(e.metricsConfig)
	agg.SetPhase(metrics.PhaseInit)
	agg.RegisterChecks(e.workflow.CheckNames()...)
	e.aggregator = agg
	e.supervisor = nil
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
	defer agg.Stop()

	logger := e.logger.WithField("runId", runID)

	pool, err := loadgen.NewVUPool(loadgen.PoolConfig{
		BaseURL:    e.config.BaseURL,
		Workflow:   e.workflow,
		Fixture:    e.fixture,
		Recorder:   agg,
		Pacing:     e.config.PacingDuration(),
		RetireMode: loadgen.RetireMode(e.config.RetireMode),
		HTTP:       e.config.HTTPClientConfig(),
		UserAgent:  e.config.HTTP.UserAgent,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VU pool: %w", err)
	}
	defer pool.Close()

	supervisor, err := executor.NewRampingVUs(executor.Config{
		Profile:      e.profile,
		PollInterval: e.pollInterval,
		GracefulStop: time.Duration(e.config.GracefulStop),
		Logger:       logger,
	}, pool, agg)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	e.mu.Lock()
	e.supervisor = supervisor
	e.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"name":     e.config.Name,
		"baseUrl":  e.config.BaseURL,
		"profile":  e.config.Profile,
		"duration": e.profile.TotalDuration(),
		"maxVUs":   e.profile.MaxTarget(),
		"strict":   e.config.Checks.Strict,
	}).Info("run started")

	start := time.Now()
	if err := supervisor.Run(ctx); err != nil {
		return nil, fmt.Errorf("executor failed: %w", err)
	}
	agg.Stop()
	end := time.Now()

	verdict := agg.Finalize(e.thresholds)
	result := &Result{
		RunID:           runID,
		Name:            e.config.Name,
		Profile:         e.config.Profile,
		BaseURL:         e.config.BaseURL,
		StartTime:       start,
		EndTime:         end,
		Duration:        end.Sub(start),
		PlannedDuration: e.profile.TotalDuration(),
		Aborted:         supervisor.Aborted(),
		Iterations:      agg.Iterations(),
		MaxVUs:          e.profile.MaxTarget(),
		VUsSpawned:      pool.Spawned(),
		Metrics:         agg.Snapshot(),
		TimeSeries:      agg.TimeSeries(),
		Phases:          agg.PhaseHistory(),
		Verdict:         verdict,
	}

	fields := logrus.Fields{
		"passed":        verdict.OverallPassed,
		"checkPassRate": verdict.CheckPassRate,
		"requests":      result.Metrics.TotalRequests,
		"iterations":    result.Iterations,
		"duration":      result.Duration.Round(time.Millisecond),
	}
	if result.Aborted {
		logger.WithFields(fields).Warn("run aborted")
	} else {
		logger.WithFields(fields).Info("run finished")
	}

	return result, nil
}

// Config returns the validated configuration.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}

// Profile returns the resolved ramp profile.
func (e *Engine) Profile() executor.RampProfile {
	return e.profile
}

// Thresholds returns the parsed thresholds.
func (e *Engine) Thresholds() []metrics.Threshold {
	return e.thresholds
}

// IsRunning returns whether a run is in progress.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Snapshot returns live metrics, or nil before the first run.
func (e *Engine) Snapshot() *metrics.Snapshot {
	e.mu.RLock()
	agg := e.aggregator
	e.mu.RUnlock()

	if agg == nil {
		return nil
	}
	return agg.Snapshot()
}

// CheckSummaries returns live per-check counts, or nil before the first run.
func (e *Engine) CheckSummaries() []metrics.CheckSummary {
	e.mu.RLock()
	agg := e.aggregator
	e.mu.RUnlock()

	if agg == nil {
		return nil
	}
	return agg.CheckSummaries()
}

// Progress returns profile completion in [0, 1].
func (e *Engine) Progress() float64 {
	e.mu.RLock()
	sup := e.supervisor
	e.mu.RUnlock()

	if sup == nil {
		return 0
	}
	return sup.Progress()
}

// Stats returns supervisor statistics, or nil before the run has started.
func (e *Engine) Stats() *executor.Stats {
	e.mu.RLock()
	sup := e.supervisor
	e.mu.RUnlock()

	if sup == nil {
		return nil
	}
	return sup.Stats()
}
