package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paklog/catalog-loadgen/internal/loadgen/check"
	"github.com/paklog/catalog-loadgen/internal/loadgen/fixture"
)

// CheckSink receives check results.
type CheckSink interface {
	Record(result check.CheckResult)
}

// Recorder receives everything a VU measures. *metrics.Aggregator
// implements it.
type Recorder interface {
	CheckSink
	RecordRequest(step string, d time.Duration, failed bool, bytes int64)
	RecordTransportError(step string)
	RecordIteration(d time.Duration)
}

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	VUStateIdle VUState = iota
	VUStateRunning
	VUStateStopping
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RetireMode controls where a retired VU stops.
type RetireMode string

const (
	// RetireAtStep stops at the next step boundary.
	RetireAtStep RetireMode = "step"

	// RetireAtIteration finishes the current iteration first, skipping the
	// remaining pacing, so the product is still deleted.
	RetireAtIteration RetireMode = "iteration"
)

// Runtime is the read-only state shared by all VUs of a run.
type Runtime struct {
	BaseURL    string
	Workflow   *Workflow
	Fixture    *fixture.Template
	Client     *http.Client
	Recorder   Recorder
	Pacing     time.Duration
	RetireMode RetireMode
	UserAgent  string
	Logger     logrus.FieldLogger
}

// VirtualUser runs the workflow in a loop until it is retired.
type VirtualUser struct {
	ID int

	rt *Runtime

	state      atomic.Int32
	stopCh     chan struct{}
	doneCh     chan struct{}
	iterations atomic.Int64
	logger     logrus.FieldLogger
}

// NewVirtualUser creates a VU. It does nothing until Run is called.
func NewVirtualUser(id int, rt *Runtime) *VirtualUser {
	logger := rt.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &VirtualUser{
		ID:     id,
		rt:     rt,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger.WithField("vu", id),
	}
}

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns the number of completed iterations.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iterations.Load()
}

// Run executes iterations until RequestStop is called or ctx is cancelled.
//
// ctx bounds the HTTP requests themselves. Cancelling it abandons the
// in-flight step; RequestStop lets it finish.
func (vu *VirtualUser) Run(ctx context.Context) {
	defer vu.markStopped()

	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return
	}

	for {
		if ctx.Err() != nil || vu.stopRequested() {
			return
		}

		start := time.Now()
		if !vu.runIteration(ctx) {
			return
		}
		vu.iterations.Add(1)
		vu.rt.Recorder.RecordIteration(time.Since(start))
	}
}

// runIteration executes every step in order and reports whether the
// iteration completed.
func (vu *VirtualUser) runIteration(ctx context.Context) bool {
	product := vu.rt.Fixture.Instance(vu.ID)
	vars := map[string]string{"sku": product.SKU}

	for i, step := range vu.rt.Workflow.Steps {
		if i > 0 {
			vu.pace(ctx)
		}
		if ctx.Err() != nil {
			return false
		}
		if vu.rt.RetireMode != RetireAtIteration && vu.stopRequested() {
			return false
		}

		if !vu.executeStep(ctx, step, product, vars) {
			return false
		}
	}
	return true
}

// executeStep sends one request and records its outcome. It returns false
// only when ctx was cancelled while the request was in flight.
func (vu *VirtualUser) executeStep(ctx context.Context, step WorkflowStep, product fixture.Product, vars map[string]string) bool {
	exp := step.Expect
	if exp.Name == "" {
		exp.Name = step.Name
	}
	exp = exp.Resolve(vars)

	req, err := vu.buildRequest(ctx, step, product)
	if err != nil {
		vu.recordTransportFailure(step, exp, fmt.Errorf("failed to build request: %w", err))
		return true
	}

	start := time.Now()
	resp, err := vu.rt.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		vu.recordTransportFailure(step, exp, err)
		return true
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		vu.recordTransportFailure(step, exp, fmt.Errorf("failed to read response body: %w", err))
		return true
	}

	failed := resp.StatusCode < 200 || resp.StatusCode >= 400
	vu.rt.Recorder.RecordRequest(step.Name, duration, failed, int64(len(body)))

	result := check.Evaluate(check.Response{StatusCode: resp.StatusCode, Body: body}, exp, time.Now())
	vu.rt.Recorder.Record(result)

	if !result.Passed {
		vu.logger.WithFields(logrus.Fields{
			"check":  result.Name,
			"status": result.Status,
			"reason": result.Failure.String(),
		}).Debug(result.Message)
	}
	return true
}

func (vu *VirtualUser) recordTransportFailure(step WorkflowStep, exp check.Expectation, err error) {
	vu.rt.Recorder.RecordTransportError(step.Name)
	result := check.Evaluate(check.Response{Err: err}, exp, time.Now())
	vu.rt.Recorder.Record(result)

	vu.logger.WithFields(logrus.Fields{
		"check": result.Name,
		"error": err,
	}).Debug("request failed")
}

func (vu *VirtualUser) buildRequest(ctx context.Context, step WorkflowStep, product fixture.Product) (*http.Request, error) {
	var payload interface{}
	switch step.Body {
	case BodyProduct:
		payload = product
	case BodyUpdatedProduct:
		payload = product.WithTitle(fixture.UpdatedTitle)
	case BodyPatch:
		payload = fixture.Patch{Title: fixture.PatchedTitle}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, step.Method.HTTPMethod(), vu.rt.BaseURL+step.Path(product.SKU), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if vu.rt.UserAgent != "" {
		req.Header.Set("User-Agent", vu.rt.UserAgent)
	}
	return req, nil
}

// pace sleeps for the pacing interval, returning early on stop or cancel.
func (vu *VirtualUser) pace(ctx context.Context) {
	if vu.rt.Pacing <= 0 {
		return
	}

	timer := time.NewTimer(vu.rt.Pacing)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-vu.stopCh:
	case <-timer.C:
	}
}

// RequestStop asks the VU to stop at its next boundary. The in-flight step
// always completes. Safe to call more than once.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

func (vu *VirtualUser) stopRequested() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

// Done is closed when the VU has stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits for the VU to stop. It returns false on timeout.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}
