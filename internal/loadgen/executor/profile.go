// Package executor turns a ramp profile into a running population of VUs.
package executor

import (
	"fmt"
	"math"
	"time"
)

// Stage is one segment of a ramp profile.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of a ramp stage, or held for the
	// whole of a step stage.
	Target int `json:"target" yaml:"target"`

	// Step jumps to Target at the start of the stage instead of ramping.
	// A zero-duration stage is always a step.
	Step bool `json:"step,omitempty" yaml:"step,omitempty"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// isStep reports whether the stage jumps to its target.
func (s Stage) isStep() bool {
	return s.Step || s.Duration == 0
}

// RampProfile is the ordered list of stages of a run.
//
// Stages are contiguous: each ramp stage starts at the level the previous
// stage ended at, so the desired concurrency is continuous within and
// across ramp stages.
type RampProfile struct {
	// StartVUs is the level before the first stage (default 0).
	StartVUs int     `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Stages   []Stage `json:"stages" yaml:"stages"`
}

// TotalDuration returns the sum of all stage durations.
func (p RampProfile) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range p.Stages {
		total += stage.Duration
	}
	return total
}

// MaxTarget returns the highest concurrency the profile reaches.
func (p RampProfile) MaxTarget() int {
	max := p.StartVUs
	for _, stage := range p.Stages {
		if stage.Target > max {
			max = stage.Target
		}
	}
	return max
}

// DesiredLevel returns the unrounded target concurrency at elapsed.
//
// Ramp stages interpolate linearly from the previous level to the stage
// target. Step stages take their target at their first instant. Before the
// profile the level is StartVUs (unless the profile opens with a step) and
// after it the last stage's target.
func (p RampProfile) DesiredLevel(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}

	prev := float64(p.StartVUs)
	var stageStart time.Duration

	for _, stage := range p.Stages {
		stageEnd := stageStart + stage.Duration
		target := float64(stage.Target)

		if elapsed < stageEnd {
			if stage.isStep() {
				return target
			}
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			return prev + (target-prev)*progress
		}

		prev = target
		stageStart = stageEnd
	}

	return prev
}

// DesiredConcurrency returns DesiredLevel rounded to the nearest integer.
func (p RampProfile) DesiredConcurrency(elapsed time.Duration) int {
	return int(math.Floor(p.DesiredLevel(elapsed) + 0.5))
}

// StageAt returns the index of the stage active at elapsed. Past the end of
// the profile it returns the last index and done=true.
func (p RampProfile) StageAt(elapsed time.Duration) (index int, done bool) {
	if len(p.Stages) == 0 {
		return 0, true
	}

	var stageStart time.Duration
	for i, stage := range p.Stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			return i, false
		}
		stageStart = stageEnd
	}
	return len(p.Stages) - 1, true
}

// stageStartLevel returns the level in effect just before stage i begins.
func (p RampProfile) stageStartLevel(i int) int {
	if i <= 0 {
		return p.StartVUs
	}
	return p.Stages[i-1].Target
}

// Validate checks the profile for negative values and an empty schedule.
func (p RampProfile) Validate() error {
	if len(p.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	if p.StartVUs < 0 {
		return &ValidationError{Field: "startVUs", Message: fmt.Sprintf("must be >= 0, got %d", p.StartVUs)}
	}

	for i, stage := range p.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if stage.Duration < 0 {
			return &ValidationError{Field: field + ".duration", Message: fmt.Sprintf("must be >= 0, got %s", stage.Duration)}
		}
		if stage.Target < 0 {
			return &ValidationError{Field: field + ".target", Message: fmt.Sprintf("must be >= 0, got %d", stage.Target)}
		}
	}

	if p.TotalDuration() <= 0 {
		return &ValidationError{Field: "stages", Message: "total duration must be > 0"}
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
