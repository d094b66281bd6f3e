package executor_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/paklog/catalog-loadgen/internal/loadgen/executor"
)

func baselineProfile() executor.RampProfile {
	return executor.RampProfile{
		Stages: []executor.Stage{
			{Duration: 30 * time.Second, Target: 10},
			{Duration: time.Minute, Target: 10},
			{Duration: 30 * time.Second, Target: 0},
		},
	}
}

func TestRampProfile_DesiredConcurrency(t *testing.T) {
	p := baselineProfile()

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{-time.Second, 0},
		{0, 0},
		{15 * time.Second, 5},
		{30 * time.Second, 10},
		{time.Minute, 10},
		{90 * time.Second, 10},
		{105 * time.Second, 5},
		{2 * time.Minute, 0},
		{time.Hour, 0},
	}

	for _, tt := range tests {
		if got := p.DesiredConcurrency(tt.elapsed); got != tt.want {
			t.Errorf("DesiredConcurrency(%v) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
}

func TestRampProfile_Rounding(t *testing.T) {
	p := executor.RampProfile{
		Stages: []executor.Stage{{Duration: 4 * time.Second, Target: 2}},
	}

	// 1s of 4s toward 2 is 0.5, which rounds up.
	if got := p.DesiredConcurrency(time.Second); got != 1 {
		t.Errorf("DesiredConcurrency(1s) = %d, want 1", got)
	}
	if got := p.DesiredConcurrency(999 * time.Millisecond); got != 0 {
		t.Errorf("DesiredConcurrency(999ms) = %d, want 0", got)
	}
}

func TestRampProfile_Endpoints(t *testing.T) {
	p := executor.RampProfile{
		StartVUs: 3,
		Stages: []executor.Stage{
			{Duration: 10 * time.Second, Target: 50},
			{Duration: 20 * time.Second, Target: 20},
			{Duration: 5 * time.Second, Target: 7},
		},
	}

	if got := p.DesiredLevel(0); got != 3 {
		t.Errorf("DesiredLevel(0) = %v, want StartVUs", got)
	}

	var end time.Duration
	for i, stage := range p.Stages {
		end += stage.Duration
		if got := p.DesiredLevel(end); got != float64(stage.Target) {
			t.Errorf("level at end of stage %d = %v, want %d", i, got, stage.Target)
		}
	}

	if got := p.DesiredLevel(p.TotalDuration()); got != 7 {
		t.Errorf("DesiredLevel(total) = %v, want last target", got)
	}
}

func TestRampProfile_Continuity(t *testing.T) {
	p := executor.RampProfile{
		StartVUs: 5,
		Stages: []executor.Stage{
			{Duration: 2 * time.Second, Target: 100},
			{Duration: 3 * time.Second, Target: 100},
			{Duration: time.Second, Target: 0},
			{Duration: 4 * time.Second, Target: 40},
		},
	}

	// The steepest stage moves 100 VUs in one second.
	const maxSlope = 100.0
	step := 10 * time.Millisecond

	prev := p.DesiredLevel(0)
	for elapsed := step; elapsed <= p.TotalDuration(); elapsed += step {
		cur := p.DesiredLevel(elapsed)
		if jump := math.Abs(cur - prev); jump > maxSlope*step.Seconds()+1e-9 {
			t.Fatalf("level jumped by %v at %v", jump, elapsed)
		}
		prev = cur
	}
}

func TestRampProfile_StepStages(t *testing.T) {
	p := executor.RampProfile{
		StartVUs: 10,
		Stages: []executor.Stage{
			{Duration: 10 * time.Second, Target: 10},
			{Duration: 0, Target: 100},
			{Duration: 10 * time.Second, Target: 100},
			{Duration: 10 * time.Second, Target: 10, Step: true},
		},
	}

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 10},
		{9999 * time.Millisecond, 10},
		{10 * time.Second, 100},
		{15 * time.Second, 100},
		{20 * time.Second, 10},
		{25 * time.Second, 10},
		{30 * time.Second, 10},
	}

	for _, tt := range tests {
		if got := p.DesiredConcurrency(tt.elapsed); got != tt.want {
			t.Errorf("DesiredConcurrency(%v) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
}

func TestRampProfile_OpeningStep(t *testing.T) {
	p := executor.RampProfile{
		Stages: []executor.Stage{
			{Duration: 5 * time.Second, Target: 8, Step: true},
		},
	}

	if got := p.DesiredConcurrency(0); got != 8 {
		t.Errorf("DesiredConcurrency(0) = %d, want 8", got)
	}
}

func TestRampProfile_StageAt(t *testing.T) {
	p := baselineProfile()

	tests := []struct {
		elapsed  time.Duration
		wantIdx  int
		wantDone bool
	}{
		{0, 0, false},
		{29 * time.Second, 0, false},
		{30 * time.Second, 1, false},
		{100 * time.Second, 2, false},
		{2 * time.Minute, 2, true},
	}

	for _, tt := range tests {
		idx, done := p.StageAt(tt.elapsed)
		if idx != tt.wantIdx || done != tt.wantDone {
			t.Errorf("StageAt(%v) = (%d, %v), want (%d, %v)", tt.elapsed, idx, done, tt.wantIdx, tt.wantDone)
		}
	}
}

func TestRampProfile_Totals(t *testing.T) {
	p := baselineProfile()

	if got := p.TotalDuration(); got != 2*time.Minute {
		t.Errorf("TotalDuration() = %v, want 2m", got)
	}
	if got := p.MaxTarget(); got != 10 {
		t.Errorf("MaxTarget() = %d, want 10", got)
	}
}

func TestRampProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile executor.RampProfile
		field   string
	}{
		{"no stages", executor.RampProfile{}, "stages"},
		{"negative start", executor.RampProfile{StartVUs: -1, Stages: []executor.Stage{{Duration: time.Second, Target: 1}}}, "startVUs"},
		{"negative duration", executor.RampProfile{Stages: []executor.Stage{{Duration: -time.Second, Target: 1}}}, "stages[0].duration"},
		{"negative target", executor.RampProfile{Stages: []executor.Stage{{Duration: time.Second}, {Duration: time.Second, Target: -2}}}, "stages[1].target"},
		{"zero total", executor.RampProfile{Stages: []executor.Stage{{Target: 5}}}, "stages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			verr, ok := err.(*executor.ValidationError)
			if !ok {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
			if !strings.HasPrefix(err.Error(), "validation error on field '"+tt.field+"'") {
				t.Errorf("Error() = %q", err.Error())
			}
		})
	}

	if err := baselineProfile().Validate(); err != nil {
		t.Errorf("baseline profile: Validate() error = %v", err)
	}
}
