package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/paklog/catalog-loadgen/internal/loadgen/executor"
	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
)

// DefaultProfile is used when neither a profile nor stages are configured.
const DefaultProfile = "baseline"

// Preset is a named ramp profile with its default thresholds.
type Preset struct {
	Name        string
	Description string
	Profile     executor.RampProfile
	Thresholds  map[string][]string
}

// standardThresholds is the latency budget shared by every preset.
func standardThresholds() map[string][]string {
	return map[string][]string{
		metrics.MetricReqDuration: {"p(99)<1500"},
	}
}

var presets = map[string]Preset{
	"baseline": {
		Name:        "baseline",
		Description: "ramp to 100 VUs over 5m, hold 10m, ramp down over 5m",
		Profile: executor.RampProfile{Stages: []executor.Stage{
			{Duration: 5 * time.Minute, Target: 100, Name: "ramp-up"},
			{Duration: 10 * time.Minute, Target: 100, Name: "hold"},
			{Duration: 5 * time.Minute, Target: 0, Name: "ramp-down"},
		}},
	},
	"spike": {
		Name:        "spike",
		Description: "hold 100 VUs, spike to 1400 for 3m, recover, ramp down",
		Profile: executor.RampProfile{Stages: []executor.Stage{
			{Duration: 10 * time.Second, Target: 100, Name: "below normal"},
			{Duration: time.Minute, Target: 100, Name: "normal"},
			{Duration: 10 * time.Second, Target: 1400, Name: "spike"},
			{Duration: 3 * time.Minute, Target: 1400, Name: "spike hold"},
			{Duration: 10 * time.Second, Target: 100, Name: "scale down"},
			{Duration: 3 * time.Minute, Target: 100, Name: "recovery"},
			{Duration: 10 * time.Second, Target: 0, Name: "ramp-down"},
		}},
	},
	"stress": {
		Name:        "stress",
		Description: "climb to 400 VUs in steps of 100, then recover over 10m",
		Profile: executor.RampProfile{Stages: []executor.Stage{
			{Duration: 2 * time.Minute, Target: 100, Name: "below normal"},
			{Duration: 5 * time.Minute, Target: 100},
			{Duration: 2 * time.Minute, Target: 200, Name: "normal"},
			{Duration: 5 * time.Minute, Target: 200},
			{Duration: 2 * time.Minute, Target: 300, Name: "around breaking point"},
			{Duration: 5 * time.Minute, Target: 300},
			{Duration: 2 * time.Minute, Target: 400, Name: "beyond breaking point"},
			{Duration: 5 * time.Minute, Target: 400},
			{Duration: 10 * time.Minute, Target: 0, Name: "recovery"},
		}},
	},
}

// LookupPreset returns a copy of the named preset.
func LookupPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown profile %q (available: %v)", name, PresetNames())
	}

	stages := make([]executor.Stage, len(p.Profile.Stages))
	copy(stages, p.Profile.Stages)
	p.Profile.Stages = stages
	p.Thresholds = standardThresholds()
	return p, nil
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
