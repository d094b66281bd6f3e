// Package config provides configuration parsing and validation for catalog load runs.
package config

import (
	"time"

	"github.com/paklog/catalog-loadgen/internal/loadgen/fixture"
)

// TestConfig is the root configuration for a load run.
//
// Example YAML:
//
//	name: "catalog spike"
//	baseUrl: "http://catalog:8082"
//	stages:
//	  - duration: 10s
//	    target: 100
//	  - duration: 1m
//	    target: 100
//	  - duration: 10s
//	    target: 0
//	thresholds:
//	  http_req_duration: ["p(99)<1500"]
//	  "checks{check:product created}": ["rate>0.99"]
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// BaseURL of the catalog service, without a trailing slash.
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Profile names a preset (baseline, spike, stress). Mutually exclusive
	// with Stages.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// StartVUs is the concurrency before the first stage.
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Stages defines a custom ramp profile.
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Thresholds maps a metric (optionally tagged) to expressions,
	// e.g. {"http_req_duration": ["p(99)<1500"]}.
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Pacing is the pause between workflow steps (default 1s).
	Pacing *Duration `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// Timeout is the per-request timeout (default 30s).
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracefulStop bounds the wait for in-flight steps after the profile
	// ends (default 30s).
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// RetireMode is "step" (default) or "iteration".
	RetireMode string `json:"retireMode,omitempty" yaml:"retireMode,omitempty"`

	Checks  ChecksConfig   `json:"checks,omitempty" yaml:"checks,omitempty"`
	Fixture *FixtureConfig `json:"fixture,omitempty" yaml:"fixture,omitempty"`
	HTTP    HTTPConfig     `json:"http,omitempty" yaml:"http,omitempty"`
	Logging LoggingConfig  `json:"logging,omitempty" yaml:"logging,omitempty"`
	Output  OutputConfig   `json:"output,omitempty" yaml:"output,omitempty"`
}

// StageConfig defines a single stage of the ramp profile.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count
	Target int `json:"target" yaml:"target"`

	// Step jumps to Target at the start of the stage
	Step bool `json:"step,omitempty" yaml:"step,omitempty"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ChecksConfig controls response checking.
type ChecksConfig struct {
	// Strict adds body-shape rules to the status checks.
	Strict bool `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// FixtureConfig overrides the product fixture.
type FixtureConfig struct {
	// SKU template; must contain {{vu}}.
	SKU   string `json:"sku,omitempty" yaml:"sku,omitempty"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	Dimensions *fixture.Dimensions `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Hazmat     *fixture.HazmatInfo `json:"hazmat_info,omitempty" yaml:"hazmatInfo,omitempty"`
}

// HTTPConfig tunes the shared HTTP client.
type HTTPConfig struct {
	MaxIdleConns        int    `json:"maxIdleConns,omitempty" yaml:"maxIdleConns,omitempty"`
	MaxIdleConnsPerHost int    `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int    `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	DisableKeepAlives   bool   `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`
	UserAgent           string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	// File receives the result: an HTML report for .html paths, JSON otherwise.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Quiet suppresses the live progress line.
	Quiet bool `json:"quiet,omitempty" yaml:"quiet,omitempty"`

	// MetricsAddr serves Prometheus metrics while the run is in progress.
	MetricsAddr string `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`

	Influx *InfluxConfig `json:"influx,omitempty" yaml:"influx,omitempty"`
}

// InfluxConfig configures time-series export to InfluxDB 3.
type InfluxConfig struct {
	Host     string `json:"host" yaml:"host"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
	Database string `json:"database" yaml:"database"`

	// Measurement defaults to "catalog_loadgen".
	Measurement string `json:"measurement,omitempty" yaml:"measurement,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// NewDuration returns a pointer to d as a Duration.
func NewDuration(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
