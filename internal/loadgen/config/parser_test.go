package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	yamlConfig := `
name: "catalog smoke"
baseUrl: "http://catalog:8082/"
startVUs: 2
stages:
  - duration: 30s
    target: 10
  - duration: 1m
    target: 10
    name: hold
  - duration: 10s
    target: 50
    step: true
thresholds:
  http_req_duration:
    - "p(99)<1500"
  "checks{check:product created}":
    - "rate>0.99"
pacing: 250ms
retireMode: iteration
checks:
  strict: true
fixture:
  sku: "LOAD-{{vu}}"
  hazmatInfo:
    isHazmat: true
    unNumber: UN1203
output:
  influx:
    host: http://influx:8181
    database: loadtests
`
	config, err := ParseConfig([]byte(yamlConfig), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if config.Name != "catalog smoke" {
		t.Errorf("Name = %v, want %v", config.Name, "catalog smoke")
	}
	if len(config.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(config.Stages))
	}
	if config.Stages[1].Name != "hold" || !config.Stages[2].Step {
		t.Errorf("Stages = %+v", config.Stages)
	}
	if config.Pacing == nil || time.Duration(*config.Pacing) != 250*time.Millisecond {
		t.Errorf("Pacing = %v, want 250ms", config.Pacing)
	}
	if got := config.Thresholds["checks{check:product created}"]; len(got) != 1 || got[0] != "rate>0.99" {
		t.Errorf("tagged threshold = %v", got)
	}
	if !config.Checks.Strict {
		t.Error("Checks.Strict = false, want true")
	}
	if config.Fixture == nil || config.Fixture.Hazmat == nil || config.Fixture.Hazmat.UNNumber != "UN1203" {
		t.Errorf("Fixture = %+v", config.Fixture)
	}

	ApplyDefaults(config)
	if config.BaseURL != "http://catalog:8082" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", config.BaseURL)
	}
	if config.Output.Influx.Measurement != DefaultMeasurement {
		t.Errorf("Influx.Measurement = %q, want default", config.Output.Influx.Measurement)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	profile, err := config.RampProfile()
	if err != nil {
		t.Fatalf("RampProfile() error = %v", err)
	}
	if profile.StartVUs != 2 || profile.TotalDuration() != 100*time.Second {
		t.Errorf("profile = %+v", profile)
	}
	if sku := config.FixtureTemplate().SKU(7); sku != "LOAD-7" {
		t.Errorf("fixture SKU = %q, want LOAD-7", sku)
	}
}

func TestParseConfig_YAMLUnknownField(t *testing.T) {
	_, err := ParseConfig([]byte("scenarios: {}\n"), "test.yml")
	if err == nil {
		t.Error("ParseConfig() should reject unknown fields")
	}
}

func TestParseConfig_EmptyYAML(t *testing.T) {
	config, err := ParseConfig(nil, "empty.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	ApplyDefaults(config)
	if config.Profile != DefaultProfile {
		t.Errorf("Profile = %q, want %q", config.Profile, DefaultProfile)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
		"name": "JSON config",
		"profile": "spike",
		"timeout": "5s",
		"gracefulStop": "10s",
		"thresholds": {"http_req_failed": ["rate<0.01"]}
	}`

	config, err := ParseConfig([]byte(jsonConfig), "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if config.Profile != "spike" {
		t.Errorf("Profile = %v, want spike", config.Profile)
	}
	if time.Duration(config.Timeout) != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", config.Timeout)
	}
	if time.Duration(config.GracefulStop) != 10*time.Second {
		t.Errorf("GracefulStop = %v, want 10s", config.GracefulStop)
	}

	ApplyDefaults(config)
	if _, ok := config.Thresholds[metrics.MetricReqDuration]; ok {
		t.Error("explicit thresholds must not be merged with the preset's")
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "run.yaml")

	yamlContent := `
name: "File Test"
profile: stress
`
	if err := os.WriteFile(tmpFile, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	config, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.Name != "File Test" {
		t.Errorf("Name = %v, want %v", config.Name, "File Test")
	}
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadConfig() should return error for nonexistent file")
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("30s:10, 1m:10,10s:1400:step,30s:0")
	if err != nil {
		t.Fatalf("ParseStages() error = %v", err)
	}

	want := []StageConfig{
		{Duration: "30s", Target: 10},
		{Duration: "1m", Target: 10},
		{Duration: "10s", Target: 1400, Step: true},
		{Duration: "30s", Target: 0},
	}
	if len(stages) != len(want) {
		t.Fatalf("len(stages) = %d, want %d", len(stages), len(want))
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages[%d] = %+v, want %+v", i, stages[i], want[i])
		}
	}

	for _, bad := range []string{"", "30s", "30s:x", "abc:10", "30s:10:ramp", "30s:10:step:1"} {
		if _, err := ParseStages(bad); err == nil {
			t.Errorf("ParseStages(%q) expected error", bad)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &TestConfig{}
	ApplyDefaults(config)

	if config.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", config.BaseURL, DefaultBaseURL)
	}
	if config.Profile != "baseline" || config.Name != "baseline" {
		t.Errorf("Profile/Name = %q/%q, want baseline", config.Profile, config.Name)
	}
	if got := config.Thresholds[metrics.MetricReqDuration]; len(got) != 1 || got[0] != "p(99)<1500" {
		t.Errorf("default thresholds = %v", config.Thresholds)
	}
	if config.PacingDuration() != time.Second {
		t.Errorf("PacingDuration() = %v, want 1s", config.PacingDuration())
	}
	if config.RetireMode != "step" {
		t.Errorf("RetireMode = %q, want step", config.RetireMode)
	}
	if config.HTTPClientConfig().Timeout != DefaultTimeout {
		t.Errorf("HTTP timeout = %v, want %v", config.HTTPClientConfig().Timeout, DefaultTimeout)
	}

	// An explicit zero pacing survives defaults.
	zero := &TestConfig{Pacing: NewDuration(0)}
	ApplyDefaults(zero)
	if zero.PacingDuration() != 0 {
		t.Errorf("PacingDuration() = %v, want 0", zero.PacingDuration())
	}

	custom := &TestConfig{Stages: []StageConfig{{Duration: "1s", Target: 1}}}
	ApplyDefaults(custom)
	if custom.Profile != "" || custom.Name != "custom" {
		t.Errorf("custom Profile/Name = %q/%q", custom.Profile, custom.Name)
	}
}

func TestDuration_JSON(t *testing.T) {
	var v struct {
		D Duration `json:"d"`
	}

	if err := json.Unmarshal([]byte(`{"d":"1m30s"}`), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if time.Duration(v.D) != 90*time.Second {
		t.Errorf("D = %v, want 1m30s", v.D)
	}

	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"d":"1m30s"}` {
		t.Errorf("Marshal() = %s", out)
	}

	if err := json.Unmarshal([]byte(`{"d":"soon"}`), &v); err == nil {
		t.Error("Unmarshal() expected error for invalid duration")
	}
}
