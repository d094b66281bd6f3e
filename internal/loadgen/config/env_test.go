package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("BASE_URL", "http://staging:9000")
	t.Setenv("LOADGEN_PROFILE", "spike")
	t.Setenv("LOADGEN_TIMEOUT", "5s")
	t.Setenv("LOADGEN_PACING", "0s")
	t.Setenv("LOADGEN_STRICT_CHECKS", "true")
	t.Setenv("LOADGEN_LOG_LEVEL", "debug")
	t.Setenv("INFLUX_HOST", "http://influx:8181")
	t.Setenv("INFLUX_DATABASE", "loadtests")

	overrides, err := LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}

	config := &TestConfig{Stages: []StageConfig{{Duration: "1m", Target: 5}}}
	overrides.Apply(config)
	ApplyDefaults(config)

	if config.BaseURL != "http://staging:9000" {
		t.Errorf("BaseURL = %q", config.BaseURL)
	}
	if config.Profile != "spike" || config.Stages != nil {
		t.Errorf("profile override did not replace stages: %q %v", config.Profile, config.Stages)
	}
	if time.Duration(config.Timeout) != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", config.Timeout)
	}
	if config.PacingDuration() != 0 {
		t.Errorf("PacingDuration() = %v, want 0", config.PacingDuration())
	}
	if !config.Checks.Strict {
		t.Error("Checks.Strict = false, want true")
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", config.Logging.Level)
	}
	if config.Output.Influx == nil || config.Output.Influx.Database != "loadtests" {
		t.Errorf("Influx = %+v", config.Output.Influx)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadEnv_Unset(t *testing.T) {
	overrides, err := LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}

	config := &TestConfig{Name: "kept", BaseURL: "http://kept"}
	if os.Getenv("BASE_URL") == "" {
		overrides.Apply(config)
		if config.BaseURL != "http://kept" {
			t.Errorf("BaseURL overwritten with %q", config.BaseURL)
		}
	}
	if config.Name != "kept" {
		t.Errorf("Name = %q", config.Name)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	if err := os.WriteFile(file, []byte("LOADGEN_METRICS_ADDR=:9100\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	// godotenv.Load sets variables directly; register cleanup through t.Setenv.
	t.Setenv("LOADGEN_METRICS_ADDR", "")
	os.Unsetenv("LOADGEN_METRICS_ADDR")

	n, err := LoadEnvFiles([]string{file, filepath.Join(dir, "missing")})
	if err != nil {
		t.Fatalf("LoadEnvFiles() error = %v", err)
	}
	if n != 1 {
		t.Errorf("loaded %d files, want 1", n)
	}

	overrides, err := LoadEnv(file)
	if err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	if overrides.MetricsAddr != ":9100" {
		t.Errorf("MetricsAddr = %q, want :9100", overrides.MetricsAddr)
	}
}
