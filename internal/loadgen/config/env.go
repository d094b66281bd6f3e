package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultEnvFiles are loaded by LoadEnv when present.
var DefaultEnvFiles = []string{".env", ".env.local"}

// EnvOverrides are settings taken from the environment. Unset variables
// leave the file configuration untouched.
type EnvOverrides struct {
	BaseURL      string         `env:"BASE_URL"`
	Profile      string         `env:"LOADGEN_PROFILE"`
	Timeout      time.Duration  `env:"LOADGEN_TIMEOUT"`
	Pacing       *time.Duration `env:"LOADGEN_PACING"`
	GracefulStop time.Duration  `env:"LOADGEN_GRACEFUL_STOP"`
	StrictChecks *bool          `env:"LOADGEN_STRICT_CHECKS"`
	LogLevel     string         `env:"LOADGEN_LOG_LEVEL"`
	LogFormat    string         `env:"LOADGEN_LOG_FORMAT"`
	MetricsAddr  string         `env:"LOADGEN_METRICS_ADDR"`

	Influx InfluxEnv
}

// InfluxEnv configures InfluxDB export from the environment.
type InfluxEnv struct {
	Host     string `env:"INFLUX_HOST"`
	Token    string `env:"INFLUX_TOKEN"`
	Database string `env:"INFLUX_DATABASE"`
}

// LoadEnvFiles loads the given dotenv files that exist and returns how many
// were loaded. Variables already set in the process environment win.
func LoadEnvFiles(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}

	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// LoadEnv loads dotenv files and parses the overrides.
func LoadEnv(files ...string) (*EnvOverrides, error) {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	if _, err := LoadEnvFiles(files); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	overrides := &EnvOverrides{}
	if err := env.Parse(overrides); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return overrides, nil
}

// Apply copies every set override onto config.
func (o *EnvOverrides) Apply(config *TestConfig) {
	if o.BaseURL != "" {
		config.BaseURL = o.BaseURL
	}
	if o.Profile != "" {
		config.Profile = o.Profile
		config.Stages = nil
	}
	if o.Timeout > 0 {
		config.Timeout = Duration(o.Timeout)
	}
	if o.Pacing != nil {
		config.Pacing = NewDuration(*o.Pacing)
	}
	if o.GracefulStop > 0 {
		config.GracefulStop = Duration(o.GracefulStop)
	}
	if o.StrictChecks != nil {
		config.Checks.Strict = *o.StrictChecks
	}
	if o.LogLevel != "" {
		config.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		config.Logging.Format = o.LogFormat
	}
	if o.MetricsAddr != "" {
		config.Output.MetricsAddr = o.MetricsAddr
	}

	if o.Influx.Host != "" {
		if config.Output.Influx == nil {
			config.Output.Influx = &InfluxConfig{}
		}
		config.Output.Influx.Host = o.Influx.Host
	}
	if config.Output.Influx != nil {
		if o.Influx.Token != "" {
			config.Output.Influx.Token = o.Influx.Token
		}
		if o.Influx.Database != "" {
			config.Output.Influx.Database = o.Influx.Database
		}
	}
}
