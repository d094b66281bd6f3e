package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paklog/catalog-loadgen/internal/loadgen"
	"github.com/paklog/catalog-loadgen/internal/loadgen/executor"
	"github.com/paklog/catalog-loadgen/internal/loadgen/fixture"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultBaseURL      = "http://localhost:8082"
	DefaultPacing       = time.Second
	DefaultTimeout      = 30 * time.Second
	DefaultGracefulStop = 30 * time.Second
	DefaultUserAgent    = "catalog-loadgen/1.0"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultMeasurement  = "catalog_loadgen"
)

const (
	customProfileName   = "custom"
	stageStepSuffix     = "step"
	stageFieldSeparator = ":"
	stageEntrySeparator = ","
)

// LoadConfig reads and parses a configuration file. The format is chosen
// by extension: .json is JSON, anything else YAML.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. filename is only used to pick the
// format.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	config := &TestConfig{}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return config, nil
}

// ParseDurationString parses a duration. A bare integer is seconds and an
// empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// ParseStages parses the compact stage syntax used on the command line:
// "30s:10,1m:10,30s:0". A third field "step" makes the stage jump to its
// target, e.g. "1m:1400:step".
func ParseStages(s string) ([]StageConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("stages cannot be empty")
	}

	var stages []StageConfig
	for i, entry := range strings.Split(s, stageEntrySeparator) {
		parts := strings.Split(strings.TrimSpace(entry), stageFieldSeparator)
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("stage %d: expected duration:target[:step], got %q", i, entry)
		}

		if _, err := ParseDurationString(parts[0]); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}

		target, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i, parts[1])
		}

		stage := StageConfig{Duration: strings.TrimSpace(parts[0]), Target: target}
		if len(parts) == 3 {
			if strings.TrimSpace(parts[2]) != stageStepSuffix {
				return nil, fmt.Errorf("stage %d: unknown modifier %q", i, parts[2])
			}
			stage.Step = true
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// ApplyDefaults fills unset fields. With no stages and no profile the
// baseline preset is used; with no thresholds the preset's are used.
func ApplyDefaults(config *TestConfig) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if len(config.Stages) == 0 && config.Profile == "" {
		config.Profile = DefaultProfile
	}

	if config.Name == "" {
		if config.Profile != "" {
			config.Name = config.Profile
		} else {
			config.Name = customProfileName
		}
	}

	if config.Thresholds == nil {
		config.Thresholds = standardThresholds()
	}

	if config.Pacing == nil {
		config.Pacing = NewDuration(DefaultPacing)
	}
	if config.Timeout == 0 {
		config.Timeout = Duration(DefaultTimeout)
	}
	if config.GracefulStop == 0 {
		config.GracefulStop = Duration(DefaultGracefulStop)
	}
	if config.RetireMode == "" {
		config.RetireMode = string(loadgen.RetireAtStep)
	}

	if config.HTTP.UserAgent == "" {
		config.HTTP.UserAgent = DefaultUserAgent
	}

	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.Format == "" {
		config.Logging.Format = DefaultLogFormat
	}

	if config.Output.Influx != nil && config.Output.Influx.Measurement == "" {
		config.Output.Influx.Measurement = DefaultMeasurement
	}
}

// RampProfile resolves the configured stages or preset into a profile.
func (c *TestConfig) RampProfile() (executor.RampProfile, error) {
	if len(c.Stages) == 0 {
		preset, err := LookupPreset(c.Profile)
		if err != nil {
			return executor.RampProfile{}, err
		}
		preset.Profile.StartVUs = c.StartVUs
		return preset.Profile, nil
	}

	profile := executor.RampProfile{
		StartVUs: c.StartVUs,
		Stages:   make([]executor.Stage, 0, len(c.Stages)),
	}
	for i, sc := range c.Stages {
		d, err := ParseDurationString(sc.Duration)
		if err != nil {
			return executor.RampProfile{}, fmt.Errorf("stages[%d]: %w", i, err)
		}
		profile.Stages = append(profile.Stages, executor.Stage{
			Duration: d,
			Target:   sc.Target,
			Step:     sc.Step,
			Name:     sc.Name,
		})
	}
	return profile, nil
}

// FixtureTemplate builds the product template, starting from the defaults
// and applying any overrides.
func (c *TestConfig) FixtureTemplate() *fixture.Template {
	if c.Fixture == nil {
		return fixture.DefaultTemplate()
	}

	dims := fixture.DefaultDimensions()
	if c.Fixture.Dimensions != nil {
		dims = *c.Fixture.Dimensions
	}

	var attrs fixture.Attributes
	if c.Fixture.Hazmat != nil {
		attrs.HazmatInfo = *c.Fixture.Hazmat
	}

	return fixture.NewTemplate(c.Fixture.SKU, c.Fixture.Title, dims, attrs)
}

// HTTPClientConfig returns the client settings for the VU pool.
func (c *TestConfig) HTTPClientConfig() loadgen.HTTPClientConfig {
	cfg := loadgen.DefaultHTTPClientConfig()
	cfg.Timeout = c.Timeout.GetDuration(DefaultTimeout)

	if c.HTTP.MaxIdleConns > 0 {
		cfg.MaxIdleConns = c.HTTP.MaxIdleConns
	}
	if c.HTTP.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = c.HTTP.MaxIdleConnsPerHost
	}
	cfg.MaxConnsPerHost = c.HTTP.MaxConnsPerHost
	cfg.DisableKeepAlives = c.HTTP.DisableKeepAlives
	return cfg
}

// PacingDuration returns the configured pacing, DefaultPacing when unset.
func (c *TestConfig) PacingDuration() time.Duration {
	if c.Pacing == nil {
		return DefaultPacing
	}
	return time.Duration(*c.Pacing)
}
