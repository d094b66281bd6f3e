package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/paklog/catalog-loadgen/internal/loadgen"
	"github.com/paklog/catalog-loadgen/internal/loadgen/executor"
	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
	"github.com/paklog/catalog-loadgen/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire configuration. It expects ApplyDefaults to
// have run.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(c.BaseURL, errs)
	validateProfile(c, errs)
	validateThresholds(c.Thresholds, errs)

	if c.Pacing != nil && *c.Pacing < 0 {
		errs.Add("pacing", "cannot be negative")
	}
	if c.Timeout < 0 {
		errs.Add("timeout", "cannot be negative")
	}
	if c.GracefulStop < 0 {
		errs.Add("gracefulStop", "cannot be negative")
	}

	switch loadgen.RetireMode(c.RetireMode) {
	case loadgen.RetireAtStep, loadgen.RetireAtIteration:
	default:
		errs.Add("retireMode", fmt.Sprintf("must be %q or %q, got %q", loadgen.RetireAtStep, loadgen.RetireAtIteration, c.RetireMode))
	}

	if err := c.FixtureTemplate().Validate(); err != nil {
		errs.Add("fixture", err.Error())
	}

	validateHTTP(&c.HTTP, errs)
	validateLogging(&c.Logging, errs)
	validateOutput(&c.Output, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("baseUrl", "base URL is required")
		return
	}

	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}

// validateProfile checks the stage list or preset and the resulting profile.
func validateProfile(c *TestConfig, errs *ValidationErrors) {
	if c.Profile != "" && len(c.Stages) > 0 {
		errs.Add("profile", "profile and stages are mutually exclusive")
		return
	}
	if c.Profile != "" {
		if _, err := LookupPreset(c.Profile); err != nil {
			errs.Add("profile", err.Error())
			return
		}
	}

	before := len(errs.Errors)
	for i, stage := range c.Stages {
		validateStage(fmt.Sprintf("stages[%d]", i), &stage, errs)
	}
	if len(errs.Errors) > before {
		return
	}

	profile, err := c.RampProfile()
	if err != nil {
		errs.Add("stages", err.Error())
		return
	}
	if err := profile.Validate(); err != nil {
		if verr, ok := err.(*executor.ValidationError); ok {
			errs.Add(verr.Field, verr.Message)
			return
		}
		errs.Add("stages", err.Error())
	}
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

// validateThresholds parses every expression.
func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for i, expr := range thresholds[name] {
			if _, err := metrics.ParseThreshold(name, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", name, i), err.Error())
			}
		}
	}
}

func validateHTTP(h *HTTPConfig, errs *ValidationErrors) {
	if h.MaxIdleConns < 0 {
		errs.Add("http.maxIdleConns", "cannot be negative")
	}
	if h.MaxIdleConnsPerHost < 0 {
		errs.Add("http.maxIdleConnsPerHost", "cannot be negative")
	}
	if h.MaxConnsPerHost < 0 {
		errs.Add("http.maxConnsPerHost", "cannot be negative")
	}
}

func validateLogging(l *LoggingConfig, errs *ValidationErrors) {
	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs.Add("logging.level", err.Error())
	}
	if l.Format != "text" && l.Format != "json" {
		errs.Add("logging.format", fmt.Sprintf("must be text or json, got %q", l.Format))
	}
}

func validateOutput(o *OutputConfig, errs *ValidationErrors) {
	if o.Influx == nil {
		return
	}
	if o.Influx.Host == "" {
		errs.Add("output.influx.host", "host is required")
	}
	if o.Influx.Database == "" {
		errs.Add("output.influx.database", "database is required")
	}
}
