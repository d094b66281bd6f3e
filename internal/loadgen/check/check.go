// Package check evaluates HTTP responses against named expectations.
//
// Evaluation is pure: the same response and expectation always produce the
// same CheckResult, and nothing is shared between VUs.
package check

import (
	"fmt"
	"strings"
	"time"
)

// FailureKind classifies why a check did not pass.
type FailureKind int

const (
	// FailureNone means the check passed.
	FailureNone FailureKind = iota

	// FailureTransport means no HTTP response was received (connection
	// refused, timeout, reset).
	FailureTransport

	// FailureStatus means a response arrived with an unexpected status code.
	FailureStatus

	// FailureShape means the status matched but the body did not.
	FailureShape
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTransport:
		return "transport"
	case FailureStatus:
		return "status"
	case FailureShape:
		return "shape"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Response is the observed outcome of one request.
type Response struct {
	StatusCode int
	Body       []byte

	// Err is set when no response was received.
	Err error
}

// Expectation describes a passing response for one named check.
type Expectation struct {
	Name   string
	Status int

	// Fields are optional body assertions, evaluated in order.
	Fields []FieldRule

	// Schema, if set, must accept the body.
	Schema *Schema
}

// Resolve returns a copy of the expectation with placeholders of the form
// {key} in field rules replaced from vars.
func (e Expectation) Resolve(vars map[string]string) Expectation {
	if len(e.Fields) == 0 || len(vars) == 0 {
		return e
	}
	fields := make([]FieldRule, len(e.Fields))
	for i, f := range e.Fields {
		f.Equals = substitute(f.Equals, vars)
		fields[i] = f
	}
	e.Fields = fields
	return e
}

func substitute(s string, vars map[string]string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

// CheckResult is the named pass/fail outcome of one request.
type CheckResult struct {
	Name      string      `json:"name"`
	Passed    bool        `json:"passed"`
	Failure   FailureKind `json:"failure"`
	Status    int         `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Evaluate compares a response to an expectation.
func Evaluate(resp Response, exp Expectation, at time.Time) CheckResult {
	result := CheckResult{
		Name:      exp.Name,
		Status:    resp.StatusCode,
		Timestamp: at,
	}

	if resp.Err != nil {
		result.Failure = FailureTransport
		result.Message = resp.Err.Error()
		return result
	}

	if resp.StatusCode != exp.Status {
		result.Failure = FailureStatus
		result.Message = fmt.Sprintf("expected status %d, got %d", exp.Status, resp.StatusCode)
		return result
	}

	for _, rule := range exp.Fields {
		if err := rule.Match(resp.Body); err != nil {
			result.Failure = FailureShape
			result.Message = err.Error()
			return result
		}
	}

	if exp.Schema != nil {
		if err := exp.Schema.Validate(resp.Body); err != nil {
			result.Failure = FailureShape
			result.Message = err.Error()
			return result
		}
	}

	result.Passed = true
	return result
}
