package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

type metricKind int

const (
	kindTrend metricKind = iota
	kindCounter
	kindRate
)

type metricDef struct {
	kind metricKind
	tag  string
}

var knownMetrics = map[string]metricDef{
	MetricReqDuration:       {kind: kindTrend, tag: TagStep},
	MetricIterationDuration: {kind: kindTrend},
	MetricReqs:              {kind: kindCounter, tag: TagStep},
	MetricIterations:        {kind: kindCounter},
	MetricReqFailed:         {kind: kindRate, tag: TagStep},
	MetricChecks:            {kind: kindRate, tag: TagCheck},
}

var (
	metricNameRegex = regexp.MustCompile(`^([a-z_]+)(?:\{(\w+):([^}]+)\})?$`)
	expressionRegex = regexp.MustCompile(`^\s*(p\(\s*[\d.]+\s*\)|p\d+|[a-z]+)\s*([<>=!]+)\s*(.+?)\s*$`)
	percentileRegex = regexp.MustCompile(`^p\(?\s*([\d.]+)\s*\)?$`)
)

// Threshold is a pass/fail predicate over an aggregated metric, for example
// http_req_duration with expression "p(99)<1500".
type Threshold struct {
	Metric     string `json:"metric" yaml:"metric"`
	Expression string `json:"expression" yaml:"expression"`

	base       string
	tagValue   string
	kind       metricKind
	agg        string
	percentile float64
	op         string
	value      float64
}

// String returns "metric: expression".
func (t Threshold) String() string {
	return t.Metric + ": " + t.Expression
}

// ParseThreshold validates and compiles a threshold.
//
// Supported aggregations are p(N) or pNN, avg, med, min, max and count for
// trends, count and rate for counters, and rate for rates. Trend values
// accept a duration with unit ("1.5s") or a bare number of milliseconds.
func ParseThreshold(metric, expression string) (Threshold, error) {
	t := Threshold{Metric: strings.TrimSpace(metric), Expression: strings.TrimSpace(expression)}

	m := metricNameRegex.FindStringSubmatch(t.Metric)
	if m == nil {
		return t, fmt.Errorf("invalid metric name %q", metric)
	}
	def, ok := knownMetrics[m[1]]
	if !ok {
		return t, fmt.Errorf("unknown metric %q", m[1])
	}
	if m[2] != "" && m[2] != def.tag {
		return t, fmt.Errorf("metric %s does not support tag %q", m[1], m[2])
	}
	t.base, t.tagValue, t.kind = m[1], m[3], def.kind

	e := expressionRegex.FindStringSubmatch(t.Expression)
	if e == nil {
		return t, fmt.Errorf("invalid threshold expression %q for %s", expression, t.Metric)
	}

	if err := t.parseAggregation(e[1]); err != nil {
		return t, err
	}

	op, err := normalizeOperator(e[2])
	if err != nil {
		return t, fmt.Errorf("%s: %w", t.Metric, err)
	}
	t.op = op

	value, err := t.parseValue(e[3])
	if err != nil {
		return t, fmt.Errorf("%s: %w", t.Metric, err)
	}
	t.value = value

	return t, nil
}

// ParseThresholds parses a metric-to-expressions map, as found in config
// files. Results are ordered by metric name then expression order.
func ParseThresholds(defs map[string][]string) ([]Threshold, error) {
	metrics := make([]string, 0, len(defs))
	for metric := range defs {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	var result []Threshold
	for _, metric := range metrics {
		for _, expr := range defs[metric] {
			t, err := ParseThreshold(metric, expr)
			if err != nil {
				return nil, err
			}
			result = append(result, t)
		}
	}
	return result, nil
}

func (t *Threshold) parseAggregation(raw string) error {
	allowed := map[metricKind][]string{
		kindTrend:   {"p", "avg", "med", "min", "max", "count"},
		kindCounter: {"count", "rate"},
		kindRate:    {"rate"},
	}

	agg := raw
	if pm := percentileRegex.FindStringSubmatch(raw); pm != nil {
		p, err := strconv.ParseFloat(pm[1], 64)
		if err != nil || p < 0 || p > 100 {
			return fmt.Errorf("%s: invalid percentile %q", t.Metric, raw)
		}
		agg, t.percentile = "p", p
	} else if raw == "p" {
		return fmt.Errorf("%s: percentile missing in %q", t.Metric, t.Expression)
	}

	for _, a := range allowed[t.kind] {
		if a == agg {
			t.agg = agg
			return nil
		}
	}
	return fmt.Errorf("%s: aggregation %q not supported for this metric", t.Metric, raw)
}

func normalizeOperator(op string) (string, error) {
	switch op {
	case "<", "<=", ">", ">=", "==", "!=":
		return op, nil
	case "=":
		return "==", nil
	case "<>":
		return "!=", nil
	default:
		return "", fmt.Errorf("invalid operator %q", op)
	}
}

func (t *Threshold) parseValue(raw string) (float64, error) {
	if t.kind == kindTrend && t.agg != "count" {
		return parseMillis(raw)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("value %q cannot be negative", raw)
	}
	if t.kind == kindRate && v > 1 {
		return 0, fmt.Errorf("rate value %q must be between 0 and 1", raw)
	}
	return v, nil
}

// parseMillis parses "1500", "1500ms" or "1.5s" into milliseconds.
func parseMillis(raw string) (float64, error) {
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("duration %q cannot be negative", raw)
		}
		return v, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q cannot be negative", raw)
	}
	return float64(d) / float64(time.Millisecond), nil
}

func compareValues(actual float64, op string, expected float64) bool {
	switch op {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected
	case "==":
		return actual == expected
	case "!=":
		return actual != expected
	default:
		return false
	}
}

// MessageNoSamples is the result message of a trend threshold evaluated
// over zero samples. Such a threshold fails.
const MessageNoSamples = "no samples recorded"

// evaluate computes the threshold's observed value from a.
func (t Threshold) evaluate(a *Aggregator) ThresholdResult {
	result := ThresholdResult{Threshold: t}

	switch t.kind {
	case kindTrend:
		observed, count := a.trendValue(t.Metric, t.agg, t.percentile)
		if count == 0 && t.agg != "count" {
			result.Message = MessageNoSamples
			return result
		}
		result.Observed = observed
		if t.agg != "count" {
			result.Unit = "ms"
		}
	case kindCounter:
		n := a.counterValue(t.base, t.tagValue)
		result.Observed = float64(n)
		if t.agg == "rate" {
			result.Unit = "/s"
			if secs := a.Elapsed().Seconds(); secs > 0 {
				result.Observed = float64(n) / secs
			} else {
				result.Observed = 0
			}
		}
	case kindRate:
		result.Observed = a.rateValue(t.base, t.tagValue)
	}

	result.Passed = compareValues(result.Observed, t.op, t.value)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s", t.Expression, formatObserved(result))
	}
	return result
}

func formatObserved(r ThresholdResult) string {
	return strconv.FormatFloat(r.Observed, 'f', 2, 64) + r.Unit
}

// trendValue returns an aggregation in milliseconds (or the sample count for
// "count") and the number of samples.
func (a *Aggregator) trendValue(metric, agg string, percentile float64) (float64, int64) {
	a.trendsMu.RLock()
	t, ok := a.trends[metric]
	a.trendsMu.RUnlock()
	if !ok {
		return 0, 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	count := t.hist.TotalCount()
	toMillis := func(us float64) float64 { return us / 1000 }

	switch agg {
	case "p":
		return toMillis(float64(t.hist.ValueAtQuantile(percentile))), count
	case "avg":
		return toMillis(t.hist.Mean()), count
	case "med":
		return toMillis(float64(t.hist.ValueAtQuantile(50))), count
	case "min":
		return toMillis(float64(t.hist.Min())), count
	case "max":
		return toMillis(float64(t.hist.Max())), count
	case "count":
		return float64(count), count
	}
	return 0, count
}

func (a *Aggregator) counterValue(base, tagValue string) int64 {
	if tagValue == "" {
		switch base {
		case MetricReqs:
			return a.requests.Load()
		case MetricIterations:
			return a.iterations.Load()
		}
		return 0
	}

	a.countersMu.RLock()
	c, ok := a.counters[SubMetric(MetricReqs, TagStep, tagValue)]
	a.countersMu.RUnlock()
	if !ok {
		return 0
	}
	return c.n.Load()
}

func (a *Aggregator) rateValue(base, tagValue string) float64 {
	ratio := func(hits, total int64) float64 {
		if total == 0 {
			return 0
		}
		return float64(hits) / float64(total)
	}

	switch base {
	case MetricReqFailed:
		if tagValue == "" {
			return ratio(a.failedRequests.Load(), a.requests.Load())
		}
		a.countersMu.RLock()
		c, ok := a.counters[SubMetric(MetricReqs, TagStep, tagValue)]
		a.countersMu.RUnlock()
		if !ok {
			return 0
		}
		return ratio(c.failed.Load(), c.n.Load())

	case MetricChecks:
		if tagValue == "" {
			passed := a.checksPassed.Load()
			return ratio(passed, passed+a.checksFailed.Load())
		}
		a.checksMu.RLock()
		c, ok := a.checks[tagValue]
		a.checksMu.RUnlock()
		if !ok {
			return 0
		}
		passes := c.passes.Load()
		return ratio(passes, passes+c.fails.Load())
	}
	return 0
}
