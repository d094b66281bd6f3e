package metrics

// ThresholdResult is the outcome of one threshold.
type ThresholdResult struct {
	Threshold Threshold `json:"threshold"`
	Observed  float64   `json:"observed"`
	Unit      string    `json:"unit,omitempty"`
	Passed    bool      `json:"passed"`
	Message   string    `json:"message,omitempty"`
}

// CheckSummary is the pass/fail breakdown of one named check.
type CheckSummary struct {
	Name              string  `json:"name"`
	Passes            int64   `json:"passes"`
	Fails             int64   `json:"fails"`
	TransportFailures int64   `json:"transportFailures"`
	StatusFailures    int64   `json:"statusFailures"`
	ShapeFailures     int64   `json:"shapeFailures"`
	PassRate          float64 `json:"passRate"`
}

// RunVerdict is the terminal outcome of a run.
type RunVerdict struct {
	OverallPassed    bool              `json:"overallPassed"`
	FailedThresholds []Threshold       `json:"failedThresholds"`
	Thresholds       []ThresholdResult `json:"thresholds"`
	CheckPassRate    float64           `json:"checkPassRate"`
	Checks           []CheckSummary    `json:"checks"`
}

// Finalize evaluates thresholds against everything recorded so far.
//
// It must be called after all VUs have stopped and after Stop, so the
// elapsed time used by rate thresholds is frozen. Finalize does not change
// the aggregator, so calling it again with the same thresholds returns an
// equal verdict. Only thresholds decide OverallPassed; failed checks do not.
func (a *Aggregator) Finalize(thresholds []Threshold) *RunVerdict {
	v := &RunVerdict{
		OverallPassed:    true,
		FailedThresholds: []Threshold{},
		Thresholds:       make([]ThresholdResult, 0, len(thresholds)),
		Checks:           a.CheckSummaries(),
	}

	for _, t := range thresholds {
		r := t.evaluate(a)
		v.Thresholds = append(v.Thresholds, r)
		if !r.Passed {
			v.OverallPassed = false
			v.FailedThresholds = append(v.FailedThresholds, t)
		}
	}

	passed := a.checksPassed.Load()
	if total := passed + a.checksFailed.Load(); total > 0 {
		v.CheckPassRate = float64(passed) / float64(total)
	}

	return v
}
