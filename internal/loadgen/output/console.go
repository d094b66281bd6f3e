// Package output renders live progress and the final summary of a catalog
// load run to the console.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/paklog/catalog-loadgen/internal/loadgen/engine"
	"github.com/paklog/catalog-loadgen/internal/loadgen/executor"
	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
)

// ANSI cursor control for redrawing the live block.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	ruleWidth      = 56
	boxWidth       = 55
	progressWidth  = 40
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"
	progressFilled = "█"
	progressEmpty  = "░"
	passMark       = "✓"
	failMark       = "✗"
)

// LiveStats is what the live display shows at one tick.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	Iterations    int64
	ChecksFailed  int64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	Phase        string
	StageName    string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// palette holds one color per role. Each color is explicitly enabled or
// disabled so the package-level color.NoColor does not leak in.
type palette struct {
	rule    *color.Color
	title   *color.Color
	dim     *color.Color
	value   *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	latency *color.Color
	stage   *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		rule:    color.New(color.FgCyan),
		title:   color.New(color.Bold),
		dim:     color.New(color.Faint),
		value:   color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
		latency: color.New(color.FgBlue),
		stage:   color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{p.rule, p.title, p.dim, p.value, p.good, p.warn, p.bad, p.latency, p.stage} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Console manages console output during a run.
type Console struct {
	testName      string
	profile       string
	baseURL       string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	useColors     bool
	quiet         bool
	colors        *palette

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	TestName      string
	Profile       string
	BaseURL       string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// NewConsole creates a console writer. Without a Writer it writes to stdout.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	return &Console{
		testName:      config.TestName,
		profile:       config.Profile,
		baseURL:       config.BaseURL,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		useColors:     useColors,
		quiet:         config.Quiet,
		colors:        newPalette(useColors),
	}
}

// supportsColors checks the environment for color preferences.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, ruleWidth)
	title := c.testName
	if c.profile != "" && c.profile != c.testName {
		title = fmt.Sprintf("%s [%s]", c.testName, c.profile)
	}

	c.writeln(c.colors.rule.Sprint(line))
	c.writeln(c.colors.title.Sprintf("%s - Running", title))
	c.writeln(fmt.Sprintf("Target:   %s", c.colors.value.Sprint(c.baseURL)))
	if c.totalDuration > 0 {
		c.writeln(fmt.Sprintf("Duration: %s", c.colors.value.Sprint(formatDuration(c.totalDuration))))
	}
	c.writeln(c.colors.rule.Sprint(line))
	c.writeln("")
}

// Report shows stats the right way for the output: a redrawn block on a
// terminal, one plain line otherwise.
func (c *Console) Report(stats *LiveStats) {
	if c.isTTY {
		c.Update(stats)
		return
	}
	c.PrintPlainUpdate(stats)
}

// Update redraws the live block. It does nothing unless the output is a
// terminal.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintPlainUpdate prints a one-line status for logs and CI.
func (c *Console) PrintPlainUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s | Progress: %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Phase,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	bar := renderProgressBar(stats.Progress, progressWidth)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.good.Sprint(bar),
		c.colors.title.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.dim.Sprint(timeInfo)))

	stage := stats.Phase
	if stats.TotalStages > 0 {
		name := stats.StageName
		if name == "" {
			name = "stage"
		}
		stage = fmt.Sprintf("%s, %s (%d/%d)", stats.Phase, name, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.stage.Sprint(stage)))
	lines = append(lines, "")

	lines = append(lines, c.colors.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", c.colors.value.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqs := fmt.Sprintf("Requests:    %s", c.colors.value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vus, reqs))

	errColor := c.rateColor(stats.ErrorRate, 0.01, 0.05)
	rps := fmt.Sprintf("RPS:     %s", c.colors.good.Sprintf("%.1f", stats.CurrentRPS))
	errs := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rps, errs))

	p95 := fmt.Sprintf("P95:     %s", c.colors.latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avg := fmt.Sprintf("Avg:         %s", c.colors.latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95, avg))

	checkColor := c.colors.good
	if stats.ChecksFailed > 0 {
		checkColor = c.colors.warn
	}
	iters := fmt.Sprintf("Iters:   %s", c.colors.value.Sprint(formatNumber(stats.Iterations)))
	checks := fmt.Sprintf("Failed chk:  %s", checkColor.Sprint(formatNumber(stats.ChecksFailed)))
	lines = append(lines, c.formatBoxRow(iters, checks))

	lines = append(lines, c.colors.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

func (c *Console) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := colWidth - visibleLen(left)
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - visibleLen(right)
	if rightPadding < 0 {
		rightPadding = 0
	}

	border := c.colors.dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border, left, strings.Repeat(" ", leftPadding),
		border, right, strings.Repeat(" ", rightPadding),
		border)
}

// rateColor picks green, yellow or red for a failure rate.
func (c *Console) rateColor(rate, warnAt, badAt float64) *color.Color {
	switch {
	case rate > badAt:
		return c.colors.bad
	case rate > warnAt:
		return c.colors.warn
	default:
		return c.colors.good
	}
}

func (c *Console) mark(passed bool) string {
	if passed {
		return c.colors.good.Sprint(passMark)
	}
	return c.colors.bad.Sprint(failMark)
}

// PrintSummary prints the end-of-run summary. In quiet mode only the
// verdict is printed.
func (c *Console) PrintSummary(result *engine.Result) {
	if result == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if result.Passed() {
			c.writeln(c.colors.good.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.bad.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, ruleWidth)
	status := c.colors.good.Sprint("Passed " + passMark)
	if !result.Passed() {
		status = c.colors.bad.Sprint("Failed " + failMark)
	}
	if result.Aborted {
		status += c.colors.warn.Sprint(" (aborted)")
	}

	c.writeln("")
	c.writeln(c.colors.rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.title.Sprint(result.Name), status))
	c.writeln(c.colors.rule.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", c.colors.dim.Sprint(result.RunID)))
	c.writeln(fmt.Sprintf("Duration:      %s (planned %s)",
		c.colors.value.Sprint(formatDuration(result.Duration)),
		formatDuration(result.PlannedDuration)))
	c.writeln(fmt.Sprintf("VUs:           %s max, %d spawned", c.colors.value.Sprint(result.MaxVUs), result.VUsSpawned))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.value.Sprint(formatNumber(result.Iterations))))

	if m := result.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s (%.1f/s)", c.colors.value.Sprint(formatNumber(m.TotalRequests)), m.RPS))
		failColor := c.rateColor(m.ErrorRate, 0.01, 0.05)
		c.writeln(fmt.Sprintf("Failed Reqs:   %s", failColor.Sprintf("%.2f%% (%d)", m.ErrorRate*100, m.FailedRequests)))
		if m.TransportErrors > 0 {
			c.writeln(fmt.Sprintf("No Response:   %s", c.colors.bad.Sprint(formatNumber(m.TransportErrors))))
		}
		c.writeln("")

		c.writeln(c.colors.title.Sprint("Latency (http_req_duration):"))
		c.writeLatency(m.Latency)
		c.writeln("")

		if len(m.Steps) > 0 {
			c.writeln(c.colors.title.Sprint("Steps:"))
			c.writeln(c.colors.dim.Sprintf("  %-22s %8s %9s %9s %9s", "step", "count", "p50", "p95", "p99"))
			steps := make([]string, 0, len(m.Steps))
			for name := range m.Steps {
				steps = append(steps, name)
			}
			sort.Strings(steps)
			for _, name := range steps {
				s := m.Steps[name]
				c.writeln(fmt.Sprintf("  %-22s %8s %9s %9s %9s", name, formatNumber(s.Count),
					formatDurationShort(s.P50), formatDurationShort(s.P95), formatDurationShort(s.P99)))
			}
			c.writeln("")
		}
	}

	if v := result.Verdict; v != nil {
		if len(v.Checks) > 0 {
			c.writeln(c.colors.title.Sprintf("Checks (%.2f%% passed):", v.CheckPassRate*100))
			for _, check := range v.Checks {
				c.writeln("  " + c.formatCheck(check))
			}
			c.writeln("")
		}

		if len(v.Thresholds) > 0 {
			c.writeln(c.colors.title.Sprint("Thresholds:"))
			for _, t := range v.Thresholds {
				c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)",
					c.mark(t.Passed), t.Threshold.Metric, t.Threshold.Expression, formatObserved(t)))
			}
			c.writeln("")
		}
	}
}

func (c *Console) writeLatency(l metrics.LatencyStats) {
	if l.Count == 0 {
		c.writeln(c.colors.dim.Sprint("  no samples"))
		return
	}
	c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(l.Min)))
	c.writeln(fmt.Sprintf("  Avg:       %s", formatDurationShort(l.Mean)))
	c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(l.P50)))
	c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(l.P90)))
	c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(l.P95)))
	c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(l.P99)))
	c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(l.Max)))
}

func (c *Console) formatCheck(s metrics.CheckSummary) string {
	total := s.Passes + s.Fails
	out := fmt.Sprintf("%s %s %s", c.mark(s.Fails == 0), s.Name,
		c.colors.dim.Sprintf("%.2f%% (%d/%d)", s.PassRate*100, s.Passes, total))
	if s.Fails == 0 {
		return out
	}

	var causes []string
	if s.StatusFailures > 0 {
		causes = append(causes, fmt.Sprintf("%d status", s.StatusFailures))
	}
	if s.ShapeFailures > 0 {
		causes = append(causes, fmt.Sprintf("%d shape", s.ShapeFailures))
	}
	if s.TransportFailures > 0 {
		causes = append(causes, fmt.Sprintf("%d no response", s.TransportFailures))
	}
	return out + " " + c.colors.bad.Sprintf("[%s]", strings.Join(causes, ", "))
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromEngine builds LiveStats from the engine's live accessors. It
// returns placeholder stats before the run has started.
func StatsFromEngine(snapshot *metrics.Snapshot, stats *executor.Stats, progress float64) *LiveStats {
	live := &LiveStats{Progress: progress, Phase: string(metrics.PhaseInit)}
	if stats != nil {
		live.TargetVUs = stats.TargetVUs
		live.CurrentStage = stats.CurrentStage + 1
		live.TotalStages = stats.TotalStages
		live.StageName = stats.CurrentStageName
		live.Elapsed = stats.Elapsed
		live.Remaining = stats.TotalDuration - stats.Elapsed
		if live.Remaining < 0 {
			live.Remaining = 0
		}
		if live.CurrentStage > live.TotalStages {
			live.CurrentStage = live.TotalStages
		}
	}
	if snapshot == nil {
		return live
	}

	live.ActiveVUs = snapshot.ActiveVUs
	live.CurrentRPS = snapshot.RPS
	live.TotalRequests = snapshot.TotalRequests
	live.Errors = snapshot.FailedRequests
	live.ErrorRate = snapshot.ErrorRate
	live.Iterations = snapshot.Iterations
	live.ChecksFailed = snapshot.ChecksFailed
	live.LatencyP95 = snapshot.Latency.P95
	live.LatencyAvg = snapshot.Latency.Mean
	live.Phase = string(snapshot.CurrentPhase)
	if stats == nil {
		live.Elapsed = snapshot.Elapsed
	}
	return live
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

func formatObserved(r metrics.ThresholdResult) string {
	if r.Message == metrics.MessageNoSamples {
		return r.Message
	}
	switch r.Unit {
	case "ms":
		return formatDurationShort(time.Duration(r.Observed * float64(time.Millisecond)))
	case "/s":
		return fmt.Sprintf("%.2f/s", r.Observed)
	default:
		return strconv.FormatFloat(r.Observed, 'g', 4, 64)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats n with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	sign := ""
	if n < 0 {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var b strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(str[i : i+3])
	}
	return sign + b.String()
}

// visibleLen is the rune count of s without ANSI escape sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		n++
	}
	return n
}
