package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/paklog/catalog-loadgen/internal/loadgen/engine"
	"github.com/paklog/catalog-loadgen/internal/loadgen/metrics"
)

// reportData is what the HTML template renders.
type reportData struct {
	*engine.Result
	Steps      []stepRow
	SeriesJSON template.JS
}

type stepRow struct {
	Name string
	metrics.LatencyStats
}

// seriesPoint is one chart sample. Latencies are in milliseconds.
type seriesPoint struct {
	T         float64 `json:"t"`
	RPS       float64 `json:"rps"`
	ErrorRate float64 `json:"errorRate"`
	P50       float64 `json:"p50"`
	P95       float64 `json:"p95"`
	P99       float64 `json:"p99"`
	VUs       int     `json:"vus"`
	Phase     string  `json:"phase"`
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"duration": formatDuration,
	"latency":  formatDurationShort,
	"number":   formatNumber,
	"observed": formatObserved,
	"percent":  func(f float64) string { return fmt.Sprintf("%.2f%%", f*100) },
}).Parse(reportHTML))

// WriteHTML renders result as a self-contained HTML report.
func WriteHTML(w io.Writer, result *engine.Result) error {
	if result == nil {
		return errors.New("result cannot be nil")
	}

	series, err := seriesJSON(result)
	if err != nil {
		return fmt.Errorf("failed to encode time series: %w", err)
	}

	data := reportData{
		Result:     result,
		Steps:      stepRows(result.Metrics),
		SeriesJSON: template.JS(series),
	}
	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

func stepRows(m *metrics.Snapshot) []stepRow {
	if m == nil {
		return nil
	}
	rows := make([]stepRow, 0, len(m.Steps))
	for name, stats := range m.Steps {
		rows = append(rows, stepRow{Name: name, LatencyStats: stats})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func seriesJSON(result *engine.Result) (string, error) {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

	points := make([]seriesPoint, 0, len(result.TimeSeries))
	for _, b := range result.TimeSeries {
		points = append(points, seriesPoint{
			T:         b.Timestamp.Sub(result.StartTime).Seconds(),
			RPS:       b.IntervalRPS,
			ErrorRate: b.IntervalErrorRate * 100,
			P50:       ms(b.LatencyP50),
			P95:       ms(b.LatencyP95),
			P99:       ms(b.LatencyP99),
			VUs:       b.ActiveVUs,
			Phase:     string(b.Phase),
		})
	}
	data, err := json.Marshal(points)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - Catalog Load Test</title>
<script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
<style>
  :root { --bg: #0f172a; --card: #1e293b; --text: #e2e8f0; --muted: #94a3b8; --ok: #22c55e; --bad: #ef4444; --accent: #38bdf8; }
  body { margin: 0; padding: 2rem; background: var(--bg); color: var(--text); font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; }
  h1 { margin: 0 0 .25rem; }
  h2 { font-size: 1.1rem; color: var(--muted); margin: 2rem 0 .75rem; }
  .meta { color: var(--muted); font-size: .9rem; }
  .verdict { display: inline-block; padding: .4rem 1rem; border-radius: 999px; font-weight: 600; margin-top: .75rem; }
  .verdict.pass { background: rgba(34,197,94,.15); color: var(--ok); }
  .verdict.fail { background: rgba(239,68,68,.15); color: var(--bad); }
  .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 1rem; }
  .card { background: var(--card); border-radius: 8px; padding: 1rem; }
  .card .label { color: var(--muted); font-size: .8rem; text-transform: uppercase; }
  .card .value { font-size: 1.5rem; font-weight: 600; margin-top: .25rem; }
  table { width: 100%; border-collapse: collapse; background: var(--card); border-radius: 8px; overflow: hidden; }
  th, td { padding: .5rem .75rem; text-align: left; border-bottom: 1px solid #334155; font-size: .9rem; }
  th { color: var(--muted); font-weight: 500; }
  td.num { text-align: right; font-variant-numeric: tabular-nums; }
  .ok { color: var(--ok); }
  .bad { color: var(--bad); }
  .charts { display: grid; grid-template-columns: repeat(auto-fit, minmax(420px, 1fr)); gap: 1rem; }
  .chart { background: var(--card); border-radius: 8px; padding: 1rem; height: 260px; }
  footer { margin-top: 2rem; color: var(--muted); font-size: .8rem; }
</style>
</head>
<body>
<header>
  <h1>{{.Name}}</h1>
  <div class="meta">
    Run {{.RunID}}{{if .Profile}} &middot; profile {{.Profile}}{{end}} &middot; {{.BaseURL}}<br>
    {{.StartTime.Format "2006-01-02 15:04:05"}} &middot; {{duration .Duration}} of {{duration .PlannedDuration}}{{if .Aborted}} (aborted){{end}}
  </div>
  {{if .Passed}}<div class="verdict pass">&#10003; PASSED</div>{{else}}<div class="verdict fail">&#10007; FAILED</div>{{end}}
</header>

{{with .Metrics}}
<h2>Summary</h2>
<div class="cards">
  <div class="card"><div class="label">Requests</div><div class="value">{{number .TotalRequests}}</div></div>
  <div class="card"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .RPS}}/s</div></div>
  <div class="card"><div class="label">Failed</div><div class="value">{{percent .ErrorRate}}</div></div>
  <div class="card"><div class="label">No response</div><div class="value">{{number .TransportErrors}}</div></div>
  <div class="card"><div class="label">Iterations</div><div class="value">{{number .Iterations}}</div></div>
  <div class="card"><div class="label">P95 latency</div><div class="value">{{if .Latency.Count}}{{latency .Latency.P95}}{{else}}-{{end}}</div></div>
</div>
{{end}}

{{if .TimeSeries}}
<h2>Over time</h2>
<div class="charts">
  <div class="chart"><canvas id="throughput"></canvas></div>
  <div class="chart"><canvas id="latency"></canvas></div>
</div>
{{end}}

{{if .Steps}}
<h2>Workflow steps</h2>
<table>
  <tr><th>Step</th><th>Requests</th><th>Avg</th><th>P50</th><th>P95</th><th>P99</th><th>Max</th></tr>
  {{range .Steps}}
  <tr><td>{{.Name}}</td><td class="num">{{number .Count}}</td>
    {{if .Count}}<td class="num">{{latency .Mean}}</td><td class="num">{{latency .P50}}</td><td class="num">{{latency .P95}}</td><td class="num">{{latency .P99}}</td><td class="num">{{latency .Max}}</td>
    {{else}}<td class="num" colspan="5">no samples</td>{{end}}</tr>
  {{end}}
</table>
{{end}}

{{with .Verdict}}
{{if .Checks}}
<h2>Checks ({{percent .CheckPassRate}} passed)</h2>
<table>
  <tr><th></th><th>Check</th><th>Pass rate</th><th>Passes</th><th>Fails</th><th>No response</th><th>Status</th><th>Shape</th></tr>
  {{range .Checks}}
  <tr><td class="{{if .Fails}}bad{{else}}ok{{end}}">{{if .Fails}}&#10007;{{else}}&#10003;{{end}}</td><td>{{.Name}}</td>
    <td class="num">{{percent .PassRate}}</td><td class="num">{{number .Passes}}</td><td class="num">{{number .Fails}}</td>
    <td class="num">{{number .TransportFailures}}</td><td class="num">{{number .StatusFailures}}</td><td class="num">{{number .ShapeFailures}}</td></tr>
  {{end}}
</table>
{{end}}

{{if .Thresholds}}
<h2>Thresholds</h2>
<table>
  <tr><th></th><th>Metric</th><th>Expression</th><th>Observed</th></tr>
  {{range .Thresholds}}
  <tr><td class="{{if .Passed}}ok{{else}}bad{{end}}">{{if .Passed}}&#10003;{{else}}&#10007;{{end}}</td>
    <td>{{.Threshold.Metric}}</td><td>{{.Threshold.Expression}}</td><td>{{observed .}}</td></tr>
  {{end}}
</table>
{{end}}
{{end}}

<footer>Generated by catalog-loadgen &middot; {{.EndTime.Format "2006-01-02 15:04:05 MST"}}</footer>

{{if .TimeSeries}}
<script>
  const series = {{.SeriesJSON}};
  const labels = series.map(p => p.t.toFixed(0) + "s");
  const axis = { ticks: { color: "#94a3b8" }, grid: { color: "#334155" } };
  const opts = (y2) => ({
    responsive: true, maintainAspectRatio: false, animation: false,
    interaction: { mode: "index", intersect: false },
    plugins: { legend: { labels: { color: "#e2e8f0" } } },
    scales: y2 ? { x: axis, y: axis, y2: Object.assign({ position: "right" }, axis) } : { x: axis, y: axis },
  });
  const line = (label, key, color, yAxisID) => ({
    label, data: series.map(p => p[key]), borderColor: color, backgroundColor: color,
    pointRadius: 0, borderWidth: 2, tension: 0.2, yAxisID: yAxisID || "y",
  });

  new Chart(document.getElementById("throughput"), {
    type: "line",
    data: { labels, datasets: [
      line("req/s", "rps", "#38bdf8"),
      line("VUs", "vus", "#a78bfa", "y2"),
      line("error %", "errorRate", "#ef4444", "y2"),
    ] },
    options: opts(true),
  });
  new Chart(document.getElementById("latency"), {
    type: "line",
    data: { labels, datasets: [
      line("p50 ms", "p50", "#22c55e"),
      line("p95 ms", "p95", "#f59e0b"),
      line("p99 ms", "p99", "#ef4444"),
    ] },
    options: opts(false),
  });
</script>
{{end}}
</body>
</html>
`
