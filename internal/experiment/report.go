package experiment

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/goalline-labs/goalline-go/internal/snapshot"
)

// BuildComparisons diffs every iteration capture against the baseline
// capture of the same view. Identical captures produce no entry.
func BuildComparisons(result *ExperimentResult, sampleLimit int) {
	if result == nil {
		return
	}
	for i := range result.Iterations {
		it := &result.Iterations[i]
		if len(it.Snapshots) == 0 {
			continue
		}
		for view, rows := range it.Snapshots {
			base, ok := result.Baseline.Snapshots[view]
			if !ok {
				continue
			}
			diff := snapshot.DiffRows(view, base, rows, sampleLimit)
			if diff.Empty() {
				continue
			}
			if it.Comparisons == nil {
				it.Comparisons = map[string]snapshot.Diff{}
			}
			it.Comparisons[view] = diff
		}
	}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if name == "" {
		return "experiment"
	}
	return name
}

// WriteReport renders the HTML report into outputDir and returns its path.
func WriteReport(result *ExperimentResult, outputDir string, now time.Time) (string, error) {
	if result == nil {
		return "", fmt.Errorf("experiment result is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	name := fmt.Sprintf("experiment_%s_%s.html", sanitizeName(result.Name), now.UTC().Format(runTagFormat))
	path := filepath.Join(outputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := reportTemplate.Execute(f, result); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return path, nil
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"statusClass": func(status string) string {
		switch status {
		case StepSuccess:
			return "ok"
		case StepFailed:
			return "fail"
		default:
			return "skip"
		}
	},
	"join": strings.Join,
	"fmtTime": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04:05")
	},
}).Parse(reportHTML))

const reportHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Experiment {{.Name}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 24px; color: #1f2328; }
  h1 { font-size: 22px; }
  h2 { font-size: 18px; margin-top: 28px; border-bottom: 1px solid #d0d7de; padding-bottom: 4px; }
  h3 { font-size: 15px; margin-bottom: 6px; }
  table { border-collapse: collapse; margin: 8px 0 16px; font-size: 13px; }
  th, td { border: 1px solid #d0d7de; padding: 4px 8px; text-align: left; vertical-align: top; }
  th { background: #f6f8fa; }
  .ok { color: #1a7f37; font-weight: 600; }
  .fail { color: #cf222e; font-weight: 600; }
  .skip { color: #656d76; }
  .small { color: #656d76; font-size: 12px; }
  pre { background: #f6f8fa; padding: 8px; font-size: 12px; overflow-x: auto; }
</style>
</head>
<body>
<h1>Experiment: {{.Name}}</h1>
<div class="small">Created {{fmtTime .CreatedAt}}</div>

<h2>Baseline</h2>
<div class="small">stg_run_id={{.Baseline.StgRunID}} dds_run_id={{.Baseline.DdsRunID}}</div>
<table>
  <tr><th>View</th><th>Rows</th></tr>
  {{range $view, $rows := .Baseline.Snapshots}}
  <tr><td>{{$view}}</td><td>{{len $rows}}</td></tr>
  {{end}}
  {{range $view, $err := .Baseline.SnapshotErrors}}
  <tr><td>{{$view}}</td><td class="fail">{{$err}}</td></tr>
  {{end}}
</table>

<h2>Iterations</h2>
{{range .Iterations}}
<h3>#{{.IterationNo}} {{.Name}} ({{.Kind}}) <span class="{{statusClass .Status}}">{{.Status}}</span></h3>
{{if .StgRunID}}<div class="small">stg_run_id={{.StgRunID}}</div>{{end}}
{{if .DdsRunID}}<div class="small">dds_run_id={{.DdsRunID}}</div>{{end}}
<table>
  <tr><th>Step</th><th>Status</th><th>Details</th></tr>
  {{range .Steps}}
  <tr>
    <td>{{.Name}}</td>
    <td class="{{statusClass .Status}}">{{.Status}}</td>
    <td>{{.Details}}{{if .Error}}<pre>{{.Error}}</pre>{{end}}</td>
  </tr>
  {{end}}
</table>
{{if .Comparisons}}
<table>
  <tr><th>View</th><th>Added</th><th>Removed</th><th>Changed</th></tr>
  {{range $view, $diff := .Comparisons}}
  <tr>
    <td>{{$view}}</td>
    <td>{{len $diff.Added}}</td>
    <td>{{len $diff.Removed}}</td>
    <td>{{len $diff.Changed}}</td>
  </tr>
  {{end}}
</table>
{{else}}
<div class="small">No view-level differences against the baseline.</div>
{{end}}
{{if .ErrorMessage}}<pre>{{.ErrorMessage}}</pre>{{end}}
{{end}}

{{if .ValidationTimes}}
<h2>Validation timing</h2>
<table>
  <tr><th>Iteration</th><th>Layer</th><th>Suite</th><th>Entity</th><th>Run</th><th>Seconds</th></tr>
  {{range .ValidationTimes}}
  <tr>
    <td>#{{.IterationNo}} {{.IterationName}}</td>
    <td>{{.Layer}}</td>
    <td>{{.Suite}}</td>
    <td>{{.Entity}}</td>
    <td>{{.RunID}}</td>
    <td>{{printf "%.3f" .Seconds}}</td>
  </tr>
  {{end}}
</table>
{{end}}

<h2>Capabilities</h2>
<h3>STG mutations</h3>
<table>
  <tr><th>Entity</th><th>Enabled</th><th>Actions</th></tr>
  {{range .Capabilities.StgMutations}}
  <tr><td>{{.Entity}}</td><td>{{.Enabled}}</td><td>{{join .Actions ", "}}</td></tr>
  {{end}}
</table>
<h3>DDS mutations</h3>
<table>
  <tr><th>Defect class</th><th>Enabled</th></tr>
  {{range .Capabilities.DdsMutations}}
  <tr><td>{{.Entity}}</td><td>{{.Enabled}}</td></tr>
  {{end}}
</table>
<h3>STG suites</h3>
<table>
  <tr><th>Suite</th><th>Entity</th><th>Validators</th></tr>
  {{range .Capabilities.StgSuites}}
  <tr><td>{{.Name}}</td><td>{{.Entity}}</td><td>{{join .Validations ", "}}</td></tr>
  {{end}}
</table>
<h3>DDS suites</h3>
<table>
  <tr><th>Suite</th><th>Entity</th><th>Validators</th></tr>
  {{range .Capabilities.DdsSuites}}
  <tr><td>{{.Name}}</td><td>{{.Entity}}</td><td>{{join .Validations ", "}}</td></tr>
  {{end}}
</table>
</body>
</html>
`
