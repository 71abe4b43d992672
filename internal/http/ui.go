package http

import (
	"html/template"
	"io"
	"strings"

	"logdash/internal/analysis"
	"logdash/internal/dashboard"
)

type pageData struct {
	Session   dashboard.Session
	View      dashboard.View
	Accept    string
	MaxMB     int
	Plan      analysis.Plan
	Pie       []pieSegment
	Timeline  timelineChart
	Failed    int
	Positions int
}

func newPageData(snap dashboard.Snapshot, accept string, maxMB int) pageData {
	data := pageData{
		Session:   snap.Session,
		View:      snap.Session.View(),
		Accept:    accept,
		MaxMB:     maxMB,
		Failed:    snap.Batch.FailedCount(),
		Positions: snap.Batch.Len(),
	}
	if data.View != dashboard.ViewResults {
		return data
	}
	data.Plan = analysis.AssignSlots(snap.Batch)
	if p := data.Plan.FeaturedPie; p != nil {
		data.Pie = pieSegments(p.Slices)
	}
	if p := data.Plan.FeaturedTimeline; p != nil {
		data.Timeline = timelineGeometry(p.Result.Series)
	}
	return data
}

func renderDashboard(w io.Writer, data pageData) error {
	return dashboardTemplate.Execute(w, data)
}

// panelTitle prefers the title the backend sent with a table.
func panelTitle(p analysis.Panel) string {
	if p.Result.Kind == analysis.KindTabular {
		if t := strings.TrimSpace(p.Result.Title); t != "" {
			return t
		}
	}
	return p.Endpoint.Title
}

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"cell":       analysis.CellString,
	"panelTitle": panelTitle,
	"pct":        func(v float64) string { return formatNumber(v, 1) + "%" },
	"num":        func(v float64) string { return formatNumber(v, 2) },
}).Parse(dashboardHTML))

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  {{- if eq .View "loading"}}
  <meta http-equiv="refresh" content="2" />
  {{- end}}
  <title>Log Analysis Dashboard</title>
  <style>
    :root {
      --brand: #0e5d8f;
      --brand-2: #0971b2;
      --bg: #f7f7f7;
      --paper: #fff;
      --text: #333;
      --muted: #777;
      --line: #ddd;
      --head: #f0f0f0;
      --bad-bg: #f2dede;
      --bad-text: #a94442;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      background: var(--bg);
      color: var(--text);
      font-family: "Open Sans", "Helvetica Neue", Helvetica, Arial, sans-serif;
      font-size: 14px;
    }
    header {
      background: linear-gradient(to right, var(--brand) 0, var(--brand-2) 100%);
      color: #fff;
      padding: 18px 0;
    }
    .container { margin: 0 auto; padding: 0 15px; max-width: 1680px; }
    .brand { font-size: 22px; font-weight: 300; }
    .brand strong { font-weight: 600; }
    main { padding: 18px 0 32px; }
    .card {
      background: var(--paper);
      border: 1px solid var(--line);
      box-shadow: 0 1px 2px rgba(0, 0, 0, 0.05);
      padding: 16px;
      margin-bottom: 16px;
    }
    .upload { text-align: center; }
    .featured { display: flex; flex-wrap: wrap; justify-content: center; gap: 24px; margin-bottom: 24px; }
    .row { display: grid; gap: 14px; grid-template-columns: repeat(3, minmax(0, 1fr)); margin-bottom: 14px; }
    .grouped { border: 2px solid var(--brand); padding: 14px; margin-bottom: 14px; }
    .grouped .row { grid-template-columns: repeat(2, minmax(0, 1fr)); margin-bottom: 0; }
    .overflow { grid-template-columns: repeat(2, minmax(0, 1fr)); }
    .panel { border: 1px solid var(--line); background: var(--paper); }
    .panel-heading { padding: 10px 12px; border-bottom: 1px solid var(--line); background: var(--head); font-weight: 600; }
    .panel-body { padding: 10px 12px 12px; overflow-x: auto; }
    .info { cursor: help; color: var(--muted); font-weight: 400; margin-left: 4px; }
    table { width: 100%; border-collapse: collapse; }
    th, td { padding: 8px; border-top: 1px solid var(--line); text-align: left; font-size: 13px; vertical-align: top; }
    thead th { border-top: 0; border-bottom: 2px solid var(--line); color: #555; font-size: 11px; text-transform: uppercase; background: #fafafa; }
    tbody tr:nth-child(odd) td { background: #f9f9f9; }
    .error-line { color: var(--bad-text); background: var(--bad-bg); padding: 8px 10px; border: 1px solid #ebccd1; }
    .flash { color: var(--bad-text); background: var(--bad-bg); border: 1px solid #ebccd1; padding: 8px 12px; margin-bottom: 14px; }
    .hint { color: var(--muted); font-size: 12px; margin-top: 8px; }
    .legend { list-style: none; padding: 0; margin: 8px 0 0; font-size: 12px; }
    .legend span { display: inline-block; width: 10px; height: 10px; margin-right: 6px; }
    .actions { display: flex; gap: 8px; justify-content: center; margin-top: 10px; }
    button { border: 1px solid #c7d7e5; background: #f3f8fc; color: var(--brand); padding: 6px 12px; font-weight: 600; cursor: pointer; }
    button.primary { background: var(--brand); color: #fff; border-color: var(--brand); }
    .spinner { text-align: center; color: var(--muted); padding: 40px 0; }
  </style>
</head>
<body>
  <header><div class="container"><div class="brand"><strong>Log</strong> Analysis Dashboard</div></div></header>
  <main class="container">
    {{- with .Session.LastError}}
    <div class="flash" role="alert">{{.}}</div>
    {{- end}}

    {{- if .Session.ShowUpload}}
    <div class="card upload">
      <h3>Upload a Log File</h3>
      <form method="post" action="/upload" enctype="multipart/form-data">
        <input type="file" name="file" accept="{{.Accept}}" required />
        <div class="actions"><button class="primary" type="submit">Upload</button></div>
      </form>
      <div class="hint">Accepted: {{.Accept}} (max {{.MaxMB}} MB)</div>
    </div>
    {{- else if .Session.HasUploaded}}
    <div class="card">
      <div class="actions">
        <form method="post" action="/upload/reopen"><button type="submit">Upload another file</button></form>
        <form method="post" action="/refresh"><button type="submit">Refresh</button></form>
        <form method="get" action="/api/v1/export.xlsx"><button type="submit">Export XLSX</button></form>
      </div>
      <div class="hint" style="text-align:center">{{.Session.FileName}}</div>
    </div>
    {{- end}}

    {{- if eq .View "prompt"}}
    <p>Please upload a file to begin analysis.</p>
    {{- else if eq .View "loading"}}
    <div class="spinner">Analyzing {{.Session.FileName}}&hellip;</div>
    {{- else}}
    {{- if gt .Failed 0}}
    <div class="hint">{{.Failed}} of {{.Positions}} datasets could not be loaded.</div>
    {{- end}}

    <section class="featured">
      {{- with .Plan.FeaturedPie}}
      <div class="panel" id="panel-{{.Index}}">
        <div class="panel-heading">{{panelTitle .}}{{with .Endpoint.Info}}<span class="info" title="{{.}}">&#9432;</span>{{end}}</div>
        <div class="panel-body">
          <svg width="200" height="200" viewBox="0 0 200 200" role="img" aria-label="{{panelTitle .}}">
            {{- range $.Pie}}
            {{- if .Full}}
            <circle cx="100" cy="100" r="90" fill="{{.Color}}"><title>{{.Label}}: {{num .Count}}</title></circle>
            {{- else if .Path}}
            <path d="{{.Path}}" fill="{{.Color}}"><title>{{.Label}}: {{num .Count}}</title></path>
            {{- end}}
            {{- end}}
          </svg>
          <ul class="legend">
            {{- range $.Pie}}
            <li><span style="background:{{.Color}}"></span>{{.Label}}: {{num .Count}} ({{pct .Percent}})</li>
            {{- end}}
          </ul>
        </div>
      </div>
      {{- end}}
      {{- with .Plan.FeaturedTimeline}}
      <div class="panel" id="panel-{{.Index}}">
        <div class="panel-heading">{{.Result.Title}}{{with .Endpoint.Info}}<span class="info" title="{{.}}">&#9432;</span>{{end}}</div>
        <div class="panel-body">
          <svg width="640" height="220" viewBox="0 0 640 220" role="img" aria-label="{{.Result.Title}}">
            <line x1="28" y1="192" x2="612" y2="192" stroke="#ddd" />
            <polyline fill="none" stroke="#0e5d8f" stroke-width="2" points="{{$.Timeline.Points}}" />
          </svg>
          <div class="hint">{{$.Timeline.First}} &rarr; {{$.Timeline.Last}}, {{$.Timeline.Samples}} samples, peak {{num $.Timeline.MaxCount}}</div>
        </div>
      </div>
      {{- end}}
    </section>

    {{- if .Plan.TopRow}}
    <section class="row">
      {{- range .Plan.TopRow}}{{template "table" .}}{{end}}
    </section>
    {{- end}}

    {{- if .Plan.Grouped}}
    <section class="grouped">
      <div class="row">
        {{- range .Plan.Grouped}}{{template "table" .}}{{end}}
      </div>
    </section>
    {{- end}}

    {{- if .Plan.Overflow}}
    <section class="row overflow">
      {{- range .Plan.Overflow}}{{template "table" .}}{{end}}
    </section>
    {{- end}}
    {{- end}}
  </main>
</body>
</html>
{{define "table"}}
      <div class="panel" id="panel-{{.Index}}">
        <div class="panel-heading">{{panelTitle .}}{{with .Endpoint.Info}}<span class="info" title="{{.}}">&#9432;</span>{{end}}</div>
        <div class="panel-body">
        {{- if .ErrorLine}}
          <div class="error-line">{{.ErrorLine}}</div>
        {{- else}}
          <table>
            <thead><tr>{{range .Result.Columns}}<th>{{.}}</th>{{end}}</tr></thead>
            <tbody>
            {{- range .Result.Rows}}
              <tr>{{range .}}<td>{{cell .}}</td>{{end}}</tr>
            {{- end}}
            </tbody>
          </table>
        {{- end}}
        </div>
      </div>
{{- end}}`
