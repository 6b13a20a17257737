package render

import (
	"html/template"
	"io"

	"go.uber.org/zap"

	"github.com/yumyai/phylomat/logger"
	"github.com/yumyai/phylomat/pkg/db"
)

var statusPageTemplate *template.Template

type StatusPageData struct {
	Project string
	Loci    []db.LocusSummary
	Outputs []string
}

func init() {
	mainTmpl := `<!DOCTYPE html>
<html>
<head>
	<title>phylomat: {{ .Project }}</title>
	<style>
		table { border-collapse: collapse; }
		th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: right; }
		th:first-child, td:first-child { text-align: left; }
	</style>
</head>
<body>
	<h1>{{ .Project }}</h1>
	<table>
		<tr><th>Locus</th><th>Active records</th><th>Inactive records</th><th>Organisms</th><th>Flat records</th></tr>
		{{- range .Loci }}
		<tr>
			<td><a href="/api/v1/loci/{{ .Locus }}/records?kind=flat">{{ .Locus }}</a></td>
			<td>{{ .ActiveRaw }}</td>
			<td>{{ .InactiveRaw }}</td>
			<td>{{ .Organisms }}</td>
			<td>{{ .FlatRecords }}</td>
		</tr>
		{{- else }}
		<tr><td colspan="5">No loci configured</td></tr>
		{{- end }}
	</table>
	{{ if .Outputs }}
	<h2>Outputs</h2>
	<ul>
		{{- range .Outputs }}
		<li><a href="/output/{{ . }}">{{ . }}</a></li>
		{{- end }}
	</ul>
	{{ end }}
</body>
</html>`

	statusPageTemplate = template.Must(template.New("status_page").Parse(mainTmpl))
}

// RenderStatusPage writes the per-locus summary of a project as HTML.
func RenderStatusPage(w io.Writer, data StatusPageData) error {
	logger.Debug("Rendering status page", zap.String("project", data.Project), zap.Int("loci", len(data.Loci)))
	return statusPageTemplate.Execute(w, data)
}
