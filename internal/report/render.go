package report

import (
	"html/template"
	"io"
)

const (
	// MaxCellRunes is how much of a cell value the table shows.
	MaxCellRunes = 60
	// MissingCell stands in for a blank or absent value.
	MissingCell = "-"
	// NoRowsMessage is shown instead of a table when nothing was decoded.
	NoRowsMessage = "No report generated."
)

// View is a render-ready report page.
type View struct {
	Type       Type       `json:"type"`
	Title      string     `json:"title"`
	Records    int        `json:"records"`
	Columns    []string   `json:"columns"`
	Rows       [][]string `json:"rows"`
	Page       int        `json:"page"`
	TotalPages int        `json:"totalPages"`
	HasPrev    bool       `json:"hasPrev"`
	HasNext    bool       `json:"hasNext"`
	Empty      bool       `json:"empty"`
	Message    string     `json:"message,omitempty"`
}

// RenderView lays out one page of table. Cells are aligned to the columns of the
// first row; values are cut to MaxCellRunes and blanks shown as MissingCell.
func RenderView(t Type, table *Table, number, size int) View {
	v := View{Type: t, Title: t.Title(), Records: table.Len()}
	if table.Len() == 0 {
		v.Empty = true
		v.Message = NoRowsMessage
		v.Columns = []string{}
		v.Rows = [][]string{}
		return v
	}

	page := Paginate(table.Rows, number, size)
	v.Columns = table.Columns()
	v.Page = page.Number
	v.TotalPages = page.TotalPages
	v.HasPrev = page.HasPrev
	v.HasNext = page.HasNext
	v.Rows = make([][]string, 0, len(page.Rows))
	for _, row := range page.Rows {
		cells := make([]string, len(v.Columns))
		for i, col := range v.Columns {
			value, _ := row.Get(col)
			cells[i] = CellText(value)
		}
		v.Rows = append(v.Rows, cells)
	}
	return v
}

func CellText(value string) string {
	if value == "" {
		return MissingCell
	}
	r := []rune(value)
	if len(r) > MaxCellRunes {
		return string(r[:MaxCellRunes])
	}
	return value
}

// TemplateName is the name RenderHTML and gin's HTML renderer look the view up by.
const TemplateName = "report.html"

var templates = template.Must(template.New(TemplateName).Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"dec": func(i int) int { return i - 1 },
}).Parse(reportHTML))

// Templates returns the report page templates for gin's SetHTMLTemplate.
func Templates() *template.Template {
	return templates
}

func RenderHTML(w io.Writer, v View) error {
	return templates.ExecuteTemplate(w, TemplateName, v)
}

const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<section class="report">
{{- if .Empty}}
<p class="report-empty">{{.Message}}</p>
{{- else}}
<h3>{{.Title}} &mdash; <span>{{.Records}} records</span></h3>
<table>
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
<nav class="pager">
{{- if .HasPrev}}<a href="?page={{dec .Page}}">Prev</a>{{else}}<span>Prev</span>{{end}}
<span>Page {{.Page}} of {{.TotalPages}}</span>
{{- if .HasNext}}<a href="?page={{inc .Page}}">Next</a>{{else}}<span>Next</span>{{end}}
</nav>
{{- end}}
</section>
</body>
</html>
`
