package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html/template"
	"strconv"
	"time"

	report "github.com/goliatone/go-report"
)

// CSVRenderer writes every section as a header row plus data rows. Sections
// are separated by an empty line and, when there is more than one, preceded
// by their name.
type CSVRenderer struct{}

func (CSVRenderer) Render(ctx context.Context, data report.Data, _ report.Options) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	multi := len(data.Sections) > 1

	for i, s := range data.Sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			if err := w.Write(nil); err != nil {
				return nil, err
			}
		}
		if multi {
			if err := w.Write([]string{s.Name}); err != nil {
				return nil, err
			}
		}
		if len(s.Columns) > 0 {
			if err := w.Write(s.Columns); err != nil {
				return nil, err
			}
		}
		for _, row := range s.Rows {
			if err := w.Write(cells(row)); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSONRenderer writes the data document as indented JSON.
type JSONRenderer struct{}

func (JSONRenderer) Render(_ context.Context, data report.Data, _ report.Options) ([]byte, error) {
	return json.MarshalIndent(data, "", "  ")
}

type xmlReport struct {
	XMLName     xml.Name     `xml:"report"`
	Title       string       `xml:"title,attr,omitempty"`
	GeneratedAt string       `xml:"generated_at,attr,omitempty"`
	Records     int          `xml:"records,attr"`
	Sections    []xmlSection `xml:"section"`
}

type xmlSection struct {
	Name   string    `xml:"name,attr"`
	Rows   []xmlRow  `xml:"row"`
	Totals []xmlCell `xml:"totals>cell,omitempty"`
}

type xmlRow struct {
	Cells []xmlCell `xml:"cell"`
}

type xmlCell struct {
	Column string `xml:"column,attr"`
	Value  string `xml:",chardata"`
}

// XMLRenderer writes one <row> per data row with cells named by column.
type XMLRenderer struct{}

func (XMLRenderer) Render(ctx context.Context, data report.Data, _ report.Options) ([]byte, error) {
	doc := xmlReport{
		Title:   data.Title,
		Records: data.Records(),
	}
	if !data.GeneratedAt.IsZero() {
		doc.GeneratedAt = data.GeneratedAt.UTC().Format(time.RFC3339)
	}
	for _, s := range data.Sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sec := xmlSection{Name: s.Name}
		for _, row := range s.Rows {
			var r xmlRow
			for i, v := range row {
				r.Cells = append(r.Cells, xmlCell{Column: column(s.Columns, i), Value: cell(v)})
			}
			sec.Rows = append(sec.Rows, r)
		}
		for _, k := range sortedKeys(s.Totals) {
			sec.Totals = append(sec.Totals, xmlCell{Column: k, Value: cell(s.Totals[k])})
		}
		doc.Sections = append(doc.Sections, sec)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

var htmlPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="{{.Locale}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .GeneratedAt}}<p class="generated">Generated {{.GeneratedAt}}</p>{{end}}
{{range .Sections}}<section>
<h2>{{.Name}}</h2>
<table>
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</tbody>
{{if .Totals}}<tfoot>{{range .Totals}}<tr><th>{{.Name}}</th><td>{{.Value}}</td></tr>{{end}}</tfoot>{{end}}
</table>
</section>
{{end}}</body>
</html>
`))

type htmlSection struct {
	Name    string
	Columns []string
	Rows    [][]string
	Totals  []htmlTotal
}

type htmlTotal struct {
	Name  string
	Value string
}

// HTMLRenderer writes a self-contained HTML page with one table per section.
type HTMLRenderer struct{}

func (HTMLRenderer) Render(ctx context.Context, data report.Data, opts report.Options) ([]byte, error) {
	view := struct {
		Title       string
		Locale      string
		GeneratedAt string
		Sections    []htmlSection
	}{
		Title:  title(data, opts),
		Locale: opts.Locale,
	}
	if view.Locale == "" {
		view.Locale = "en"
	}
	if !data.GeneratedAt.IsZero() {
		view.GeneratedAt = data.GeneratedAt.UTC().Format(time.RFC1123)
	}
	for _, s := range data.Sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hs := htmlSection{Name: s.Name, Columns: s.Columns}
		for _, row := range s.Rows {
			hs.Rows = append(hs.Rows, cells(row))
		}
		for _, k := range sortedKeys(s.Totals) {
			hs.Totals = append(hs.Totals, htmlTotal{Name: k, Value: cell(s.Totals[k])})
		}
		view.Sections = append(view.Sections, hs)
	}

	var buf bytes.Buffer
	if err := htmlPage.Execute(&buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cells(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = cell(v)
	}
	return out
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func column(cols []string, i int) string {
	if i < len(cols) {
		return cols[i]
	}
	return "col" + strconv.Itoa(i+1)
}

func title(data report.Data, opts report.Options) string {
	switch {
	case opts.Title != "":
		return opts.Title
	case data.Title != "":
		return data.Title
	default:
		return "Report"
	}
}
