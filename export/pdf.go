package export

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jung-kurt/gofpdf/v2"

	report "github.com/goliatone/go-report"
)

// PDFRenderer lays sections out as simple tables on A4 pages.
type PDFRenderer struct{}

const (
	pdfMargin    = 15.0
	pdfRowHeight = 6.0
)

func (PDFRenderer) Render(ctx context.Context, data report.Data, opts report.Options) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, 20, pdfMargin)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(108, 117, 125)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(33, 37, 41)
	pdf.CellFormat(0, 12, title(data, opts), "", 1, "L", false, 0, "")
	if !data.GeneratedAt.IsZero() {
		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(108, 117, 125)
		pdf.CellFormat(0, 6, "Generated "+data.GeneratedAt.UTC().Format(time.RFC1123), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pageWidth, _ := pdf.GetPageSize()
	usable := pageWidth - 2*pdfMargin

	for _, s := range data.Sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pdf.SetFont("Arial", "B", 12)
		pdf.SetTextColor(33, 37, 41)
		pdf.CellFormat(0, 8, s.Name, "", 1, "L", false, 0, "")

		cols := len(s.Columns)
		for _, row := range s.Rows {
			cols = max(cols, len(row))
		}
		if cols == 0 {
			continue
		}
		width := usable / float64(cols)

		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(233, 236, 239)
		for i := range cols {
			pdf.CellFormat(width, pdfRowHeight, column(s.Columns, i), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		for _, row := range s.Rows {
			for i := range cols {
				var v any
				if i < len(row) {
					v = row[i]
				}
				pdf.CellFormat(width, pdfRowHeight, cell(v), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}

		if len(s.Totals) > 0 {
			pdf.SetFont("Arial", "B", 9)
			for _, k := range sortedKeys(s.Totals) {
				pdf.CellFormat(usable/2, pdfRowHeight, k, "1", 0, "L", false, 0, "")
				pdf.CellFormat(usable/2, pdfRowHeight, cell(s.Totals[k]), "1", 1, "R", false, 0, "")
			}
		}
		pdf.Ln(6)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
