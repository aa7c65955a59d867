package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	report "github.com/goliatone/go-report"
)

// ExcelRenderer writes an xlsx workbook. With MultipleSheets each section gets
// its own sheet; otherwise sections are stacked on one sheet.
type ExcelRenderer struct{}

const defaultSheet = "Sheet1"

func (ExcelRenderer) Render(ctx context.Context, data report.Data, opts report.Options) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if opts.MultipleSheets && len(data.Sections) > 0 {
		used := map[string]bool{}
		for i, s := range data.Sections {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			name := sheetName(s.Name, i, used)
			idx, err := f.NewSheet(name)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				f.SetActiveSheet(idx)
			}
			if _, err := writeSection(f, name, 1, s, false); err != nil {
				return nil, err
			}
		}
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return nil, err
		}
	} else {
		sheet := "Report"
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			return nil, err
		}
		row := 1
		if t := title(data, opts); t != "" {
			if err := f.SetCellValue(sheet, "A1", t); err != nil {
				return nil, err
			}
			row = 3
		}
		for _, s := range data.Sections {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			next, err := writeSection(f, sheet, row, s, len(data.Sections) > 1)
			if err != nil {
				return nil, err
			}
			row = next + 1
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeSection writes s starting at row and returns the next free row.
func writeSection(f *excelize.File, sheet string, row int, s report.Section, named bool) (int, error) {
	put := func(values []any) error {
		cellRef, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cellRef, &values); err != nil {
			return err
		}
		row++
		return nil
	}

	if named {
		if err := put([]any{s.Name}); err != nil {
			return row, err
		}
	}
	if len(s.Columns) > 0 {
		header := make([]any, len(s.Columns))
		for i, c := range s.Columns {
			header[i] = c
		}
		if err := put(header); err != nil {
			return row, err
		}
	}
	for _, r := range s.Rows {
		if err := put(r); err != nil {
			return row, err
		}
	}
	for _, k := range sortedKeys(s.Totals) {
		if err := put([]any{k, s.Totals[k]}); err != nil {
			return row, err
		}
	}
	return row, nil
}

// sheetName makes a unique name within Excel's 31 character limit.
func sheetName(name string, i int, used map[string]bool) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || strings.EqualFold(name, defaultSheet) {
		name = fmt.Sprintf("Section %d", i+1)
	}
	if len([]rune(name)) > 31 {
		name = string([]rune(name)[:31])
	}
	base := name
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		r := []rune(base)
		if len(r)+len(suffix) > 31 {
			r = r[:31-len(suffix)]
		}
		name = string(r) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}
