// Package export renders an analysis batch as a spreadsheet workbook.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"logdash/internal/analysis"
)

const maxSheetName = 31

// WriteXLSX writes one sheet per batch position, in batch order. Tabular
// results become a header row plus data rows, timelines become Time/Count
// columns and failed results a single line naming the failure.
func WriteXLSX(w io.Writer, batch analysis.Batch) error {
	f := excelize.NewFile()
	defer f.Close()

	used := map[string]bool{}
	for i, res := range batch.Results {
		name := sheetName(i, batch, used)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return err
		}
		if err := writeResult(f, name, res); err != nil {
			return fmt.Errorf("sheet %q: %w", name, err)
		}
	}
	if batch.Len() == 0 {
		if err := f.SetCellValue("Sheet1", "A1", "No analysis results"); err != nil {
			return err
		}
	}

	return f.Write(w)
}

func writeResult(f *excelize.File, sheet string, res analysis.Result) error {
	switch res.Kind {
	case analysis.KindTabular:
		header := make([]any, len(res.Columns))
		for i, c := range res.Columns {
			header[i] = c
		}
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return err
		}
		for r, row := range res.Rows {
			cells := make([]any, len(row))
			for i, cell := range row {
				cells[i] = cellValue(cell)
			}
			if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", r+2), &cells); err != nil {
				return err
			}
		}
	case analysis.KindTimeline:
		if err := f.SetSheetRow(sheet, "A1", &[]any{"Time", "Count"}); err != nil {
			return err
		}
		for r, p := range res.Series {
			if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", r+2), &[]any{p.Time, cellValue(p.Count)}); err != nil {
				return err
			}
		}
	default:
		if err := f.SetSheetRow(sheet, "A1", &[]any{res.Title, res.Reason}); err != nil {
			return err
		}
	}
	return nil
}

// cellValue keeps numbers numeric in the workbook.
func cellValue(v any) any {
	s := analysis.CellString(v)
	if _, ok := v.(string); ok {
		return s
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

var sheetNameReplacer = strings.NewReplacer(
	":", " ", "\\", " ", "/", " ", "?", " ", "*", " ", "[", "(", "]", ")",
)

func sheetName(i int, batch analysis.Batch, used map[string]bool) string {
	title := ""
	if i < len(batch.Endpoints) {
		title = batch.Endpoints[i].Title
	}
	title = strings.Trim(sheetNameReplacer.Replace(title), "' ")
	if title == "" {
		title = fmt.Sprintf("Dataset %d", i+1)
	}

	name := truncate(title, maxSheetName)
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		name = truncate(title, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
