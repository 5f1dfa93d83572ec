// Package xlsxio reads the source workbook export and previously written
// reports. Writing lives in internal/report.
package xlsxio

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"dmscheck/internal"
)

// The analyst's export carries ten rows of pivot-table filters and summaries
// above the real header row.
const headerRowIndex = 10

// Source column headers as they appear in the export.
const (
	colNumber  = "Названия строк"
	colCRMID   = "ID XCRM Parent"
	colAddress = "Address Normalized"
	colISA     = "ISA"
	colSFA     = "SFA"
)

// ReadSource reads invoice rows from one sheet of the source workbook.
// Rows before the header are skipped; the header row maps columns by name so
// column order in the export does not matter.
func ReadSource(path, sheet string) ([]internal.RawRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	if len(rows) <= headerRowIndex {
		return nil, fmt.Errorf("sheet %q: no header row at line %d", sheet, headerRowIndex+1)
	}

	idx, err := mapColumns(rows[headerRowIndex], []string{colNumber, colCRMID, colAddress, colISA, colSFA})
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}

	out := make([]internal.RawRow, 0, len(rows)-headerRowIndex-1)
	for _, cells := range rows[headerRowIndex+1:] {
		row := internal.RawRow{
			Number:    cell(cells, idx[colNumber]),
			CRMID:     cell(cells, idx[colCRMID]),
			Address:   cell(cells, idx[colAddress]),
			ISAAmount: cellPtr(cells, idx[colISA]),
			SFAAmount: cellPtr(cells, idx[colSFA]),
		}
		if row.Number == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// Report full-sheet headers, mirrored by internal/report.
const (
	FullSheetName     = "Полный отчёт"
	NotFoundSheetName = "Не найденные по городам"
)

var fullSheetHeaders = []string{"Номер", "CRM ID", "Адрес", "ISA", "SFA", "Город", "Префикс", "Регион", "Статус"}

// ReadReportNotFound reads an existing report and returns the raw rows of
// every invoice whose recorded status is not_found, for re-checking in
// update mode.
func ReadReportNotFound(path string) ([]internal.RawRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(FullSheetName)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", FullSheetName, err)
	}

	out := []internal.RawRow{}
	for _, cells := range rows {
		// The full sheet interleaves city banner rows and repeated header
		// rows with data rows; only data rows carry a status in the last
		// column.
		if len(cells) < len(fullSheetHeaders) {
			continue
		}
		status := strings.TrimSpace(cells[8])
		if status != string(internal.StatusNotFound) {
			continue
		}
		out = append(out, internal.RawRow{
			Number:    strings.TrimSpace(cells[0]),
			CRMID:     strings.TrimSpace(cells[1]),
			Address:   strings.TrimSpace(cells[2]),
			ISAAmount: cellPtr(cells, 3),
			SFAAmount: cellPtr(cells, 4),
		})
	}
	return out, nil
}

func mapColumns(header []string, required []string) (map[string]int, error) {
	idx := map[string]int{}
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	missing := []string{}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

func cellPtr(cells []string, i int) *string {
	v := cell(cells, i)
	if v == "" {
		return nil
	}
	return &v
}
