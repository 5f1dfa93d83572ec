// Package report renders check outcomes into the styled workbook the
// analysts review, and opens it when done.
package report

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"dmscheck/internal"
	"dmscheck/internal/xlsxio"
)

// Status fill palette. not_found is a trustworthy negative; error and
// unknown_prefix are "needs manual follow-up" and must stay visually
// distinct from it.
const (
	fillFound         = "CCFFCC"
	fillNotFound      = "FFCCCC"
	fillError         = "FFFF99"
	fillUnknownPrefix = "FFFFCC"
	fillHeader        = "4472C4"
	fillTableHeader   = "D9E2F3"
)

const unknownPrefixBucket = "Неизвестный префикс"

var fullHeaders = []string{"Номер", "CRM ID", "Адрес", "ISA", "SFA", "Город", "Префикс", "Регион", "Статус"}

type Writer struct {
	path string
	log  *zap.SugaredLogger
}

func NewWriter(path string, log *zap.SugaredLogger) *Writer {
	return &Writer{path: path, log: log}
}

func (w *Writer) Path() string { return w.path }

// Write renders both report sheets into a fresh workbook, replacing the
// previous report file if one exists. Update mode re-reads the old file
// before this is called, so overwriting loses nothing.
func (w *Writer) Write(outcomes []internal.CheckedInvoice) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := w.writeNotFoundByCity(f, outcomes); err != nil {
		return err
	}
	if err := w.writeFullReport(f, outcomes); err != nil {
		return err
	}

	// Drop the default sheet excelize creates in a new workbook.
	if idx, _ := f.GetSheetIndex("Sheet1"); idx >= 0 {
		_ = f.DeleteSheet("Sheet1")
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	w.log.Infow("report written", "path", w.path, "rows", len(outcomes))
	return nil
}

func (w *Writer) writeNotFoundByCity(f *excelize.File, outcomes []internal.CheckedInvoice) error {
	sheet := xlsxio.NotFoundSheetName
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	notFound := make([]internal.CheckedInvoice, 0)
	for _, o := range outcomes {
		if o.Status == internal.StatusNotFound {
			notFound = append(notFound, o)
		}
	}
	if len(notFound) == 0 {
		return f.SetCellValue(sheet, "A1", "Нет накладных со статусом 'not_found'")
	}

	headerStyle, err := headerStyle(f)
	if err != nil {
		return err
	}

	grouped := groupByCity(notFound)
	widths := map[int]int{}
	for col, city := range sortedKeys(grouped) {
		head, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, head, city); err != nil {
			return err
		}
		_ = f.SetCellStyle(sheet, head, head, headerStyle)
		widths[col+1] = max(widths[col+1], len([]rune(city)))

		for rowOffset, o := range grouped[city] {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowOffset+2)
			if err := f.SetCellValue(sheet, cell, o.Invoice.Number); err != nil {
				return err
			}
			widths[col+1] = max(widths[col+1], len([]rune(o.Invoice.Number)))
		}
	}
	return applyWidths(f, sheet, widths)
}

func (w *Writer) writeFullReport(f *excelize.File, outcomes []internal.CheckedInvoice) error {
	sheet := xlsxio.FullSheetName
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	bannerStyle, err := headerStyle(f)
	if err != nil {
		return err
	}
	tableHeaderStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{fillTableHeader}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	statusStyles, err := newStatusStyles(f)
	if err != nil {
		return err
	}

	grouped := groupByCity(outcomes)
	widths := map[int]int{}
	for i, h := range fullHeaders {
		widths[i+1] = len([]rune(h))
	}

	row := 1
	for _, city := range sortedKeys(grouped) {
		banner, _ := excelize.CoordinatesToCellName(1, row)
		bannerEnd, _ := excelize.CoordinatesToCellName(len(fullHeaders), row)
		if err := f.SetCellValue(sheet, banner, city); err != nil {
			return err
		}
		_ = f.MergeCell(sheet, banner, bannerEnd)
		_ = f.SetCellStyle(sheet, banner, bannerEnd, bannerStyle)
		row++

		for i, h := range fullHeaders {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			if err := f.SetCellValue(sheet, cell, h); err != nil {
				return err
			}
			_ = f.SetCellStyle(sheet, cell, cell, tableHeaderStyle)
		}
		row++

		for _, o := range grouped[city] {
			inv := o.Invoice
			sfa := ""
			if inv.SFAAmount != nil {
				sfa = fmt.Sprintf("%v", *inv.SFAAmount)
			}
			values := []any{
				inv.Number, inv.CRMID, inv.Address, inv.ISAAmount, sfa,
				inv.DeliveryCity, inv.Prefix, string(inv.Region), string(o.Status),
			}
			for i, v := range values {
				cell, _ := excelize.CoordinatesToCellName(i+1, row)
				if err := f.SetCellValue(sheet, cell, v); err != nil {
					return err
				}
				if styleID, ok := statusStyles[o.Status]; ok {
					_ = f.SetCellStyle(sheet, cell, cell, styleID)
				}
				widths[i+1] = max(widths[i+1], len([]rune(fmt.Sprintf("%v", v))))
			}
			row++
		}

		// Blank spacer row between cities.
		row++
	}

	if err := applyWidths(f, sheet, widths); err != nil {
		return err
	}

	wrap, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return err
	}
	return f.SetColStyle(sheet, "C", wrap)
}

// Open hands the written report to the OS default application.
func (w *Writer) Open() error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("report not found: %w", err)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", abs)
	case "darwin":
		cmd = exec.Command("open", abs)
	default:
		cmd = exec.Command("xdg-open", abs)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	w.log.Infow("report opened", "path", abs)
	return nil
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{fillHeader}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
}

func newStatusStyles(f *excelize.File) (map[internal.CheckStatus]int, error) {
	fills := map[internal.CheckStatus]string{
		internal.StatusFound:         fillFound,
		internal.StatusNotFound:      fillNotFound,
		internal.StatusError:         fillError,
		internal.StatusUnknownPrefix: fillUnknownPrefix,
	}
	styles := map[internal.CheckStatus]int{}
	for status, color := range fills {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return nil, err
		}
		styles[status] = id
	}
	return styles, nil
}

func groupByCity(outcomes []internal.CheckedInvoice) map[string][]internal.CheckedInvoice {
	grouped := map[string][]internal.CheckedInvoice{}
	for _, o := range outcomes {
		city := o.Invoice.DeliveryCity
		if city == "" {
			city = unknownPrefixBucket
		}
		grouped[city] = append(grouped[city], o)
	}
	return grouped
}

func sortedKeys(m map[string][]internal.CheckedInvoice) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func applyWidths(f *excelize.File, sheet string, widths map[int]int) error {
	for col, width := range widths {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			continue
		}
		adjusted := float64(width + 2)
		if adjusted > 50 {
			adjusted = 50
		}
		if err := f.SetColWidth(sheet, name, name, adjusted); err != nil {
			return err
		}
	}
	return nil
}
