package report

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"dmscheck/internal"
	"dmscheck/internal/logging"
	"dmscheck/internal/xlsxio"
)

func sampleOutcomes() []internal.CheckedInvoice {
	sfa := 120.0
	return []internal.CheckedInvoice{
		{Invoice: internal.Invoice{Number: "01/1", CRMID: "crm-1", Address: "г. Красноярск, ул. Мира 1", ISAAmount: 500, DeliveryCity: "Красноярск", Prefix: "01/", Region: internal.RegionSiberia}, Status: internal.StatusFound},
		{Invoice: internal.Invoice{Number: "01/2", CRMID: "crm-2", Address: "г. Красноярск, ул. Мира 2", ISAAmount: 300, DeliveryCity: "Красноярск", Prefix: "01/", Region: internal.RegionSiberia}, Status: internal.StatusNotFound},
		{Invoice: internal.Invoice{Number: "Ч-3", CRMID: "crm-3", Address: "г. Челябинск, пр. Ленина 3", ISAAmount: 200, SFAAmount: &sfa, DeliveryCity: "Челябинск", Prefix: "Ч-", Region: internal.RegionUral}, Status: internal.StatusError, Reason: "search timed out"},
		{Invoice: internal.Invoice{Number: "ZZ-4", CRMID: "crm-4", Address: "г. Томск", ISAAmount: 100, Region: internal.RegionUnknown}, Status: internal.StatusUnknownPrefix},
		{Invoice: internal.Invoice{Number: "Ч-5", CRMID: "crm-5", Address: "г. Челябинск, пр. Ленина 5", ISAAmount: 400, DeliveryCity: "Челябинск", Prefix: "Ч-", Region: internal.RegionUral}, Status: internal.StatusNotFound},
	}
}

func TestWriteProducesBothSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	w := NewWriter(path, logging.Nop())

	if err := w.Write(sampleOutcomes()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	for _, sheet := range []string{xlsxio.NotFoundSheetName, xlsxio.FullSheetName} {
		if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
			t.Fatalf("missing sheet %q", sheet)
		}
	}
	if idx, _ := f.GetSheetIndex("Sheet1"); idx >= 0 {
		t.Error("default Sheet1 should have been removed")
	}
}

func TestNotFoundSheetGroupsByCity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	w := NewWriter(path, logging.Nop())
	if err := w.Write(sampleOutcomes()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(xlsxio.NotFoundSheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) < 2 {
		t.Fatalf("sheet too short: %d rows", len(rows))
	}
	// Cities are column headers, sorted; one not_found invoice under each.
	header := rows[0]
	if len(header) != 2 || header[0] != "Красноярск" || header[1] != "Челябинск" {
		t.Fatalf("header = %v", header)
	}
	if rows[1][0] != "01/2" || rows[1][1] != "Ч-5" {
		t.Fatalf("numbers row = %v", rows[1])
	}
}

func TestFullSheetCarriesStatusesAndBuckets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	w := NewWriter(path, logging.Nop())
	if err := w.Write(sampleOutcomes()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(xlsxio.FullSheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}

	banners := []string{}
	statuses := map[string]string{}
	for _, cells := range rows {
		if len(cells) == 1 && cells[0] != "" {
			banners = append(banners, cells[0])
			continue
		}
		if len(cells) >= 9 && cells[0] != "Номер" {
			statuses[cells[0]] = cells[8]
		}
	}

	want := []string{"Красноярск", "Неизвестный префикс", "Челябинск"}
	if len(banners) != len(want) {
		t.Fatalf("banners = %v, want %v", banners, want)
	}
	for i, b := range want {
		if banners[i] != b {
			t.Fatalf("banners = %v, want %v", banners, want)
		}
	}

	for number, status := range map[string]string{
		"01/1": "found",
		"01/2": "not_found",
		"Ч-3":  "error",
		"ZZ-4": "unknown_prefix",
	} {
		if statuses[number] != status {
			t.Errorf("%s status = %q, want %q", number, statuses[number], status)
		}
	}
}

func TestWriteEmptyNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	w := NewWriter(path, logging.Nop())

	outcomes := []internal.CheckedInvoice{
		{Invoice: internal.Invoice{Number: "01/1", DeliveryCity: "Красноярск", Region: internal.RegionSiberia}, Status: internal.StatusFound},
	}
	if err := w.Write(outcomes); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	v, err := f.GetCellValue(xlsxio.NotFoundSheetName, "A1")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if v == "" {
		t.Error("expected a placeholder note on the not-found sheet")
	}
}

func TestRoundTripWithReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	w := NewWriter(path, logging.Nop())
	if err := w.Write(sampleOutcomes()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rows, err := xlsxio.ReadReportNotFound(path)
	if err != nil {
		t.Fatalf("ReadReportNotFound: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	numbers := map[string]bool{rows[0].Number: true, rows[1].Number: true}
	if !numbers["01/2"] || !numbers["Ч-5"] {
		t.Fatalf("rows = %+v", rows)
	}
}
