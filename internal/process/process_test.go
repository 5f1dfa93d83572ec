package process

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"dmscheck/internal"
	"dmscheck/internal/config"
	"dmscheck/internal/logging"
	"dmscheck/internal/report"
	"dmscheck/internal/storage"
	"dmscheck/internal/xlsxio"
)

type fakeChecker struct {
	region   internal.Region
	startErr error
	status   internal.CheckStatus
	checked  []string
	closed   bool
}

func (f *fakeChecker) Region() internal.Region { return f.region }

func (f *fakeChecker) Start(ctx context.Context) error { return f.startErr }

func (f *fakeChecker) Check(ctx context.Context, inv internal.Invoice) internal.CheckedInvoice {
	f.checked = append(f.checked, inv.Number)
	return internal.CheckedInvoice{Invoice: inv, Status: f.status}
}

func (f *fakeChecker) Close() { f.closed = true }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		DBPath:                  filepath.Join(dir, "history.db"),
		ReportPath:              filepath.Join(dir, "report.xlsx"),
		SourceSheets:            []string{"мой куб GC"},
		FilterRequireISANonZero: true,
		FilterRequireSFAEmpty:   true,
	}
}

// writeSourceWorkbook creates an export like the analyst's: ten filler rows,
// then the header row, then data.
func writeSourceWorkbook(t *testing.T, path, sheet string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if _, err := f.NewSheet(sheet); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	for i := 0; i < 10; i++ {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetCellValue(sheet, cell, fmt.Sprintf("фильтр %d", i+1)); err != nil {
			t.Fatalf("SetCellValue: %v", err)
		}
	}
	header := []any{"Названия строк", "ID XCRM Parent", "Address Normalized", "ISA", "SFA"}
	all := append([][]any{header}, rows...)
	for r, cells := range all {
		for c, v := range cells {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+11)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatalf("SetCellValue: %v", err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
}

func TestRunFullMode(t *testing.T) {
	cfg := testConfig(t)
	source := filepath.Join(t.TempDir(), "invoices.xlsx")
	writeSourceWorkbook(t, source, cfg.SourceSheets[0], [][]any{
		{"01/1001", "crm-1", "г. Красноярск, ул. Мира 1", "500", ""},
		{"Ч-2002", "crm-2", "г. Челябинск, пр. Ленина 2", "300", ""},
		{"01/1002", "crm-3", "г. Красноярск, ул. Мира 3", "0", ""},  // ISA zero, filtered out
		{"01/1003", "crm-4", "г. Красноярск, ул. Мира 4", "500", "120"}, // SFA present, filtered out
		{"ZZ-9", "crm-5", "г. Томск, ул. Новая 5", "200", ""},
	})

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer db.Close()

	checkers := map[internal.Region]*fakeChecker{
		internal.RegionSiberia: {region: internal.RegionSiberia, status: internal.StatusFound},
		internal.RegionUral:    {region: internal.RegionUral, status: internal.StatusNotFound},
	}
	runner := NewRunner(cfg, logging.Nop(), db, report.NewWriter(cfg.ReportPath, logging.Nop()),
		func(region internal.Region) (Checker, error) { return checkers[region], nil })

	outcomes, err := runner.Run(context.Background(), source, ModeFull)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3 after filtering", len(outcomes))
	}

	byNumber := map[string]internal.CheckedInvoice{}
	for _, o := range outcomes {
		byNumber[o.Invoice.Number] = o
	}
	if byNumber["01/1001"].Status != internal.StatusFound {
		t.Errorf("01/1001 = %s, want found", byNumber["01/1001"].Status)
	}
	if byNumber["Ч-2002"].Status != internal.StatusNotFound {
		t.Errorf("Ч-2002 = %s, want not_found", byNumber["Ч-2002"].Status)
	}
	if byNumber["ZZ-9"].Status != internal.StatusUnknownPrefix {
		t.Errorf("ZZ-9 = %s, want unknown_prefix", byNumber["ZZ-9"].Status)
	}
	for region, c := range checkers {
		if !c.closed {
			t.Errorf("%s checker not closed", region)
		}
	}

	// The report must exist and carry both sheets.
	rf, err := excelize.OpenFile(cfg.ReportPath)
	if err != nil {
		t.Fatalf("report missing: %v", err)
	}
	defer rf.Close()
	for _, sheet := range []string{xlsxio.FullSheetName, xlsxio.NotFoundSheetName} {
		if idx, _ := rf.GetSheetIndex(sheet); idx < 0 {
			t.Errorf("report is missing sheet %q", sheet)
		}
	}

	runs, err := db.ListRuns(5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Total != 3 || runs[0].Found != 1 || runs[0].NotFound != 1 || runs[0].Unknown != 1 {
		t.Fatalf("run history = %+v", runs)
	}
}

func TestRunRegionStartFailureDoesNotAbortOthers(t *testing.T) {
	cfg := testConfig(t)
	source := filepath.Join(t.TempDir(), "invoices.xlsx")
	writeSourceWorkbook(t, source, cfg.SourceSheets[0], [][]any{
		{"01/1", "crm-1", "г. Красноярск", "100", ""},
		{"01/2", "crm-2", "г. Красноярск", "100", ""},
		{"Ч-3", "crm-3", "г. Челябинск", "100", ""},
	})

	ural := &fakeChecker{region: internal.RegionUral, status: internal.StatusFound}
	runner := NewRunner(cfg, logging.Nop(), nil, report.NewWriter(cfg.ReportPath, logging.Nop()),
		func(region internal.Region) (Checker, error) {
			if region == internal.RegionSiberia {
				return &fakeChecker{region: region, startErr: errors.New("login failed")}, nil
			}
			return ural, nil
		})

	outcomes, err := runner.Run(context.Background(), source, ModeFull)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}

	errCount := 0
	for _, o := range outcomes {
		if o.Invoice.Region == internal.RegionSiberia {
			if o.Status != internal.StatusError {
				t.Errorf("%s = %s, want error after start failure", o.Invoice.Number, o.Status)
			}
			errCount++
		}
	}
	if errCount != 2 {
		t.Fatalf("siberia error outcomes = %d, want 2", errCount)
	}
	if len(ural.checked) != 1 || ural.checked[0] != "Ч-3" {
		t.Fatalf("ural checked = %v, want [Ч-3]", ural.checked)
	}
}

func TestRunUpdateModeRechecksNotFoundRows(t *testing.T) {
	cfg := testConfig(t)

	// Seed a report where one siberia invoice is still missing.
	writer := report.NewWriter(cfg.ReportPath, logging.Nop())
	seed := []internal.CheckedInvoice{
		{Invoice: internal.Invoice{Number: "01/1", CRMID: "crm-1", Address: "г. Красноярск", DeliveryCity: "Красноярск", Prefix: "01/", Region: internal.RegionSiberia, ISAAmount: 100}, Status: internal.StatusFound},
		{Invoice: internal.Invoice{Number: "01/2", CRMID: "crm-2", Address: "г. Красноярск", DeliveryCity: "Красноярск", Prefix: "01/", Region: internal.RegionSiberia, ISAAmount: 100}, Status: internal.StatusNotFound},
	}
	if err := writer.Write(seed); err != nil {
		t.Fatalf("seed report: %v", err)
	}

	siberia := &fakeChecker{region: internal.RegionSiberia, status: internal.StatusFound}
	runner := NewRunner(cfg, logging.Nop(), nil, writer,
		func(region internal.Region) (Checker, error) {
			if region != internal.RegionSiberia {
				t.Fatalf("unexpected region %s", region)
			}
			return siberia, nil
		})

	outcomes, err := runner.Run(context.Background(), cfg.ReportPath, ModeUpdate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Invoice.Number != "01/2" {
		t.Fatalf("outcomes = %+v, want only the previously missing invoice", outcomes)
	}
	if outcomes[0].Status != internal.StatusFound {
		t.Fatalf("status = %s, want found after recheck", outcomes[0].Status)
	}
	if len(siberia.checked) != 1 {
		t.Fatalf("checked = %v", siberia.checked)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig(t)
	runner := NewRunner(cfg, logging.Nop(), nil, report.NewWriter(cfg.ReportPath, logging.Nop()), nil)
	if _, err := runner.Run(context.Background(), "whatever.xlsx", "partial"); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}
