// Package process drives a full checking run: load, filter, partition by
// region, check each region sequentially, then report. A failure in one
// region never prevents the next region from running, and whatever outcomes
// were collected are always written out.
package process

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dmscheck/internal"
	"dmscheck/internal/config"
	"dmscheck/internal/dms"
	"dmscheck/internal/invoice"
	"dmscheck/internal/report"
	"dmscheck/internal/storage"
	"dmscheck/internal/xlsxio"
)

const (
	ModeFull   = "full"
	ModeUpdate = "update"
)

// Checker is the per-region search operation as the orchestrator sees it.
type Checker interface {
	Region() internal.Region
	Start(ctx context.Context) error
	Check(ctx context.Context, inv internal.Invoice) internal.CheckedInvoice
	Close()
}

// CheckerFactory builds the checker for one region. Tests substitute fakes;
// production wires dms.NewOperation.
type CheckerFactory func(region internal.Region) (Checker, error)

type Runner struct {
	cfg        config.Config
	log        *zap.SugaredLogger
	db         *storage.DB
	writer     *report.Writer
	newChecker CheckerFactory
}

// NewRunner assembles the orchestrator. db may be nil (no run history).
func NewRunner(cfg config.Config, log *zap.SugaredLogger, db *storage.DB, writer *report.Writer, factory CheckerFactory) *Runner {
	if factory == nil {
		factory = func(region internal.Region) (Checker, error) {
			return dms.NewOperation(region, cfg, log, nil)
		}
	}
	return &Runner{cfg: cfg, log: log, db: db, writer: writer, newChecker: factory}
}

// Run executes one processing run and returns every outcome produced.
// mode "full" reads the analyst's source workbook; mode "update" re-checks
// the not_found rows of an existing report.
func (r *Runner) Run(ctx context.Context, path, mode string) ([]internal.CheckedInvoice, error) {
	started := time.Now()
	r.log.Infow("run started", "mode", mode, "path", path)

	invoices, err := r.load(path, mode)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		r.log.Warnw("nothing to check", "mode", mode)
		return nil, nil
	}
	r.log.Infow("invoices prepared", "count", len(invoices))

	runID := 0
	if r.db != nil {
		if runID, err = r.db.BeginRun(mode, path); err != nil {
			r.log.Warnw("run history unavailable", "err", err)
			runID = 0
		}
	}

	outcomes := make([]internal.CheckedInvoice, 0, len(invoices))

	// Unknown prefixes are classified before any remote interaction.
	byRegion := map[internal.Region][]internal.Invoice{}
	for _, inv := range invoices {
		if inv.Region == internal.RegionUnknown {
			r.log.Warnw("unknown invoice prefix", "number", inv.Number)
			outcomes = append(outcomes, internal.CheckedInvoice{Invoice: inv, Status: internal.StatusUnknownPrefix})
			continue
		}
		byRegion[inv.Region] = append(byRegion[inv.Region], inv)
	}
	r.appendHistory(runID, outcomes)

	for _, region := range internal.Regions {
		batch := byRegion[region]
		if len(batch) == 0 {
			r.log.Infow("no invoices for region", "region", string(region))
			continue
		}
		regionOutcomes := r.processRegion(ctx, region, batch)
		outcomes = append(outcomes, regionOutcomes...)
		r.appendHistory(runID, regionOutcomes)
	}

	// Whatever was collected is persisted, even after a region failure.
	if err := r.writer.Write(outcomes); err != nil {
		return outcomes, fmt.Errorf("write report: %w", err)
	}
	if runID != 0 {
		if err := r.db.FinishRun(runID, outcomes); err != nil {
			r.log.Warnw("finish run record", "err", err)
		}
	}
	if r.cfg.OpenReport {
		if err := r.writer.Open(); err != nil {
			r.log.Warnw("open report", "err", err)
		}
	}

	found, notFound, errs, unknown := internal.CountByStatus(outcomes)
	r.log.Infow("run finished",
		"duration", time.Since(started).Round(time.Second).String(),
		"total", len(outcomes), "found", found, "not_found", notFound,
		"errors", errs, "unknown_prefix", unknown,
	)
	return outcomes, nil
}

func (r *Runner) load(path, mode string) ([]internal.Invoice, error) {
	switch mode {
	case ModeUpdate:
		rows, err := xlsxio.ReadReportNotFound(path)
		if err != nil {
			return nil, fmt.Errorf("read report: %w", err)
		}
		// These rows passed the eligibility gate when the report was first
		// produced; update mode does not re-filter them.
		return invoice.FromRows(rows), nil
	case ModeFull:
		raw := []internal.RawRow{}
		for _, sheet := range r.cfg.SourceSheets {
			rows, err := xlsxio.ReadSource(path, sheet)
			if err != nil {
				r.log.Warnw("sheet skipped", "sheet", sheet, "err", err)
				continue
			}
			r.log.Infow("sheet read", "sheet", sheet, "rows", len(rows))
			raw = append(raw, rows...)
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("no rows read from %s", path)
		}

		rule := invoice.FilterRule{
			RequireISANonZero: r.cfg.FilterRequireISANonZero,
			RequireSFAEmpty:   r.cfg.FilterRequireSFAEmpty,
		}
		eligible := rule.Filter(raw)
		r.log.Infow("eligibility filter applied", "before", len(raw), "after", len(eligible))
		return invoice.FromRows(eligible), nil
	default:
		return nil, fmt.Errorf("unsupported mode: %s", mode)
	}
}

// processRegion checks one region's batch with a dedicated operation. The
// operation is always closed, and a Start failure turns the whole batch into
// error outcomes instead of aborting the run.
func (r *Runner) processRegion(ctx context.Context, region internal.Region, batch []internal.Invoice) []internal.CheckedInvoice {
	r.log.Infow("region started", "region", string(region), "invoices", len(batch))

	checker, err := r.newChecker(region)
	if err != nil {
		return errorBatch(batch, fmt.Sprintf("operation unavailable: %v", err))
	}
	defer checker.Close()

	if err := checker.Start(ctx); err != nil {
		r.log.Errorw("region session failed to start", "region", string(region), "err", err)
		return errorBatch(batch, fmt.Sprintf("session start failed: %v", err))
	}

	outcomes := make([]internal.CheckedInvoice, 0, len(batch))
	for i, inv := range batch {
		if ctx.Err() != nil {
			outcomes = append(outcomes, errorBatch(batch[i:], "run interrupted")...)
			break
		}
		outcomes = append(outcomes, checker.Check(ctx, inv))
	}

	r.log.Infow("region finished", "region", string(region))
	return outcomes
}

func (r *Runner) appendHistory(runID int, outcomes []internal.CheckedInvoice) {
	if r.db == nil || runID == 0 || len(outcomes) == 0 {
		return
	}
	if err := r.db.AppendOutcomes(runID, outcomes); err != nil {
		r.log.Warnw("append run history", "err", err)
	}
}

func errorBatch(batch []internal.Invoice, reason string) []internal.CheckedInvoice {
	out := make([]internal.CheckedInvoice, 0, len(batch))
	for _, inv := range batch {
		out = append(out, internal.CheckedInvoice{Invoice: inv, Status: internal.StatusError, Reason: reason})
	}
	return out
}
