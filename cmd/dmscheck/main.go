package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dmscheck/internal"
	"dmscheck/internal/config"
	"dmscheck/internal/logging"
	"dmscheck/internal/process"
	"dmscheck/internal/report"
	"dmscheck/internal/storage"
	"dmscheck/internal/tui"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "check":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "source workbook (full) or existing report (update)")
		mode := fs.String("mode", process.ModeFull, "full|update")
		output := fs.String("output", cfg.ReportPath, "report xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*input) == "" {
			must(fmt.Errorf("--input is required"))
		}
		cfg.ReportPath = *output

		log := logging.New(cfg.LogLevel, os.Stderr)
		defer log.Sync()

		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()

		runner := process.NewRunner(cfg, log, db, report.NewWriter(cfg.ReportPath, log), nil)
		outcomes, err := runner.Run(ctx, *input, *mode)
		must(err)
		found, notFound, errs, unknown := internal.CountByStatus(outcomes)
		fmt.Printf("check done total=%d found=%d not_found=%d errors=%d unknown_prefix=%d report=%s\n",
			len(outcomes), found, notFound, errs, unknown, cfg.ReportPath)

	case "history:list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 20, "max runs to show")
		_ = fs.Parse(os.Args[2:])

		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()

		runs, err := db.ListRuns(*limit)
		must(err)
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return
		}
		for _, r := range runs {
			finished := r.FinishedAt
			if finished == "" {
				finished = "unfinished"
			}
			fmt.Printf("#%d %s %s total=%d found=%d not_found=%d errors=%d unknown=%d (%s)\n",
				r.ID, r.Mode, r.StartedAt, r.Total, r.Found, r.NotFound, r.Errors, r.Unknown, finished)
		}

	case "history:show":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		runID := fs.Int("run", 0, "run id")
		_ = fs.Parse(os.Args[2:])
		if *runID == 0 {
			must(fmt.Errorf("--run is required"))
		}

		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()

		outcomes, err := db.OutcomesForRun(*runID)
		must(err)
		for _, o := range outcomes {
			line := fmt.Sprintf("%s\t%s\t%s", o.Invoice.Number, o.Invoice.DeliveryCity, o.Status)
			if o.Reason != "" {
				line += "\t" + o.Reason
			}
			fmt.Println(line)
		}

	case "report:open":
		log := logging.New(cfg.LogLevel, os.Stderr)
		defer log.Sync()
		must(report.NewWriter(cfg.ReportPath, log).Open())

	case "ui":
		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()

		run := func(ctx context.Context, path, mode string, logs io.Writer) ([]internal.CheckedInvoice, error) {
			log := logging.New(cfg.LogLevel, logs)
			defer log.Sync()
			runner := process.NewRunner(cfg, log, db, report.NewWriter(cfg.ReportPath, log), nil)
			return runner.Run(ctx, path, mode)
		}
		must(tui.Run(run))

	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: dmscheck <command> [flags]

commands:
  check         run invoice presence checking
                  --input  source workbook (full) or report (update)
                  --mode   full|update (default full)
                  --output report path (default from config)
  history:list  show recent runs
  history:show  show one run's outcomes (--run)
  report:open   open the last written report
  ui            interactive mode`)
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
