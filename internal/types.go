package internal

// Region is a partition of the remote DMS that requires its own
// authenticated session and credential pair.
type Region string

const (
	RegionSiberia Region = "siberia"
	RegionUral    Region = "ural"
	RegionUnknown Region = "unknown"
)

// Regions lists the checkable regions in processing order.
var Regions = []Region{RegionSiberia, RegionUral}

// Invoice is a single accounting record from the source workbook, joined
// against the prefix directory. Immutable after creation.
type Invoice struct {
	Number  string
	CRMID   string
	Address string

	ISAAmount float64
	SFAAmount *float64

	Prefix       string
	Region       Region
	DeliveryCity string
}

type CheckStatus string

const (
	StatusFound         CheckStatus = "found"
	StatusNotFound      CheckStatus = "not_found"
	StatusError         CheckStatus = "error"
	StatusUnknownPrefix CheckStatus = "unknown_prefix"
)

// CheckedInvoice is the outcome of one presence check. Created exactly once
// per invoice per run and never mutated afterwards. Reason is only set for
// error outcomes and carries the human-readable cause.
type CheckedInvoice struct {
	Invoice Invoice
	Status  CheckStatus
	Reason  string
}

// RawRow is an unvalidated row as read from the source workbook, before the
// invoice factory derives prefix, region and delivery city. Empty cells are
// kept as nil so the eligibility filter can tell "blank" from "zero".
type RawRow struct {
	Number    string
	CRMID     string
	Address   string
	ISAAmount *string
	SFAAmount *string
}

// RunSummary aggregates one processing run for the history store.
type RunSummary struct {
	ID         int
	Mode       string
	SourcePath string
	StartedAt  string
	FinishedAt string
	Total      int
	Found      int
	NotFound   int
	Errors     int
	Unknown    int
}

// CountByStatus tallies outcomes for logging and the run history.
func CountByStatus(outcomes []CheckedInvoice) (found, notFound, errs, unknown int) {
	for _, o := range outcomes {
		switch o.Status {
		case StatusFound:
			found++
		case StatusNotFound:
			notFound++
		case StatusError:
			errs++
		case StatusUnknownPrefix:
			unknown++
		}
	}
	return
}
