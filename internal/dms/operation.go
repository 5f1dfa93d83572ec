package dms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dmscheck/internal"
	"dmscheck/internal/config"
	"dmscheck/internal/directory"
)

type opState int

const (
	stateUninitialized opState = iota
	stateStarting
	stateReady
	stateRecovering
	stateFailed
	stateClosed
)

// SessionFactory builds a fresh RemoteSession. Recovery never reuses a dead
// session object; it discards it and asks the factory for a new one.
type SessionFactory func() RemoteSession

// SearchOperation checks invoices against the DMS for exactly one region.
// It owns one RemoteSession, keeps it authenticated, switches org-structure
// contexts to match each invoice, and recovers transparently from a dead
// browser. Not safe for concurrent use; regions run strictly sequentially.
type SearchOperation struct {
	region     internal.Region
	cfg        config.Config
	log        *zap.SugaredLogger
	newSession SessionFactory
	limiter    *RateLimiter

	state       opState
	session     RemoteSession
	currentCity string
}

func NewOperation(region internal.Region, cfg config.Config, log *zap.SugaredLogger, factory SessionFactory) (*SearchOperation, error) {
	switch region {
	case internal.RegionSiberia, internal.RegionUral:
	default:
		return nil, fmt.Errorf("dms: unsupported region %q", region)
	}
	if factory == nil {
		factory = func() RemoteSession { return NewBrowserSession(cfg, log) }
	}
	return &SearchOperation{
		region:     region,
		cfg:        cfg,
		log:        log.With("region", string(region)),
		newSession: factory,
		limiter:    NewRateLimiter(cfg.SearchRateLimitRPS),
	}, nil
}

func (o *SearchOperation) Region() internal.Region { return o.region }

// Start establishes the authenticated session and lands on the search
// surface. A landing surface that never finishes loading retries the whole
// sequence within MaxStartAttempts; every other failure tears down partial
// state and returns immediately. On failure the region is unusable until a
// later Start succeeds.
func (o *SearchOperation) Start(ctx context.Context) error {
	if o.state == stateReady {
		return nil
	}

	creds, err := o.cfg.CredentialsFor(o.region)
	if err != nil {
		o.state = stateFailed
		return &InitializationError{Region: o.region, Err: err}
	}

	attempts := o.cfg.MaxStartAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		o.state = stateStarting
		err := o.startOnce(ctx, creds)
		if err == nil {
			o.state = stateReady
			o.log.Infow("session ready", "attempt", attempt)
			return nil
		}
		lastErr = err
		o.teardownSession()

		// Only a landing-surface load timeout earns another attempt.
		if !errors.Is(err, ErrLoadTimeout) || ctx.Err() != nil {
			break
		}
		o.log.Warnw("search surface load timed out, retrying start", "attempt", attempt)
	}

	o.state = stateFailed
	return &InitializationError{Region: o.region, Err: lastErr}
}

func (o *SearchOperation) startOnce(ctx context.Context, creds config.Credentials) error {
	o.session = o.newSession()
	o.currentCity = ""

	o.log.Infow("starting DMS session")
	if err := o.session.Open(ctx); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if err := o.session.Login(ctx, creds.Username, creds.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := o.session.NavigateToSearch(ctx); err != nil {
		if errors.Is(err, ErrLoadTimeout) {
			return ErrLoadTimeout
		}
		return fmt.Errorf("navigate: %w", err)
	}

	if city, err := o.session.CurrentCity(ctx); err == nil {
		o.currentCity = city
	}
	return nil
}

// Check determines whether one invoice exists in the DMS. It is total: every
// failure mode is folded into the outcome status, nothing propagates. One
// bad invoice must never kill the rest of the run.
func (o *SearchOperation) Check(ctx context.Context, inv internal.Invoice) internal.CheckedInvoice {
	if inv.Region != o.region {
		// The orchestrator pre-partitions by region; getting here is a
		// caller bug, reported per invoice rather than by panicking.
		reason := fmt.Sprintf("region mismatch: operation=%s invoice=%s", o.region, inv.Region)
		o.log.Warnw("region mismatch", "number", inv.Number, "invoice_region", string(inv.Region))
		return internal.CheckedInvoice{Invoice: inv, Status: internal.StatusError, Reason: reason}
	}

	switch o.state {
	case stateUninitialized, stateClosed, stateFailed:
		if err := o.Start(ctx); err != nil {
			o.log.Errorw("start failed", "number", inv.Number, "err", err)
			return internal.CheckedInvoice{Invoice: inv, Status: internal.StatusError, Reason: fmt.Sprintf("session start failed: %v", err)}
		}
	}

	recovered := false
	if !o.session.Alive(ctx) {
		o.log.Warnw("browser session is gone, attempting recovery", "number", inv.Number)
		if err := o.recover(ctx); err != nil {
			o.log.Errorw("session recovery failed", "number", inv.Number, "err", err)
			return internal.CheckedInvoice{Invoice: inv, Status: internal.StatusError, Reason: fmt.Sprintf("session recovery failed: %v", err)}
		}
		recovered = true
	}

	status, err := o.search(ctx, inv)
	if err != nil && !recovered && !o.session.Alive(ctx) {
		// The session died mid-check. One recovery attempt, then one
		// retry of the search; a second death is an error outcome.
		o.log.Warnw("session died mid-check, attempting recovery", "number", inv.Number, "err", err)
		if rerr := o.recover(ctx); rerr != nil {
			o.log.Errorw("session recovery failed", "number", inv.Number, "err", rerr)
			return internal.CheckedInvoice{Invoice: inv, Status: internal.StatusError, Reason: fmt.Sprintf("session recovery failed: %v", rerr)}
		}
		status, err = o.search(ctx, inv)
	}
	if err != nil {
		o.log.Errorw("check failed", "number", inv.Number, "err", err)
		return internal.CheckedInvoice{Invoice: inv, Status: internal.StatusError, Reason: err.Error()}
	}

	o.log.Infow("check complete", "number", inv.Number, "status", string(status))
	return internal.CheckedInvoice{Invoice: inv, Status: status}
}

// search runs the primary-city search and, when the prefix spans two
// locations, falls back to the other city before concluding not_found.
func (o *SearchOperation) search(ctx context.Context, inv internal.Invoice) (internal.CheckStatus, error) {
	found, err := o.searchInCity(ctx, inv.Number, inv.DeliveryCity)
	if err != nil {
		return internal.StatusError, err
	}
	if found {
		return internal.StatusFound, nil
	}

	fallback := fallbackCity(inv)
	if fallback == "" {
		return internal.StatusNotFound, nil
	}

	o.log.Infow("empty result, retrying on alternate org-structure", "number", inv.Number, "city", fallback)
	found, err = o.searchInCity(ctx, inv.Number, fallback)
	if err != nil {
		return internal.StatusError, err
	}
	if found {
		return internal.StatusFound, nil
	}
	return internal.StatusNotFound, nil
}

func (o *SearchOperation) searchInCity(ctx context.Context, number, city string) (bool, error) {
	o.switchCity(ctx, city)

	o.limiter.WaitTurn()
	if err := o.session.SubmitQuery(ctx, number); err != nil {
		return false, fmt.Errorf("submit query: %w", err)
	}
	if err := o.session.WaitForResult(ctx, time.Duration(o.cfg.SearchTimeoutSec)*time.Second); err != nil {
		if errors.Is(err, ErrResultTimeout) {
			return false, fmt.Errorf("search timed out for %s in %s: %w", number, city, err)
		}
		return false, fmt.Errorf("wait for result: %w", err)
	}

	empty, err := o.session.HasEmptyResult(ctx)
	if err != nil {
		return false, fmt.Errorf("read result: %w", err)
	}
	return !empty, nil
}

// switchCity changes the org-structure context when needed. An unconfirmed
// switch is logged and the search proceeds best-effort; aborting a whole
// check over a confirmation failure would throw away determinable results.
func (o *SearchOperation) switchCity(ctx context.Context, city string) {
	if city == "" || o.currentCity == orgStructureLabel(city) {
		return
	}
	o.log.Infow("switching org-structure", "city", city)
	if err := o.session.SwitchCity(ctx, city); err != nil {
		o.log.Warnw("org-structure switch unconfirmed, continuing", "city", city, "err", err)
		o.currentCity = ""
		return
	}
	o.currentCity = orgStructureLabel(city)
}

func (o *SearchOperation) recover(ctx context.Context) error {
	o.state = stateRecovering
	o.teardownSession()
	o.state = stateUninitialized
	return o.Start(ctx)
}

// Close tears the session down. Idempotent: closing twice, or without a
// prior Start, does nothing. Teardown errors are swallowed; a browser that
// is already gone must not fail the caller's cleanup path.
func (o *SearchOperation) Close() {
	o.teardownSession()
	o.state = stateClosed
}

func (o *SearchOperation) teardownSession() {
	if o.session != nil {
		if err := o.session.Teardown(); err != nil {
			o.log.Debugw("session teardown error ignored", "err", err)
		}
		o.session = nil
	}
	o.currentCity = ""
}

// fallbackCity picks the second org-structure to try for prefixes that span
// two locations. When the address already routed delivery to the alternate,
// the fallback is the primary.
func fallbackCity(inv internal.Invoice) string {
	entry, ok := directory.Resolve(inv.Number)
	if !ok || entry.AlternateCity == "" {
		return ""
	}
	if inv.DeliveryCity == entry.AlternateCity {
		return entry.City
	}
	return entry.AlternateCity
}
