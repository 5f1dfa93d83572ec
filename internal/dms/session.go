// Package dms drives the distribution-management system through an
// authenticated browser session. SearchOperation owns the per-region session
// lifecycle; RemoteSession hides the page-level automation behind a small
// capability set so the operation logic is testable with a stub.
package dms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dmscheck/internal"
)

// RemoteSession is one authenticated browser context bound to one region.
// It is exclusively owned by its SearchOperation; no other component touches
// it. All blocking calls honor ctx and their own bounded waits.
type RemoteSession interface {
	// Open launches the browser and lands on the DMS main page.
	Open(ctx context.Context) error
	// Login authenticates and moves past the login surface.
	Login(ctx context.Context, username, password string) error
	// NavigateToSearch walks subsystems -> distributor panel -> documents
	// and waits for the invoice search surface to finish loading. A surface
	// that never finishes loading yields ErrLoadTimeout.
	NavigateToSearch(ctx context.Context) error

	// CurrentCity reports the active org-structure context.
	CurrentCity(ctx context.Context) (string, error)
	// SwitchCity changes the org-structure context and waits, bounded,
	// until the switch is confirmed.
	SwitchCity(ctx context.Context, city string) error

	SubmitQuery(ctx context.Context, query string) error
	// WaitForResult blocks until either a non-empty result table or an
	// explicit "no data" indicator is shown. Neither within the timeout
	// yields ErrResultTimeout.
	WaitForResult(ctx context.Context, timeout time.Duration) error
	HasEmptyResult(ctx context.Context) (bool, error)

	// Alive reports whether the controlling browser is still reachable.
	Alive(ctx context.Context) bool
	// Teardown closes the browser. Must not fail on an already-dead one.
	Teardown() error
}

var (
	// ErrLoadTimeout: the search surface did not finish loading. Start
	// retries the whole login sequence on this, bounded.
	ErrLoadTimeout = errors.New("dms: search surface load timed out")
	// ErrResultTimeout: no definitive search result signal. Recorded as an
	// error outcome, never as not_found.
	ErrResultTimeout = errors.New("dms: search result timed out")
)

// InitializationError is fatal for a region's batch: the session could not
// be established within the retry budget.
type InitializationError struct {
	Region internal.Region
	Err    error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("dms: initialization failed for region %s: %v", e.Region, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }
