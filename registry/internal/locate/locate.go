// Package locate drives the search-and-verify phase for a single target
// record against the registry's result grid.
//
// The state machine here is deliberately DOM-agnostic: all selector
// knowledge lives behind the Grid interface, so the sequencing and the
// failure taxonomy can be tested without a live browser.
package locate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Failure sentinels. All of them are recoverable at the record level —
// the run loop logs the kind and moves to the next record.
var (
	ErrNavigationTimeout    = errors.New("locate: navigation timed out")
	ErrGridNotReady         = errors.New("locate: result grid did not render")
	ErrSearchControlMissing = errors.New("locate: search control not found")
	ErrNoResults            = errors.New("locate: no search results")
	ErrUnexpectedRowFormat  = errors.New("locate: unexpected result row format")
	ErrIDMismatch           = errors.New("locate: first result does not match target id")
)

// Grid is the capability surface the locator drives. The browser-backed
// implementation owns the brittle selector logic; fakes stand in for it
// in tests.
type Grid interface {
	// Navigate loads the registry listing page.
	Navigate(ctx context.Context) error
	// WaitReady blocks until the result grid has rendered.
	WaitReady(ctx context.Context) error
	// Search clears the search control, submits the query, and waits for
	// the result set to settle.
	Search(ctx context.Context, query string) error
	// Rows returns the number of rendered result rows.
	Rows(ctx context.Context) (int, error)
	// CellCount returns the number of cells in the given row.
	CellCount(ctx context.Context, row int) (int, error)
	// CellText returns the text of the cell at (row, col).
	CellText(ctx context.Context, row, col int) (string, error)
	// OpenRow clicks the row and waits for the detail view to populate.
	OpenRow(ctx context.Context, row int) error
}

// Located is a handle to the currently-open detail view for one record.
// It is valid only until the next navigation and is never shared across
// records.
type Located struct {
	ID  string
	Row int
}

// Options tunes row verification.
type Options struct {
	// IDColumn is the cell index holding the trading-account id. Default: 5.
	IDColumn int
	// MinColumns is the cell count below which the row format is
	// considered broken. Default: 6.
	MinColumns int
	Logger     *slog.Logger
}

func (o *Options) defaults() {
	if o.IDColumn == 0 {
		o.IDColumn = 5
	}
	if o.MinColumns <= 0 {
		o.MinColumns = 6
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Locate runs the full NAVIGATE → WAIT_GRID → SEARCH → WAIT_RESULTS →
// VERIFY sequence for id. On a verified match it opens the row and
// returns a Located handle; any other outcome is one of the sentinel
// failures above. Verification happens before the row is ever opened,
// so a mismatching result can never lead to downloads.
func Locate(ctx context.Context, g Grid, id string, opts Options) (*Located, error) {
	opts.defaults()
	log := opts.Logger.With("record_id", id)

	if err := g.Navigate(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}
	if err := g.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGridNotReady, err)
	}
	if err := g.Search(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchControlMissing, err)
	}

	n, err := g.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read rows: %v", ErrGridNotReady, err)
	}
	if n == 0 {
		return nil, ErrNoResults
	}

	cells, err := g.CellCount(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedRowFormat, err)
	}
	if cells < opts.MinColumns {
		return nil, fmt.Errorf("%w: %d cells, want at least %d", ErrUnexpectedRowFormat, cells, opts.MinColumns)
	}

	visible, err := g.CellText(ctx, 0, opts.IDColumn)
	if err != nil {
		return nil, fmt.Errorf("%w: read id cell: %v", ErrUnexpectedRowFormat, err)
	}
	visible = strings.TrimSpace(visible)
	if visible != id {
		log.Warn("locate: id mismatch, row not opened", "visible_id", visible)
		return nil, fmt.Errorf("%w: grid shows %q", ErrIDMismatch, visible)
	}

	if err := g.OpenRow(ctx, 0); err != nil {
		return nil, fmt.Errorf("%w: open detail view: %v", ErrGridNotReady, err)
	}

	log.Debug("locate: record verified and opened")
	return &Located{ID: id, Row: 0}, nil
}
