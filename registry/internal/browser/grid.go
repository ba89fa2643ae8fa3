package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// GridPage drives the registry's result grid on the session page. It
// implements the capability surface the locate state machine expects.
type GridPage struct {
	s *Session
}

// Navigate loads the registry listing page and waits for the load event.
func (g *GridPage) Navigate(ctx context.Context) error {
	nctx, cancel := context.WithTimeout(ctx, g.s.cfg.Timeouts.Navigate)
	defer cancel()

	page := g.s.page.Context(nctx)
	if err := page.Navigate(g.s.cfg.RegistryURL); err != nil {
		return fmt.Errorf("browser: navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load: %w", err)
	}
	return nil
}

// WaitReady blocks until the grid root element renders.
func (g *GridPage) WaitReady(ctx context.Context) error {
	gctx, cancel := context.WithTimeout(ctx, g.s.cfg.Timeouts.Grid)
	defer cancel()

	if _, err := g.s.page.Context(gctx).Element(g.s.cfg.Selectors.Grid); err != nil {
		return fmt.Errorf("browser: grid %q: %w", g.s.cfg.Selectors.Grid, err)
	}
	return nil
}

// Search clears the search box, types the query, submits, and waits for
// the result set to settle.
func (g *GridPage) Search(ctx context.Context, query string) error {
	sctx, cancel := context.WithTimeout(ctx, g.s.cfg.Timeouts.Search)
	defer cancel()

	page := g.s.page.Context(sctx)
	box, err := page.Element(g.s.cfg.Selectors.Search)
	if err != nil {
		return fmt.Errorf("browser: search box %q: %w", g.s.cfg.Selectors.Search, err)
	}

	if err := clickElement(box); err != nil {
		return fmt.Errorf("browser: focus search box: %w", err)
	}
	if err := box.SelectAllText(); err != nil {
		return fmt.Errorf("browser: select search text: %w", err)
	}
	if err := box.Input(query); err != nil {
		return fmt.Errorf("browser: type query: %w", err)
	}
	if err := page.Keyboard.Press(input.Enter); err != nil {
		return fmt.Errorf("browser: submit query: %w", err)
	}
	// The grid refilters on blur as well as on Enter; trigger both.
	if _, err := page.Eval(`() => document.activeElement && document.activeElement.blur()`); err != nil {
		g.s.cfg.Logger.Debug("browser: blur after search failed", "error", err)
	}

	g.s.settle(ctx, g.s.cfg.Timeouts.Settle)
	return nil
}

// Rows returns the number of rendered result rows, polling briefly so a
// grid still filtering gets a chance to produce its rows. Zero rows is
// a legitimate answer.
func (g *GridPage) Rows(ctx context.Context) (int, error) {
	pctx, cancel := context.WithTimeout(ctx, g.s.cfg.Timeouts.Settle)
	defer cancel()

	for {
		els, err := g.s.page.Context(pctx).Elements(g.s.cfg.Selectors.Row)
		if err != nil {
			return 0, fmt.Errorf("browser: list rows: %w", err)
		}
		if len(els) > 0 {
			return len(els), nil
		}
		select {
		case <-pctx.Done():
			return 0, nil
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// CellCount returns how many cells the given row renders.
func (g *GridPage) CellCount(ctx context.Context, row int) (int, error) {
	cells, err := g.rowCells(ctx, row)
	if err != nil {
		return 0, err
	}
	return len(cells), nil
}

// CellText returns the text of the cell at (row, col).
func (g *GridPage) CellText(ctx context.Context, row, col int) (string, error) {
	cells, err := g.rowCells(ctx, row)
	if err != nil {
		return "", err
	}
	if col >= len(cells) {
		return "", fmt.Errorf("browser: row %d has %d cells, want index %d", row, len(cells), col)
	}
	text, err := cells[col].Text()
	if err != nil {
		return "", fmt.Errorf("browser: read cell (%d,%d): %w", row, col, err)
	}
	return text, nil
}

// OpenRow clicks the row and waits for the detail view to populate.
func (g *GridPage) OpenRow(ctx context.Context, row int) error {
	rows, err := g.s.page.Context(ctx).Elements(g.s.cfg.Selectors.Row)
	if err != nil {
		return fmt.Errorf("browser: list rows: %w", err)
	}
	if row >= len(rows) {
		return fmt.Errorf("browser: row %d out of %d", row, len(rows))
	}
	if err := clickElement(rows[row]); err != nil {
		return fmt.Errorf("browser: click row %d: %w", row, err)
	}
	g.s.settle(ctx, g.s.cfg.Timeouts.Detail)
	return nil
}

func (g *GridPage) rowCells(ctx context.Context, row int) (rod.Elements, error) {
	rows, err := g.s.page.Context(ctx).Elements(g.s.cfg.Selectors.Row)
	if err != nil {
		return nil, fmt.Errorf("browser: list rows: %w", err)
	}
	if row >= len(rows) {
		return nil, fmt.Errorf("browser: row %d out of %d", row, len(rows))
	}
	cells, err := rows[row].Elements(g.s.cfg.Selectors.Cell)
	if err != nil {
		return nil, fmt.Errorf("browser: list cells of row %d: %w", row, err)
	}
	return cells, nil
}

func clickElement(el *rod.Element) error {
	return el.Click(proto.InputMouseButtonLeft, 1)
}
