// Package browser is the rod-backed implementation of the capability
// surfaces the locate and retrieve state machines drive. All selector
// and timing knowledge for the registry's web UI lives here.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/moisson/horosafe"
	"github.com/hazyhaar/moisson/registry/internal/retrieve"
)

// Timeouts bounds each UI phase independently. A slow grid must not eat
// the budget of the download that follows it.
type Timeouts struct {
	Navigate time.Duration // page load
	Grid     time.Duration // result grid render
	Search   time.Duration // search control lookup + submit
	Settle   time.Duration // DOM stability after a search
	Detail   time.Duration // detail view populate after a row click
	Download time.Duration // single attachment download
}

func (t *Timeouts) defaults() {
	if t.Navigate <= 0 {
		t.Navigate = 60 * time.Second
	}
	if t.Grid <= 0 {
		t.Grid = 30 * time.Second
	}
	if t.Search <= 0 {
		t.Search = 10 * time.Second
	}
	if t.Settle <= 0 {
		t.Settle = 5 * time.Second
	}
	if t.Detail <= 0 {
		t.Detail = 5 * time.Second
	}
	if t.Download <= 0 {
		t.Download = 30 * time.Second
	}
}

// Selectors names the DOM hooks of the registry UI. The defaults match
// the MUI DataGrid the registry currently renders; they are config, not
// code, because the site changes under us.
type Selectors struct {
	Grid        string
	Row         string
	Cell        string
	Search      string
	ExportLabel string
}

func (s *Selectors) defaults() {
	if s.Grid == "" {
		s.Grid = ".MuiDataGrid-root"
	}
	if s.Row == "" {
		s.Row = ".MuiDataGrid-row"
	}
	if s.Cell == "" {
		s.Cell = ".MuiDataGrid-cell"
	}
	if s.Search == "" {
		s.Search = "input#search"
	}
	if s.ExportLabel == "" {
		s.ExportLabel = "Download as CSV"
	}
}

// Config configures a registry browser session.
type Config struct {
	// RegistryURL is the listing page of the certificate registry.
	RegistryURL string

	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headful disables headless mode for interactive debugging.
	Headful bool

	// DownloadDir is where attachments land. A .staging subdirectory is
	// used for in-flight downloads.
	DownloadDir string

	Timeouts  Timeouts
	Selectors Selectors
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	c.Timeouts.defaults()
	c.Selectors.defaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session owns one Chrome connection and one page for the whole run.
// Records are processed sequentially on the same page; each record
// starts with a fresh navigation so no state leaks between them.
type Session struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	staging string
}

// Open validates the registry URL, launches (or connects to) Chrome,
// and prepares a stealth page. Callers must Close the session even when
// the run aborts early.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	cfg.defaults()
	log := cfg.Logger

	if err := horosafe.ValidateURL(cfg.RegistryURL); err != nil {
		return nil, fmt.Errorf("browser: registry url: %w", err)
	}

	staging := filepath.Join(cfg.DownloadDir, ".staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("browser: staging dir: %w", err)
	}

	s := &Session{cfg: cfg, staging: staging}

	var wsURL string
	if cfg.RemoteURL != "" {
		wsURL = cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(!cfg.Headful)
		// Anti-detection flags.
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		log.Info("browser: launched local chrome", "headful", cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = b

	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	s.page = page

	return s, nil
}

// Grid returns the result-grid driver bound to this session's page.
func (s *Session) Grid() *GridPage {
	return &GridPage{s: s}
}

// Detail returns the detail-view driver bound to this session's page.
func (s *Session) Detail() *DetailPage {
	return &DetailPage{s: s}
}

// HTML serialises the current page as outer HTML, for evidence
// snapshots.
func (s *Session) HTML(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// DownloadExport triggers the listing page's CSV export control and
// saves the payload under destDir. Returns the saved path.
func (s *Session) DownloadExport(ctx context.Context, destDir string) (string, error) {
	sel := s.cfg.Selectors

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Search)
	defer cancel()

	els, err := s.page.Context(cctx).ElementsX(labelXPath(sel.ExportLabel))
	if err != nil || len(els) == 0 {
		return "", fmt.Errorf("browser: export control %q not found: %v", sel.ExportLabel, err)
	}

	dctx, dcancel := context.WithTimeout(ctx, s.cfg.Timeouts.Download)
	defer dcancel()

	wait := s.browser.Context(dctx).WaitDownload(s.staging)
	if err := clickElement(els[0]); err != nil {
		return "", fmt.Errorf("browser: click export control: %w", err)
	}
	info := wait()
	if info == nil {
		return "", fmt.Errorf("browser: %w", retrieve.ErrDownloadTimeout)
	}

	name := info.SuggestedFilename
	if name == "" {
		name = "export.csv"
	}
	dest, err := horosafe.SafePath(destDir, name)
	if err != nil {
		return "", fmt.Errorf("browser: export filename: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("browser: export dir: %w", err)
	}
	if err := os.Rename(filepath.Join(s.staging, info.GUID), dest); err != nil {
		return "", fmt.Errorf("browser: save export: %w", err)
	}
	s.cfg.Logger.Info("browser: registry export saved", "path", dest)
	return dest, nil
}

// Close shuts down the page, the browser, and the launcher. Safe to
// call on a partially-opened session.
func (s *Session) Close() error {
	if s.page != nil {
		s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
	os.RemoveAll(s.staging)
	return nil
}

// settle waits for the DOM to stop mutating, bounded by d. Expiry is
// not an error: the caller proceeds to read whatever state is there and
// relies on verification to catch a half-rendered grid.
func (s *Session) settle(ctx context.Context, d time.Duration) {
	sctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	if err := s.page.Context(sctx).WaitDOMStable(300*time.Millisecond, 0); err != nil {
		s.cfg.Logger.Debug("browser: dom did not settle", "error", err)
	}
}
