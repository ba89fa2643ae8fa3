package registry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/moisson/dbopen"
	"github.com/hazyhaar/moisson/registry/internal/ledger"
)

const testExportCSV = `Certificate Registry - Certified Growers,,,
Grower Name,Country,Prisma Trading Account ID,License Start Date
Finca Azul,Colombia,PRSM-100,15-Mar-2024
Rio Verde,Brazil,PRSM-200,01-Apr-2024
Monte Alto,Peru,PRSM-300,10-May-2024
Old Grove,Chile,PRSM-400,10-May-2023
`

// fakeSession scripts the registry UI per record id.
type fakeSession struct {
	t       *testing.T
	staging string

	noResults   map[string]bool
	mismatch    map[string]string // id -> visible id in the grid
	attachments map[string]int
	fetchFail   map[string]bool
	panicOn     string
	cancelAfter int // cancel run ctx after this many searches (0 = never)
	cancel      context.CancelFunc

	current  string
	searched []string
	closed   bool
}

func newFakeSession(t *testing.T) *fakeSession {
	return &fakeSession{
		t:           t,
		staging:     t.TempDir(),
		noResults:   map[string]bool{},
		mismatch:    map[string]string{},
		attachments: map[string]int{},
		fetchFail:   map[string]bool{},
	}
}

func (f *fakeSession) Grid() Grid     { return &fakeSessGrid{f} }
func (f *fakeSession) Detail() Detail { return &fakeSessDetail{f} }

func (f *fakeSession) HTML(ctx context.Context) (string, error) {
	return "<html><head><title>" + f.current + "</title></head><body>detail of " + f.current + "</body></html>", nil
}

func (f *fakeSession) DownloadExport(ctx context.Context, destDir string) (string, error) {
	path := filepath.Join(destDir, "export.csv")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(testExportCSV), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeSessGrid struct{ f *fakeSession }

func (g *fakeSessGrid) Navigate(ctx context.Context) error  { return nil }
func (g *fakeSessGrid) WaitReady(ctx context.Context) error { return nil }
func (g *fakeSessGrid) Search(ctx context.Context, q string) error {
	g.f.current = q
	g.f.searched = append(g.f.searched, q)
	if g.f.cancelAfter > 0 && len(g.f.searched) >= g.f.cancelAfter && g.f.cancel != nil {
		g.f.cancel()
	}
	return nil
}
func (g *fakeSessGrid) Rows(ctx context.Context) (int, error) {
	if g.f.noResults[g.f.current] {
		return 0, nil
	}
	return 1, nil
}
func (g *fakeSessGrid) CellCount(ctx context.Context, row int) (int, error) { return 6, nil }
func (g *fakeSessGrid) CellText(ctx context.Context, row, col int) (string, error) {
	if v, ok := g.f.mismatch[g.f.current]; ok {
		return v, nil
	}
	return g.f.current, nil
}
func (g *fakeSessGrid) OpenRow(ctx context.Context, row int) error {
	if g.f.panicOn == g.f.current {
		panic("selector went stale")
	}
	return nil
}

type fakeSessDetail struct{ f *fakeSession }

func (d *fakeSessDetail) Attachments(ctx context.Context, label string) (int, error) {
	return d.f.attachments[d.f.current], nil
}

func (d *fakeSessDetail) Fetch(ctx context.Context, label string, index int) (*File, error) {
	if d.f.fetchFail[d.f.current] {
		return nil, ErrDownloadTimeout
	}
	p := filepath.Join(d.f.staging, fmt.Sprintf("%s-%d", d.f.current, index))
	if err := os.WriteFile(p, []byte("%PDF-1.4 stub"), 0o644); err != nil {
		d.f.t.Fatal(err)
	}
	return &File{Path: p, SuggestedName: "report.pdf"}, nil
}

func newTestService(t *testing.T, fake *fakeSession, opts ...ServiceOption) (*Service, *ledger.Store) {
	t.Helper()
	store := ledger.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(ledger.Schema)))
	cfg := &Config{
		RegistryURL: "https://registry.invalid/certified-growers",
		DownloadDir: t.TempDir(),
		From:        "2024-01-01",
		To:          "2024-12-31",
	}
	opts = append([]ServiceOption{
		WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))),
		WithoutPDFCheck(),
		WithSessionOpener(func(ctx context.Context) (Session, error) { return fake, nil }),
	}, opts...)
	svc, err := newService(cfg, store, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func readManifest(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	return rows
}

func TestRun_EndToEnd(t *testing.T) {
	// WHAT: Export → filter → per-record retrieval, with the manifest,
	// ledger, and report all agreeing on what was saved.
	// WHY: This is the contract of a full run.
	fake := newFakeSession(t)
	fake.attachments["PRSM-100"] = 2
	fake.attachments["PRSM-200"] = 0
	fake.noResults["PRSM-300"] = true

	svc, store := newTestService(t, fake)
	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// PRSM-400 (2023) is outside the range.
	if report.Total != 3 {
		t.Errorf("total = %d, want 3", report.Total)
	}
	// Zero attachments still counts as completed.
	if report.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", report.Succeeded)
	}
	if report.FilesSaved != 2 {
		t.Errorf("files = %d, want 2", report.FilesSaved)
	}
	if report.Status != RunCompleted {
		t.Errorf("status = %q", report.Status)
	}

	byID := map[string]RecordOutcome{}
	for _, o := range report.Outcomes {
		byID[o.Record.ID] = o
	}
	if byID["PRSM-100"].Status != StatusCompleted || byID["PRSM-100"].Files != 2 {
		t.Errorf("PRSM-100 = %+v", byID["PRSM-100"])
	}
	if byID["PRSM-200"].Status != StatusCompleted || byID["PRSM-200"].Files != 0 {
		t.Errorf("PRSM-200 = %+v", byID["PRSM-200"])
	}
	if byID["PRSM-300"].Status != StatusNoResults {
		t.Errorf("PRSM-300 = %+v", byID["PRSM-300"])
	}

	// Saved files carry the deterministic names.
	for _, name := range []string{
		"PRSM-100_2024-03-15_audit_1.pdf",
		"PRSM-100_2024-03-15_audit_2.pdf",
	} {
		if _, err := os.Stat(filepath.Join(svc.cfg.DownloadDir, name)); err != nil {
			t.Errorf("file %s: %v", name, err)
		}
	}

	rows := readManifest(t, report.ManifestPath)
	if len(rows) != 3 {
		t.Fatalf("manifest rows = %d, want header + 2", len(rows))
	}

	// Ledger mirrors the run.
	run, err := store.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != RunCompleted || run.FilesSaved != 2 || run.RecordsOK != 2 {
		t.Errorf("ledger run = %+v", run)
	}
	entries, err := store.RunEntries(context.Background(), report.RunID)
	if err != nil || len(entries) != 2 {
		t.Errorf("ledger entries = %v, %v", entries, err)
	}
	events, err := store.RunEvents(context.Background(), report.RunID)
	if err != nil || len(events) != 3 {
		t.Errorf("ledger events = %v, %v", events, err)
	}
	snaps, err := store.RunSnapshots(context.Background(), report.RunID)
	if err != nil || len(snaps) != 2 {
		// Snapshots only exist for records whose detail view opened.
		t.Errorf("ledger snapshots = %d, %v", len(snaps), err)
	}

	if !fake.closed {
		t.Error("session not closed")
	}
}

func TestRun_MismatchNeverDownloads(t *testing.T) {
	// WHAT: A grid showing another record's id yields id_mismatch and no
	// files, while the other records proceed.
	// WHY: Saving under the wrong id corrupts the audit trail silently.
	fake := newFakeSession(t)
	fake.mismatch["PRSM-100"] = "PRSM-999"
	fake.attachments["PRSM-100"] = 3 // must never be fetched
	fake.attachments["PRSM-200"] = 1

	svc, _ := newTestService(t, fake)
	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	byID := map[string]RecordOutcome{}
	for _, o := range report.Outcomes {
		byID[o.Record.ID] = o
	}
	if byID["PRSM-100"].Status != StatusIDMismatch {
		t.Errorf("PRSM-100 = %+v", byID["PRSM-100"])
	}
	if !errors.Is(byID["PRSM-100"].Err, ErrIDMismatch) {
		t.Errorf("err = %v", byID["PRSM-100"].Err)
	}
	if byID["PRSM-200"].Status != StatusCompleted || byID["PRSM-200"].Files != 1 {
		t.Errorf("PRSM-200 = %+v", byID["PRSM-200"])
	}
	if report.FilesSaved != 1 {
		t.Errorf("files = %d, want 1", report.FilesSaved)
	}
}

func TestRun_PanicIsolated(t *testing.T) {
	// WHAT: A panic in the browser driver marks that record and moves on.
	// WHY: One stale selector must not kill a multi-hour run.
	fake := newFakeSession(t)
	fake.panicOn = "PRSM-100"
	fake.attachments["PRSM-200"] = 1
	fake.attachments["PRSM-300"] = 1

	svc, _ := newTestService(t, fake)
	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	byID := map[string]RecordOutcome{}
	for _, o := range report.Outcomes {
		byID[o.Record.ID] = o
	}
	if byID["PRSM-100"].Status != StatusPanic {
		t.Errorf("PRSM-100 = %+v", byID["PRSM-100"])
	}
	if report.Succeeded != 2 || report.FilesSaved != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.Status != RunCompleted {
		t.Errorf("status = %q", report.Status)
	}
}

func TestRun_PartialDownloadFailure(t *testing.T) {
	fake := newFakeSession(t)
	fake.attachments["PRSM-100"] = 1
	fake.fetchFail["PRSM-100"] = true
	fake.attachments["PRSM-200"] = 1

	svc, _ := newTestService(t, fake)
	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	byID := map[string]RecordOutcome{}
	for _, o := range report.Outcomes {
		byID[o.Record.ID] = o
	}
	// Timed-out attachments are skipped inside the record, which still
	// completes with zero files.
	if byID["PRSM-100"].Status != StatusCompleted || byID["PRSM-100"].Files != 0 {
		t.Errorf("PRSM-100 = %+v", byID["PRSM-100"])
	}
	if report.FilesSaved != 1 {
		t.Errorf("files = %d, want 1", report.FilesSaved)
	}
}

func TestRun_CancellationFlushesManifest(t *testing.T) {
	// WHAT: Cancelling mid-run aborts the loop but still writes the
	// manifest and finalises the ledger row.
	// WHY: Work already done must survive an operator Ctrl-C.
	ctx, cancel := context.WithCancel(context.Background())
	fake := newFakeSession(t)
	fake.attachments["PRSM-100"] = 1
	fake.cancelAfter = 1
	fake.cancel = cancel

	svc, store := newTestService(t, fake)
	report, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Status != RunAborted {
		t.Errorf("status = %q, want aborted", report.Status)
	}
	if len(report.Outcomes) != 1 {
		t.Errorf("outcomes = %d, want 1 before abort", len(report.Outcomes))
	}

	rows := readManifest(t, report.ManifestPath)
	if len(rows) != 2 {
		t.Errorf("manifest rows = %d, want header + 1", len(rows))
	}

	run, err := store.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != RunAborted || run.FinishedAt.IsZero() {
		t.Errorf("ledger run = %+v", run)
	}
}

func TestExport_Only(t *testing.T) {
	fake := newFakeSession(t)
	svc, _ := newTestService(t, fake)

	path, records, err := svc.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export file: %v", err)
	}
	if len(records) != 4 {
		t.Errorf("records = %d, want 4 (unfiltered)", len(records))
	}
	if len(fake.searched) != 0 {
		t.Errorf("export-only mode searched records: %v", fake.searched)
	}
	if !fake.closed {
		t.Error("session not closed")
	}
}

func TestRun_SessionOpenFailure(t *testing.T) {
	store := ledger.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(ledger.Schema)))
	cfg := &Config{
		RegistryURL: "https://registry.invalid/certified-growers",
		DownloadDir: t.TempDir(),
	}
	svc, err := newService(cfg, store, WithSessionOpener(func(ctx context.Context) (Session, error) {
		return nil, errors.New("chrome not found")
	}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = svc.Run(context.Background())
	if !errors.Is(err, ErrSessionOpen) {
		t.Fatalf("error = %v, want ErrSessionOpen", err)
	}
	runs, _ := store.ListRuns(context.Background(), 10)
	if len(runs) != 0 {
		t.Errorf("runs = %d, none should have started", len(runs))
	}
}

func TestConfig_DateRange(t *testing.T) {
	cfg := &Config{From: "2024-01-01", To: "2023-01-01"}
	if _, err := cfg.DateRange(); err == nil {
		t.Error("inverted range accepted")
	}

	cfg = &Config{To: "2024-06-30"}
	r, err := cfg.DateRange()
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if !r.From.IsZero() {
		t.Error("empty from should be unbounded")
	}
	if !r.Contains(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("unbounded from should admit old dates")
	}
}
