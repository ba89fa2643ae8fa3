package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hazyhaar/moisson/idgen"
	"github.com/hazyhaar/moisson/pdfcheck"
	"github.com/hazyhaar/moisson/registry/internal/browser"
	"github.com/hazyhaar/moisson/registry/internal/export"
	"github.com/hazyhaar/moisson/registry/internal/ledger"
	"github.com/hazyhaar/moisson/registry/internal/locate"
	"github.com/hazyhaar/moisson/registry/internal/manifest"
	"github.com/hazyhaar/moisson/registry/internal/retrieve"
	"github.com/hazyhaar/moisson/registry/internal/snapshot"
)

// ManifestName is the CSV manifest filename inside the download dir.
const ManifestName = "download_log.csv"

// Service runs retrieval runs against one configured registry.
type Service struct {
	cfg      *Config
	log      *slog.Logger
	store    *ledger.Store
	capturer *snapshot.Capturer
	pdfCheck bool
	open     func(ctx context.Context) (Session, error)
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger. Default: slog.Default().
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithIDGenerator overrides ledger id generation, for deterministic
// tests.
func WithIDGenerator(gen idgen.Generator) ServiceOption {
	return func(s *Service) { s.store.SetGenerator(gen) }
}

// WithoutPDFCheck disables post-download PDF validation.
func WithoutPDFCheck() ServiceOption {
	return func(s *Service) { s.pdfCheck = false }
}

// WithSessionOpener substitutes the browser session factory. Tests use
// it to run the full orchestration against fakes.
func WithSessionOpener(open func(ctx context.Context) (Session, error)) ServiceOption {
	return func(s *Service) { s.open = open }
}

// Open builds a Service, opening (or creating) the run ledger at
// cfg.LedgerPath. Close releases it.
func Open(cfg *Config, opts ...ServiceOption) (*Service, error) {
	cfg.defaults()
	store, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	s, err := newService(cfg, store, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

func newService(cfg *Config, store *ledger.Store, opts ...ServiceOption) (*Service, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		log:      slog.Default(),
		store:    store,
		capturer: snapshot.NewCapturer(),
		pdfCheck: true,
	}
	s.open = s.openBrowser
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the ledger.
func (s *Service) Close() error { return s.store.Close() }

// PruneRuns trims run history to the newest keep runs and returns how
// many were removed.
func (s *Service) PruneRuns(ctx context.Context, keep int) (int, error) {
	return s.store.PruneRuns(ctx, keep)
}

// Run executes a full run: fetch the registry export, build the target
// list for the configured date range, and process every record. The
// returned report is non-nil whenever a run was started, even when the
// run aborted.
func (s *Service) Run(ctx context.Context) (*RunReport, error) {
	rng, err := s.cfg.DateRange()
	if err != nil {
		return nil, err
	}

	sess, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionOpen, err)
	}
	defer sess.Close()

	exportPath, records, err := s.fetchExport(ctx, sess)
	if err != nil {
		return nil, err
	}
	targets := export.Filter(records, rng, s.log)

	report, err := s.RunRecords(ctx, sess, targets)
	if report != nil {
		report.ExportPath = exportPath
	}
	return report, err
}

// Export fetches and parses the registry export without processing any
// records. Used by the export-only mode.
func (s *Service) Export(ctx context.Context) (string, []TargetRecord, error) {
	sess, err := s.open(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrSessionOpen, err)
	}
	defer sess.Close()
	return s.fetchExport(ctx, sess)
}

func (s *Service) fetchExport(ctx context.Context, sess Session) (string, []TargetRecord, error) {
	// The export control lives on the listing page, so load it first.
	if err := sess.Grid().Navigate(ctx); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := sess.Grid().WaitReady(ctx); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	path, err := sess.DownloadExport(ctx, s.cfg.DownloadDir)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrExport, err)
	}
	records, err := export.ParseFile(path, s.log)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrExport, err)
	}
	return path, records, nil
}

// RunRecords processes an already-built target list. Each record is
// isolated: any failure, including a panic in the browser driver, is
// recorded and the loop moves on. The manifest and the ledger run row
// are finalised even when the loop aborts early.
func (s *Service) RunRecords(ctx context.Context, sess Session, records []TargetRecord) (report *RunReport, err error) {
	runID, err := s.store.BeginRun(ctx, s.cfg.From, s.cfg.To)
	if err != nil {
		return nil, fmt.Errorf("registry: begin run: %w", err)
	}
	log := s.log.With("run_id", runID)
	log.Info("registry: run started", "records", len(records))

	var m manifest.Manifest
	report = &RunReport{
		RunID:        runID,
		Status:       RunCompleted,
		Total:        len(records),
		ManifestPath: filepath.Join(s.cfg.DownloadDir, ManifestName),
	}

	defer func() {
		if werr := manifest.Write(&m, report.ManifestPath); werr != nil {
			log.Error("registry: manifest flush failed", "error", werr)
			if err == nil {
				err = werr
			}
		}
		// Finalise the run row even when ctx is already cancelled.
		fctx := context.WithoutCancel(ctx)
		if ferr := s.store.FinishRun(fctx, runID, report.Status,
			report.Total, report.Succeeded, report.FilesSaved); ferr != nil {
			log.Error("registry: finish run failed", "error", ferr)
		}
		log.Info("registry: run finished", "status", report.Status,
			"succeeded", report.Succeeded, "files", report.FilesSaved)
	}()

	for _, rec := range records {
		if ctx.Err() != nil {
			report.Status = RunAborted
			s.addEvent(ctx, runID, "", "run_aborted", ctx.Err().Error())
			break
		}

		out := s.processRecord(ctx, sess, runID, rec, &m)
		log.Info("registry: record processed",
			"record_id", rec.ID, "status", out.Status, "files", out.Files)
		report.Outcomes = append(report.Outcomes, out)
		report.FilesSaved += out.Files
		if out.Status == StatusCompleted {
			report.Succeeded++
		}

		detail := ""
		if out.Err != nil {
			detail = out.Err.Error()
		}
		s.addEvent(ctx, runID, rec.ID, out.Status, detail)
	}
	return report, nil
}

func (s *Service) processRecord(ctx context.Context, sess Session, runID string, rec TargetRecord, m *manifest.Manifest) (out RecordOutcome) {
	out = RecordOutcome{Record: rec}
	log := s.log.With("record_id", rec.ID)

	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusPanic
			out.Err = fmt.Errorf("registry: record panic: %v", r)
			log.Error("registry: record panicked", "panic", r)
		}
	}()

	_, err := locate.Locate(ctx, sess.Grid(), rec.ID, locate.Options{
		IDColumn:   s.cfg.IDColumn,
		MinColumns: s.cfg.MinColumns,
		Logger:     s.log,
	})
	if err != nil {
		out.Status = classify(err)
		out.Err = err
		log.Warn("registry: record skipped", "status", out.Status, "error", err)
		return out
	}

	s.capture(ctx, sess, runID, rec.ID)

	entries, err := retrieve.Retrieve(ctx, sess.Detail(), rec.ID,
		rec.LicenseStart.Format(dateLayout), retrieve.Options{
			Label:   s.cfg.Label,
			DestDir: s.cfg.DownloadDir,
			Logger:  s.log,
		})
	if err != nil {
		out.Status = StatusRetrieveError
		out.Err = err
		log.Warn("registry: record skipped", "status", out.Status, "error", err)
		return out
	}

	for _, e := range entries {
		m.Append(e)
		if aerr := s.store.AddEntry(ctx, runID, e); aerr != nil {
			log.Warn("registry: ledger entry failed", "error", aerr)
		}
		s.checkPDF(ctx, runID, rec.ID, e.Filename)
	}

	out.Status = StatusCompleted
	out.Files = len(entries)
	return out
}

// capture stores a best-effort evidence snapshot of the open detail
// view. Failures are logged, never fatal.
func (s *Service) capture(ctx context.Context, sess Session, runID, recordID string) {
	raw, err := sess.HTML(ctx)
	if err != nil {
		s.log.Debug("registry: snapshot skipped", "record_id", recordID, "error", err)
		return
	}
	ev := s.capturer.Capture(raw, s.cfg.RegistryURL)
	if ev.Markdown == "" {
		return
	}
	if err := s.store.AddSnapshot(ctx, runID, recordID, ev.Title, ev.Markdown); err != nil {
		s.log.Warn("registry: snapshot store failed", "record_id", recordID, "error", err)
	}
}

// checkPDF validates a saved file. Advisory: the file stays on disk and
// in the manifest either way, the run log and ledger just flag it.
func (s *Service) checkPDF(ctx context.Context, runID, recordID, filename string) {
	if !s.pdfCheck {
		return
	}
	path := filepath.Join(s.cfg.DownloadDir, filename)
	res, err := pdfcheck.Validate(path)
	if err != nil {
		s.log.Warn("registry: saved file failed pdf validation",
			"record_id", recordID, "file", filename, "error", err)
		s.addEvent(ctx, runID, recordID, "pdf_suspect", filename+": "+err.Error())
		return
	}
	s.log.Debug("registry: pdf validated",
		"record_id", recordID, "file", filename, "pages", res.Pages, "bytes", res.Bytes)
}

func (s *Service) addEvent(ctx context.Context, runID, recordID, kind, detail string) {
	if err := s.store.AddEvent(context.WithoutCancel(ctx), runID, recordID, kind, detail); err != nil {
		s.log.Warn("registry: ledger event failed", "kind", kind, "error", err)
	}
}

// classify maps a locate failure to its outcome status.
func classify(err error) string {
	switch {
	case errors.Is(err, locate.ErrNoResults):
		return StatusNoResults
	case errors.Is(err, locate.ErrIDMismatch):
		return StatusIDMismatch
	case errors.Is(err, locate.ErrNavigationTimeout):
		return StatusNavFailed
	case errors.Is(err, locate.ErrSearchControlMissing):
		return StatusSearchMissing
	case errors.Is(err, locate.ErrGridNotReady), errors.Is(err, locate.ErrUnexpectedRowFormat):
		return StatusGridFailed
	default:
		return StatusGridFailed
	}
}

func (s *Service) openBrowser(ctx context.Context) (Session, error) {
	cfg := s.cfg.browserConfig()
	cfg.Logger = s.log
	bs, err := browser.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &browserSession{bs}, nil
}

// browserSession adapts the concrete browser session to the Session
// interface.
type browserSession struct {
	*browser.Session
}

func (b *browserSession) Grid() Grid     { return b.Session.Grid() }
func (b *browserSession) Detail() Detail { return b.Session.Detail() }
