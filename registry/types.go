// Package registry retrieves published audit reports from a certificate
// registry's web UI. It downloads the registry's CSV export to build a
// target list, then walks each record through a locate → verify →
// retrieve sequence in a real browser, saving attachments under
// deterministic names and keeping a CSV manifest plus a SQLite run
// ledger.
package registry

import (
	"context"

	"github.com/hazyhaar/moisson/registry/internal/export"
	"github.com/hazyhaar/moisson/registry/internal/locate"
	"github.com/hazyhaar/moisson/registry/internal/manifest"
	"github.com/hazyhaar/moisson/registry/internal/retrieve"
)

// TargetRecord is one record the run must process.
type TargetRecord = export.Record

// DateRange is an inclusive window on license start dates.
type DateRange = export.Range

// ManifestEntry is one confirmed file save.
type ManifestEntry = manifest.Entry

// Grid is the result-grid capability surface.
type Grid = locate.Grid

// Detail is the detail-view capability surface.
type Detail = retrieve.Detail

// File is a completed download in the staging area.
type File = retrieve.File

// Session is one browser connection processing records sequentially.
// The production implementation lives in internal/browser; tests
// substitute fakes.
type Session interface {
	Grid() Grid
	Detail() Detail
	// HTML serialises the current page for evidence snapshots.
	HTML(ctx context.Context) (string, error)
	// DownloadExport saves the registry's CSV export under destDir.
	DownloadExport(ctx context.Context, destDir string) (string, error)
	Close() error
}

// Per-record outcome statuses.
const (
	StatusCompleted     = "completed"      // all attachments saved (possibly zero)
	StatusNoResults     = "no_results"     // search returned nothing
	StatusIDMismatch    = "id_mismatch"    // first result was another record
	StatusGridFailed    = "grid_failed"    // grid never rendered or row unusable
	StatusNavFailed     = "nav_failed"     // page never loaded
	StatusSearchMissing = "search_missing" // search control not found
	StatusRetrieveError = "retrieve_error" // detail view unreadable
	StatusPanic         = "panic"          // driver bug, isolated to the record
)

// Run-level statuses.
const (
	RunCompleted = "completed" // every record was attempted
	RunAborted   = "aborted"   // cancelled or session lost mid-run
)

// RecordOutcome is what happened to one record.
type RecordOutcome struct {
	Record TargetRecord
	Status string
	Files  int
	Err    error
}

// RunReport summarises a finished run.
type RunReport struct {
	RunID        string
	Status       string
	Total        int
	Succeeded    int
	FilesSaved   int
	Outcomes     []RecordOutcome
	ExportPath   string
	ManifestPath string
}
