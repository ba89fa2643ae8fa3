package registry

import (
	"errors"

	"github.com/hazyhaar/moisson/registry/internal/export"
	"github.com/hazyhaar/moisson/registry/internal/locate"
	"github.com/hazyhaar/moisson/registry/internal/retrieve"
)

// Fatal errors abort the run; everything else is isolated to the record
// that raised it.
var (
	// ErrSessionOpen means the browser session could not be established.
	ErrSessionOpen = errors.New("registry: open browser session")
	// ErrExport means the registry export could not be fetched or parsed.
	ErrExport = errors.New("registry: fetch registry export")
)

// Recoverable per-record failures, re-exported for callers that branch
// on outcome kind.
var (
	ErrNavigationTimeout    = locate.ErrNavigationTimeout
	ErrGridNotReady         = locate.ErrGridNotReady
	ErrSearchControlMissing = locate.ErrSearchControlMissing
	ErrNoResults            = locate.ErrNoResults
	ErrUnexpectedRowFormat  = locate.ErrUnexpectedRowFormat
	ErrIDMismatch           = locate.ErrIDMismatch
	ErrDownloadTimeout      = retrieve.ErrDownloadTimeout
	ErrNoHeader             = export.ErrNoHeader
)
