// Package retrieve drives the attachment phase for one opened record:
// enumerate the labelled download controls in the detail view, fetch
// each one, and persist it under a deterministic name.
//
// Like locate, all DOM knowledge lives behind an interface; this package
// owns only the sequencing, the naming scheme, and the per-attachment
// isolation rules.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/moisson/horosafe"
	"github.com/hazyhaar/moisson/registry/internal/manifest"
)

var (
	// ErrDownloadTimeout is returned by Detail implementations when a
	// triggered download never begins within the configured window.
	ErrDownloadTimeout = errors.New("retrieve: download did not begin in time")
	// ErrDownloadSave wraps filesystem failures while moving a completed
	// download into place.
	ErrDownloadSave = errors.New("retrieve: save downloaded file")
	// ErrEnumerate is returned when the detail view cannot be read at all.
	ErrEnumerate = errors.New("retrieve: enumerate attachments")
)

// Detail is the capability surface over an opened record's detail view.
type Detail interface {
	// Attachments returns how many download controls carry the given label.
	Attachments(ctx context.Context, label string) (int, error)
	// Fetch triggers the index-th labelled control and waits for the
	// download to complete, returning where the payload landed.
	Fetch(ctx context.Context, label string, index int) (*File, error)
}

// File is a completed download sitting in the staging area.
type File struct {
	// Path is the staged location of the payload.
	Path string
	// SuggestedName is the filename the site proposed, if any. Only its
	// extension is trusted.
	SuggestedName string
}

// Options tunes the attachment phase.
type Options struct {
	// Label selects which download controls to fetch. Default: "Audit Report".
	Label string
	// DestDir is where named files are placed.
	DestDir string
	Logger  *slog.Logger
}

func (o *Options) defaults() {
	if o.Label == "" {
		o.Label = "Audit Report"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Retrieve fetches every labelled attachment of the currently-open
// record and returns one manifest entry per file that was durably
// saved. Zero attachments is a legitimate outcome, not an error. A
// single failed attachment is logged and skipped; the rest of the
// record's attachments are still fetched.
func Retrieve(ctx context.Context, d Detail, id, licenseStart string, opts Options) ([]manifest.Entry, error) {
	opts.defaults()
	log := opts.Logger.With("record_id", id)

	n, err := d.Attachments(ctx, opts.Label)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumerate, err)
	}
	if n == 0 {
		log.Info("retrieve: record has no attachments", "label", opts.Label)
		return nil, nil
	}

	var entries []manifest.Entry
	for j := 0; j < n; j++ {
		f, err := d.Fetch(ctx, opts.Label, j)
		if err != nil {
			log.Warn("retrieve: attachment failed", "index", j+1, "error", err)
			continue
		}

		name := fmt.Sprintf("%s_%s_audit_%d%s", id, licenseStart, j+1, extOf(f.SuggestedName))
		dest, err := horosafe.SafePath(opts.DestDir, name)
		if err != nil {
			log.Warn("retrieve: unsafe filename", "index", j+1, "name", name, "error", err)
			continue
		}
		if err := place(f.Path, dest); err != nil {
			log.Warn("retrieve: save failed", "index", j+1, "error", fmt.Errorf("%w: %v", ErrDownloadSave, err))
			continue
		}

		entries = append(entries, manifest.Entry{
			RecordID:     id,
			LicenseStart: licenseStart,
			FileType:     opts.Label,
			Filename:     name,
		})
		log.Debug("retrieve: attachment saved", "index", j+1, "file", name)
	}
	return entries, nil
}

// extOf returns the extension to use for a download, trusting only the
// extension portion of the site's suggested name. Default is .pdf.
func extOf(suggested string) string {
	if ext := strings.ToLower(filepath.Ext(suggested)); ext != "" {
		return ext
	}
	return ".pdf"
}

// place moves a staged download to its final path. Rename is atomic on
// the same filesystem; the staging dir lives under the destination root
// so the fallback copy path is rarely taken.
func place(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	os.Remove(src)
	return nil
}
