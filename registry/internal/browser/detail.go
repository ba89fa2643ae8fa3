package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/moisson/registry/internal/retrieve"
)

// DetailPage drives the attachment list of the currently-open detail
// view. It implements the capability surface the retrieve phase
// expects.
type DetailPage struct {
	s *Session
}

// Attachments counts the download controls whose visible text equals
// label.
func (d *DetailPage) Attachments(ctx context.Context, label string) (int, error) {
	els, err := d.controls(ctx, label)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// Fetch clicks the index-th labelled control and waits for the download
// to finish in the staging area. The controls are re-queried on every
// call: clicking can re-render the list, so stale handles are never
// reused.
func (d *DetailPage) Fetch(ctx context.Context, label string, index int) (*retrieve.File, error) {
	els, err := d.controls(ctx, label)
	if err != nil {
		return nil, err
	}
	if index >= len(els) {
		return nil, fmt.Errorf("browser: attachment %d of %d", index, len(els))
	}

	dctx, cancel := context.WithTimeout(ctx, d.s.cfg.Timeouts.Download)
	defer cancel()

	wait := d.s.browser.Context(dctx).WaitDownload(d.s.staging)
	if err := clickElement(els[index]); err != nil {
		return nil, fmt.Errorf("browser: click attachment %d: %w", index, err)
	}
	info := wait()
	if info == nil {
		return nil, retrieve.ErrDownloadTimeout
	}

	return &retrieve.File{
		Path:          filepath.Join(d.s.staging, info.GUID),
		SuggestedName: info.SuggestedFilename,
	}, nil
}

func (d *DetailPage) controls(ctx context.Context, label string) (rod.Elements, error) {
	dctx, cancel := context.WithTimeout(ctx, d.s.cfg.Timeouts.Detail)
	defer cancel()

	els, err := d.s.page.Context(dctx).ElementsX(labelXPath(label))
	if err != nil {
		return nil, fmt.Errorf("browser: find %q controls: %w", label, err)
	}
	return els, nil
}

// labelXPath matches any element whose normalised text equals label.
// Single quotes in the label are not supported; the registry's control
// labels never carry them.
func labelXPath(label string) string {
	return fmt.Sprintf("//*[normalize-space(text())='%s']", strings.ReplaceAll(label, "'", ""))
}
