// Package pdfcheck verifies that downloaded audit reports are readable
// PDF documents. The registry UI labels its attachment controls but gives
// no guarantee about what actually comes down the wire, so every saved
// file is checked after the download completes. A failed check is
// advisory: the file stays on disk and in the manifest, the run log just
// flags it.
package pdfcheck

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var pdfMagic = []byte("%PDF-")

// Result describes a validated PDF.
type Result struct {
	Pages int
	Bytes int64
}

// LooksLikePDF reports whether the file starts with the PDF magic bytes.
// Cheap pre-check before full validation.
func LooksLikePDF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(pdfMagic))
	if _, err := f.Read(head); err != nil {
		return false
	}
	return bytes.Equal(head, pdfMagic)
}

// Validate runs pdfcpu's relaxed validation on the file and returns its
// page count and size. Returns an error if the file is not a
// structurally sound PDF.
func Validate(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("pdfcheck: stat: %w", err)
	}

	if !LooksLikePDF(path) {
		return nil, fmt.Errorf("pdfcheck: %s: missing PDF header", path)
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ValidateFile(path, conf); err != nil {
		return nil, fmt.Errorf("pdfcheck: validate: %w", err)
	}

	pages, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("pdfcheck: page count: %w", err)
	}

	return &Result{Pages: pages, Bytes: info.Size()}, nil
}
