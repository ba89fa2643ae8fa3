// Package manifest accumulates the durable record of every successfully
// downloaded attachment and persists it as CSV at the end of a run.
//
// The accumulator is an explicit value owned by the run loop, never
// ambient state. An entry exists if and only if the corresponding file
// was durably saved; nothing is appended speculatively.
package manifest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// Header is the fixed column set of the manifest CSV.
var Header = []string{"Prisma ID", "License Start Date", "File Type", "Filename"}

// Entry records one confirmed file save.
type Entry struct {
	RecordID     string
	LicenseStart string // YYYY-MM-DD
	FileType     string
	Filename     string
}

// Manifest is the run-scoped ordered collection of entries.
type Manifest struct {
	entries []Entry
}

// Append adds an entry. Entries keep the order in which saves were
// confirmed.
func (m *Manifest) Append(e Entry) {
	m.entries = append(m.entries, e)
}

// Entries returns the accumulated entries in order.
func (m *Manifest) Entries() []Entry {
	return m.entries
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Write serialises the manifest to path as CSV. The file is written
// atomically (tmp + rename) so a crash mid-write never leaves a torn
// manifest behind. An empty manifest still produces the header row.
func Write(m *Manifest, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("manifest: mkdir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("manifest: create tmp: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("manifest: write header: %w", err)
	}
	for _, e := range m.entries {
		row := []string{e.RecordID, e.LicenseStart, e.FileType, e.Filename}
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("manifest: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("manifest: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("manifest: close tmp: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("manifest: rename: %w", err)
	}
	return nil
}
