// Package export turns the registry's CSV export into the run's target
// list: which records to process and for which license start date.
//
// The export format is hostile in small ways: a banner line above the
// header, display-formatted dates, stray whitespace, and occasional
// duplicate rows. Parse absorbs all of that so the rest of the pipeline
// only sees clean records.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// dateLayout is the display format the registry uses for dates.
const dateLayout = "02-Jan-2006"

// ErrNoHeader is returned when the export contains no recognisable
// header row.
var ErrNoHeader = errors.New("export: header row not found")

// Record is one certified grower as listed in the export.
type Record struct {
	ID           string
	LicenseStart time.Time
}

// Range is an inclusive date window on license start dates.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range, endpoints
// included. A zero From or To leaves that side unbounded.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Parse reads a registry export and returns its records in file order.
// Rows with a blank id or an unparseable date are logged and skipped;
// exact duplicates on (id, license start) keep only the first
// occurrence.
func Parse(r io.Reader, log *slog.Logger) ([]Record, error) {
	if log == nil {
		log = slog.Default()
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("export: read csv: %w", err)
	}

	idCol, dateCol, start, err := findHeader(rows)
	if err != nil {
		return nil, err
	}

	type key struct{ id, date string }
	seen := make(map[key]bool)
	var records []Record

	for i, row := range rows[start:] {
		if idCol >= len(row) || dateCol >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[idCol])
		raw := strings.TrimSpace(row[dateCol])
		if id == "" {
			continue
		}

		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			log.Warn("export: skipping row with bad date", "row", start+i+1, "id", id, "date", raw)
			continue
		}

		k := key{id, raw}
		if seen[k] {
			continue
		}
		seen[k] = true
		records = append(records, Record{ID: id, LicenseStart: t})
	}
	return records, nil
}

// ParseFile is Parse over a file on disk.
func ParseFile(path string, log *slog.Logger) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("export: open: %w", err)
	}
	defer f.Close()
	return Parse(f, log)
}

// findHeader scans for the row carrying both required column names and
// returns their indexes plus the index of the first data row. The
// export ships a banner line above the header, so position is not
// trusted.
func findHeader(rows [][]string) (idCol, dateCol, start int, err error) {
	for i, row := range rows {
		idCol, dateCol = -1, -1
		for j, cell := range row {
			switch strings.TrimSpace(cell) {
			case "Prisma Trading Account ID":
				idCol = j
			case "License Start Date":
				dateCol = j
			}
		}
		if idCol >= 0 && dateCol >= 0 {
			return idCol, dateCol, i + 1, nil
		}
	}
	return 0, 0, 0, ErrNoHeader
}
