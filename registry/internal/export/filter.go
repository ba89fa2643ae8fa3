package export

import "log/slog"

// Filter returns the records whose license start date falls inside the
// range, preserving export order. Order matters: the manifest and the
// run report should read in the same sequence as the registry listing.
func Filter(records []Record, r Range, log *slog.Logger) []Record {
	if log == nil {
		log = slog.Default()
	}

	var out []Record
	for _, rec := range records {
		if r.Contains(rec.LicenseStart) {
			out = append(out, rec)
		}
	}
	log.Info("export: filtered target list",
		"total", len(records), "selected", len(out))
	return out
}
