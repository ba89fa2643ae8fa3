package manifest

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func readCSV(t *testing.T, path string) [][]string {
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

func TestWrite_Empty(t *testing.T) {
	// WHAT: An empty manifest still yields a file with the header row.
	// WHY: A header-only manifest distinguishes "ran, found nothing" from
	// "never ran".
	path := filepath.Join(t.TempDir(), "download_log.csv")
	var m Manifest
	if err := Write(&m, path); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want header only", len(rows))
	}
	if !reflect.DeepEqual(rows[0], Header) {
		t.Errorf("header = %v", rows[0])
	}
}

func TestWrite_PreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_log.csv")

	var m Manifest
	m.Append(Entry{RecordID: "PRSM-1", LicenseStart: "2024-03-01", FileType: "Audit Report", Filename: "PRSM-1_2024-03-01_audit_1.pdf"})
	m.Append(Entry{RecordID: "PRSM-1", LicenseStart: "2024-03-01", FileType: "Audit Report", Filename: "PRSM-1_2024-03-01_audit_2.pdf"})
	m.Append(Entry{RecordID: "PRSM-2", LicenseStart: "2024-05-10", FileType: "Audit Report", Filename: "PRSM-2_2024-05-10_audit_1.pdf"})

	if m.Len() != 3 {
		t.Fatalf("len = %d", m.Len())
	}
	if err := Write(&m, path); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if rows[2][3] != "PRSM-1_2024-03-01_audit_2.pdf" {
		t.Errorf("row 2 filename = %q", rows[2][3])
	}
	if rows[3][0] != "PRSM-2" {
		t.Errorf("row 3 id = %q", rows[3][0])
	}
}

func TestWrite_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "nested", "download_log.csv")
	var m Manifest
	m.Append(Entry{RecordID: "PRSM-9", LicenseStart: "2025-01-01", FileType: "Audit Report", Filename: "x.pdf"})
	if err := Write(&m, path); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestWrite_Overwrite(t *testing.T) {
	// WHAT: A rewrite replaces the previous manifest wholesale.
	// WHY: Flush-on-abort may run more than once for the same path.
	path := filepath.Join(t.TempDir(), "download_log.csv")

	var first Manifest
	first.Append(Entry{RecordID: "PRSM-1", LicenseStart: "2024-01-01", FileType: "Audit Report", Filename: "a.pdf"})
	first.Append(Entry{RecordID: "PRSM-2", LicenseStart: "2024-01-02", FileType: "Audit Report", Filename: "b.pdf"})
	if err := Write(&first, path); err != nil {
		t.Fatalf("first write: %v", err)
	}

	var second Manifest
	second.Append(Entry{RecordID: "PRSM-3", LicenseStart: "2024-01-03", FileType: "Audit Report", Filename: "c.pdf"})
	if err := Write(&second, path); err != nil {
		t.Fatalf("second write: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[1][0] != "PRSM-3" {
		t.Errorf("row 1 id = %q", rows[1][0])
	}
}
