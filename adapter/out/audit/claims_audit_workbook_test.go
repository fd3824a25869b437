package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"claims_server/core/domain"
	"claims_server/core/port/out"
)

func TestWorkbookLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.xlsx")

	w, err := NewWorkbookLog(path)
	if err != nil {
		t.Fatal(err)
	}

	first := uuid.New()
	entries := []out.AuditEntry{
		{JobID: first, State: domain.JobSubmitted, OverallConfidence: 0.93, SubmissionRef: "EXT-1", Reason: "confidence 0.93 >= 0.90"},
		{JobID: uuid.New(), State: domain.JobException, OverallConfidence: 0.41, ConflictCount: 2, Reason: "confidence 0.41 < 0.75"},
	}
	for _, e := range entries {
		if err := w.Record(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 entries", len(rows))
	}
	if rows[0][1] != "Job ID" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != first.String() {
		t.Errorf("first entry job id = %q, want %s", rows[1][1], first)
	}
	if rows[2][2] != string(domain.JobException) {
		t.Errorf("second entry state = %q", rows[2][2])
	}
}

func TestWorkbookLogReopensExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.xlsx")

	w, err := NewWorkbookLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Record(context.Background(), out.AuditEntry{JobID: uuid.New(), State: domain.JobSubmitted}); err != nil {
		t.Fatal(err)
	}

	// A new instance over the same file keeps appending, not recreating.
	w2, err := NewWorkbookLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w2.Record(context.Background(), out.AuditEntry{JobID: uuid.New(), State: domain.JobRejected}); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, _ := f.GetRows(sheetName)
	if len(rows) != 3 {
		t.Errorf("rows = %d, want header + 2 entries across reopen", len(rows))
	}
}
