// Package audit writes routing decisions to an append-only XLSX workbook so
// reviewers and finance can follow every claim without touching the database.
package audit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"claims_server/core/port/out"
	"claims_server/pkg/logger"
)

// =============================================================================
// Workbook Audit Log
// =============================================================================

const sheetName = "Decisions"

var headers = []string{
	"Recorded At",
	"Job ID",
	"State",
	"Overall Confidence",
	"Conflicts",
	"Review Flag",
	"Submission Ref",
	"Reason",
}

// WorkbookLog implements out.AuditLog on a single XLSX file. Appends are
// serialized with a mutex; the workbook is reopened per record so a crash
// can lose at most the row being written.
type WorkbookLog struct {
	path string
	mu   sync.Mutex
	log  *logger.Logger
}

// NewWorkbookLog creates the audit log at the given path, creating the
// workbook with its header row when absent.
func NewWorkbookLog(path string) (*WorkbookLog, error) {
	w := &WorkbookLog{
		path: path,
		log:  logger.Default().WithField("component", "audit_workbook"),
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := w.create(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *WorkbookLog) create() error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}
	if index, err := f.GetSheetIndex(sheetName); err == nil {
		f.SetActiveSheet(index)
	}
	f.DeleteSheet("Sheet1")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	return f.SaveAs(w.path)
}

// Record appends one decision row. Failures are returned for the caller to
// log; the pipeline never blocks on them.
func (w *WorkbookLog) Record(_ context.Context, entry out.AuditEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("open audit workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return fmt.Errorf("read audit sheet: %w", err)
	}
	row := len(rows) + 1

	values := []any{
		time.Now().UTC().Format(time.RFC3339),
		entry.JobID.String(),
		string(entry.State),
		entry.OverallConfidence,
		entry.ConflictCount,
		entry.ReviewFlag,
		entry.SubmissionRef,
		entry.Reason,
	}
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := f.SetCellValue(sheetName, cell, v); err != nil {
			return fmt.Errorf("write audit cell: %w", err)
		}
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("save audit workbook: %w", err)
	}
	return nil
}

// Ensure WorkbookLog implements out.AuditLog
var _ out.AuditLog = (*WorkbookLog)(nil)
