// Package export renders job records as spreadsheets for audit.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"cardmint/internal/logging"
	"cardmint/internal/queue"
	"cardmint/internal/stage"
)

const sheetName = "Jobs"

// JobLister is the subset of the store the exporter reads.
type JobLister interface {
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.ScanJob, error)
}

// Service produces XLSX workbooks of scan jobs.
type Service struct {
	store  JobLister
	logger *slog.Logger
	clock  func() time.Time
}

// NewService constructs an exporter over store.
func NewService(store JobLister, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logging.NewComponentLogger(logger, "export"),
		clock:  time.Now,
	}
}

var headers = []string{
	"Job ID",
	"Capture UID",
	"Session",
	"Status",
	"Created",
	"Updated",
	"Best Match",
	"Confidence",
	"Accepted Name",
	"Set",
	"Collector No",
	"Item UID",
	"CM Card ID",
	"Reconciliation",
	"Retries",
	"Error Code",
	"Error Message",
	"Front Image",
}

// JobsXLSX returns a workbook listing jobs in the given statuses, or every job
// when none are given.
func (s *Service) JobsXLSX(ctx context.Context, statuses ...queue.Status) ([]byte, int, error) {
	start := s.clock()
	jobs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, 0, fmt.Errorf("xlsx sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheetName, "A1", last, style)
	}

	for i, job := range jobs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		best, hasBest := stage.BestCandidate(job.Top3)

		write(1, job.ID)
		write(2, job.CaptureUID)
		write(3, job.SessionID)
		write(4, string(job.Status))
		write(5, formatTime(job.CreatedAt))
		write(6, formatTime(job.UpdatedAt))
		if hasBest {
			write(7, best.Name)
			write(8, best.Confidence)
		}
		write(9, job.Accepted.Name)
		write(10, job.Accepted.SetName)
		write(11, job.Accepted.CollectorNo)
		write(12, job.ItemUID)
		write(13, job.CMCardID)
		write(14, job.ReconciliationStatus)
		write(15, job.RetryCount)
		write(16, job.ErrorCode)
		write(17, truncate(job.ErrorMessage, 200))
		write(18, job.FrontImagePath())
	}

	_ = f.SetColWidth(sheetName, "A", "B", 38)
	_ = f.SetColWidth(sheetName, "C", "D", 18)
	_ = f.SetColWidth(sheetName, "E", "F", 22)
	_ = f.SetColWidth(sheetName, "G", "G", 28)
	_ = f.SetColWidth(sheetName, "Q", "R", 48)
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("jobs exported",
		logging.Int("rows", len(jobs)),
		logging.Int64("elapsed_ms", s.clock().Sub(start).Milliseconds()),
		logging.String(logging.FieldEventType, "jobs_exported"),
	)
	return buf.Bytes(), len(jobs), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
