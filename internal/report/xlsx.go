package report

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const sheetName = "domains"

var header = []interface{}{
	"run", "domain", "address", "reason", "error", "started", "finished",
	"fetches", "failures", "oversized", "truncated lines", "discovered",
	"robots rules", "bytes", "new bytes",
}

// Spreadsheet buffers summaries in memory and writes the workbook on Close.
type Spreadsheet struct {
	path string
	rows []DomainSummary
}

func NewSpreadsheet(path string) *Spreadsheet {
	return &Spreadsheet{path: path}
}

func (s *Spreadsheet) Record(_ context.Context, d DomainSummary) error {
	s.rows = append(s.rows, d)
	return nil
}

func (s *Spreadsheet) Close() error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("xlsx %s: %w", s.path, err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("xlsx %s: %w", s.path, err)
	}

	for i, d := range s.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			d.RunID, d.Domain, d.Address, d.Reason, d.Error,
			formatTime(d.Started), formatTime(d.Finished),
			d.Fetches, d.Failures, d.Oversized, d.TruncatedLines, d.Discovered,
			d.RobotsRules, d.Bytes, d.NewBytes,
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("xlsx %s: row %d: %w", s.path, i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("xlsx %s: %w", s.path, err)
	}

	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("xlsx %s: %w", s.path, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
