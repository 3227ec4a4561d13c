// Package report renders a month's reading set as an xlsx workbook.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"copier-fleet-backend/internal/fleet"
	"copier-fleet-backend/internal/model"
)

const (
	SheetReadings = "Readings"
	SheetPending  = "Pending"
	SheetSummary  = "Summary"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var readingHeadings = []any{
	"Serial number", "Branch", "Mono reading", "Colour reading", "Scan reading",
	"Mono usage", "Colour usage", "Scan usage", "Note", "Captured by", "Captured at",
}

// Filename is the suggested download name for an overview.
func Filename(ov *fleet.Overview) string {
	if ov.Branch == "" {
		return fmt.Sprintf("readings-%s.xlsx", ov.Period)
	}
	return fmt.Sprintf("readings-%s-%s.xlsx", ov.Period, ov.Branch)
}

// Workbook builds the export for ov: the captured readings, the machines still pending and a
// summary of completion and lock state.
func Workbook(ov *fleet.Overview) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetReadings); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	if err := writeRow(f, SheetReadings, 1, readingHeadings); err != nil {
		return nil, err
	}
	for i, r := range ov.Readings {
		if err := writeRow(f, SheetReadings, i+2, readingRow(r)); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(SheetReadings, "A1", "K1", bold); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(SheetReadings, "A", "K", 16); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(SheetPending); err != nil {
		return nil, err
	}
	if err := writeRow(f, SheetPending, 1, []any{"Serial number", "Branch"}); err != nil {
		return nil, err
	}
	for i, m := range ov.Pending {
		if err := writeRow(f, SheetPending, i+2, []any{m.SerialNumber, m.Branch}); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(SheetPending, "A1", "B1", bold); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(SheetSummary); err != nil {
		return nil, err
	}
	scopeName := ov.Branch
	if scopeName == "" {
		scopeName = "All branches"
	}
	summary := [][]any{
		{"Period", ov.Period.String()},
		{"Branch", scopeName},
		{"Total machines", ov.Summary.TotalMachines},
		{"Captured", ov.Summary.CapturedCount},
		{"Pending", ov.Summary.PendingCount},
		{"Completion %", ov.Summary.CompletionPercent},
		{"Locked", ov.Lock.IsLocked},
	}
	if s := ov.Lock.Submission; s != nil && s.SubmittedAt != nil {
		summary = append(summary, []any{"Submitted by", s.SubmittedBy}, []any{"Submitted at", *s.SubmittedAt})
	}
	for i, row := range summary {
		if err := writeRow(f, SheetSummary, i+1, row); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(SheetSummary, "A", "B", 20); err != nil {
		return nil, err
	}
	return f, nil
}

// Write renders the workbook for ov to w.
func Write(w io.Writer, ov *fleet.Overview) error {
	f, err := Workbook(ov)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func readingRow(r model.Reading) []any {
	serial, branch := fmt.Sprint(r.MachineID), ""
	if r.Machine != nil {
		serial, branch = r.Machine.SerialNumber, r.Machine.Branch
	}
	return []any{
		serial, branch,
		cell(r.MonoReading), cell(r.ColourReading), cell(r.ScanReading),
		cell(r.MonoUsage), cell(r.ColourUsage), cell(r.ScanUsage),
		r.Note, r.CapturedBy, r.CapturedAt,
	}
}

// cell leaves absent counters blank rather than writing zero.
func cell(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, start, &values)
}
