package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"jk-analytics/models"
)

const opportunitySheet = "Opportunities"

// XLSXWriter renders ranked opportunities into a spreadsheet, one row per
// candidate plus a sheet of discount scenarios. The file is written on Close.
type XLSXWriter struct {
	path string
	f    *excelize.File
	row  int
	scen int
}

func NewXLSXWriter(path string) (*XLSXWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("xlsx: create output dir: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", opportunitySheet); err != nil {
		return nil, fmt.Errorf("xlsx: rename sheet: %w", err)
	}
	if _, err := f.NewSheet("Scenarios"); err != nil {
		return nil, fmt.Errorf("xlsx: add sheet: %w", err)
	}

	w := &XLSXWriter{path: path, f: f, row: 1, scen: 1}
	if err := w.writeRow(opportunitySheet, &w.row, toAny(opportunityHeader)); err != nil {
		return nil, err
	}
	scenHeader := []any{"listing_id", "discount_pct", "price", "savings", "yield_pct", "price_vs_median_pct", "tier"}
	if err := w.writeRow("Scenarios", &w.scen, scenHeader); err != nil {
		return nil, err
	}
	_ = f.SetPanes(opportunitySheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return w, nil
}

func (w *XLSXWriter) Export(candidates []*models.OpportunityCandidate) error {
	for i, c := range candidates {
		if err := w.writeRow(opportunitySheet, &w.row, toAny(opportunityRow(i+1, c))); err != nil {
			return err
		}
		for _, s := range c.Scenarios {
			row := []any{
				c.Listing.ListingID,
				s.Discount * 100,
				s.Price,
				s.Savings,
				s.Yield * 100,
				s.PriceVsMedian * 100,
				s.Tier.String(),
			}
			if err := w.writeRow("Scenarios", &w.scen, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *XLSXWriter) writeRow(sheet string, row *int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, *row)
	if err != nil {
		return fmt.Errorf("xlsx: cell name: %w", err)
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("xlsx: write row %d: %w", *row, err)
	}
	*row++
	return nil
}

// Close saves the workbook to disk.
func (w *XLSXWriter) Close() error {
	if err := w.f.SaveAs(w.path); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("xlsx: save %s: %w", w.path, err)
	}
	return w.f.Close()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
