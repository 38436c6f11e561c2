package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet    = "Summary"
	bucketsSheet    = "Buckets"
	categoriesSheet = "Categories"
)

// ExportXLSX renders a report as an XLSX workbook with one sheet each for the
// summary, the bucket series and the category breakdown.
func ExportXLSX(r Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("renaming sheet: %w", err)
	}
	for _, sheet := range []string{bucketsSheet, categoriesSheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("creating sheet %s: %w", sheet, err)
		}
	}

	trend := ""
	if r.TrendVsPriorPeriod.Valid {
		trend = r.TrendVsPriorPeriod.Decimal.StringFixed(2) + "%"
	}
	summary := [][]any{
		{"Report", string(r.Kind)},
		{"Period", string(r.Period)},
		{"From", r.From.Format("2006-01-02")},
		{"To", r.To.Format("2006-01-02")},
		{"Total", r.TotalForPeriod.InexactFloat64()},
		{"Average per bucket", r.AveragePerBucket.InexactFloat64()},
		{"Trend vs prior period", trend},
		{"Generated at", r.GeneratedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return nil, err
	}

	series := [][]any{{"Bucket", "Total"}}
	for i, label := range r.PeriodLabels {
		series = append(series, []any{label, r.SeriesTotals[i].InexactFloat64()})
	}
	if err := writeRows(f, bucketsSheet, series); err != nil {
		return nil, err
	}

	categories := [][]any{{"Category", "Amount", "Percentage"}}
	for _, c := range r.CategoryBreakdown {
		categories = append(categories, []any{c.Name, c.Amount.InexactFloat64(), c.PercentageOfTotal})
	}
	if err := writeRows(f, categoriesSheet, categories); err != nil {
		return nil, err
	}

	_ = f.SetColWidth(summarySheet, "A", "A", 24)
	_ = f.SetColWidth(summarySheet, "B", "B", 22)
	_ = f.SetColWidth(bucketsSheet, "A", "B", 14)
	_ = f.SetColWidth(categoriesSheet, "A", "A", 28)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
