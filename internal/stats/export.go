package stats

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"vetclinic/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Demand"

// LabelFunc resolves a service type to display text.
type LabelFunc func(models.ServiceType) string

// BuildWorkbook renders s into a single-sheet workbook. The caller closes it.
func BuildWorkbook(s DemandStats, label LabelFunc) (*excelize.File, error) {
	if label == nil {
		label = func(t models.ServiceType) string { return string(t) }
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	title := "Service demand"
	if !s.From.IsZero() || !s.To.IsZero() {
		title = fmt.Sprintf("Service demand: %s - %s",
			s.From.Format(models.DateLayout), s.To.Format(models.DateLayout))
	}
	_ = f.SetCellValue(sheetName, "A1", title)
	_ = f.MergeCell(sheetName, "A1", "C1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err := f.SetSheetRow(sheetName, "A2", &[]interface{}{"Service", "Bookings", "Share, %"}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error writing header: %w", err)
	}
	_ = f.SetCellStyle(sheetName, "A2", "C2", headerStyle)

	percentStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 2})
	row := 3
	for _, r := range s.Rows() {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &[]interface{}{label(r.Type), r.Count, r.Percentage}); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", row, err)
		}
		pct, _ := excelize.CoordinatesToCellName(3, row)
		_ = f.SetCellStyle(sheetName, pct, pct, percentStyle)
		row++
	}

	totalStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	totalCell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheetName, totalCell, &[]interface{}{"Total", s.Total})
	endCell, _ := excelize.CoordinatesToCellName(2, row)
	_ = f.SetCellStyle(sheetName, totalCell, endCell, totalStyle)

	row += 2
	mostCell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheetName, mostCell, &[]interface{}{"Most demanded", label(s.MostDemanded)})
	leastCell, _ := excelize.CoordinatesToCellName(1, row+1)
	_ = f.SetSheetRow(sheetName, leastCell, &[]interface{}{"Least demanded", label(s.LeastDemanded)})

	_ = f.SetColWidth(sheetName, "A", "A", 25)
	_ = f.SetColWidth(sheetName, "B", "C", 14)
	return f, nil
}

// WriteXLSX streams the workbook of s to w.
func WriteXLSX(w io.Writer, s DemandStats, label LabelFunc) error {
	f, err := BuildWorkbook(s, label)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveXLSX writes the workbook under dir and returns the file path.
func SaveXLSX(dir string, s DemandStats, label LabelFunc) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := BuildWorkbook(s, label)
	if err != nil {
		return "", err
	}
	defer f.Close()

	name := "demand.xlsx"
	if !s.From.IsZero() && !s.To.IsZero() {
		name = fmt.Sprintf("demand_%s_to_%s.xlsx", s.From.Format(models.DateLayout), s.To.Format(models.DateLayout))
	}
	path := filepath.Join(dir, name)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}
