package exporter

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"fhr/internal/model"
	"fhr/internal/state"
)

const sheetName = "考勤分析"

// WriteExcel 汇出 Excel 报表，栏位与 CSV 报表一致
func WriteExcel(path string, issues []model.Issue, incremental bool, status *state.StatusSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	headers := make([]interface{}, 0, len(csvHeaders)+1)
	for _, h := range csvHeaders {
		headers = append(headers, h)
	}
	if incremental {
		headers = append(headers, "狀態")
	}
	if err := f.SetSheetRow(sheetName, "A1", &headers); err != nil {
		return err
	}

	row := 2
	if incremental && len(issues) == 0 && status != nil {
		cells := toCells(statusRow(status))
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", row), &cells); err != nil {
			return err
		}
		row++
	}

	for _, issue := range issues {
		cells := toCells(issueRow(issue, incremental))
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", row), &cells); err != nil {
			return err
		}
		row++
	}

	return f.SaveAs(path)
}

func toCells(row []string) []interface{} {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}
