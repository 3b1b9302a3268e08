package exporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"fhr/internal/model"
	"fhr/internal/state"
)

// csvHeaders 报表栏位；增量模式多一栏状态
var csvHeaders = []string{"日期", "類型", "時長(分鐘)", "說明", "時段", "計算式"}

// WriteCSV 汇出 CSV 报表
// 使用 UTF-8 BOM 与分号分隔，确保 Mac Excel 正确显示；
// 增量模式且无新问题时写入一列状态摘要
func WriteCSV(path string, issues []model.Issue, incremental bool, status *state.StatusSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// UTF-8 BOM
	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Comma = ';'
	defer w.Flush()

	headers := csvHeaders
	if incremental {
		headers = append(append([]string{}, csvHeaders...), "狀態")
	}
	if err := w.Write(headers); err != nil {
		return err
	}

	if incremental && len(issues) == 0 && status != nil {
		if err := w.Write(statusRow(status)); err != nil {
			return err
		}
	}

	for _, issue := range issues {
		if err := w.Write(issueRow(issue, incremental)); err != nil {
			return err
		}
	}
	return w.Error()
}

func issueRow(issue model.Issue, incremental bool) []string {
	row := []string{
		issue.Date.Format("2006/01/02"),
		issue.Kind.Label(),
		strconv.Itoa(issue.DurationMinutes),
		issue.Description,
		issue.TimeRange,
		issue.Calculation,
	}
	if incremental {
		row = append(row, NewMarker(issue.IsNew))
	}
	return row
}

func statusRow(status *state.StatusSummary) []string {
	return []string{
		status.LastDate,
		"狀態資訊",
		"0",
		fmt.Sprintf("📊 增量分析完成，已處理至 %s，共 %d 個完整工作日 | 上次分析時間: %s",
			status.LastDate, status.CompleteDays, status.LastAnalysisTime),
		"",
		"上次處理範圍內無新問題需要申請",
		"系統狀態",
	}
}

// NewMarker 增量模式的状态标记
func NewMarker(isNew bool) string {
	if isNew {
		return "[NEW] 本次新發現"
	}
	return "已存在"
}
