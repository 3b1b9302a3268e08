package exporter

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fhr/internal/model"
	"fhr/internal/state"
)

func sampleIssues(t *testing.T) []model.Issue {
	t.Helper()
	day, err := time.ParseInLocation("2006-01-02", "2025-08-04", time.Local)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return []model.Issue{
		{
			Date:            day,
			Kind:            model.IssueForgetPunch,
			DurationMinutes: 0,
			Description:     "遲到30分鐘，建議使用忘刷卡 🔄✅",
			TimeRange:       "10:30~11:00",
			Calculation:     "實際上班: 11:00, 最晚上班: 10:30, 遲到: 30分鐘 (使用忘刷卡，本月剩餘: 1次)",
			IsNew:           true,
		},
		{
			Date:            day.AddDate(0, 0, 1),
			Kind:            model.IssueOvertime,
			DurationMinutes: 90,
			Description:     "加班1小時30分鐘 💼",
			IsNew:           false,
		},
	}
}

func TestWriteCSVBOMAndDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteCSV(path, sampleIssues(t), false, nil); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("csv must start with UTF-8 BOM")
	}

	r := csv.NewReader(bytes.NewReader(data[3:]))
	r.Comma = ';'
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("row count = %d, want header + 2", len(rows))
	}
	if len(rows[0]) != 6 {
		t.Errorf("header columns = %d, want 6 (no status column)", len(rows[0]))
	}
	if rows[1][1] != "忘刷卡" || rows[2][1] != "加班" {
		t.Errorf("type columns = %q, %q", rows[1][1], rows[2][1])
	}
}

func TestWriteCSVIncrementalStatusColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteCSV(path, sampleIssues(t), true, nil); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	data, _ := os.ReadFile(path)
	r := csv.NewReader(bytes.NewReader(data[3:]))
	r.Comma = ';'
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows[0]) != 7 || rows[0][6] != "狀態" {
		t.Fatalf("header = %v, want trailing 狀態 column", rows[0])
	}
	if rows[1][6] != "[NEW] 本次新發現" {
		t.Errorf("new marker = %q", rows[1][6])
	}
	if rows[2][6] != "已存在" {
		t.Errorf("existing marker = %q", rows[2][6])
	}
}

func TestWriteCSVStatusRowWhenNoIssues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	status := &state.StatusSummary{
		LastDate:         "2025-08-29",
		CompleteDays:     20,
		LastAnalysisTime: "2025-09-01T10:00:00+08:00",
	}
	if err := WriteCSV(path, nil, true, status); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	data, _ := os.ReadFile(path)
	r := csv.NewReader(bytes.NewReader(data[3:]))
	r.Comma = ';'
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("row count = %d, want header + status row", len(rows))
	}
	if rows[1][1] != "狀態資訊" {
		t.Errorf("status row type = %q", rows[1][1])
	}
	if !strings.Contains(rows[1][3], "2025-08-29") || !strings.Contains(rows[1][3], "20 個完整工作日") {
		t.Errorf("status description = %q", rows[1][3])
	}
}

func TestSanitizeStem(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"202508-Alice-data.txt", "202508-Alice-data"},
		{"../../evil.txt", "evil"},
		{"", "analysis"},
		{"noext", "noext"},
	}
	for _, c := range cases {
		if got := SanitizeStem(c.in); got != c.want {
			t.Errorf("SanitizeStem(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalPathFallsBackToCSV(t *testing.T) {
	dir := t.TempDir()

	// 没有任何档案时返回偏好格式
	path := CanonicalPath(dir, "202508-Alice-data.txt", FormatExcel)
	if filepath.Ext(path) != ".xlsx" {
		t.Errorf("path = %s, want .xlsx", path)
	}

	// 仅存在 CSV 回退档时返回 CSV 路径
	csvPath := filepath.Join(dir, "202508-Alice-data_analysis.csv")
	if err := os.WriteFile(csvPath, []byte("x"), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if got := CanonicalPath(dir, "202508-Alice-data.txt", FormatExcel); got != csvPath {
		t.Errorf("path = %s, want csv fallback %s", got, csvPath)
	}

	// xlsx 一旦存在则优先
	xlsxPath := filepath.Join(dir, "202508-Alice-data_analysis.xlsx")
	if err := os.WriteFile(xlsxPath, []byte("x"), 0644); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	if got := CanonicalPath(dir, "202508-Alice-data.txt", FormatExcel); got != xlsxPath {
		t.Errorf("path = %s, want %s", got, xlsxPath)
	}
}

func TestBackupWithTimestamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report_analysis.csv")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	backup, err := BackupWithTimestamp(path)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if backup == "" {
		t.Fatal("expected backup path")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original should be renamed away")
	}
	base := filepath.Base(backup)
	if !strings.HasPrefix(base, "report_analysis_") || !strings.HasSuffix(base, ".csv") {
		t.Errorf("backup name = %s", base)
	}

	// 档案不存在时为 no-op
	missing, err := BackupWithTimestamp(filepath.Join(dir, "nope.csv"))
	if err != nil || missing != "" {
		t.Errorf("missing backup = (%q, %v), want empty no-op", missing, err)
	}
}

func TestExportMergeOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report_analysis.csv")

	for i := 0; i < 2; i++ {
		result, err := Export(path, FormatCSV, PolicyMerge, sampleIssues(t), false, nil)
		if err != nil {
			t.Fatalf("export %d: %v", i, err)
		}
		if result.BackupPath != "" {
			t.Errorf("merge export created backup %s", result.BackupPath)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("file count = %d, want 1 (overwritten in place)", len(entries))
	}
}

func TestExportArchiveCreatesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report_analysis.csv")

	if _, err := Export(path, FormatCSV, PolicyArchive, sampleIssues(t), false, nil); err != nil {
		t.Fatalf("first export: %v", err)
	}
	result, err := Export(path, FormatCSV, PolicyArchive, sampleIssues(t), false, nil)
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if result.BackupPath == "" {
		t.Fatal("archive export should back up existing canonical")
	}
	if _, err := os.Stat(result.BackupPath); err != nil {
		t.Errorf("backup missing: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("canonical missing: %v", err)
	}
}

func TestExportExcelRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report_analysis.xlsx")

	result, err := Export(path, FormatExcel, PolicyMerge, sampleIssues(t), false, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.FallbackApplied() {
		t.Fatal("excel export should not fall back on a writable path")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("xlsx missing: %v", err)
	}
}
