package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fhr/internal/cleanup"
	"fhr/internal/config"
	"fhr/internal/exporter"
	"fhr/internal/state"
)

func punchLine(scheduled, actual, typ string) string {
	return strings.Join([]string{scheduled, actual, typ, "12345", "刷卡機", "正常", "否", "", ""}, "\t")
}

// writeSourceFile 产生 2025 年 8 月的出勤档：
// 8/04 迟到 30 分钟、8/05 准时、8/06 整天缺卡
func writeSourceFile(t *testing.T, dir string) string {
	t.Helper()
	content := strings.Join([]string{
		"排班時間\t實際時間\t班別\t卡號\t來源\t狀態\t已處理\t操作\t備註",
		punchLine("2025/08/04 08:30", "2025/08/04 11:00", "上班"),
		punchLine("2025/08/04 17:30", "2025/08/04 18:00", "下班"),
		punchLine("2025/08/05 08:30", "2025/08/05 09:00", "上班"),
		punchLine("2025/08/05 17:30", "2025/08/05 18:00", "下班"),
		punchLine("2025/08/06 08:30", "", "上班"),
		punchLine("2025/08/06 17:30", "", "下班"),
	}, "\n")
	path := filepath.Join(dir, "202508-Alice-data.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	cfg := config.DefaultConfig()
	repo := state.NewFileRepository(filepath.Join(t.TempDir(), "state.json"))
	t.Cleanup(func() { _ = repo.Close() })
	return NewAnalyzer(cfg, repo)
}

func csvOptions(source, outputDir string) Options {
	return Options{
		SourcePath: source,
		Mode:       state.ModeIncremental,
		Output:     exporter.FormatCSV,
		OutputDir:  outputDir,
	}
}

func TestRunFirstAnalysis(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	analyzer := newTestAnalyzer(t)

	var stages []string
	result, err := analyzer.Run(context.Background(), csvOptions(source, dir),
		func(stage string, step, total int) { stages = append(stages, stage) })
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.User != "Alice" || !result.StateTracked {
		t.Fatalf("result user = %q tracked = %v", result.User, result.StateTracked)
	}
	if result.EffectiveMode != state.ModeFull {
		t.Errorf("effective mode = %s, want full for first run", result.EffectiveMode)
	}
	if result.StartDate != "2025-08-01" || result.EndDate != "2025-08-31" {
		t.Errorf("range = %s ~ %s", result.StartDate, result.EndDate)
	}

	if len(result.Issues) != 2 {
		t.Fatalf("issues = %+v, want forget-punch + weekday leave", result.Issues)
	}
	if result.Totals.ForgetPunch != 1 || result.Totals.WeekdayLeave != 1 {
		t.Errorf("totals = %+v", result.Totals)
	}
	if !strings.Contains(result.ReportText, "考勤分析報告") {
		t.Error("missing report text")
	}

	if len(stages) != 4 || stages[0] != "parse" || stages[3] != "export" {
		t.Errorf("stages = %v", stages)
	}

	if result.OutputPath == "" {
		t.Fatal("expected canonical export")
	}
	if filepath.Base(result.OutputPath) != "202508-Alice-data_analysis.csv" {
		t.Errorf("output = %s", result.OutputPath)
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Errorf("canonical export missing: %v", err)
	}
}

func TestRunResubmissionReturnsStatus(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	analyzer := newTestAnalyzer(t)
	ctx := context.Background()

	if _, err := analyzer.Run(ctx, csvOptions(source, dir), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	result, err := analyzer.Run(ctx, csvOptions(source, dir), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if result.Status == nil {
		t.Fatal("expected status summary")
	}
	if result.Status.LastDate != "2025-08-06" || result.Status.CompleteDays != 3 {
		t.Errorf("status = %+v", result.Status)
	}
	if len(result.Issues) != 0 {
		t.Errorf("issues = %+v, want none", result.Issues)
	}

	// 报表降级为状态行
	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "狀態資訊") {
		t.Error("export should carry the status row")
	}
}

func TestRunFullModeMarksExistingIssues(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	analyzer := newTestAnalyzer(t)
	ctx := context.Background()

	if _, err := analyzer.Run(ctx, csvOptions(source, dir), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}

	opts := csvOptions(source, dir)
	opts.Mode = state.ModeFull
	result, err := analyzer.Run(ctx, opts, nil)
	if err != nil {
		t.Fatalf("full run: %v", err)
	}
	if len(result.Issues) != 2 {
		t.Fatalf("issues = %+v", result.Issues)
	}
	for _, issue := range result.Issues {
		if issue.IsNew {
			t.Errorf("issue %s should not be new on full re-run", issue.Kind)
		}
	}
	// 全量模式的预览不带状态标记
	for _, p := range result.IssuesPreview {
		if p.Status != "" {
			t.Errorf("preview status = %q, want empty in full mode", p.Status)
		}
	}
}

func TestRunResetStateStartsOver(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	analyzer := newTestAnalyzer(t)
	ctx := context.Background()

	if _, err := analyzer.Run(ctx, csvOptions(source, dir), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}

	opts := csvOptions(source, dir)
	opts.ResetState = true
	result, err := analyzer.Run(ctx, opts, nil)
	if err != nil {
		t.Fatalf("reset run: %v", err)
	}
	if !result.ResetApplied || !result.FirstTimeUser {
		t.Errorf("reset = %v first-time = %v", result.ResetApplied, result.FirstTimeUser)
	}
	if len(result.Issues) != 2 {
		t.Errorf("issues = %+v, want full reclassification", result.Issues)
	}
}

func TestRunNonConformingFilename(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	renamed := filepath.Join(dir, "attendance.txt")
	if err := os.Rename(source, renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}

	analyzer := newTestAnalyzer(t)
	result, err := analyzer.Run(context.Background(), csvOptions(renamed, dir), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.StateTracked {
		t.Error("non-conforming filename must not be tracked")
	}
	if result.EffectiveMode != state.ModeFull {
		t.Errorf("effective mode = %s, want full", result.EffectiveMode)
	}
	if len(result.Issues) != 2 {
		t.Errorf("issues = %+v", result.Issues)
	}
}

func TestRunCleanupRequiresPreview(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	analyzer := newTestAnalyzer(t)

	opts := csvOptions(source, dir)
	opts.CleanupExports = true
	if _, err := analyzer.Run(context.Background(), opts, nil); !errors.Is(err, ErrCleanupPreviewRequired) {
		t.Fatalf("err = %v, want ErrCleanupPreviewRequired", err)
	}
}

func TestRunCleanupTokenMismatch(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	analyzer := newTestAnalyzer(t)

	preview, err := analyzer.BuildCleanupPreview(dir, "202508-Alice-data.txt",
		exporter.FormatCSV, false, exporter.PolicyMerge)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	opts := csvOptions(source, dir)
	opts.CleanupExports = true
	opts.CleanupToken = "deadbeef"
	opts.CleanupSnapshot = &preview.Snapshot
	if _, err := analyzer.Run(context.Background(), opts, nil); !errors.Is(err, ErrCleanupTokenMismatch) {
		t.Fatalf("err = %v, want ErrCleanupTokenMismatch", err)
	}
}

func TestRunCleanupStalePreviewConflicts(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	analyzer := newTestAnalyzer(t)
	ctx := context.Background()

	if _, err := analyzer.Run(ctx, csvOptions(source, dir), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	preview, err := analyzer.BuildCleanupPreview(dir, "202508-Alice-data.txt",
		exporter.FormatCSV, false, exporter.PolicyMerge)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	// 预览后出现新的备份档 → 快照过期
	stale := filepath.Join(dir, "202508-Alice-data_analysis_20250830_120000.csv")
	if err := os.WriteFile(stale, []byte("other client export"), 0644); err != nil {
		t.Fatalf("write stale backup: %v", err)
	}

	opts := csvOptions(source, dir)
	opts.CleanupExports = true
	opts.CleanupToken = preview.Token
	opts.CleanupSnapshot = &preview.Snapshot
	_, err = analyzer.Run(ctx, opts, nil)

	var conflict *CleanupConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want CleanupConflictError", err)
	}
	if conflict.Reason != "stale_preview" {
		t.Errorf("reason = %s", conflict.Reason)
	}
	// 冲突携带最新预览，且没有删除任何档案
	if len(conflict.Preview.Items) == 0 {
		t.Error("conflict must embed a fresh preview")
	}
	if _, err := os.Stat(stale); err != nil {
		t.Error("conflict must not delete anything")
	}
}

func TestRunCleanupArchivePerformed(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	analyzer := newTestAnalyzer(t)
	ctx := context.Background()

	first := csvOptions(source, dir)
	first.ExportPolicy = exporter.PolicyArchive
	if _, err := analyzer.Run(ctx, first, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}

	preview, err := analyzer.BuildCleanupPreview(dir, "202508-Alice-data.txt",
		exporter.FormatCSV, false, exporter.PolicyArchive)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	opts := csvOptions(source, dir)
	opts.ExportPolicy = exporter.PolicyArchive
	opts.CleanupExports = true
	opts.CleanupToken = preview.Token
	opts.CleanupSnapshot = &preview.Snapshot
	result, err := analyzer.Run(ctx, opts, nil)
	if err != nil {
		t.Fatalf("cleanup run: %v", err)
	}

	if result.Cleanup == nil || result.Cleanup.Status != "performed" {
		t.Fatalf("cleanup = %+v, want performed", result.Cleanup)
	}
	if len(result.Cleanup.Deleted) != 1 {
		t.Errorf("deleted = %v, want the archived backup", result.Cleanup.Deleted)
	}

	// 只留下 canonical 与来源档
	backups, err := cleanup.ListBackups(result.OutputPath)
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("backups remaining = %v", backups)
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Error("canonical must survive cleanup")
	}
}

func TestRunPreviewMarkersIncremental(t *testing.T) {
	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	analyzer := newTestAnalyzer(t)
	ctx := context.Background()

	// 预置部分范围，让增量分析同时产生新旧问题
	if _, err := analyzer.Run(ctx, csvOptions(source, dir), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}

	extended := strings.Join([]string{
		"排班時間\t實際時間\t班別\t卡號\t來源\t狀態\t已處理\t操作\t備註",
		punchLine("2025/09/01 08:30", "2025/09/01 11:00", "上班"),
		punchLine("2025/09/01 17:30", "2025/09/01 18:00", "下班"),
	}, "\n")
	extSource := filepath.Join(dir, "202509-Alice-data.txt")
	if err := os.WriteFile(extSource, []byte(extended), 0644); err != nil {
		t.Fatalf("write extended source: %v", err)
	}

	result, err := analyzer.Run(ctx, csvOptions(extSource, dir), nil)
	if err != nil {
		t.Fatalf("extended run: %v", err)
	}
	if len(result.IssuesPreview) != 1 {
		t.Fatalf("previews = %+v", result.IssuesPreview)
	}
	if result.IssuesPreview[0].Status != "[NEW] 本次新發現" {
		t.Errorf("preview status = %q", result.IssuesPreview[0].Status)
	}
}

func TestAddRecentFile(t *testing.T) {
	recent := filepath.Join(t.TempDir(), "recent.json")
	t.Setenv("FHR_RECENT_FILE", recent)

	dir := t.TempDir()
	source := writeSourceFile(t, dir)
	if err := AddRecentFile(source); err != nil {
		t.Fatalf("add recent: %v", err)
	}
	if err := AddRecentFile(source); err != nil {
		t.Fatalf("add recent twice: %v", err)
	}

	entries := LoadRecentFiles()
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want deduplicated single entry", entries)
	}

	// 来源档被移除后不再出现在列表中
	if err := os.Remove(source); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	if entries := LoadRecentFiles(); len(entries) != 0 {
		t.Errorf("entries = %v, want none after source removal", entries)
	}
}
