// Package service 提供分析编排器：组合解析、假日解析、政策分类、
// 增量对账、报表导出与清理协议，是 CLI/Web 呼叫核心的唯一入口
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"fhr/internal/calendar"
	"fhr/internal/cleanup"
	"fhr/internal/config"
	"fhr/internal/exporter"
	"fhr/internal/model"
	"fhr/internal/parser"
	"fhr/internal/policy"
	"fhr/internal/report"
	"fhr/internal/state"
)

// 清理确认阶段的验证错误
var (
	ErrCleanupPreviewRequired = errors.New("需要先执行清理预览")
	ErrCleanupTokenMismatch   = errors.New("清理 token 与快照不符")
)

// CleanupConflictError 清理快照与当前状态不符，携带最新预览供重新确认
type CleanupConflictError struct {
	Reason  string
	Preview cleanup.Preview
}

func (e *CleanupConflictError) Error() string {
	return "清理快照已过期: " + e.Reason
}

// Options 一次分析请求的全部选项
type Options struct {
	SourcePath string
	// LogicalName 上传档的逻辑名称，决定 canonical 导出档名；空值取 SourcePath 档名
	LogicalName  string
	Mode         state.Mode
	ResetState   bool
	Debug        bool
	Output       exporter.Format
	ExportPolicy exporter.Policy
	// OutputDir canonical 导出目录；空值表示与来源档同目录
	OutputDir string
	// SkipExport 只分析不落盘报表
	SkipExport bool

	CleanupExports  bool
	CleanupToken    string
	CleanupSnapshot *cleanup.Snapshot

	PreviewLimit int
	AddRecent    bool
}

// IssuePreview 回应中的问题摘要列
type IssuePreview struct {
	Date            string `json:"date"`
	Type            string `json:"type"`
	DurationMinutes int    `json:"duration_minutes"`
	Description     string `json:"description"`
	TimeRange       string `json:"time_range,omitempty"`
	Calculation     string `json:"calculation,omitempty"`
	Status          string `json:"status,omitempty"`
}

// CleanupOutcome 清理执行结果
type CleanupOutcome struct {
	Status  string           `json:"status"` // performed | stale | skipped
	Deleted []string         `json:"deleted"`
	Preview *cleanup.Preview `json:"preview,omitempty"`
}

// Result 分析结果
type Result struct {
	User            string
	StartDate       string
	EndDate         string
	StateTracked    bool
	RequestedMode   state.Mode
	EffectiveMode   state.Mode
	RequestedFormat exporter.Format
	ActualFormat    exporter.Format
	ResetApplied    bool
	FirstTimeUser   bool
	DebugMode       bool

	OutputPath    string
	Issues        []model.Issue
	IssuesPreview []IssuePreview
	ReportText    string
	Totals        report.Totals
	Status        *state.StatusSummary
	Cleanup       *CleanupOutcome
}

// ProgressFunc 进度回调 (阶段名, 第几步, 总步数)
type ProgressFunc func(stage string, step, total int)

// 分析流程的阶段
var progressStages = []string{"parse", "group", "analyze", "export"}

// Analyzer 分析编排器
type Analyzer struct {
	resolver   *calendar.Resolver
	reconciler *state.Reconciler
	logger     *slog.Logger
}

// NewAnalyzer 组装编排器；repo 为注入的状态存储
func NewAnalyzer(cfg *config.AppConfig, repo state.Repository) *Analyzer {
	engine := policy.NewEngine(cfg.Rules)
	return &Analyzer{
		resolver:   calendar.NewResolver(cfg.Holiday),
		reconciler: state.NewReconciler(repo, engine),
		logger:     slog.Default(),
	}
}

// Run 执行一次完整的分析请求
//
// 取消检查发生在阶段边界与逐日分析之间，绝不中断原子状态写入。
// 清理确认已折叠进本呼叫：token/快照验证失败返回错误，
// 导出后快照漂移返回 stale 结果（零删除）
func (a *Analyzer) Run(ctx context.Context, opts Options, progress ProgressFunc) (*Result, error) {
	logicalName := opts.LogicalName
	if logicalName == "" {
		logicalName = filepath.Base(opts.SourcePath)
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(opts.SourcePath)
	}
	if opts.Mode == "" {
		opts.Mode = state.ModeIncremental
	}
	if opts.Output == "" {
		opts.Output = exporter.FormatExcel
	}
	if opts.ExportPolicy == "" {
		opts.ExportPolicy = exporter.PolicyMerge
	}
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = 100
	}

	canonicalPath := exporter.CanonicalPath(outputDir, logicalName, opts.Output)

	// 清理确认的前置验证：token 必须是快照的内容指纹，快照必须仍与现状一致
	if opts.CleanupExports {
		if err := a.verifyCleanupRequest(canonicalPath, opts); err != nil {
			return nil, err
		}
	}

	result := &Result{
		RequestedMode:   opts.Mode,
		RequestedFormat: opts.Output,
		ActualFormat:    opts.Output,
		DebugMode:       opts.Debug,
	}

	emit(progress, 0)
	events, err := parser.ParseFile(opts.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("解析出勤档案失败: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emit(progress, 1)
	holidays := a.resolver.HolidaysForYears(ctx, parser.YearsOf(events))
	workdays := parser.GroupByDay(events)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emit(progress, 2)
	recon, err := a.reconciler.Reconcile(ctx, state.Request{
		SourcePath: opts.SourcePath,
		Mode:       opts.Mode,
		ResetState: opts.ResetState,
		Debug:      opts.Debug,
	}, workdays, holidays)
	if err != nil {
		return nil, err
	}

	result.User = recon.User
	result.StateTracked = recon.StateTracked
	result.EffectiveMode = recon.EffectiveMode
	result.FirstTimeUser = recon.FirstTimeUser
	result.ResetApplied = recon.ResetApplied
	result.Issues = recon.Issues
	result.Status = recon.Status
	if recon.StateTracked {
		result.StartDate = recon.StartDate.Format("2006-01-02")
		result.EndDate = recon.EndDate.Format("2006-01-02")
	}

	incremental := recon.EffectiveMode == state.ModeIncremental

	emit(progress, 3)
	if !opts.SkipExport {
		exported, err := exporter.Export(canonicalPath, opts.Output, opts.ExportPolicy,
			recon.Issues, incremental, recon.Status)
		if err != nil {
			return nil, fmt.Errorf("汇出报表失败: %w", err)
		}
		result.OutputPath = exported.ActualPath
		result.ActualFormat = exported.ActualFormat
		canonicalPath = exported.ActualPath
	}

	if opts.CleanupExports {
		result.Cleanup = a.performCleanup(canonicalPath, opts)
	}

	result.ReportText = report.Build(recon.Issues)
	result.Totals = report.CountTotals(recon.Issues)
	result.IssuesPreview = buildPreviews(recon.Issues, opts.PreviewLimit, incremental)

	if opts.AddRecent {
		if err := AddRecentFile(opts.SourcePath); err != nil {
			// 非关键路径，仅记录
			a.logger.Debug("记录最近档案失败", "error", err)
		}
	}

	return result, nil
}

// verifyCleanupRequest 验证确认阶段提交的 token 与快照
func (a *Analyzer) verifyCleanupRequest(canonicalPath string, opts Options) error {
	if opts.CleanupToken == "" || opts.CleanupSnapshot == nil {
		return ErrCleanupPreviewRequired
	}
	if cleanup.Token(*opts.CleanupSnapshot) != opts.CleanupToken {
		return ErrCleanupTokenMismatch
	}
	if opts.CleanupSnapshot.ExportPolicy != string(opts.ExportPolicy) {
		return a.conflict(canonicalPath, opts, "export_policy_changed")
	}

	current, err := cleanup.BuildSnapshot(canonicalPath, opts.Debug, string(opts.ExportPolicy))
	if err != nil {
		return err
	}
	if !cleanup.StrictEqual(*opts.CleanupSnapshot, current) {
		return a.conflict(canonicalPath, opts, "stale_preview")
	}
	return nil
}

func (a *Analyzer) conflict(canonicalPath string, opts Options, reason string) error {
	preview, err := cleanup.BuildPreview(canonicalPath, opts.Debug, string(opts.ExportPolicy))
	if err != nil {
		return err
	}
	return &CleanupConflictError{Reason: reason, Preview: preview}
}

// performCleanup 导出完成后的清理执行：
// 快照兼容则删除，漂移则返回 stale + 最新预览，保证零部分删除
func (a *Analyzer) performCleanup(canonicalPath string, opts Options) *CleanupOutcome {
	if opts.CleanupSnapshot == nil {
		return &CleanupOutcome{Status: "skipped", Deleted: []string{}}
	}

	current, err := cleanup.BuildSnapshot(canonicalPath, opts.Debug, string(opts.ExportPolicy))
	if err != nil {
		a.logger.Warn("清理快照计算失败", "error", err)
		return &CleanupOutcome{Status: "skipped", Deleted: []string{}}
	}

	if !cleanup.Compatible(*opts.CleanupSnapshot, current, string(opts.ExportPolicy)) {
		preview, err := cleanup.BuildPreview(canonicalPath, opts.Debug, string(opts.ExportPolicy))
		if err != nil {
			a.logger.Warn("清理预览重建失败", "error", err)
			return &CleanupOutcome{Status: "stale", Deleted: []string{}}
		}
		return &CleanupOutcome{Status: "stale", Deleted: []string{}, Preview: &preview}
	}

	removed, err := cleanup.Execute(canonicalPath, opts.Debug)
	if err != nil {
		a.logger.Warn("清理执行失败", "error", err)
	}

	names := make([]string, 0, len(removed))
	for _, p := range removed {
		names = append(names, filepath.Base(p))
	}
	return &CleanupOutcome{Status: "performed", Deleted: names}
}

// BuildCleanupPreview 清理预览（无副作用），供 HTTP 层与 CLI 直接使用
func (a *Analyzer) BuildCleanupPreview(outputDir, logicalName string, format exporter.Format, debug bool, policy exporter.Policy) (cleanup.Preview, error) {
	canonicalPath := exporter.CanonicalPath(outputDir, logicalName, format)
	return cleanup.BuildPreview(canonicalPath, debug, string(policy))
}

func buildPreviews(issues []model.Issue, limit int, incremental bool) []IssuePreview {
	previews := make([]IssuePreview, 0, min(limit, len(issues)))
	for i, issue := range issues {
		if i >= limit {
			break
		}
		p := IssuePreview{
			Date:            issue.Date.Format("2006/01/02"),
			Type:            issue.Kind.Label(),
			DurationMinutes: issue.DurationMinutes,
			Description:     issue.Description,
			TimeRange:       issue.TimeRange,
			Calculation:     issue.Calculation,
		}
		if incremental {
			p.Status = exporter.NewMarker(issue.IsNew)
		}
		previews = append(previews, p)
	}
	return previews
}

func emit(progress ProgressFunc, step int) {
	if progress != nil {
		progress(progressStages[step], step+1, len(progressStages))
	}
}
