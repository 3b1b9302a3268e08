// Package handlers 实现考勤分析 API 的 HTTP 处理器
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fhr/internal/cleanup"
	"fhr/internal/exporter"
	"fhr/internal/service"
	"fhr/internal/state"
)

// Handlers API处理器
type Handlers struct {
	analyzer *service.Analyzer
	dataDir  string
}

// NewHandlers 创建处理器
func NewHandlers(analyzer *service.Analyzer, dataDir string) *Handlers {
	return &Handlers{
		analyzer: analyzer,
		dataDir:  dataDir,
	}
}

// RegisterRoutes 注册 API 路由
func (h *Handlers) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/health", h.Health)
	api.POST("/analyze", h.Analyze)
	api.POST("/exports/cleanup-preview", h.CleanupPreview)
	api.GET("/download/:session/:name", h.Download)
}

// Response 通用响应
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func errorResponse(c *gin.Context, status, code int, message string) {
	c.JSON(status, Response{
		Code:    code,
		Message: message,
	})
}

// Health 健康检查
func (h *Handlers) Health(c *gin.Context) {
	success(c, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

// analyzeResponse 分析请求的响应体
type analyzeResponse struct {
	User            string                   `json:"user,omitempty"`
	StartDate       string                   `json:"start_date,omitempty"`
	EndDate         string                   `json:"end_date,omitempty"`
	StateTracked    bool                     `json:"state_tracked"`
	RequestedMode   string                   `json:"requested_mode"`
	EffectiveMode   string                   `json:"effective_mode"`
	RequestedFormat string                   `json:"requested_format"`
	ActualFormat    string                   `json:"actual_format"`
	FallbackApplied bool                     `json:"fallback_applied"`
	ResetApplied    bool                     `json:"reset_applied"`
	FirstTimeUser   bool                     `json:"first_time_user"`
	DebugMode       bool                     `json:"debug_mode"`
	SessionID       string                   `json:"session_id"`
	DownloadURL     string                   `json:"download_url,omitempty"`
	Issues          []service.IssuePreview   `json:"issues"`
	Totals          interface{}              `json:"totals"`
	Report          string                   `json:"report"`
	Status          *statusPayload           `json:"status,omitempty"`
	Cleanup         *service.CleanupOutcome  `json:"cleanup,omitempty"`
}

type statusPayload struct {
	LastDate         string `json:"last_date"`
	CompleteDays     int    `json:"complete_days"`
	LastAnalysisTime string `json:"last_analysis_time"`
}

// Analyze 上传出勤档并执行分析
//
// multipart 栏位：file（必填）、mode、output、reset_state、debug、
// export_policy、cleanup_exports、cleanup_token、cleanup_snapshot
func (h *Handlers) Analyze(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		errorResponse(c, http.StatusBadRequest, 1001, "缺少上传档案")
		return
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".txt") {
		errorResponse(c, http.StatusBadRequest, 1002, "仅支援 .txt 出勤档")
		return
	}

	opts, err := h.buildOptions(c, file.Filename)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, 1003, err.Error())
		return
	}

	sessionID := time.Now().Format("20060102_150405") + "_" + uuid.New().String()[:8]
	uploadDir := filepath.Join(h.dataDir, "uploads", sessionID)
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		errorResponse(c, http.StatusInternalServerError, 5001, "建立上传目录失败")
		return
	}

	// 保留原始档名，状态追踪依赖档名约定
	sourcePath := filepath.Join(uploadDir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, sourcePath); err != nil {
		errorResponse(c, http.StatusInternalServerError, 5002, "保存上传档案失败")
		return
	}

	opts.SourcePath = sourcePath
	opts.LogicalName = filepath.Base(file.Filename)
	opts.OutputDir = filepath.Join(h.dataDir, "canonical")

	result, err := h.analyzer.Run(c.Request.Context(), *opts, nil)
	if err != nil {
		h.writeAnalyzeError(c, err)
		return
	}

	resp := analyzeResponse{
		User:            result.User,
		StartDate:       result.StartDate,
		EndDate:         result.EndDate,
		StateTracked:    result.StateTracked,
		RequestedMode:   string(result.RequestedMode),
		EffectiveMode:   string(result.EffectiveMode),
		RequestedFormat: string(result.RequestedFormat),
		ActualFormat:    string(result.ActualFormat),
		FallbackApplied: result.RequestedFormat == exporter.FormatExcel && result.ActualFormat == exporter.FormatCSV,
		ResetApplied:    result.ResetApplied,
		FirstTimeUser:   result.FirstTimeUser,
		DebugMode:       result.DebugMode,
		SessionID:       sessionID,
		Issues:          result.IssuesPreview,
		Totals:          result.Totals,
		Report:          result.ReportText,
		Cleanup:         result.Cleanup,
	}
	if result.Status != nil {
		resp.Status = &statusPayload{
			LastDate:         result.Status.LastDate,
			CompleteDays:     result.Status.CompleteDays,
			LastAnalysisTime: result.Status.LastAnalysisTime,
		}
	}

	// 复制报表到会话输出目录，供下载端点使用
	if result.OutputPath != "" {
		outputDir := filepath.Join(h.dataDir, "outputs", sessionID)
		name := filepath.Base(result.OutputPath)
		if err := copyFile(result.OutputPath, filepath.Join(outputDir, name)); err == nil {
			resp.DownloadURL = "/api/download/" + sessionID + "/" + name
		}
	}

	success(c, resp)
}

// buildOptions 解析表单选项
func (h *Handlers) buildOptions(c *gin.Context, filename string) (*service.Options, error) {
	opts := &service.Options{
		Mode:         state.ModeIncremental,
		Output:       exporter.FormatExcel,
		ExportPolicy: exporter.PolicyMerge,
	}

	switch c.PostForm("mode") {
	case "", "incremental":
	case "full":
		opts.Mode = state.ModeFull
	default:
		return nil, errors.New("mode 仅支援 incremental / full")
	}

	switch c.PostForm("output") {
	case "", "excel":
	case "csv":
		opts.Output = exporter.FormatCSV
	default:
		return nil, errors.New("output 仅支援 excel / csv")
	}

	switch c.PostForm("export_policy") {
	case "", "merge":
	case "archive":
		opts.ExportPolicy = exporter.PolicyArchive
	default:
		return nil, errors.New("export_policy 仅支援 merge / archive")
	}

	opts.ResetState = c.PostForm("reset_state") == "true"
	opts.Debug = c.PostForm("debug") == "true"
	opts.CleanupExports = c.PostForm("cleanup_exports") == "true"
	opts.CleanupToken = c.PostForm("cleanup_token")

	if raw := c.PostForm("cleanup_snapshot"); raw != "" {
		var snapshot cleanup.Snapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			return nil, errors.New("cleanup_snapshot 不是合法的 JSON")
		}
		opts.CleanupSnapshot = &snapshot
	}

	return opts, nil
}

// writeAnalyzeError 将编排器错误映射为 HTTP 状态码
func (h *Handlers) writeAnalyzeError(c *gin.Context, err error) {
	var conflict *service.CleanupConflictError
	switch {
	case errors.As(err, &conflict):
		// 清理快照过期：409 + 最新预览，客户端重新确认
		c.JSON(http.StatusConflict, Response{
			Code:    4091,
			Message: conflict.Error(),
			Data:    gin.H{"preview": conflict.Preview, "reason": conflict.Reason},
		})
	case errors.Is(err, service.ErrCleanupPreviewRequired),
		errors.Is(err, service.ErrCleanupTokenMismatch):
		errorResponse(c, http.StatusBadRequest, 4001, err.Error())
	case errors.Is(err, state.ErrResetUnidentifiedUser):
		errorResponse(c, http.StatusBadRequest, 4002, err.Error())
	case errors.Is(err, state.ErrStateCorrupt):
		errorResponse(c, http.StatusInternalServerError, 5003, err.Error())
	default:
		errorResponse(c, http.StatusInternalServerError, 5000, err.Error())
	}
}

// cleanupPreviewRequest 清理预览请求
type cleanupPreviewRequest struct {
	LogicalName  string `json:"logical_name" binding:"required"`
	Output       string `json:"output"`
	ExportPolicy string `json:"export_policy"`
	Debug        bool   `json:"debug"`
}

// CleanupPreview 清理预览（无副作用）
func (h *Handlers) CleanupPreview(c *gin.Context) {
	var req cleanupPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, 1001, "参数错误")
		return
	}

	format := exporter.FormatExcel
	if req.Output == "csv" {
		format = exporter.FormatCSV
	}
	policy := exporter.PolicyMerge
	if req.ExportPolicy == "archive" {
		policy = exporter.PolicyArchive
	}

	preview, err := h.analyzer.BuildCleanupPreview(
		filepath.Join(h.dataDir, "canonical"), req.LogicalName, format, req.Debug, policy)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, 5004, err.Error())
		return
	}
	success(c, preview)
}

// Download 下载会话产出的报表
func (h *Handlers) Download(c *gin.Context) {
	session := c.Param("session")
	name := c.Param("name")

	// 目录穿越防护
	if strings.Contains(session, "..") || strings.Contains(name, "..") ||
		strings.ContainsAny(session, `/\`) || strings.ContainsAny(name, `/\`) {
		errorResponse(c, http.StatusBadRequest, 1004, "非法路径")
		return
	}

	path := filepath.Join(h.dataDir, "outputs", session, name)
	if _, err := os.Stat(path); err != nil {
		errorResponse(c, http.StatusNotFound, 4041, "档案不存在")
		return
	}

	c.FileAttachment(path, name)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
