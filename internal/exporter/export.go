// Package exporter 产生分析报表档案（CSV / Excel），
// 并依导出策略维护 canonical 档与时间戳备份
package exporter

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fhr/internal/model"
	"fhr/internal/state"
)

// Format 报表格式
type Format string

const (
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
)

// Policy 导出策略：merge 覆写 canonical；archive 先将既有 canonical 改名为时间戳备份
type Policy string

const (
	PolicyMerge   Policy = "merge"
	PolicyArchive Policy = "archive"
)

// Result 导出结果；Excel 写入失败时回退 CSV，FallbackApplied 为 true
type Result struct {
	RequestedPath   string
	ActualPath      string
	RequestedFormat Format
	ActualFormat    Format
	BackupPath      string
}

// FallbackApplied 请求 Excel 但实际落盘为 CSV
func (r Result) FallbackApplied() bool {
	return r.RequestedFormat == FormatExcel && r.ActualFormat == FormatCSV
}

// Ext 格式对应的扩展名
func (f Format) Ext() string {
	if f == FormatCSV {
		return ".csv"
	}
	return ".xlsx"
}

// CanonicalPath 计算 canonical 导出档路径：{dir}/{stem}_analysis{ext}
// 请求 Excel 但仅存在 CSV 回退档时返回 CSV 路径
func CanonicalPath(dir, logicalName string, format Format) string {
	stem := SanitizeStem(logicalName)
	preferred := filepath.Join(dir, stem+"_analysis"+format.Ext())
	if format == FormatExcel {
		if _, err := os.Stat(preferred); os.IsNotExist(err) {
			fallback := filepath.Join(dir, stem+"_analysis.csv")
			if _, err := os.Stat(fallback); err == nil {
				return fallback
			}
		}
	}
	return preferred
}

// SanitizeStem 清理上传档名为安全的档名主干
func SanitizeStem(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, "/", "_")
	base = strings.ReplaceAll(base, "\\", "_")
	base = strings.TrimSuffix(base, ".txt")
	if base == "" || base == "." {
		return "analysis"
	}
	return base
}

// BackupWithTimestamp 将既有档案改名为时间戳备份（stem_YYYYMMDD_HHMMSS.ext）
// 档案不存在时返回空字串
func BackupWithTimestamp(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	backup := stem + "_" + time.Now().Format("20060102_150405") + ext
	if err := os.Rename(path, backup); err != nil {
		return "", err
	}
	return backup, nil
}

// Export 写出报表到 canonical 路径
// archive 策略先备份既有档案；Excel 写入失败时回退为 CSV
func Export(path string, format Format, policy Policy, issues []model.Issue, incremental bool, status *state.StatusSummary) (Result, error) {
	result := Result{
		RequestedPath:   path,
		ActualPath:      path,
		RequestedFormat: format,
		ActualFormat:    format,
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return result, err
		}
	}

	if policy == PolicyArchive {
		backup, err := BackupWithTimestamp(path)
		if err != nil {
			return result, err
		}
		result.BackupPath = backup
	}

	if format == FormatExcel {
		if err := WriteExcel(path, issues, incremental, status); err != nil {
			// Excel 写入失败回退 CSV，呼叫端透过 FallbackApplied 得知
			slog.Warn("Excel 汇出失败，回退 CSV", "path", path, "error", err)
			csvPath := strings.TrimSuffix(path, ".xlsx") + ".csv"
			if err := WriteCSV(csvPath, issues, incremental, status); err != nil {
				return result, err
			}
			result.ActualPath = csvPath
			result.ActualFormat = FormatCSV
			return result, nil
		}
		return result, nil
	}

	if err := WriteCSV(path, issues, incremental, status); err != nil {
		return result, err
	}
	return result, nil
}
