package state

import (
	"errors"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// ErrStateCorrupt 状态档案损坏。必须显式失败，绝不静默丢弃使用者历史
var ErrStateCorrupt = errors.New("状态档案损坏")

// ProcessedRange 已分析过的日期范围，仅显式重置时删除
type ProcessedRange struct {
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	SourceFile       string `json:"source_file"`
	LastAnalysisTime string `json:"last_analysis_time"`
}

// UserProcessingState 单一使用者的持久化状态，整体读改写
type UserProcessingState struct {
	ProcessedRanges  []ProcessedRange `json:"processed_date_ranges"`
	ForgetPunchUsage map[string]int   `json:"forget_punch_usage"`
}

// NewUserProcessingState 创建空状态
func NewUserProcessingState() *UserProcessingState {
	return &UserProcessingState{
		ProcessedRanges:  []ProcessedRange{},
		ForgetPunchUsage: map[string]int{},
	}
}

// Repository 状态存储接口；实现必须保证 Save 原子落盘
// 损坏的持久化内容必须返回 ErrStateCorrupt，而不是回传空状态
type Repository interface {
	// Load 返回使用者状态；不存在时返回空状态
	Load(user string) (*UserProcessingState, error)
	// Save 整体保存使用者状态
	Save(user string, s *UserProcessingState) error
	// Delete 删除使用者全部状态（显式重置）
	Delete(user string) error
	// Close 释放底层资源
	Close() error
}

// LastAnalysisTime 所有范围中最近一次分析时间，无记录时返回空字串
func (s *UserProcessingState) LastAnalysisTime() string {
	latest := ""
	for _, r := range s.ProcessedRanges {
		if r.LastAnalysisTime > latest {
			latest = r.LastAnalysisTime
		}
	}
	return latest
}

// MergeRange 合并新范围：与既有范围重叠或相邻时扩展合并，而不是重复追加
func (s *UserProcessingState) MergeRange(newRange ProcessedRange) {
	merged := append([]ProcessedRange{}, s.ProcessedRanges...)
	merged = append(merged, newRange)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].StartDate < merged[j].StartDate
	})

	out := merged[:0]
	for _, r := range merged {
		if len(out) == 0 {
			out = append(out, r)
			continue
		}
		last := &out[len(out)-1]
		if r.StartDate > nextDay(last.EndDate) {
			out = append(out, r)
			continue
		}
		// 重叠或相邻：扩展末端，保留较新的来源与分析时间
		if r.EndDate > last.EndDate {
			last.EndDate = r.EndDate
		}
		if r.LastAnalysisTime >= last.LastAnalysisTime {
			last.SourceFile = r.SourceFile
			last.LastAnalysisTime = r.LastAnalysisTime
		}
	}
	s.ProcessedRanges = out
}

// Covers 日期是否落在任一已处理范围内（含端点）
func (s *UserProcessingState) Covers(day time.Time) bool {
	key := day.Format(dateLayout)
	for _, r := range s.ProcessedRanges {
		if r.StartDate <= key && key <= r.EndDate {
			return true
		}
	}
	return false
}

// FilterUnprocessed 返回不被任何已处理范围覆盖的日期
func FilterUnprocessed(s *UserProcessingState, days []time.Time) []time.Time {
	out := make([]time.Time, 0, len(days))
	for _, day := range days {
		if !s.Covers(day) {
			out = append(out, day)
		}
	}
	return out
}

func nextDay(date string) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, 1).Format(dateLayout)
}
