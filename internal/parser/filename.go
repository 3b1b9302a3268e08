package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// 档名约定: {YYYYMM}[-{YYYYMM}]-{姓名}-{后缀}.txt，例如 202508-Alice-出勤資料.txt
var sourceNamePattern = regexp.MustCompile(`^(\d{6})(?:-(\d{6}))?-(.+?)-[^-]+\.txt$`)

// SourceInfo 从档名解析出的使用者与日期范围
type SourceInfo struct {
	User      string
	StartDate time.Time // 起始月份第一天
	EndDate   time.Time // 结束月份最后一天
}

// ParseSourceName 解析档名约定
// 返回 (info, true) 或解析失败时 (零值, false)；失败由呼叫端决定降级为全量分析
func ParseSourceName(path string) (SourceInfo, bool) {
	name := filepath.Base(path)
	match := sourceNamePattern.FindStringSubmatch(name)
	if match == nil {
		return SourceInfo{}, false
	}

	start, ok := monthStart(match[1])
	if !ok {
		return SourceInfo{}, false
	}

	endMonth := match[1]
	if match[2] != "" {
		endMonth = match[2]
	}
	end, ok := monthEnd(endMonth)
	if !ok || end.Before(start) {
		return SourceInfo{}, false
	}

	return SourceInfo{
		User:      match[3],
		StartDate: start,
		EndDate:   end,
	}, true
}

func monthStart(yyyymm string) (time.Time, bool) {
	year, err := strconv.Atoi(yyyymm[:4])
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(yyyymm[4:6])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.Local), true
}

func monthEnd(yyyymm string) (time.Time, bool) {
	start, ok := monthStart(yyyymm)
	if !ok {
		return time.Time{}, false
	}
	// 下月第一天减一天即为当月最后一天（含 12 月跨年）
	return start.AddDate(0, 1, -1), true
}
