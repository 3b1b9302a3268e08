package parser

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"fhr/internal/model"
)

const (
	// 出勤档案固定为 9 个 tab 分隔栏位
	fieldCount = 9

	datetimeLayout = "2006/01/02 15:04"
)

// 行首可能带有 "  12→" 形式的行号前缀
var lineNumberPrefix = regexp.MustCompile(`^\s*\d+→`)

// CleanLine 移除行号前缀
func CleanLine(line string) string {
	return lineNumberPrefix.ReplaceAllString(line, "")
}

// SplitFields 按 tab 分割并右侧补齐到固定栏位数
func SplitFields(line string) []string {
	parts := strings.Split(line, "\t")
	for len(parts) < fieldCount {
		parts = append(parts, "")
	}
	return parts
}

// ParseDateTime 解析 "YYYY/MM/DD HH:MM" 格式时间，失败返回零值
func ParseDateTime(s string) time.Time {
	t, err := time.ParseInLocation(datetimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ParseLine 解析单行打卡记录；班别非上班/下班或排班时间缺失时返回 nil
func ParseLine(line string) *model.PunchEvent {
	line = CleanLine(line)
	fields := SplitFields(line)

	scheduledStr, actualStr, typeStr := fields[0], fields[1], fields[2]
	if scheduledStr == "" || (typeStr != "上班" && typeStr != "下班") {
		return nil
	}

	scheduled := ParseDateTime(scheduledStr)
	if scheduled.IsZero() {
		return nil
	}

	direction := model.DirectionCheckIn
	if typeStr == "下班" {
		direction = model.DirectionCheckOut
	}

	return &model.PunchEvent{
		Date:          truncateToDay(scheduled),
		ScheduledTime: scheduled,
		ActualTime:    ParseDateTime(actualStr),
		Direction:     direction,
		CardNumber:    fields[3],
		Source:        fields[4],
		Status:        fields[5],
		Processed:     fields[6],
		Operation:     fields[7],
		Note:          fields[8],
	}
}

// ParseReader 解析出勤档案内容，首行为表头，格式错误的行跳过并记录日志
func ParseReader(r io.Reader) ([]*model.PunchEvent, error) {
	var events []*model.PunchEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum == 1 {
			// 跳过表头
			continue
		}
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		event := ParseLine(line)
		if event == nil {
			slog.Warn("跳过无法解析的打卡记录", "line", lineNum)
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

// ParseFile 解析出勤档案
func ParseFile(path string) ([]*model.PunchEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseReader(f)
}

// GroupByDay 按日期聚合为工作日记录，按日期升序返回
// 同一日期同方向出现多条时保留最后一条
func GroupByDay(events []*model.PunchEvent) []*model.WorkdayRecord {
	byDate := make(map[time.Time]*model.WorkdayRecord)
	for _, event := range events {
		if event.Date.IsZero() {
			continue
		}
		day, ok := byDate[event.Date]
		if !ok {
			day = &model.WorkdayRecord{Date: event.Date}
			byDate[event.Date] = day
		}
		if event.Direction == model.DirectionCheckIn {
			day.CheckIn = event
		} else {
			day.CheckOut = event
		}
	}

	workdays := make([]*model.WorkdayRecord, 0, len(byDate))
	for _, day := range byDate {
		workdays = append(workdays, day)
	}
	sort.Slice(workdays, func(i, j int) bool {
		return workdays[i].Date.Before(workdays[j].Date)
	})
	return workdays
}

// CompleteDays 筛选完整工作日（上下班班别齐全，缺卡也算）
func CompleteDays(workdays []*model.WorkdayRecord) []*model.WorkdayRecord {
	out := make([]*model.WorkdayRecord, 0, len(workdays))
	for _, day := range workdays {
		if day.Complete() {
			out = append(out, day)
		}
	}
	return out
}

// YearsOf 提取记录涉及的年份集合
func YearsOf(events []*model.PunchEvent) map[int]bool {
	years := make(map[int]bool)
	for _, event := range events {
		if !event.Date.IsZero() {
			years[event.Date.Year()] = true
		}
	}
	return years
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
