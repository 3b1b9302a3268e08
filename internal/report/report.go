// Package report 组装文字版分析报告（纯字串拼装，不依赖分析器内部状态）
package report

import (
	"fmt"
	"strings"

	"fhr/internal/model"
)

var weekdayNames = []string{"週日", "週一", "週二", "週三", "週四", "週五", "週六"}

// Totals 各类问题的天数统计
type Totals struct {
	ForgetPunch  int `json:"FORGET_PUNCH"`
	Late         int `json:"LATE"`
	Overtime     int `json:"OVERTIME"`
	WFH          int `json:"WFH"`
	WeekdayLeave int `json:"WEEKDAY_LEAVE"`
	Total        int `json:"TOTAL"`
}

// CountTotals 统计问题分布
func CountTotals(issues []model.Issue) Totals {
	t := Totals{Total: len(issues)}
	for _, issue := range issues {
		switch issue.Kind {
		case model.IssueForgetPunch:
			t.ForgetPunch++
		case model.IssueLate:
			t.Late++
		case model.IssueOvertime:
			t.Overtime++
		case model.IssueWFH:
			t.WFH++
		case model.IssueWeekdayLeave:
			t.WeekdayLeave++
		}
	}
	return t
}

// Build 生成完整 markdown 报告
func Build(issues []model.Issue) string {
	var b strings.Builder
	b.WriteString("# 🎯 考勤分析報告 ✨\n\n")

	byKind := func(kind model.IssueKind) []model.Issue {
		var out []model.Issue
		for _, issue := range issues {
			if issue.Kind == kind {
				out = append(out, issue)
			}
		}
		return out
	}

	writeSection(&b, "## 🔄 建議使用忘刷卡的日期：", "🔄", byKind(model.IssueForgetPunch), true)
	writeSection(&b, "## 😰 需要請遲到的日期：", "😅", byKind(model.IssueLate), true)
	writeSection(&b, "## 💪 需要請加班的日期：", "🔥", byKind(model.IssueOvertime), true)
	writeLeaveSection(&b, byKind(model.IssueWeekdayLeave))
	writeSection(&b, "## 🏠 建議申請WFH假的日期：", "😊", byKind(model.IssueWFH), false)

	totals := CountTotals(issues)
	b.WriteString("## 📊 統計摘要：\n\n")
	fmt.Fprintf(&b, "- 🔄 建議忘刷卡天數：%d 天\n", totals.ForgetPunch)
	fmt.Fprintf(&b, "- 😰 需要請遲到天數：%d 天\n", totals.Late)
	fmt.Fprintf(&b, "- 💪 加班天數：%d 天\n", totals.Overtime)
	fmt.Fprintf(&b, "- 📝 需要請假天數：%d 天\n", totals.WeekdayLeave)
	fmt.Fprintf(&b, "- 🏠 建議WFH天數：%d 天\n", totals.WFH)

	return b.String()
}

// BuildIncrementalInfo 增量分析段落
func BuildIncrementalInfo(user string, totalComplete, newDays int, newDates []string) string {
	var b strings.Builder
	b.WriteString("## 📈 增量分析資訊：\n\n")
	fmt.Fprintf(&b, "- 👤 使用者：%s\n", user)
	fmt.Fprintf(&b, "- 📊 總完整工作日：%d 天\n", totalComplete)
	fmt.Fprintf(&b, "- 🔄 新處理工作日：%d 天\n", newDays)
	fmt.Fprintf(&b, "- ⏭️  跳過已處理：%d 天\n", totalComplete-newDays)
	if len(newDates) > 0 {
		preview := strings.Join(newDates[:min(5, len(newDates))], ", ")
		if len(newDates) > 5 {
			preview += fmt.Sprintf(" 等 %d 天", len(newDates))
		}
		fmt.Fprintf(&b, "- 📅 新處理日期：%s\n", preview)
	}
	return b.String()
}

func writeSection(b *strings.Builder, title, icon string, issues []model.Issue, showCalc bool) {
	if len(issues) == 0 {
		return
	}
	b.WriteString(title + "\n\n")
	for i, issue := range issues {
		fmt.Fprintf(b, "%d. **%s** - %s %s\n",
			i+1, issue.Date.Format("2006/01/02"), icon, issue.Description)
		if issue.TimeRange != "" {
			fmt.Fprintf(b, "   ⏰ 時段: %s\n", issue.TimeRange)
		}
		if showCalc && issue.Calculation != "" {
			fmt.Fprintf(b, "   🧮 計算: %s\n", issue.Calculation)
		}
		b.WriteString("\n")
	}
}

func writeLeaveSection(b *strings.Builder, issues []model.Issue) {
	if len(issues) == 0 {
		return
	}
	b.WriteString("## 📝 需要請假的日期：\n\n")
	for i, issue := range issues {
		fmt.Fprintf(b, "%d. **%s (%s)** - 📝 %s\n",
			i+1, issue.Date.Format("2006/01/02"),
			weekdayNames[issue.Date.Weekday()], issue.Description)
	}
	b.WriteString("\n")
}
