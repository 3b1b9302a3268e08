package policy

import (
	"fmt"
	"time"

	"fhr/internal/calendar"
	"fhr/internal/config"
	"fhr/internal/model"
)

// QuotaView 月度忘刷卡额度视图，由呼叫端（reconciler）持有并持久化
// 约束: 0 ≤ Used(month) ≤ Allowance
type QuotaView interface {
	// Used 返回 (YYYY-MM) 月份已使用次数
	Used(month string) int
	// Consume 使用一次额度
	Consume(month string)
}

// Engine 单日考勤分类引擎，无内部状态
type Engine struct {
	rules config.RulesConfig
}

// NewEngine 创建分类引擎
func NewEngine(rules config.RulesConfig) *Engine {
	return &Engine{rules: rules}
}

// EvaluateDay 对单个完整工作日分类，返回零或多条问题记录
//
// 规则优先级：国定假日不产生任何建议；周五整天覆盖为 WFH 建议；
// 其余工作日依序检查整天缺勤、迟到（或忘刷卡）、加班
func (e *Engine) EvaluateDay(day *model.WorkdayRecord, holidays map[string]bool, quota QuotaView) []model.Issue {
	if holidays[calendar.DateKey(day.Date)] {
		return nil
	}

	if day.IsFriday() {
		// 周五不论是否打卡，整天建议 WFH，覆盖迟到/加班
		return []model.Issue{{
			Date:            day.Date,
			Kind:            model.IssueWFH,
			DurationMinutes: (e.rules.WorkHours + e.rules.LunchHours) * 60,
			Description:     "建議申請整天WFH假 🏠💻",
		}}
	}

	if day.FullDayAbsent() {
		return []model.Issue{{
			Date:            day.Date,
			Kind:            model.IssueWeekdayLeave,
			DurationMinutes: e.rules.WorkHours * 60,
			Description:     "整天沒進公司，建議請假 📝🏠",
		}}
	}

	var issues []model.Issue

	lateMinutes, lateRange, lateCalc := e.lateMinutes(day)
	if lateMinutes > 0 {
		month := day.Date.Format("2006-01")
		remaining := e.rules.ForgetPunchAllowancePerMonth - quota.Used(month)
		if lateMinutes <= e.rules.ForgetPunchMaxMinutes && remaining > 0 {
			quota.Consume(month)
			issues = append(issues, model.Issue{
				Date:            day.Date,
				Kind:            model.IssueForgetPunch,
				DurationMinutes: 0, // 忘刷卡不需要请假
				Description:     fmt.Sprintf("遲到%d分鐘，建議使用忘刷卡 🔄✅", lateMinutes),
				TimeRange:       lateRange,
				Calculation: fmt.Sprintf("%s (使用忘刷卡，本月剩餘: %d次)",
					lateCalc, remaining-1),
			})
		} else {
			reason := "本月忘刷卡額度已用完"
			if lateMinutes > e.rules.ForgetPunchMaxMinutes {
				reason = "超過1小時"
			}
			issues = append(issues, model.Issue{
				Date:            day.Date,
				Kind:            model.IssueLate,
				DurationMinutes: lateMinutes,
				Description:     fmt.Sprintf("遲到%d分鐘 ⏱️ (%s)", lateMinutes, reason),
				TimeRange:       lateRange,
				Calculation:     lateCalc,
			})
		}
	}

	overtimeMinutes, overtimeRange, overtimeCalc := e.overtimeMinutes(day)
	if overtimeMinutes >= e.rules.MinOvertimeMinutes {
		issues = append(issues, model.Issue{
			Date:            day.Date,
			Kind:            model.IssueOvertime,
			DurationMinutes: overtimeMinutes,
			Description: fmt.Sprintf("加班%d小時%d分鐘 💼",
				overtimeMinutes/60, overtimeMinutes%60),
			TimeRange:   overtimeRange,
			Calculation: overtimeCalc,
		})
	}

	return issues
}

// lateMinutes 计算迟到分钟数，返回 (分钟, 时段, 计算式)
// 迟到超过 2 小时且实际上班晚于午休开始时，扣除 1 小时午休
func (e *Engine) lateMinutes(day *model.WorkdayRecord) (int, string, string) {
	if day.CheckIn == nil || !day.CheckIn.HasActual() {
		return 0, "", ""
	}

	latest := atTime(day.Date, e.rules.LatestCheckin)
	actual := day.CheckIn.ActualTime
	if !actual.After(latest) {
		return 0, "", ""
	}

	rawMinutes := int(actual.Sub(latest).Minutes())
	lateMinutes := rawMinutes
	calc := fmt.Sprintf("實際上班: %s, 最晚上班: %s, 遲到: %d分鐘",
		actual.Format("15:04"), e.rules.LatestCheckin, rawMinutes)

	if rawMinutes > 120 {
		lunchStart := atTime(day.Date, e.rules.LunchStart)
		if actual.After(lunchStart) {
			lateMinutes -= 60
			calc = fmt.Sprintf("實際上班: %s, 最晚上班: %s, 遲到: %d分鐘 - 60分鐘午休 = %d分鐘",
				actual.Format("15:04"), e.rules.LatestCheckin, rawMinutes, lateMinutes)
		}
	}

	timeRange := fmt.Sprintf("%s~%s", e.rules.LatestCheckin, actual.Format("15:04"))
	return lateMinutes, timeRange, calc
}

// overtimeMinutes 计算可申请加班分钟数，返回 (分钟, 时段, 计算式)
// 预期下班 = 实际上班 + 工时 + 午休；超出不足 60 分钟不计，
// 超出部分向下取整到 60 + n×增量
func (e *Engine) overtimeMinutes(day *model.WorkdayRecord) (int, string, string) {
	if day.CheckIn == nil || !day.CheckIn.HasActual() ||
		day.CheckOut == nil || !day.CheckOut.HasActual() {
		return 0, "", ""
	}

	expectedEnd := day.CheckIn.ActualTime.Add(
		time.Duration(e.rules.WorkHours+e.rules.LunchHours) * time.Hour)
	actualEnd := day.CheckOut.ActualTime
	if !actualEnd.After(expectedEnd) {
		return 0, "", ""
	}

	actualMinutes := int(actualEnd.Sub(expectedEnd).Minutes())
	if actualMinutes < e.rules.MinOvertimeMinutes {
		return 0, "", ""
	}

	intervals := (actualMinutes - e.rules.MinOvertimeMinutes) / e.rules.OvertimeIncrementMinutes
	applicable := e.rules.MinOvertimeMinutes + intervals*e.rules.OvertimeIncrementMinutes

	timeRange := fmt.Sprintf("%s~%s", expectedEnd.Format("15:04"), actualEnd.Format("15:04"))
	calc := fmt.Sprintf("預期下班: %s, 實際下班: %s, 實際加班: %d分鐘, 可申請: %d分鐘",
		expectedEnd.Format("15:04"), actualEnd.Format("15:04"), actualMinutes, applicable)
	return applicable, timeRange, calc
}

// atTime 将 HH:MM 叠加到日期上
func atTime(date time.Time, hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return date
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		t.Hour(), t.Minute(), 0, 0, date.Location())
}
