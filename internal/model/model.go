package model

import "time"

// PunchDirection 打卡方向（上班/下班）
type PunchDirection int

const (
	DirectionCheckIn PunchDirection = iota
	DirectionCheckOut
)

func (d PunchDirection) String() string {
	if d == DirectionCheckIn {
		return "上班"
	}
	return "下班"
}

// PunchEvent 单条打卡记录，对应出勤档案的一行（9 个 tab 分隔栏位）
// 解析完成后不可变
type PunchEvent struct {
	Date          time.Time
	ScheduledTime time.Time
	ActualTime    time.Time // 零值表示缺卡
	Direction     PunchDirection
	CardNumber    string
	Source        string
	Status        string
	Processed     string
	Operation     string
	Note          string
}

// HasActual 是否有实际打卡时间
func (e *PunchEvent) HasActual() bool {
	return e != nil && !e.ActualTime.IsZero()
}

// WorkdayRecord 一个日期的上下班打卡组合
type WorkdayRecord struct {
	Date     time.Time
	CheckIn  *PunchEvent
	CheckOut *PunchEvent
}

// Complete 上下班两个班别都存在即视为完整工作日（缺卡也算完整）
func (w *WorkdayRecord) Complete() bool {
	return w.CheckIn != nil && w.CheckOut != nil
}

// FullDayAbsent 完整工作日中上下班实际打卡皆缺，视为整天未进公司；
// 只缺单边仍按迟到/加班规则处理
func (w *WorkdayRecord) FullDayAbsent() bool {
	if !w.Complete() {
		return false
	}
	return !w.CheckIn.HasActual() && !w.CheckOut.HasActual()
}

// IsFriday 是否为周五
func (w *WorkdayRecord) IsFriday() bool {
	return w.Date.Weekday() == time.Friday
}

// IssueKind 问题分类
type IssueKind string

const (
	IssueLate         IssueKind = "LATE"
	IssueOvertime     IssueKind = "OVERTIME"
	IssueForgetPunch  IssueKind = "FORGET_PUNCH"
	IssueWFH          IssueKind = "WFH"
	IssueWeekdayLeave IssueKind = "WEEKDAY_LEAVE"
)

// Label 报表用的中文名称
func (k IssueKind) Label() string {
	switch k {
	case IssueLate:
		return "遲到"
	case IssueOvertime:
		return "加班"
	case IssueForgetPunch:
		return "忘刷卡"
	case IssueWFH:
		return "WFH假"
	case IssueWeekdayLeave:
		return "請假"
	}
	return string(k)
}

// Issue 单日分析结论
type Issue struct {
	Date            time.Time
	Kind            IssueKind
	DurationMinutes int
	Description     string
	TimeRange       string
	Calculation     string
	// IsNew 由增量分析设置：是否为本次新发现
	IsNew bool
}
