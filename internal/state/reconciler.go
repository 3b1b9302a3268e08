package state

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"fhr/internal/model"
	"fhr/internal/parser"
	"fhr/internal/policy"
)

// Mode 分析模式
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// Request 一次对账请求
type Request struct {
	SourcePath string
	Mode       Mode
	ResetState bool
	// Debug 模式跳过状态写入
	Debug bool
}

// ErrResetUnidentifiedUser 档名无法识别使用者时拒绝重设状态，
// 避免呼叫端误以为历史已被清除
var ErrResetUnidentifiedUser = errors.New("无法从档名识别使用者，无法执行状态重设")

// StatusSummary 已全部覆盖的重复提交返回的状态摘要
type StatusSummary struct {
	LastDate         string
	CompleteDays     int
	LastAnalysisTime string
}

// Result 对账结果
type Result struct {
	User          string
	StartDate     time.Time
	EndDate       time.Time
	StateTracked  bool
	RequestedMode Mode
	EffectiveMode Mode
	FirstTimeUser bool
	ResetApplied  bool

	Issues            []model.Issue
	NewDays           int
	TotalCompleteDays int
	Status            *StatusSummary
}

// Reconciler 增量对账管理器：追踪每位使用者已分析的日期范围与月度额度，
// 仅对新日期执行分类引擎，并原子持久化整体状态
type Reconciler struct {
	repo   Repository
	engine *policy.Engine
	locks  *UserLocks
	logger *slog.Logger
}

// NewReconciler 创建对账管理器
func NewReconciler(repo Repository, engine *policy.Engine) *Reconciler {
	return &Reconciler{
		repo:   repo,
		engine: engine,
		locks:  NewUserLocks(),
		logger: slog.Default(),
	}
}

// quotaCounter 将月度额度映射适配为 policy.QuotaView
type quotaCounter struct {
	counts map[string]int
}

func (q *quotaCounter) Used(month string) int { return q.counts[month] }
func (q *quotaCounter) Consume(month string)  { q.counts[month]++ }

// Reconcile 执行一次分析对账
//
// 档名不符合约定时降级为全量分析且不更新状态（对呼叫端可见，不静默隐藏）；
// 此时请求重设状态会返回 ErrResetUnidentifiedUser 而非静默跳过。
// 同一使用者的请求以互斥锁串行化；取消检查按天进行，绝不中断原子状态写入
func (r *Reconciler) Reconcile(ctx context.Context, req Request, workdays []*model.WorkdayRecord, holidays map[string]bool) (*Result, error) {
	result := &Result{
		RequestedMode: req.Mode,
		EffectiveMode: req.Mode,
	}

	info, tracked := parser.ParseSourceName(req.SourcePath)
	if !tracked && req.ResetState {
		return nil, ErrResetUnidentifiedUser
	}
	if tracked {
		result.User = info.User
		result.StartDate = info.StartDate
		result.EndDate = info.EndDate
		result.StateTracked = true
	} else {
		r.logger.Warn("档名不符合约定，降级为全量分析且不更新状态",
			"source", filepath.Base(req.SourcePath))
		result.EffectiveMode = ModeFull
	}

	repo := r.repo
	if req.Debug {
		repo = ReadOnly(repo)
	}

	var userState *UserProcessingState
	if tracked {
		unlock := r.locks.Lock(info.User)
		defer unlock()

		if req.ResetState {
			if req.Debug {
				r.logger.Debug("Debug 模式：略过清除使用者状态", "user", info.User)
			} else {
				if err := r.repo.Delete(info.User); err != nil {
					return nil, err
				}
				result.ResetApplied = true
			}
		}

		loaded, err := repo.Load(info.User)
		if err != nil {
			return nil, err
		}
		userState = loaded
		result.FirstTimeUser = len(userState.ProcessedRanges) == 0
	} else {
		userState = NewUserProcessingState()
	}

	// 首次使用者即使请求增量也等效于全量
	if result.FirstTimeUser && result.EffectiveMode == ModeIncremental {
		result.EffectiveMode = ModeFull
	}

	completeDays := parser.CompleteDays(workdays)
	result.TotalCompleteDays = len(completeDays)

	// 新日期集合：增量模式扣除已覆盖天数；全量模式全部重新分类
	newDaySet := make(map[string]bool)
	incremental := req.Mode == ModeIncremental && tracked
	for _, day := range completeDays {
		if !incremental || !userState.Covers(day.Date) {
			newDaySet[day.Date.Format(dateLayout)] = true
		}
	}

	// 已全部覆盖的重复提交：零新问题 + 状态摘要，状态保持原样
	if incremental && len(newDaySet) == 0 {
		result.Status = r.statusSummary(userState, completeDays)
		return result, nil
	}

	// 额度计数：增量模式基于既有使用量续算；全量模式整月重算
	quota := &quotaCounter{counts: map[string]int{}}
	if incremental {
		for month, used := range userState.ForgetPunchUsage {
			quota.counts[month] = used
		}
	}

	priorState := userState
	for _, day := range completeDays {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := day.Date.Format(dateLayout)
		if incremental && !newDaySet[key] {
			continue
		}
		for _, issue := range r.engine.EvaluateDay(day, holidays, quota) {
			issue.IsNew = !priorState.Covers(day.Date)
			result.Issues = append(result.Issues, issue)
		}
	}
	result.NewDays = countNewDays(priorState, completeDays)

	if tracked && !req.Debug {
		for month, used := range quota.counts {
			userState.ForgetPunchUsage[month] = used
		}
		userState.MergeRange(ProcessedRange{
			StartDate:        info.StartDate.Format(dateLayout),
			EndDate:          info.EndDate.Format(dateLayout),
			SourceFile:       filepath.Base(req.SourcePath),
			LastAnalysisTime: time.Now().Format(time.RFC3339),
		})
		if err := repo.Save(info.User, userState); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// LastAnalysisTime 返回使用者最近一次分析时间
func (r *Reconciler) LastAnalysisTime(user string) (string, error) {
	s, err := r.repo.Load(user)
	if err != nil {
		return "", err
	}
	return s.LastAnalysisTime(), nil
}

func (r *Reconciler) statusSummary(s *UserProcessingState, completeDays []*model.WorkdayRecord) *StatusSummary {
	lastDate := ""
	for _, day := range completeDays {
		if key := day.Date.Format(dateLayout); key > lastDate {
			lastDate = key
		}
	}
	return &StatusSummary{
		LastDate:         lastDate,
		CompleteDays:     len(completeDays),
		LastAnalysisTime: s.LastAnalysisTime(),
	}
}

func countNewDays(prior *UserProcessingState, completeDays []*model.WorkdayRecord) int {
	n := 0
	for _, day := range completeDays {
		if !prior.Covers(day.Date) {
			n++
		}
	}
	return n
}
