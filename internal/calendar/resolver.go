package calendar

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fhr/internal/config"
)

// Resolver 假日解析器：按优先级尝试来源链，并缓存进程生命周期内已解析的年份
// Holidays 永不失败，至少返回基本固定假日
type Resolver struct {
	providers []Provider
	fallback  Provider
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[int]map[string]bool
}

// NewResolver 创建默认来源链：硬编码基准年 → 政府开放资料 → 基本固定假日
func NewResolver(cfg config.HolidayConfig) *Resolver {
	return NewResolverWithProviders(
		[]Provider{HardcodedProvider{}, NewGovOpenDataProvider(cfg)},
		FixedProvider{},
	)
}

// NewResolverWithProviders 自定义来源链，fallback 必须是不会失败的本地来源
func NewResolverWithProviders(providers []Provider, fallback Provider) *Resolver {
	return &Resolver{
		providers: providers,
		fallback:  fallback,
		logger:    slog.Default(),
		cache:     make(map[int]map[string]bool),
	}
}

// Holidays 返回指定年份的假日集合，键为 YYYY-MM-DD
func (r *Resolver) Holidays(ctx context.Context, year int) map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[year]; ok {
		return cached
	}

	for _, provider := range r.providers {
		holidays, err := provider.Load(ctx, year)
		if err != nil {
			r.logger.Warn("假日来源失败",
				"provider", provider.Name(), "year", year, "error", err)
			continue
		}
		if len(holidays) > 0 {
			r.cache[year] = holidays
			return holidays
		}
	}

	// 兜底：仅载入基本固定假日
	r.logger.Warn("无法取得完整假日资料，仅载入基本固定假日", "year", year)
	holidays, _ := r.fallback.Load(ctx, year)
	r.cache[year] = holidays
	return holidays
}

// HolidaysForYears 合并多个年份的假日集合
func (r *Resolver) HolidaysForYears(ctx context.Context, years map[int]bool) map[string]bool {
	out := make(map[string]bool)
	for year := range years {
		for d := range r.Holidays(ctx, year) {
			out[d] = true
		}
	}
	return out
}

// DateKey 假日集合的键格式
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
