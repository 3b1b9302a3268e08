package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"fhr/internal/config"
)

// Provider 假日来源，按优先级组成链，首个非空结果胜出
type Provider interface {
	Name() string
	Load(ctx context.Context, year int) (map[string]bool, error)
}

// referenceYear 硬编码假日表对应的基准年
const referenceYear = 2025

// hardcoded2025 台湾 2025 年（民国 114 年）国定假日
var hardcoded2025 = []string{
	// 元旦
	"2025-01-01",
	// 農曆春節
	"2025-01-25", "2025-01-26", "2025-01-27", "2025-01-28", "2025-01-29",
	"2025-01-30", "2025-01-31", "2025-02-01", "2025-02-02",
	// 和平紀念日
	"2025-02-28", "2025-03-01", "2025-03-02",
	// 兒童節/清明節
	"2025-04-03", "2025-04-04", "2025-04-05", "2025-04-06",
	// 端午節
	"2025-05-30", "2025-05-31", "2025-06-01",
	// 中秋節
	"2025-10-04", "2025-10-05", "2025-10-06",
	// 國慶日
	"2025-10-10", "2025-10-11", "2025-10-12",
}

// HardcodedProvider 基准年硬编码假日表（快速路径，无 I/O）
type HardcodedProvider struct{}

func (HardcodedProvider) Name() string { return "hardcoded" }

func (HardcodedProvider) Load(_ context.Context, year int) (map[string]bool, error) {
	if year != referenceYear {
		return nil, nil
	}
	out := make(map[string]bool, len(hardcoded2025))
	for _, d := range hardcoded2025 {
		out[d] = true
	}
	return out, nil
}

// FixedProvider 基本固定假日兜底（元旦、国庆日），任何年份可用
type FixedProvider struct{}

func (FixedProvider) Name() string { return "fixed" }

func (FixedProvider) Load(_ context.Context, year int) (map[string]bool, error) {
	return map[string]bool{
		fmt.Sprintf("%04d-01-01", year): true,
		fmt.Sprintf("%04d-10-10", year): true,
	}, nil
}

// GovOpenDataProvider 政府开放资料平台假日 API，带重试
type GovOpenDataProvider struct {
	Endpoint string
	Client   *http.Client
	Policy   RetryPolicy
	Logger   *slog.Logger
}

// NewGovOpenDataProvider 按配置创建动态假日来源
func NewGovOpenDataProvider(cfg config.HolidayConfig) *GovOpenDataProvider {
	return &GovOpenDataProvider{
		Endpoint: cfg.Endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Policy: RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.BackoffBaseDuration(),
			MaxDelay:    cfg.MaxBackoffDuration(),
		},
		Logger: slog.Default(),
	}
}

func (p *GovOpenDataProvider) Name() string { return "gov-opendata" }

// govRecord API 回应中的单笔假日记录
type govRecord struct {
	Date      string `json:"date"`
	IsHoliday int    `json:"isHoliday"`
}

type govResponse struct {
	Result struct {
		Records []govRecord `json:"records"`
	} `json:"result"`
}

var errEmptyRecords = errors.New("假日 API 回传空记录")

func (p *GovOpenDataProvider) Load(ctx context.Context, year int) (map[string]bool, error) {
	reqURL := fmt.Sprintf(`%s?resource_id=W2&filters={"date":"%d"}`, p.Endpoint, year)
	if _, err := url.Parse(reqURL); err != nil {
		return nil, err
	}

	var holidays map[string]bool
	err := p.Policy.Do(ctx, func(attempt int) error {
		p.logger().Info("尝试载入年度假日",
			"year", year, "attempt", attempt, "max", p.Policy.MaxAttempts)
		out, err := p.fetch(ctx, reqURL)
		if err != nil {
			return err
		}
		holidays = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return holidays, nil
}

func (p *GovOpenDataProvider) fetch(ctx context.Context, reqURL string) (map[string]bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &httpStatusError{StatusCode: resp.StatusCode}
	}

	var payload govResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	out := make(map[string]bool)
	for _, record := range payload.Result.Records {
		if record.IsHoliday != 1 || record.Date == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", record.Date); err != nil {
			p.logger().Warn("跳过无效的假日日期", "date", record.Date)
			continue
		}
		out[record.Date] = true
	}
	if len(out) == 0 {
		return nil, errEmptyRecords
	}
	return out, nil
}

func (p *GovOpenDataProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *GovOpenDataProvider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
