package calendar

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"
)

// RetryPolicy 可复用的重试策略：指数退避 + 抖动，带可重试判定
// 总等待时间上界为 MaxAttempts × MaxDelay
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable 判定错误是否可重试；nil 时使用 DefaultRetryable
	Retryable func(error) bool
}

// httpStatusError 带状态码的 HTTP 错误，供重试判定使用
type httpStatusError struct {
	StatusCode int
}

func (e *httpStatusError) Error() string {
	return "http status " + http.StatusText(e.StatusCode)
}

// DefaultRetryable 超时、连线错误与 HTTP 429/5xx 可重试；
// 其余 4xx 与无法归类的确定性错误（如回应解码失败）立即失败
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// url.Error 包装连线层错误，允许重试
		return true
	}

	return false
}

// Do 执行 fn 直到成功、不可重试或次数用尽
// attempt 从 1 开始；MaxAttempts 为 0 时仍执行一次
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts {
			return lastErr
		}
		if err := sleepWithContext(ctx, p.delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// delay 第 attempt 次失败后的等待: base, base*2, base*4, ... 封顶 MaxDelay，±10% 抖动
func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = base
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/5+1)) - delay/10
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
