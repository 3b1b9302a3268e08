package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestRetryPolicyStopsOnNonRetryable(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	err := policy.Do(context.Background(), func(attempt int) error {
		calls++
		return &httpStatusError{StatusCode: http.StatusBadRequest}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (4xx not retryable)", calls)
	}
}

func TestRetryPolicyRetriesServerError(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	err := policy.Do(context.Background(), func(attempt int) error {
		calls++
		if calls < 3 {
			return &httpStatusError{StatusCode: http.StatusInternalServerError}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("boom")
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Retryable:   func(error) bool { return true },
	}
	err := policy.Do(context.Background(), func(attempt int) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicyHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}
	err := policy.Do(ctx, func(attempt int) error {
		cancel()
		return &httpStatusError{StatusCode: http.StatusInternalServerError}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDefaultRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"429", &httpStatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"500", &httpStatusError{StatusCode: http.StatusInternalServerError}, true},
		{"404", &httpStatusError{StatusCode: http.StatusNotFound}, false},
		{"connection layer", &url.Error{Op: "Get", URL: "http://example", Err: errors.New("connection reset")}, true},
		{"decode failure", errors.New("invalid character 'x'"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := DefaultRetryable(c.err); got != c.want {
				t.Errorf("DefaultRetryable(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestDelayCappedByMaxDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	for attempt := 1; attempt <= 8; attempt++ {
		d := policy.delay(attempt)
		// 抖动上限为 +10%
		if d > 330*time.Millisecond {
			t.Fatalf("delay(%d) = %v, exceeds cap", attempt, d)
		}
	}
}
