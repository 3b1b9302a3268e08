package config

import (
	"testing"
	"time"
)

func TestDefaultConfigRules(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Rules.EarliestCheckin != "08:30" || cfg.Rules.LatestCheckin != "10:30" {
		t.Errorf("checkin window = %s ~ %s", cfg.Rules.EarliestCheckin, cfg.Rules.LatestCheckin)
	}
	if cfg.Rules.WorkHours != 8 || cfg.Rules.LunchHours != 1 {
		t.Errorf("hours = %d + %d", cfg.Rules.WorkHours, cfg.Rules.LunchHours)
	}
	if cfg.Rules.MinOvertimeMinutes != 60 || cfg.Rules.OvertimeIncrementMinutes != 30 {
		t.Errorf("overtime = %d/%d", cfg.Rules.MinOvertimeMinutes, cfg.Rules.OvertimeIncrementMinutes)
	}
	if cfg.Rules.ForgetPunchAllowancePerMonth != 2 || cfg.Rules.ForgetPunchMaxMinutes != 60 {
		t.Errorf("forget punch = %d times / %d minutes",
			cfg.Rules.ForgetPunchAllowancePerMonth, cfg.Rules.ForgetPunchMaxMinutes)
	}
}

func TestHolidayBackoffDurations(t *testing.T) {
	h := HolidayConfig{BackoffBase: 0.5, MaxBackoff: 8}
	if h.BackoffBaseDuration() != 500*time.Millisecond {
		t.Errorf("base = %v", h.BackoffBaseDuration())
	}
	if h.MaxBackoffDuration() != 8*time.Second {
		t.Errorf("max = %v", h.MaxBackoffDuration())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FHR_STATE_FILE", "/tmp/custom_state.json")
	t.Setenv("HOLIDAY_API_MAX_RETRIES", "7")
	t.Setenv("HOLIDAY_API_BACKOFF_BASE", "0.1")
	t.Setenv("HOLIDAY_API_MAX_BACKOFF", "2")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.State.Path != "/tmp/custom_state.json" {
		t.Errorf("state path = %s", cfg.State.Path)
	}
	if cfg.Holiday.MaxRetries != 7 {
		t.Errorf("max retries = %d", cfg.Holiday.MaxRetries)
	}
	if cfg.Holiday.BackoffBase != 0.1 || cfg.Holiday.MaxBackoff != 2 {
		t.Errorf("backoff = %v/%v", cfg.Holiday.BackoffBase, cfg.Holiday.MaxBackoff)
	}
}

func TestEnvOverridesIgnoreInvalidValues(t *testing.T) {
	t.Setenv("HOLIDAY_API_MAX_RETRIES", "not-a-number")
	t.Setenv("HOLIDAY_API_BACKOFF_BASE", "-1")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Holiday.MaxRetries != 3 {
		t.Errorf("max retries = %d, want default 3", cfg.Holiday.MaxRetries)
	}
	if cfg.Holiday.BackoffBase != 0.5 {
		t.Errorf("backoff base = %v, want default 0.5", cfg.Holiday.BackoffBase)
	}
}
