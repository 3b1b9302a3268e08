package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server  ServerConfig  `toml:"server"`
	Data    DataConfig    `toml:"data"`
	Rules   RulesConfig   `toml:"rules"`
	Holiday HolidayConfig `toml:"holiday"`
	State   StateConfig   `toml:"state"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port    int  `toml:"port"`
	DevMode bool `toml:"dev_mode"`
}

// DataConfig 数据目录配置
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// RulesConfig 考勤规则配置，时间均为固定本地时区的 HH:MM
type RulesConfig struct {
	EarliestCheckin              string `toml:"earliest_checkin"`
	LatestCheckin                string `toml:"latest_checkin"`
	LunchStart                   string `toml:"lunch_start"`
	LunchEnd                     string `toml:"lunch_end"`
	WorkHours                    int    `toml:"work_hours"`
	LunchHours                   int    `toml:"lunch_hours"`
	MinOvertimeMinutes           int    `toml:"min_overtime_minutes"`
	OvertimeIncrementMinutes     int    `toml:"overtime_increment_minutes"`
	ForgetPunchAllowancePerMonth int    `toml:"forget_punch_allowance_per_month"`
	ForgetPunchMaxMinutes        int    `toml:"forget_punch_max_minutes"`
}

// HolidayConfig 假日 API 重试参数
type HolidayConfig struct {
	MaxRetries  int     `toml:"max_retries"`
	BackoffBase float64 `toml:"backoff_base_seconds"`
	MaxBackoff  float64 `toml:"max_backoff_seconds"`
	Endpoint    string  `toml:"endpoint"`
}

// StateConfig 增量状态存储配置
type StateConfig struct {
	// Backend: file | sqlite
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:    8088,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir: "data",
		},
		Rules: RulesConfig{
			EarliestCheckin:              "08:30",
			LatestCheckin:                "10:30",
			LunchStart:                   "12:30",
			LunchEnd:                     "13:30",
			WorkHours:                    8,
			LunchHours:                   1,
			MinOvertimeMinutes:           60,
			OvertimeIncrementMinutes:     30,
			ForgetPunchAllowancePerMonth: 2,
			ForgetPunchMaxMinutes:        60,
		},
		Holiday: HolidayConfig{
			MaxRetries:  3,
			BackoffBase: 0.5,
			MaxBackoff:  8,
			Endpoint:    "https://data.gov.tw/api/v1/rest/datastore_search",
		},
		State: StateConfig{
			Backend: "file",
			Path:    "attendance_state.json",
		},
	}
}

// BackoffBaseDuration 重试基础间隔
func (h HolidayConfig) BackoffBaseDuration() time.Duration {
	return time.Duration(h.BackoffBase * float64(time.Second))
}

// MaxBackoffDuration 重试间隔上限
func (h HolidayConfig) MaxBackoffDuration() time.Duration {
	return time.Duration(h.MaxBackoff * float64(time.Second))
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// LoadConfig 从可执行文件同目录的 config.toml 加载配置
// 文件不存在时返回默认配置；环境变量优先级最高
func LoadConfig() (*AppConfig, error) {
	config := DefaultConfig()

	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}

	configPath := filepath.Join(exeDir, "config.toml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(config)
			return config, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides 环境变量覆盖（用于容器部署 / E2E）
func applyEnvOverrides(config *AppConfig) {
	if v := os.Getenv("FHR_STATE_FILE"); v != "" {
		config.State.Path = v
	}
	if v := os.Getenv("HOLIDAY_API_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Holiday.MaxRetries = n
		}
	}
	if v := os.Getenv("HOLIDAY_API_BACKOFF_BASE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			config.Holiday.BackoffBase = f
		}
	}
	if v := os.Getenv("HOLIDAY_API_MAX_BACKOFF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			config.Holiday.MaxBackoff = f
		}
	}
}

// SaveConfig 保存配置到 config.toml
func SaveConfig(config *AppConfig) error {
	exeDir, err := GetExeDir()
	if err != nil {
		exeDir = "."
	}

	configPath := filepath.Join(exeDir, "config.toml")

	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// EnsureDataDir 确保数据目录及子目录存在
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := config.Data.DataDir
	if !filepath.IsAbs(dataDir) {
		exeDir, err := GetExeDir()
		if err != nil {
			exeDir = "."
		}
		dataDir = filepath.Join(exeDir, dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	// 创建子目录
	subdirs := []string{"uploads", "outputs", "canonical"}
	for _, subdir := range subdirs {
		path := filepath.Join(dataDir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
	}

	return dataDir, nil
}
