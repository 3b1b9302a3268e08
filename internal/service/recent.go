package service

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const maxRecentFiles = 10

// recentFilePath 最近档案列表的存放路径，可用环境变量覆盖
func recentFilePath() string {
	if v := os.Getenv("FHR_RECENT_FILE"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fhr_recent.json"
	}
	return filepath.Join(home, ".fhr_recent.json")
}

// LoadRecentFiles 读取最近分析过的档案列表，最新在前
// 档案损坏或不存在时返回空列表
func LoadRecentFiles() []string {
	data, err := os.ReadFile(recentFilePath())
	if err != nil {
		return nil
	}
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	// 过滤已不存在的来源档
	kept := entries[:0]
	for _, p := range entries {
		if _, err := os.Stat(p); err == nil {
			kept = append(kept, p)
		}
	}
	return kept
}

// AddRecentFile 将档案加入最近列表首位并去重，原子写入
func AddRecentFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	entries := []string{abs}
	for _, p := range LoadRecentFiles() {
		if p == abs {
			continue
		}
		entries = append(entries, p)
		if len(entries) >= maxRecentFiles {
			break
		}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	target := recentFilePath()
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}
