// Package cleanup 实现导出产物清理的两阶段协议：
// preview 枚举候选删除集并计算内容指纹，confirm 重算指纹比对后才执行删除。
// 过期检测纯粹基于内容差异（乐观并发 / CAS），没有基于时间的 token 失效
package cleanup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// 时间戳备份档名的中段: stem_YYYYMMDD_HHMMSS.ext
var timestampPattern = regexp.MustCompile(`^\d{8}_\d{6}$`)

// FileInfo 候选档案指纹要素
type FileInfo struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

// Snapshot 候选删除集的确定性快照
type Snapshot struct {
	Backups         []FileInfo `json:"backups"`
	Canonical       *FileInfo  `json:"canonical"`
	DeleteCanonical bool       `json:"delete_canonical"`
	ExportPolicy    string     `json:"export_policy"`
}

// Item 预览项
type Item struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"` // backup | canonical
	Size   int64  `json:"size"`
	Mtime  int64  `json:"mtime"`
	Delete bool   `json:"delete"`
}

// Preview 预览结果，token 与 snapshot 由 confirm 阶段原样提交回来
type Preview struct {
	Items    []Item   `json:"items"`
	Token    string   `json:"token"`
	Snapshot Snapshot `json:"snapshot"`
}

// Token 快照的 SHA-256 内容指纹
func Token(s Snapshot) string {
	serialized, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

// ListBackups 列出 canonical 导出档的时间戳备份（仅同目录）
func ListBackups(canonicalPath string) ([]string, error) {
	canonicalPath = filepath.Clean(canonicalPath)
	for _, part := range strings.Split(canonicalPath, string(os.PathSeparator)) {
		if part == ".." {
			return nil, fmt.Errorf("路径包含目录穿越: %s", canonicalPath)
		}
	}

	dir, name := filepath.Split(canonicalPath)
	if dir == "" {
		dir = "."
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var backups []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if matchTimestampedName(stem, ext, entry.Name()) {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}
	return backups, nil
}

func matchTimestampedName(stem, ext, candidate string) bool {
	if !strings.HasPrefix(candidate, stem+"_") {
		return false
	}
	if ext != "" && !strings.HasSuffix(candidate, ext) {
		return false
	}
	middle := strings.TrimSuffix(candidate[len(stem)+1:], ext)
	return timestampPattern.MatchString(middle)
}

// BuildSnapshot 构建当前档案系统状态的快照；备份按档名排序保证确定性
func BuildSnapshot(canonicalPath string, debug bool, exportPolicy string) (Snapshot, error) {
	snapshot := Snapshot{
		Backups:         []FileInfo{},
		DeleteCanonical: debug,
		ExportPolicy:    exportPolicy,
	}

	backups, err := ListBackups(canonicalPath)
	if err != nil {
		return snapshot, err
	}
	for _, backup := range backups {
		stat, err := os.Stat(backup)
		if err != nil {
			continue
		}
		snapshot.Backups = append(snapshot.Backups, FileInfo{
			Name:  filepath.Base(backup),
			Size:  stat.Size(),
			Mtime: stat.ModTime().UnixNano(),
		})
	}
	sortFileInfos(snapshot.Backups)

	if stat, err := os.Stat(canonicalPath); err == nil {
		snapshot.Canonical = &FileInfo{
			Name:  filepath.Base(canonicalPath),
			Size:  stat.Size(),
			Mtime: stat.ModTime().UnixNano(),
		}
	}
	return snapshot, nil
}

// BuildPreview 预览阶段：枚举候选集并计算 token，无任何副作用
func BuildPreview(canonicalPath string, debug bool, exportPolicy string) (Preview, error) {
	snapshot, err := BuildSnapshot(canonicalPath, debug, exportPolicy)
	if err != nil {
		return Preview{}, err
	}

	items := make([]Item, 0, len(snapshot.Backups)+1)
	for _, backup := range snapshot.Backups {
		items = append(items, Item{
			Name:   backup.Name,
			Kind:   "backup",
			Size:   backup.Size,
			Mtime:  backup.Mtime,
			Delete: true,
		})
	}
	if snapshot.Canonical != nil {
		items = append(items, Item{
			Name:   snapshot.Canonical.Name,
			Kind:   "canonical",
			Size:   snapshot.Canonical.Size,
			Mtime:  snapshot.Canonical.Mtime,
			Delete: debug,
		})
	}

	return Preview{
		Items:    items,
		Token:    Token(snapshot),
		Snapshot: snapshot,
	}, nil
}

// StrictEqual 严格比对提交的快照与当前状态
func StrictEqual(expected, current Snapshot) bool {
	if expected.DeleteCanonical != current.DeleteCanonical {
		return false
	}
	if expected.ExportPolicy != current.ExportPolicy {
		return false
	}
	if !backupsEqual(expected.Backups, current.Backups) {
		return false
	}
	return (expected.Canonical != nil) == (current.Canonical != nil)
}

// Compatible 导出后的比对：archive 策略允许 canonical 改名产生的恰好一个新备份
// （大小等于预览时的 canonical）；任何既有备份消失都视为过期
func Compatible(preview, current Snapshot, exportPolicy string) bool {
	if preview.DeleteCanonical != current.DeleteCanonical {
		return false
	}
	if preview.ExportPolicy != current.ExportPolicy {
		return false
	}

	expected := backupMap(preview.Backups)
	actual := backupMap(current.Backups)

	if exportPolicy != "archive" {
		return mapsEqual(expected, actual)
	}
	if mapsEqual(expected, actual) {
		return true
	}

	for name := range expected {
		if _, ok := actual[name]; !ok {
			return false
		}
	}

	var added []string
	for name := range actual {
		if _, ok := expected[name]; !ok {
			added = append(added, name)
		}
	}
	if len(added) != 1 {
		return false
	}
	if preview.Canonical == nil {
		// 预览时没有 canonical，不应出现新备份
		return false
	}
	return actual[added[0]].Size == preview.Canonical.Size
}

// Execute 执行删除，返回实际删除的路径
// 备份删除失败仅记录日志（允许部分清理）；canonical 删除失败则回传错误
func Execute(canonicalPath string, includeCanonical bool) ([]string, error) {
	removed := []string{}

	backups, err := ListBackups(canonicalPath)
	if err != nil {
		return removed, err
	}
	for _, backup := range backups {
		if err := os.Remove(backup); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			slog.Warn("删除备份失败", "path", backup, "error", err)
			continue
		}
		removed = append(removed, backup)
	}

	if includeCanonical {
		if err := os.Remove(canonicalPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return removed, fmt.Errorf("删除 canonical 导出档失败: %w", err)
			}
		} else {
			removed = append(removed, canonicalPath)
		}
	}
	return removed, nil
}

func backupsEqual(a, b []FileInfo) bool {
	return mapsEqual(backupMap(a), backupMap(b))
}

func backupMap(infos []FileInfo) map[string]FileInfo {
	out := make(map[string]FileInfo, len(infos))
	for _, info := range infos {
		out[info.Name] = info
	}
	return out
}

func mapsEqual(a, b map[string]FileInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for name, info := range a {
		if other, ok := b[name]; !ok || other != info {
			return false
		}
	}
	return true
}

func sortFileInfos(infos []FileInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
}
