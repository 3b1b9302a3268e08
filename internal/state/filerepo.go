package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// stateFile 状态档案的整体 JSON 结构
type stateFile struct {
	Users map[string]*UserProcessingState `json:"users"`
}

// FileRepository 单一 JSON 档案状态存储
// 进程内以互斥锁串行化，跨进程以 flock 档案锁保护读改写周期
type FileRepository struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFileRepository 创建档案存储，路径所在目录会自动建立
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Load 读取使用者状态；档案不存在返回空状态，内容损坏返回 ErrStateCorrupt
func (r *FileRepository) Load(user string) (*UserProcessingState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.readAllLocked()
	if err != nil {
		return nil, err
	}
	if s, ok := all.Users[user]; ok {
		return cloneState(s), nil
	}
	return NewUserProcessingState(), nil
}

// Save 整体保存：读取全档、替换该使用者、写临时档后 rename
func (r *FileRepository) Save(user string, s *UserProcessingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("取得状态档案锁失败: %w", err)
	}
	defer r.lock.Unlock()

	all, err := r.readAllLocked()
	if err != nil {
		return err
	}
	all.Users[user] = cloneState(s)
	return r.writeAllLocked(all)
}

// Delete 删除使用者状态；使用者不存在时为 no-op
func (r *FileRepository) Delete(user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("取得状态档案锁失败: %w", err)
	}
	defer r.lock.Unlock()

	all, err := r.readAllLocked()
	if err != nil {
		return err
	}
	if _, ok := all.Users[user]; !ok {
		return nil
	}
	delete(all.Users, user)
	return r.writeAllLocked(all)
}

// Close 实现 Repository 接口
func (r *FileRepository) Close() error {
	return nil
}

func (r *FileRepository) readAllLocked() (*stateFile, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &stateFile{Users: map[string]*UserProcessingState{}}, nil
		}
		return nil, err
	}

	var all stateFile
	if err := json.Unmarshal(data, &all); err != nil {
		// 损坏的状态档案必须大声失败，由使用者决定修复或显式重置
		return nil, fmt.Errorf("%w (%s): %v", ErrStateCorrupt, r.path, err)
	}
	if all.Users == nil {
		all.Users = map[string]*UserProcessingState{}
	}
	for _, s := range all.Users {
		if s.ProcessedRanges == nil {
			s.ProcessedRanges = []ProcessedRange{}
		}
		if s.ForgetPunchUsage == nil {
			s.ForgetPunchUsage = map[string]int{}
		}
	}
	return &all, nil
}

func (r *FileRepository) writeAllLocked(all *stateFile) error {
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func cloneState(s *UserProcessingState) *UserProcessingState {
	out := NewUserProcessingState()
	out.ProcessedRanges = append(out.ProcessedRanges, s.ProcessedRanges...)
	for k, v := range s.ForgetPunchUsage {
		out.ForgetPunchUsage[k] = v
	}
	return out
}
