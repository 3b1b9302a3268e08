package state

import "sync"

// UserLocks 按使用者串行化 load → merge → persist 周期，
// 避免同一使用者的并发请求交错读改写造成更新丢失；不同使用者互不阻塞
type UserLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUserLocks 创建锁表
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock 锁定使用者，返回解锁函数
func (l *UserLocks) Lock(user string) func() {
	l.mu.Lock()
	lock, ok := l.locks[user]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[user] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
