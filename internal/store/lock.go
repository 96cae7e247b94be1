package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked 表示锁文件已被另一个进程持有。
var ErrLocked = errors.New("storage locked by another process")

// FileLock 为跨进程的独占锁。持有者是账本与自选列表的唯一写入方。
type FileLock struct {
	lock *flock.Flock
}

// AcquireLock 非阻塞地获取锁，已被占用时返回 ErrLocked。
func AcquireLock(path string) (*FileLock, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: 创建锁文件目录失败: %w", ErrPersistence, err)
		}
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: 获取锁失败: %w", ErrPersistence, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &FileLock{lock: fl}, nil
}

// Path 返回锁文件路径。
func (l *FileLock) Path() string {
	return l.lock.Path()
}

// Release 释放锁，重复调用无副作用。
func (l *FileLock) Release() error {
	return l.lock.Unlock()
}
