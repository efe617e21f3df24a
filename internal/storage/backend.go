package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

var (
	// ErrVersionConflict 保存时发现集合已被其他写入方修改
	ErrVersionConflict = errors.New("collection version conflict")
	// ErrRetriesExhausted 冲突重试次数用尽
	ErrRetriesExhausted = errors.New("collection update retries exhausted")
	// ErrLockNotAcquired 分布式锁被占用
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Version 集合版本标记，空串表示集合尚不存在
type Version string

// CollectionBackend 整集合读写，Save 以期望版本做比较并交换
type CollectionBackend interface {
	// Load 返回集合原始数据和当前版本，集合不存在时返回 (nil, "", nil)
	Load(ctx context.Context, name string) ([]byte, Version, error)
	// Save 仅当存储中的版本等于 expected 时写入，否则返回 ErrVersionConflict
	Save(ctx context.Context, name string, data []byte, expected Version) (Version, error)
}

// MemoryBackend 进程内实现，测试和单机演示使用
type MemoryBackend struct {
	mu    sync.Mutex
	data  map[string][]byte
	vers  map[string]int64
	saves int
}

var _ CollectionBackend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
		vers: make(map[string]int64),
	}
}

func (m *MemoryBackend) Load(_ context.Context, name string) ([]byte, Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vers[name]
	if !ok {
		return nil, "", nil
	}
	out := make([]byte, len(m.data[name]))
	copy(out, m.data[name])
	return out, memVersion(v), nil
}

func (m *MemoryBackend) Save(_ context.Context, name string, data []byte, expected Version) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := Version("")
	if v, ok := m.vers[name]; ok {
		current = memVersion(v)
	}
	if current != expected {
		return current, fmt.Errorf("%s: %w", name, ErrVersionConflict)
	}
	m.vers[name]++
	buf := make([]byte, len(data))
	copy(buf, data)
	m.data[name] = buf
	m.saves++
	return memVersion(m.vers[name]), nil
}

// Put 直接写入，不做版本比较，用于准备测试数据
func (m *MemoryBackend) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vers[name]++
	m.data[name] = append([]byte(nil), data...)
}

// Saves 成功 Save 的次数
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func memVersion(v int64) Version {
	return Version(strconv.FormatInt(v, 10))
}
