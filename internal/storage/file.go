package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileBackend 每个集合一个 JSON 文件，兼容旧版 db/*.json 目录
// 版本取文件内容的 FNV-64a 哈希；同进程内的写入由互斥锁串行化
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

var _ CollectionBackend = (*FileBackend)(nil)

func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("数据目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

func (f *FileBackend) Load(_ context.Context, name string) ([]byte, Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(name)
}

func (f *FileBackend) read(name string) ([]byte, Version, error) {
	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("读取集合 %s 失败: %w", name, err)
	}
	return data, contentVersion(data), nil
}

func (f *FileBackend) Save(_ context.Context, name string, data []byte, expected Version) (Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, current, err := f.read(name)
	if err != nil {
		return "", err
	}
	if current != expected {
		return current, fmt.Errorf("%s: %w", name, ErrVersionConflict)
	}

	// 先写临时文件再 rename，避免读到半个文件
	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("写入集合 %s 失败: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("写入集合 %s 失败: %w", name, err)
	}
	if err := os.Rename(tmpName, f.path(name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("替换集合文件 %s 失败: %w", name, err)
	}
	return contentVersion(data), nil
}

func contentVersion(data []byte) Version {
	h := fnv.New64a()
	h.Write(data)
	// 前缀长度避免空内容与不存在混淆
	return Version(strconv.Itoa(len(data)) + "-" + strconv.FormatUint(h.Sum64(), 16))
}
