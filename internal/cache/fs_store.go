package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const entrySuffix = ".entry"

// noExpiry 作为“永不过期”条目的 ModTime 哨兵值。
var noExpiry = time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewFileStore 以 basePath 为根目录构建文件缓存，整站复用一份实例。
// 条目的过期时间写入文件 ModTime，读取时据此判断是否过期。
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, errors.New("cache path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache path: %w", err)
	}

	return &FileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// FileStore 通过 entryLock 避免同一 key 并发写入；不支持标签失效。
type FileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// Get 读取未过期条目；过期条目会被顺手删除。
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	if expired(info.ModTime(), s.now()) {
		_ = s.Remove(ctx, key)
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

// Put 通过临时文件 + rename 原子写入，并把过期时间写入 ModTime。
func (s *FileStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(s.basePath, ".cache-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(value)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	expiresAt := expiryFor(s.now(), ttl)
	if expiresAt.IsZero() {
		expiresAt = noExpiry
	}
	if err := os.Chtimes(tempName, expiresAt, expiresAt); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Remove 删除条目文件，不存在时忽略。
func (s *FileStore) Remove(ctx context.Context, key string) error {
	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *FileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPath 把 key 转义成单层文件名，避免 key 中的分隔符逃出 basePath。
func (s *FileStore) entryPath(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("cache key required")
	}
	name := url.PathEscape(key)
	if name == "." || name == ".." {
		return "", errors.New("invalid cache key")
	}
	return filepath.Join(s.basePath, name+entrySuffix), nil
}

func expired(modTime, now time.Time) bool {
	if modTime.Equal(noExpiry) || modTime.After(noExpiry) {
		return false
	}
	return !now.Before(modTime)
}
