package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 是进程内缓存，支持标签分组失效，过期条目在读取时惰性清理。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	tags    map[string]map[string]struct{}
	now     func() time.Time
}

var _ TaggedStore = (*MemoryStore)(nil)

// NewMemoryStore 构造空的进程内缓存，默认使用 time.Now 作为时钟。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// Get 返回未过期条目的副本。
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.Expired(s.now()) {
		s.removeLocked(key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.Value...), nil
}

// Put 写入不带标签的条目。
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.PutTagged(ctx, key, value, ttl)
}

// PutTagged 写入条目并登记标签；覆盖写入会替换旧标签。
func (s *MemoryStore) PutTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(key)
	s.entries[key] = Entry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		ExpiresAt: expiryFor(s.now(), ttl),
		Tags:      append([]string(nil), tags...),
	}
	for _, tag := range tags {
		members := s.tags[tag]
		if members == nil {
			members = make(map[string]struct{})
			s.tags[tag] = members
		}
		members[key] = struct{}{}
	}
	return nil
}

// Remove 删除条目及其标签登记。
func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	s.removeLocked(key)
	s.mu.Unlock()
	return nil
}

// FlushTag 删除挂在 tag 下的所有条目。
func (s *MemoryStore) FlushTag(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.tags[tag] {
		s.removeLocked(key)
	}
	delete(s.tags, tag)
	return nil
}

// Len 返回当前条目数（含尚未被惰性清理的过期条目），主要用于诊断。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys 返回按字典序排列的全部键。
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) removeLocked(key string) {
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	for _, tag := range entry.Tags {
		if members := s.tags[tag]; members != nil {
			delete(members, key)
			if len(members) == 0 {
				delete(s.tags, tag)
			}
		}
	}
	delete(s.entries, key)
}
