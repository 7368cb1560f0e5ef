package cache

import (
	"context"
	"errors"
	"time"
)

// Store 是最小化的 KV 缓存契约：读取未命中或已过期的条目时返回 ErrNotFound。
// 实现需保证并发安全。
type Store interface {
	// Get 返回未过期条目的原始字节。
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 写入条目；ttl <= 0 表示不过期。
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Remove 删除条目，不存在时不报错。
	Remove(ctx context.Context, key string) error
}

// TaggedStore 额外支持按标签分组失效，registry 在构造时检测一次该能力。
type TaggedStore interface {
	Store

	// PutTagged 写入条目并把它挂到给定标签下。
	PutTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error

	// FlushTag 删除标签下的全部条目，其它条目不受影响。
	FlushTag(ctx context.Context, tag string) error
}

// Entry 描述一个缓存条目，ExpiresAt 为零值表示不过期。
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
	Tags      []string
}

// Expired 判断条目在 now 时刻是否已过期。
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// expiryFor 根据 TTL 计算过期时间。
func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// ErrNotFound 表示缓存不存在或已过期。
var ErrNotFound = errors.New("cache entry not found")

// ErrUnavailable 表示缓存后端不可用，调用方应当直接向上返回，而不是重试。
var ErrUnavailable = errors.New("cache backend unavailable")
