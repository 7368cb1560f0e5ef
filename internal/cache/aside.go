package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrTagsUnsupported 表示底层缓存不支持标签失效，调用方应改用逐 key 删除。
var ErrTagsUnsupported = errors.New("cache store does not support tags")

// AsideOptions 控制 cache-aside 读取的 TTL、分组标签与旁路模式。
type AsideOptions struct {
	TTL    time.Duration
	Tag    string
	Bypass bool
}

// Aside 封装 cache-aside 读取：命中直接返回，未命中时回源、写入并返回；
// 写操作只通过 Forget/Flush 失效，从不直接填充缓存。
//
// 每次失效都会推进 epoch。回源期间若 epoch 发生变化，写入后立即删除本次条目，
// 保证并发失效之后不会残留旧值。
type Aside struct {
	store  Store
	tagged TaggedStore
	tag    string
	bypass bool
	ttl    atomic.Int64
	epoch  atomic.Uint64
}

// NewAside 构造读取助手；标签能力在此处检测一次，之后不再重复判断。
func NewAside(store Store, opts AsideOptions) *Aside {
	a := &Aside{
		store:  store,
		tag:    opts.Tag,
		bypass: opts.Bypass,
	}
	if tagged, ok := store.(TaggedStore); ok && opts.Tag != "" {
		a.tagged = tagged
	}
	a.ttl.Store(int64(opts.TTL))
	return a
}

// Enabled 返回当前是否经过缓存；旁路模式或未注入缓存时为 false。
func (a *Aside) Enabled() bool {
	return a != nil && a.store != nil && !a.bypass
}

// Tagged 返回底层缓存是否支持标签失效。
func (a *Aside) Tagged() bool {
	return a != nil && a.tagged != nil
}

// TTL 返回当前写入使用的 TTL。
func (a *Aside) TTL() time.Duration {
	return time.Duration(a.ttl.Load())
}

// SetTTL 调整后续写入的 TTL，不影响已写入条目。
func (a *Aside) SetTTL(ttl time.Duration) {
	a.ttl.Store(int64(ttl))
}

// Invalidations 返回累计失效次数（每次 Forget/Flush 计一次）。
func (a *Aside) Invalidations() uint64 {
	return a.epoch.Load()
}

// Remember 按 key 读取缓存，未命中时调用 load 回源并写入。第二个返回值表示是否命中。
func Remember[T any](ctx context.Context, a *Aside, key string, load func(context.Context) (T, error)) (T, bool, error) {
	return RememberIf(ctx, a, key, load, nil)
}

// RememberIf 与 Remember 相同，但仅当 keep 返回 true 时才写入缓存。
func RememberIf[T any](ctx context.Context, a *Aside, key string, load func(context.Context) (T, error), keep func(T) bool) (T, bool, error) {
	var zero T
	if !a.Enabled() {
		value, err := load(ctx)
		return value, false, err
	}

	raw, err := a.store.Get(ctx, key)
	switch {
	case err == nil:
		var cached T
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, true, nil
		}
		// 无法解码的条目视为未命中，回源后覆盖。
		_ = a.store.Remove(ctx, key)
	case errors.Is(err, ErrNotFound):
	default:
		return zero, false, err
	}

	startEpoch := a.epoch.Load()
	value, err := load(ctx)
	if err != nil {
		return zero, false, err
	}
	if keep != nil && !keep(value) {
		return value, false, nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return zero, false, fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := a.put(ctx, key, encoded); err != nil {
		return zero, false, err
	}
	if a.epoch.Load() != startEpoch {
		if err := a.store.Remove(ctx, key); err != nil {
			return zero, false, err
		}
	}
	return value, false, nil
}

func (a *Aside) put(ctx context.Context, key string, value []byte) error {
	if a.tagged != nil {
		return a.tagged.PutTagged(ctx, key, value, a.TTL(), a.tag)
	}
	return a.store.Put(ctx, key, value, a.TTL())
}

// Forget 推进 epoch 后逐个删除 key，作为一次失效计数。
func (a *Aside) Forget(ctx context.Context, keys ...string) error {
	if a == nil || a.store == nil {
		return nil
	}
	a.epoch.Add(1)
	var errs []error
	for _, key := range keys {
		if err := a.store.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("forget %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Flush 按标签清空全部条目；不支持标签时返回 ErrTagsUnsupported。
func (a *Aside) Flush(ctx context.Context) error {
	if a == nil || a.store == nil {
		return nil
	}
	if a.tagged == nil {
		return ErrTagsUnsupported
	}
	a.epoch.Add(1)
	return a.tagged.FlushTag(ctx, a.tag)
}
