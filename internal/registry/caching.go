package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modkit/modkit/internal/cache"
	"github.com/modkit/modkit/internal/logging"
	"github.com/modkit/modkit/internal/module"
)

// DefaultCacheTTL 是读缓存的默认有效期。
const DefaultCacheTTL = time.Hour

// Options 配置 CachingRegistry。
type Options struct {
	Cache  cache.Store
	Prefix string
	TTL    time.Duration
	// Bypass 由宿主在测试/执行模式下传入，开启后所有读操作直达后端。
	Bypass bool
	Logger *logrus.Logger
}

// CachingRegistry 以 cache-aside 方式装饰任意 Repository。
type CachingRegistry struct {
	base   Repository
	aside  *cache.Aside
	keys   keySet
	logger *logrus.Logger
}

var _ Repository = (*CachingRegistry)(nil)

type findResult struct {
	Module module.Module `json:"module"`
	Found  bool          `json:"found"`
}

// NewCaching 构造缓存装饰器；标签能力在此处判定一次。
func NewCaching(base Repository, opts Options) (*CachingRegistry, error) {
	if base == nil {
		return nil, fmt.Errorf("base repository is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	keys := newKeySet(opts.Prefix)
	return &CachingRegistry{
		base: base,
		aside: cache.NewAside(opts.Cache, cache.AsideOptions{
			TTL:    ttl,
			Tag:    keys.prefix,
			Bypass: opts.Bypass,
		}),
		keys:   keys,
		logger: logger,
	}, nil
}

// Prefix 返回缓存键前缀。
func (c *CachingRegistry) Prefix() string {
	return c.keys.prefix
}

// Tagged 报告 ClearCache 是否走标签失效路径。
func (c *CachingRegistry) Tagged() bool {
	return c.aside.Tagged()
}

// Bypass 报告读操作是否绕过缓存。
func (c *CachingRegistry) Bypass() bool {
	return !c.aside.Enabled()
}

// CacheTTL 返回当前写入缓存使用的 TTL。
func (c *CachingRegistry) CacheTTL() time.Duration {
	return c.aside.TTL()
}

// SetCacheTTL 调整后续缓存写入的 TTL，ttl<=0 时恢复默认值。
func (c *CachingRegistry) SetCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.aside.SetTTL(ttl)
}

// Invalidations 返回累计失效次数，bulk 写入只计一次。
func (c *CachingRegistry) Invalidations() uint64 {
	return c.aside.Invalidations()
}

func (c *CachingRegistry) trace(op, name string, hit bool) {
	if !c.logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	c.logger.WithFields(logging.RegistryFields(op, name, hit)).Debug("registry_read")
}

// Scan 读取缓存的扫描结果。
func (c *CachingRegistry) Scan(ctx context.Context) ([]module.Module, error) {
	mods, hit, err := cache.Remember(ctx, c.aside, c.keys.scan(), c.base.Scan)
	if err != nil {
		return nil, err
	}
	c.trace("scan", "", hit)
	return mods, nil
}

// All 与 Scan 共用同一个缓存键。
func (c *CachingRegistry) All(ctx context.Context) ([]module.Module, error) {
	mods, hit, err := cache.Remember(ctx, c.aside, c.keys.scan(), c.base.All)
	if err != nil {
		return nil, err
	}
	c.trace("all", "", hit)
	return mods, nil
}

// Find 只缓存找到的结果；未命中的查询每次都回源。
func (c *CachingRegistry) Find(ctx context.Context, name string) (module.Module, bool, error) {
	if module.NormalizeName(name) == "" {
		return module.Module{}, false, nil
	}
	load := func(ctx context.Context) (findResult, error) {
		m, ok, err := c.base.Find(ctx, name)
		return findResult{Module: m, Found: ok}, err
	}
	res, hit, err := cache.RememberIf(ctx, c.aside, c.keys.module(name), load,
		func(r findResult) bool { return r.Found })
	if err != nil {
		return module.Module{}, false, err
	}
	c.trace("find", name, hit)
	return res.Module, res.Found, nil
}

// ByStatus 按布尔值分别缓存。
func (c *CachingRegistry) ByStatus(ctx context.Context, active bool) ([]module.Module, error) {
	load := func(ctx context.Context) ([]module.Module, error) {
		return c.base.ByStatus(ctx, active)
	}
	mods, hit, err := cache.Remember(ctx, c.aside, c.keys.byStatus(active), load)
	if err != nil {
		return nil, err
	}
	c.trace("by_status_"+module.StatusOf(active).String(), "", hit)
	return mods, nil
}

// AllEnabled 等价于 ByStatus(true)。
func (c *CachingRegistry) AllEnabled(ctx context.Context) ([]module.Module, error) {
	return c.ByStatus(ctx, true)
}

// AllDisabled 等价于 ByStatus(false)。
func (c *CachingRegistry) AllDisabled(ctx context.Context) ([]module.Module, error) {
	return c.ByStatus(ctx, false)
}

// Status 直接委托；状态映射由激活存储自行缓存。
func (c *CachingRegistry) Status(ctx context.Context, name string) (module.Status, error) {
	return c.base.Status(ctx, name)
}

// Chunks 基于缓存的 All 结果分页。
func (c *CachingRegistry) Chunks(ctx context.Context, size int) ([][]module.Module, error) {
	mods, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return chunk(mods, size), nil
}

// Enable 委托后失效状态相关键。
func (c *CachingRegistry) Enable(ctx context.Context, name string) error {
	if err := c.base.Enable(ctx, name); err != nil {
		return err
	}
	return c.forget(ctx, c.keys.statusKeys()...)
}

// Disable 委托后失效状态相关键。
func (c *CachingRegistry) Disable(ctx context.Context, name string) error {
	if err := c.base.Disable(ctx, name); err != nil {
		return err
	}
	return c.forget(ctx, c.keys.statusKeys()...)
}

// SetActive 委托后失效状态相关键。
func (c *CachingRegistry) SetActive(ctx context.Context, name string, active bool) error {
	if err := c.base.SetActive(ctx, name, active); err != nil {
		return err
	}
	return c.forget(ctx, c.keys.statusKeys()...)
}

// BulkSetActive 无论批量大小只失效一次。
func (c *CachingRegistry) BulkSetActive(ctx context.Context, names []string, active bool) error {
	if len(names) == 0 {
		return nil
	}
	if err := c.base.BulkSetActive(ctx, names, active); err != nil {
		return err
	}
	return c.forget(ctx, c.keys.statusKeys()...)
}

// Delete 额外失效该模块的 find 键。
func (c *CachingRegistry) Delete(ctx context.Context, name string) error {
	if err := c.base.Delete(ctx, name); err != nil {
		return err
	}
	keys := append(c.keys.statusKeys(), c.keys.module(name))
	return c.forget(ctx, keys...)
}

// Reset 删除全部激活记录并清空本前缀下的所有缓存键。
func (c *CachingRegistry) Reset(ctx context.Context) error {
	if err := c.base.Reset(ctx); err != nil {
		return err
	}
	return c.ClearCache(ctx)
}

// ResetModules 委托给被装饰的仓库。
func (c *CachingRegistry) ResetModules() {
	c.base.ResetModules()
}

// statusInvalidator 由能丢弃激活状态映射缓存的仓库实现。
type statusInvalidator interface {
	InvalidateStatuses(ctx context.Context) error
}

// ClearCache 清空本前缀下的全部缓存键与激活状态映射，然后重置被装饰仓库的模块记忆。
// 后端支持标签时按标签清空；否则删除固定键与当前已知模块的 find 键。
func (c *CachingRegistry) ClearCache(ctx context.Context) error {
	defer c.base.ResetModules()

	fields := logrus.Fields{"strategy": "tag"}
	if c.aside.Tagged() {
		if err := c.aside.Flush(ctx); err != nil {
			return fmt.Errorf("flush cache tag %s: %w", c.keys.prefix, err)
		}
	} else {
		keys, err := c.FallbackKeys(ctx)
		if err != nil {
			return err
		}
		if err := c.forget(ctx, keys...); err != nil {
			return err
		}
		fields["strategy"] = "keys"
		fields["keys"] = len(keys)
	}

	if err := c.InvalidateStatuses(ctx); err != nil {
		return err
	}
	c.logger.WithFields(logging.RegistryFields("clear_cache", "", false)).
		WithFields(fields).Debug("registry_cache_cleared")
	return nil
}

// InvalidateStatuses 转发给被装饰仓库。
func (c *CachingRegistry) InvalidateStatuses(ctx context.Context) error {
	inv, ok := c.base.(statusInvalidator)
	if !ok {
		return nil
	}
	if err := inv.InvalidateStatuses(ctx); err != nil {
		return fmt.Errorf("invalidate status map: %w", err)
	}
	return nil
}

// FallbackKeys 返回无标签后端下 ClearCache 会删除的键集。
func (c *CachingRegistry) FallbackKeys(ctx context.Context) ([]string, error) {
	mods, err := c.base.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list modules for cache clear: %w", err)
	}
	return c.keys.fallback(mods), nil
}

func (c *CachingRegistry) forget(ctx context.Context, keys ...string) error {
	if err := c.aside.Forget(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate registry cache: %w", err)
	}
	return nil
}
