package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/modkit/modkit/internal/activation"
	"github.com/modkit/modkit/internal/module"
)

// Registry 直接访问模块来源与激活存储，不经过外部缓存。
type Registry struct {
	source module.Source
	store  activation.Store

	mu      sync.RWMutex
	modules []module.Module
	loaded  bool
}

var _ Repository = (*Registry)(nil)

// New 组合模块来源与激活存储。
func New(source module.Source, store activation.Store) (*Registry, error) {
	if source == nil {
		return nil, fmt.Errorf("module source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("activation store is required")
	}
	return &Registry{source: source, store: store}, nil
}

// Scan 每次都询问来源，并刷新进程内记忆。
func (r *Registry) Scan(ctx context.Context) ([]module.Module, error) {
	mods, err := r.source.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan modules: %w", err)
	}
	module.SortByName(mods)

	r.mu.Lock()
	r.modules = append([]module.Module(nil), mods...)
	r.loaded = true
	r.mu.Unlock()
	return mods, nil
}

// All 在已有记忆时直接返回副本，否则触发一次 Scan。
func (r *Registry) All(ctx context.Context) ([]module.Module, error) {
	r.mu.RLock()
	if r.loaded {
		mods := append([]module.Module(nil), r.modules...)
		r.mu.RUnlock()
		return mods, nil
	}
	r.mu.RUnlock()
	return r.Scan(ctx)
}

// ResetModules 清空进程内记忆。
func (r *Registry) ResetModules() {
	r.mu.Lock()
	r.modules = nil
	r.loaded = false
	r.mu.Unlock()
}

// Find 按名称查找模块，比较时忽略大小写。
func (r *Registry) Find(ctx context.Context, name string) (module.Module, bool, error) {
	if module.NormalizeName(name) == "" {
		return module.Module{}, false, nil
	}
	mods, err := r.All(ctx)
	if err != nil {
		return module.Module{}, false, err
	}
	for _, m := range mods {
		if module.SameName(m.Name, name) {
			return m, true, nil
		}
	}
	return module.Module{}, false, nil
}

// ByStatus 返回激活状态等于 active 的已知模块；没有记录的模块不出现在任何一侧。
func (r *Registry) ByStatus(ctx context.Context, active bool) ([]module.Module, error) {
	mods, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	statuses, err := r.store.Statuses(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]module.Module, 0, len(mods))
	for _, m := range mods {
		if current, ok := statuses[m.Name]; ok && current == active {
			result = append(result, m)
		}
	}
	return result, nil
}

// AllEnabled 等价于 ByStatus(true)。
func (r *Registry) AllEnabled(ctx context.Context) ([]module.Module, error) {
	return r.ByStatus(ctx, true)
}

// AllDisabled 等价于 ByStatus(false)。
func (r *Registry) AllDisabled(ctx context.Context) ([]module.Module, error) {
	return r.ByStatus(ctx, false)
}

// Status 返回三态状态；已知模块使用其规范名称查询。
func (r *Registry) Status(ctx context.Context, name string) (module.Status, error) {
	target, err := r.canonicalName(ctx, name)
	if err != nil {
		return module.StatusUnknown, err
	}
	return r.store.Status(ctx, target)
}

// Chunks 将 All 的结果分页。
func (r *Registry) Chunks(ctx context.Context, size int) ([][]module.Module, error) {
	mods, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return chunk(mods, size), nil
}

// Enable 启用已知模块，未知模块返回 ErrModuleNotFound。
func (r *Registry) Enable(ctx context.Context, name string) error {
	return r.toggle(ctx, name, true)
}

// Disable 禁用已知模块，未知模块返回 ErrModuleNotFound。
func (r *Registry) Disable(ctx context.Context, name string) error {
	return r.toggle(ctx, name, false)
}

func (r *Registry) toggle(ctx context.Context, name string, active bool) error {
	if module.NormalizeName(name) == "" {
		return ErrInvalidName
	}
	m, ok, err := r.Find(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, module.NormalizeName(name))
	}
	return r.store.SetActive(ctx, m.Name, active)
}

// SetActive 写入激活记录，不校验模块是否存在；已知模块使用其规范名称。
func (r *Registry) SetActive(ctx context.Context, name string, active bool) error {
	target, err := r.canonicalName(ctx, name)
	if err != nil {
		return err
	}
	return r.store.SetActive(ctx, target, active)
}

// BulkSetActive 在一次事务内写入全部名称，命名规则与 SetActive 一致。
func (r *Registry) BulkSetActive(ctx context.Context, names []string, active bool) error {
	if len(names) == 0 {
		return nil
	}
	mods, err := r.All(ctx)
	if err != nil {
		return err
	}
	targets := make([]string, len(names))
	for i, name := range names {
		targets[i] = canonicalIn(mods, name)
	}
	return r.store.BulkSetActive(ctx, targets, active)
}

// Delete 删除激活记录，不存在时为空操作。
func (r *Registry) Delete(ctx context.Context, name string) error {
	target, err := r.canonicalName(ctx, name)
	if err != nil {
		return err
	}
	return r.store.Delete(ctx, target)
}

// InvalidateStatuses 丢弃激活存储缓存的状态映射；存储不缓存时为空操作。
func (r *Registry) InvalidateStatuses(ctx context.Context) error {
	if inv, ok := r.store.(activation.CacheInvalidator); ok {
		return inv.InvalidateCache(ctx)
	}
	return nil
}

// Reset 删除全部激活记录。
func (r *Registry) Reset(ctx context.Context) error {
	return r.store.Reset(ctx)
}

// canonicalName 把已知模块映射为其规范名称，未知名称仅去除首尾空白。
// 所有读写路径都经过这里，记录名与模块名始终一致。
func (r *Registry) canonicalName(ctx context.Context, name string) (string, error) {
	if module.NormalizeName(name) == "" {
		return "", nil
	}
	mods, err := r.All(ctx)
	if err != nil {
		return "", err
	}
	return canonicalIn(mods, name), nil
}

func canonicalIn(mods []module.Module, name string) string {
	for _, m := range mods {
		if module.SameName(m.Name, name) {
			return m.Name
		}
	}
	return module.NormalizeName(name)
}
