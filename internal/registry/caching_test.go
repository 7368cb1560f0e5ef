package registry

import (
	"context"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/modkit/modkit/internal/activation"
	"github.com/modkit/modkit/internal/cache"
	"github.com/modkit/modkit/internal/module"
)

func TestCachingServesHitsWithoutTouchingBackend(t *testing.T) {
	base, _, _ := newTestRegistry(t, "a", "b")
	counter := &countingRepository{Repository: base}
	reg := newCaching(t, counter, cache.NewMemoryStore(), false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := reg.Scan(ctx); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if _, err := reg.AllEnabled(ctx); err != nil {
			t.Fatalf("all enabled: %v", err)
		}
		if _, _, err := reg.Find(ctx, "a"); err != nil {
			t.Fatalf("find: %v", err)
		}
	}
	if counter.calls("scan") != 1 || counter.calls("by_status") != 1 || counter.calls("find") != 1 {
		t.Fatalf("each read should reach the backend once, got %+v", counter.snapshot())
	}
}

func TestCachingNoStaleReadAfterWrite(t *testing.T) {
	base, _, _ := newTestRegistry(t, "billing")
	reg := newCaching(t, base, cache.NewMemoryStore(), false)
	ctx := context.Background()

	for _, active := range []bool{true, false, true} {
		// 先把两侧结果读进缓存。
		_, _ = reg.AllEnabled(ctx)
		_, _ = reg.AllDisabled(ctx)

		if err := reg.SetActive(ctx, "billing", active); err != nil {
			t.Fatalf("set active: %v", err)
		}
		enabled := listOrFail(t)(reg.AllEnabled(ctx))
		disabled := listOrFail(t)(reg.AllDisabled(ctx))
		if active {
			assertNames(t, enabled, "billing")
			assertNames(t, disabled)
		} else {
			assertNames(t, enabled)
			assertNames(t, disabled, "billing")
		}
	}
}

func TestCachingBillingScenario(t *testing.T) {
	base, _, _ := newTestRegistry(t, "billing")
	reg := newCaching(t, base, cache.NewMemoryStore(), false)
	ctx := context.Background()

	_ = reg.Enable(ctx, "billing")
	_ = reg.Disable(ctx, "billing")

	assertNames(t, listOrFail(t)(reg.AllDisabled(ctx)), "billing")
	assertNames(t, listOrFail(t)(reg.AllEnabled(ctx)))
}

func TestCachingBulkInvalidatesOnce(t *testing.T) {
	base, _, _ := newTestRegistry(t, "a", "b", "c", "d")
	store := newRecordingStore()
	reg := newCaching(t, base, store, false)
	ctx := context.Background()

	_, _ = reg.AllEnabled(ctx)
	before := reg.Invalidations()
	store.resetRemoved()

	if err := reg.BulkSetActive(ctx, []string{"a", "b", "c"}, true); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if got := reg.Invalidations() - before; got != 1 {
		t.Fatalf("expected one invalidation, got %d", got)
	}
	want := []string{"modules.modules_by_status_disabled", "modules.modules_by_status_enabled", "modules.modules_scan"}
	if got := store.removedKeys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("removed keys = %v, want %v", got, want)
	}
	assertNames(t, listOrFail(t)(reg.AllEnabled(ctx)), "a", "b", "c")
}

func TestCachingDeleteForgetsFindKey(t *testing.T) {
	base, _, _ := newTestRegistry(t, "billing", "shop")
	store := newRecordingStore()
	reg := newCaching(t, base, store, false)
	ctx := context.Background()

	_ = reg.Enable(ctx, "billing")
	if _, _, err := reg.Find(ctx, "Billing"); err != nil {
		t.Fatalf("find: %v", err)
	}
	store.resetRemoved()

	if err := reg.Delete(ctx, "BILLING"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	want := []string{
		"modules.module_billing",
		"modules.modules_by_status_disabled",
		"modules.modules_by_status_enabled",
		"modules.modules_scan",
	}
	if got := store.removedKeys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("removed keys = %v, want %v", got, want)
	}
	if got, _ := reg.Status(ctx, "billing"); got != module.StatusUnknown {
		t.Fatalf("deleted module should be unknown, got %v", got)
	}
}

func TestCachingFindDoesNotCacheMisses(t *testing.T) {
	base, source, _ := newTestRegistry(t, "a")
	store := cache.NewMemoryStore()
	reg := newCaching(t, base, store, false)
	ctx := context.Background()

	if _, ok, _ := reg.Find(ctx, "late"); ok {
		t.Fatal("late should not exist yet")
	}
	if store.Len() != 0 {
		t.Fatalf("a miss must not be cached, keys=%v", store.Keys())
	}

	_ = source.Register(module.Module{Name: "late"})
	reg.ResetModules()
	if _, ok, _ := reg.Find(ctx, "late"); !ok {
		t.Fatal("late should be visible once the source knows it")
	}
}

func TestClearCacheFallbackMatchesTagFlush(t *testing.T) {
	ctx := context.Background()

	taggedStore := cache.NewMemoryStore()
	plainStore := newRecordingStore()

	taggedBase, _, _ := newTestRegistry(t, "Alpha", "beta", "gamma")
	plainBase, _, _ := newTestRegistry(t, "Alpha", "beta", "gamma")
	tagged := newCaching(t, taggedBase, taggedStore, false)
	plain := newCaching(t, plainBase, plainStore, false)

	if !tagged.Tagged() || plain.Tagged() {
		t.Fatalf("unexpected capability detection: tagged=%v plain=%v", tagged.Tagged(), plain.Tagged())
	}

	for _, reg := range []*CachingRegistry{tagged, plain} {
		_ = reg.Enable(ctx, "alpha")
		_ = reg.Disable(ctx, "beta")
		_, _ = reg.Scan(ctx)
		_, _ = reg.AllEnabled(ctx)
		_, _ = reg.AllDisabled(ctx)
		for _, name := range []string{"ALPHA", "beta", "Gamma", "missing"} {
			_, _, _ = reg.Find(ctx, name)
		}
	}
	for _, s := range []cache.Store{taggedStore, plainStore} {
		if err := s.Put(ctx, "other.key", []byte(`"keep"`), time.Hour); err != nil {
			t.Fatalf("put foreign key: %v", err)
		}
	}

	if !reflect.DeepEqual(taggedStore.Keys(), plainStore.inner.Keys()) {
		t.Fatalf("populated key sets differ: %v vs %v", taggedStore.Keys(), plainStore.inner.Keys())
	}

	plainStore.resetRemoved()
	for _, reg := range []*CachingRegistry{tagged, plain} {
		if err := reg.ClearCache(ctx); err != nil {
			t.Fatalf("clear cache: %v", err)
		}
	}

	want := []string{"other.key"}
	if got := taggedStore.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("tag flush left %v", got)
	}
	if got := plainStore.inner.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("fallback left %v", got)
	}
	for _, key := range plainStore.removedKeys() {
		if key == "other.key" {
			t.Fatal("fallback must not touch keys outside the registry prefix")
		}
	}
}

func TestClearCacheDropsStatusMap(t *testing.T) {
	for _, tagged := range []bool{true, false} {
		var store cache.Store = newRecordingStore()
		if tagged {
			store = cache.NewMemoryStore()
		}
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "modules.db")

		statuses, err := activation.Open(path, activation.Options{Cache: store, CacheKey: "modules.statuses"})
		if err != nil {
			t.Fatalf("open activation store: %v", err)
		}
		t.Cleanup(func() { _ = statuses.Close() })
		other, err := activation.Open(path, activation.Options{})
		if err != nil {
			t.Fatalf("open second store: %v", err)
		}
		t.Cleanup(func() { _ = other.Close() })

		source, _ := module.NewStaticSource(module.Module{Name: "billing"})
		base, err := New(source, statuses)
		if err != nil {
			t.Fatalf("new registry: %v", err)
		}
		reg := newCaching(t, base, store, false)

		if err := reg.Enable(ctx, "billing"); err != nil {
			t.Fatalf("enable: %v", err)
		}
		assertNames(t, listOrFail(t)(reg.AllEnabled(ctx)), "billing")

		// 另一个进程直接改写同一个数据库。
		if err := other.SetActive(ctx, "billing", false); err != nil {
			t.Fatalf("external write: %v", err)
		}
		if err := reg.ClearCache(ctx); err != nil {
			t.Fatalf("clear cache (tagged=%v): %v", tagged, err)
		}
		assertNames(t, listOrFail(t)(reg.AllEnabled(ctx)))
		assertNames(t, listOrFail(t)(reg.AllDisabled(ctx)), "billing")
	}
}

func TestClearCacheResetsModuleMemo(t *testing.T) {
	for _, tagged := range []bool{true, false} {
		base, source, _ := newTestRegistry(t, "a")
		var store cache.Store = newRecordingStore()
		if tagged {
			store = cache.NewMemoryStore()
		}
		reg := newCaching(t, base, store, false)
		ctx := context.Background()

		assertNames(t, listOrFail(t)(reg.All(ctx)), "a")
		_ = source.Register(module.Module{Name: "b"})
		assertNames(t, listOrFail(t)(reg.All(ctx)), "a")

		if err := reg.ClearCache(ctx); err != nil {
			t.Fatalf("clear cache (tagged=%v): %v", tagged, err)
		}
		assertNames(t, listOrFail(t)(reg.All(ctx)), "a", "b")
	}
}

func TestCachingResetClearsEverything(t *testing.T) {
	base, _, _ := newTestRegistry(t, "a", "b")
	store := cache.NewMemoryStore()
	reg := newCaching(t, base, store, false)
	ctx := context.Background()

	_ = reg.BulkSetActive(ctx, []string{"a", "b"}, true)
	_, _ = reg.AllEnabled(ctx)
	_, _, _ = reg.Find(ctx, "a")

	if err := reg.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("reset should clear every registry key, left %v", store.Keys())
	}
	assertNames(t, listOrFail(t)(reg.AllEnabled(ctx)))
	assertNames(t, listOrFail(t)(reg.AllDisabled(ctx)))
}

func TestCachingBypassCallsThrough(t *testing.T) {
	base, _, activationStore := newTestRegistry(t, "billing")
	counter := &countingRepository{Repository: base}
	store := cache.NewMemoryStore()
	reg := newCaching(t, counter, store, true)
	ctx := context.Background()

	_ = reg.Enable(ctx, "billing")
	assertNames(t, listOrFail(t)(reg.AllEnabled(ctx)), "billing")

	// 绕过注册表直接修改后端。
	if err := activationStore.SetActive(ctx, "billing", false); err != nil {
		t.Fatalf("direct write: %v", err)
	}
	for i := 0; i < 2; i++ {
		assertNames(t, listOrFail(t)(reg.AllDisabled(ctx)), "billing")
		assertNames(t, listOrFail(t)(reg.AllEnabled(ctx)))
	}
	if store.Len() != 0 {
		t.Fatalf("bypass mode must not populate the cache, keys=%v", store.Keys())
	}
	if !reg.Bypass() {
		t.Fatal("Bypass() should report true")
	}
}

func TestCachingTTL(t *testing.T) {
	base, _, _ := newTestRegistry(t, "a")
	reg := newCaching(t, base, cache.NewMemoryStore(), false)

	if reg.CacheTTL() != DefaultCacheTTL {
		t.Fatalf("default ttl = %v", reg.CacheTTL())
	}
	reg.SetCacheTTL(5 * time.Minute)
	if reg.CacheTTL() != 5*time.Minute {
		t.Fatalf("ttl = %v, want 5m", reg.CacheTTL())
	}
	reg.SetCacheTTL(0)
	if reg.CacheTTL() != DefaultCacheTTL {
		t.Fatalf("non-positive ttl should restore the default, got %v", reg.CacheTTL())
	}
}

func TestCachingWithoutCacheStillWorks(t *testing.T) {
	base, _, _ := newTestRegistry(t, "a")
	reg := newCaching(t, base, nil, false)
	ctx := context.Background()

	if err := reg.Enable(ctx, "a"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	assertNames(t, listOrFail(t)(reg.AllEnabled(ctx)), "a")
	if err := reg.ClearCache(ctx); err != nil {
		t.Fatalf("clear cache: %v", err)
	}
}

func newCaching(t *testing.T, base Repository, store cache.Store, bypass bool) *CachingRegistry {
	t.Helper()
	reg, err := NewCaching(base, Options{Cache: store, Bypass: bypass})
	if err != nil {
		t.Fatalf("new caching registry: %v", err)
	}
	return reg
}

// recordingStore 只暴露 Store 接口，用于模拟不支持标签的后端并记录删除的键。
type recordingStore struct {
	inner *cache.MemoryStore

	mu      sync.Mutex
	removed map[string]struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{inner: cache.NewMemoryStore(), removed: make(map[string]struct{})}
}

func (s *recordingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, key)
}

func (s *recordingStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.inner.Put(ctx, key, value, ttl)
}

func (s *recordingStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	s.removed[key] = struct{}{}
	s.mu.Unlock()
	return s.inner.Remove(ctx, key)
}

func (s *recordingStore) resetRemoved() {
	s.mu.Lock()
	s.removed = make(map[string]struct{})
	s.mu.Unlock()
}

func (s *recordingStore) removedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.removed))
	for key := range s.removed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type countingRepository struct {
	Repository

	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRepository) inc(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[op]++
}

func (c *countingRepository) calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[op]
}

func (c *countingRepository) snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

func (c *countingRepository) Scan(ctx context.Context) ([]module.Module, error) {
	c.inc("scan")
	return c.Repository.Scan(ctx)
}

func (c *countingRepository) All(ctx context.Context) ([]module.Module, error) {
	c.inc("all")
	return c.Repository.All(ctx)
}

func (c *countingRepository) Find(ctx context.Context, name string) (module.Module, bool, error) {
	c.inc("find")
	return c.Repository.Find(ctx, name)
}

func (c *countingRepository) ByStatus(ctx context.Context, active bool) ([]module.Module, error) {
	c.inc("by_status")
	return c.Repository.ByStatus(ctx, active)
}
