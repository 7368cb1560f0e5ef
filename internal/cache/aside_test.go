package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRememberPopulatesOnMiss(t *testing.T) {
	store := NewMemoryStore()
	aside := NewAside(store, AsideOptions{TTL: time.Hour, Tag: "modules"})
	ctx := context.Background()

	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"billing"}, nil
	}

	got, hit, err := Remember(ctx, aside, "modules.scan", load)
	if err != nil || hit {
		t.Fatalf("first read should miss, hit=%v err=%v", hit, err)
	}
	if len(got) != 1 || got[0] != "billing" {
		t.Fatalf("unexpected value: %v", got)
	}

	got, hit, err = Remember(ctx, aside, "modules.scan", load)
	if err != nil || !hit {
		t.Fatalf("second read should hit, hit=%v err=%v", hit, err)
	}
	if calls != 1 {
		t.Fatalf("loader should run once, ran %d times", calls)
	}
	if len(got) != 1 || got[0] != "billing" {
		t.Fatalf("unexpected cached value: %v", got)
	}
}

func TestRememberBypassAlwaysLoads(t *testing.T) {
	store := NewMemoryStore()
	aside := NewAside(store, AsideOptions{TTL: time.Hour, Bypass: true})
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	first, _, _ := Remember(ctx, aside, "k", load)
	second, _, _ := Remember(ctx, aside, "k", load)
	if first != 1 || second != 2 {
		t.Fatalf("bypass must call through every time, got %d then %d", first, second)
	}
	if store.Len() != 0 {
		t.Fatalf("bypass must not populate the cache")
	}
}

func TestRememberIfSkipsUnwantedValues(t *testing.T) {
	store := NewMemoryStore()
	aside := NewAside(store, AsideOptions{TTL: time.Hour})
	ctx := context.Background()

	_, _, err := RememberIf(ctx, aside, "k", func(context.Context) (string, error) { return "", nil },
		func(v string) bool { return v != "" })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("filtered value must not be cached")
	}
}

func TestRememberDropsEntryWhenInvalidatedDuringLoad(t *testing.T) {
	store := NewMemoryStore()
	aside := NewAside(store, AsideOptions{TTL: time.Hour})
	ctx := context.Background()

	_, _, err := Remember(ctx, aside, "k", func(ctx context.Context) (string, error) {
		// 模拟回源期间发生的并发写入 + 失效。
		if err := aside.Forget(ctx, "k"); err != nil {
			return "", err
		}
		return "stale", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("population that raced an invalidation must not leave an entry, got %v", err)
	}
}

func TestRememberSurfacesBackendErrors(t *testing.T) {
	aside := NewAside(failingStore{}, AsideOptions{TTL: time.Hour})
	_, _, err := Remember(context.Background(), aside, "k", func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestForgetCountsOneInvalidationPerCall(t *testing.T) {
	store := NewMemoryStore()
	aside := NewAside(store, AsideOptions{TTL: time.Hour})
	ctx := context.Background()

	_ = store.Put(ctx, "a", []byte("1"), 0)
	_ = store.Put(ctx, "b", []byte("1"), 0)
	if err := aside.Forget(ctx, "a", "b", "c"); err != nil {
		t.Fatalf("forget error: %v", err)
	}
	if aside.Invalidations() != 1 {
		t.Fatalf("expected 1 invalidation, got %d", aside.Invalidations())
	}
	if store.Len() != 0 {
		t.Fatalf("all keys should be removed")
	}
}

func TestFlushRequiresTags(t *testing.T) {
	fileStore, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	aside := NewAside(fileStore, AsideOptions{TTL: time.Hour, Tag: "modules"})
	if aside.Tagged() {
		t.Fatalf("file store aside must not be tagged")
	}
	if err := aside.Flush(context.Background()); !errors.Is(err, ErrTagsUnsupported) {
		t.Fatalf("expected ErrTagsUnsupported, got %v", err)
	}

	tagged := NewAside(NewMemoryStore(), AsideOptions{TTL: time.Hour, Tag: "modules"})
	if !tagged.Tagged() {
		t.Fatalf("memory store aside should be tagged")
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, ErrUnavailable }
func (failingStore) Put(context.Context, string, []byte, time.Duration) error {
	return ErrUnavailable
}
func (failingStore) Remove(context.Context, string) error { return ErrUnavailable }
