package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/modkit/modkit/internal/activation"
	"github.com/modkit/modkit/internal/cache"
	"github.com/modkit/modkit/internal/commandgroup"
	"github.com/modkit/modkit/internal/config"
	"github.com/modkit/modkit/internal/module"
	"github.com/modkit/modkit/internal/registry"
	"github.com/modkit/modkit/internal/runner"
)

// RuntimeOptions carries flags that override configuration at startup.
type RuntimeOptions struct {
	// Bypass forces every registry and activation read to skip the cache.
	Bypass bool
}

// Runtime wires the configured cache backend, activation store, module
// sources and command handlers into one registry instance shared by the CLI
// and the admin HTTP surface.
type Runtime struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Cache      cache.Store
	Activation *activation.DatabaseStore
	Registry   *registry.CachingRegistry
	Used       *registry.UsedFile
	Handlers   *runner.Registry
	Table      commandgroup.Table
}

// NewRuntime builds the runtime in dependency order: cache, activation store
// (initialized eagerly so InitializationFailure surfaces here), sources,
// registry, handlers.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts RuntimeOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	g := cfg.Global
	bypass := opts.Bypass || g.TestMode

	store, err := newCacheStore(g)
	if err != nil {
		return nil, err
	}

	statuses, err := activation.Open(g.DatabaseFile(), activation.Options{
		Table:    g.Table,
		Cache:    store,
		CacheKey: g.CachePrefix + ".statuses",
		CacheTTL: g.CacheTTL.DurationValue(),
		Bypass:   bypass,
	})
	if err != nil {
		return nil, fmt.Errorf("open activation store: %w", err)
	}
	if err := statuses.Init(ctx); err != nil {
		_ = statuses.Close()
		return nil, err
	}

	source, err := newModuleSource(cfg)
	if err != nil {
		_ = statuses.Close()
		return nil, err
	}
	base, err := registry.New(source, statuses)
	if err != nil {
		_ = statuses.Close()
		return nil, err
	}
	repo, err := registry.NewCaching(base, registry.Options{
		Cache:  store,
		Prefix: g.CachePrefix,
		TTL:    g.CacheTTL.DurationValue(),
		Bypass: bypass,
		Logger: logger,
	})
	if err != nil {
		_ = statuses.Close()
		return nil, err
	}

	handlers := make([]runner.Handler, 0, len(cfg.Commands))
	for _, cmd := range cfg.Commands {
		handlers = append(handlers, runner.Handler{Token: cmd.Token, Command: cmd.Run})
	}
	handlerRegistry, err := runner.NewRegistry(handlers...)
	if err != nil {
		_ = statuses.Close()
		return nil, fmt.Errorf("register command handlers: %w", err)
	}

	table := commandgroup.DefaultTable()
	if err := table.Validate(); err != nil {
		_ = statuses.Close()
		return nil, fmt.Errorf("command table: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"action":       "runtime_ready",
		"cache_driver": g.CacheDriver,
		"cache_tagged": repo.Tagged(),
		"bypass":       bypass,
		"database":     g.DatabaseFile(),
		"table":        statuses.Table(),
		"handlers":     len(handlers),
	}).Debug("registry runtime initialized")

	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		Cache:      store,
		Activation: statuses,
		Registry:   repo,
		Used:       registry.NewUsedFile(g.StoragePath),
		Handlers:   handlerRegistry,
		Table:      table,
	}, nil
}

// Close releases the activation database handle.
func (r *Runtime) Close() error {
	if r == nil || r.Activation == nil {
		return nil
	}
	return r.Activation.Close()
}

func newCacheStore(g config.GlobalConfig) (cache.Store, error) {
	switch g.CacheDriver {
	case config.CacheDriverFile:
		store, err := cache.NewFileStore(g.CacheDir())
		if err != nil {
			return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
		}
		return store, nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

func newModuleSource(cfg *config.Config) (module.Source, error) {
	static := make([]module.Module, 0, len(cfg.Modules))
	for _, m := range cfg.Modules {
		static = append(static, module.Module{Name: m.Name, Path: m.Path})
	}
	staticSource, err := module.NewStaticSource(static...)
	if err != nil {
		return nil, fmt.Errorf("static modules: %w", err)
	}
	return module.MultiSource{staticSource, module.NewDirSource(cfg.Global.ModulePaths...)}, nil
}
