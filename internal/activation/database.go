package activation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/modkit/modkit/internal/cache"
	"github.com/modkit/modkit/internal/module"
)

const (
	// DefaultTable is the activation table name used when none is configured.
	DefaultTable = "module_statuses"
	// DefaultCacheTTL bounds how long the cached status map may be served.
	DefaultCacheTTL = time.Hour
	// DefaultCacheKey is where the status map is cached.
	DefaultCacheKey = "modules.statuses"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures a DatabaseStore.
type Options struct {
	Table    string
	Cache    cache.Store
	CacheKey string
	CacheTag string
	CacheTTL time.Duration
	// Bypass skips the status-map cache and always reads the table.
	Bypass bool
	Now    func() time.Time
}

// DatabaseStore persists activation records in a SQLite table and caches the
// full name -> status mapping cache-aside.
type DatabaseStore struct {
	sqlDB    *sql.DB
	table    string
	aside    *cache.Aside
	cacheKey string
	now      func() time.Time

	initMu sync.Mutex
	ready  atomic.Bool
}

var (
	_ Store            = (*DatabaseStore)(nil)
	_ CacheInvalidator = (*DatabaseStore)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

// Open opens a SQLite database at path. The connection and the activation
// table are both created lazily; call Init to fail fast at startup.
func Open(path string, opts Options) (*DatabaseStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// 每个连接都是独立的内存库，只能保留一个连接。
		sqlDB.SetMaxOpenConns(1)
	}
	store, err := New(sqlDB, opts)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing database handle.
func New(sqlDB *sql.DB, opts Options) (*DatabaseStore, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	table := strings.TrimSpace(opts.Table)
	if table == "" {
		table = DefaultTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	key := strings.TrimSpace(opts.CacheKey)
	if key == "" {
		key = DefaultCacheKey
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &DatabaseStore{
		sqlDB:    sqlDB,
		table:    table,
		aside:    cache.NewAside(opts.Cache, cache.AsideOptions{TTL: ttl, Tag: opts.CacheTag, Bypass: opts.Bypass}),
		cacheKey: key,
		now:      now,
	}, nil
}

// Close closes the SQLite handle.
func (s *DatabaseStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Table returns the activation table name.
func (s *DatabaseStore) Table() string {
	return s.table
}

// Invalidations reports how many times the status-map cache was invalidated.
func (s *DatabaseStore) Invalidations() uint64 {
	return s.aside.Invalidations()
}

// Init makes sure the activation table exists. It is safe to call repeatedly.
func (s *DatabaseStore) Init(ctx context.Context) error {
	return s.ensureTable(ctx)
}

func (s *DatabaseStore) ensureTable(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("%w: storage is not configured", ErrInitialization)
	}
	if s.ready.Load() {
		return nil
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ready.Load() {
		return nil
	}

	exists, err := s.hasTable(ctx)
	if err != nil {
		return fmt.Errorf("%w: check table %s: %w", ErrInitialization, s.table, err)
	}
	if !exists {
		if err := s.createTable(ctx); err != nil {
			return fmt.Errorf("%w: create table %s: %w", ErrInitialization, s.table, err)
		}
	}
	s.ready.Store(true)
	return nil
}

func (s *DatabaseStore) hasTable(ctx context.Context) (bool, error) {
	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, s.table,
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *DatabaseStore) createTable(ctx context.Context) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    status BOOLEAN NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_name_status_idx ON %s (name, status)`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *DatabaseStore) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (name, status, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`, s.table)
}

// SetActive upserts one record and invalidates the status-map cache.
func (s *DatabaseStore) SetActive(ctx context.Context, name string, active bool) error {
	name = module.NormalizeName(name)
	if name == "" {
		return ErrInvalidName
	}
	if err := s.ensureTable(ctx); err != nil {
		return err
	}
	now := toMillis(s.now())
	if _, err := s.sqlDB.ExecContext(ctx, s.upsertSQL(), name, boolToInt(active), now, now); err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ErrBackendUnavailable, name, err)
	}
	return s.flushCache(ctx)
}

// BulkSetActive upserts every name inside one transaction. Duplicate names
// collapse to one row; an empty batch does nothing.
func (s *DatabaseStore) BulkSetActive(ctx context.Context, names []string, active bool) error {
	unique := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := module.NormalizeName(raw)
		if name == "" {
			return ErrInvalidName
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	if len(unique) == 0 {
		return nil
	}
	if err := s.ensureTable(ctx); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin bulk upsert: %w", ErrBackendUnavailable, err)
	}
	stmt, err := tx.PrepareContext(ctx, s.upsertSQL())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: prepare bulk upsert: %w", ErrBackendUnavailable, err)
	}
	now := toMillis(s.now())
	for _, name := range unique {
		if _, err := stmt.ExecContext(ctx, name, boolToInt(active), now, now); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("%w: bulk upsert %s: %w", ErrBackendUnavailable, name, err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit bulk upsert: %w", ErrBackendUnavailable, err)
	}
	return s.flushCache(ctx)
}

// HasStatus reports whether name has a record equal to status.
func (s *DatabaseStore) HasStatus(ctx context.Context, name string, status bool) (bool, error) {
	current, err := s.Status(ctx, name)
	if err != nil {
		return false, err
	}
	return current.Matches(status), nil
}

// Status returns StatusUnknown when name has no record.
func (s *DatabaseStore) Status(ctx context.Context, name string) (module.Status, error) {
	statuses, err := s.Statuses(ctx)
	if err != nil {
		return module.StatusUnknown, err
	}
	active, ok := statuses[module.NormalizeName(name)]
	if !ok {
		return module.StatusUnknown, nil
	}
	return module.StatusOf(active), nil
}

// Statuses returns the cached name -> status mapping.
func (s *DatabaseStore) Statuses(ctx context.Context) (map[string]bool, error) {
	statuses, _, err := cache.Remember(ctx, s.aside, s.cacheKey, s.loadStatuses)
	if err != nil {
		return nil, err
	}
	if statuses == nil {
		statuses = map[string]bool{}
	}
	return statuses, nil
}

func (s *DatabaseStore) loadStatuses(ctx context.Context) (map[string]bool, error) {
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, fmt.Sprintf(`SELECT name, status FROM %s`, s.table))
	if err != nil {
		return nil, fmt.Errorf("%w: list statuses: %w", ErrBackendUnavailable, err)
	}
	defer rows.Close()

	statuses := make(map[string]bool)
	for rows.Next() {
		var (
			name   string
			status int64
		)
		if err := rows.Scan(&name, &status); err != nil {
			return nil, fmt.Errorf("%w: list statuses: %w", ErrBackendUnavailable, err)
		}
		statuses[name] = status != 0
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list statuses: %w", ErrBackendUnavailable, err)
	}
	return statuses, nil
}

// Delete removes the record for name if present.
func (s *DatabaseStore) Delete(ctx context.Context, name string) error {
	name = module.NormalizeName(name)
	if name == "" {
		return ErrInvalidName
	}
	if err := s.ensureTable(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, s.table), name); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrBackendUnavailable, name, err)
	}
	return s.flushCache(ctx)
}

// Reset removes every activation record.
func (s *DatabaseStore) Reset(ctx context.Context) error {
	if err := s.ensureTable(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("%w: reset: %w", ErrBackendUnavailable, err)
	}
	return s.flushCache(ctx)
}

// Enabled returns the sorted names whose status is true.
func (s *DatabaseStore) Enabled(ctx context.Context) ([]string, error) {
	return s.namesWithStatus(ctx, true)
}

// Disabled returns the sorted names whose status is false.
func (s *DatabaseStore) Disabled(ctx context.Context) ([]string, error) {
	return s.namesWithStatus(ctx, false)
}

func (s *DatabaseStore) namesWithStatus(ctx context.Context, want bool) ([]string, error) {
	statuses, err := s.Statuses(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(statuses))
	for name, active := range statuses {
		if active == want {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// InvalidateCache drops the cached status map. Rows written by another
// process become visible on the next read.
func (s *DatabaseStore) InvalidateCache(ctx context.Context) error {
	return s.flushCache(ctx)
}

func (s *DatabaseStore) flushCache(ctx context.Context) error {
	if err := s.aside.Forget(ctx, s.cacheKey); err != nil {
		return fmt.Errorf("invalidate status cache: %w", err)
	}
	return nil
}

// Record reads one activation record directly from the table, bypassing the
// status-map cache.
func (s *DatabaseStore) Record(ctx context.Context, name string) (Record, bool, error) {
	if err := s.ensureTable(ctx); err != nil {
		return Record{}, false, err
	}
	var (
		rec       Record
		status    int64
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT name, status, updated_at FROM %s WHERE name = ?`, s.table),
		module.NormalizeName(name),
	).Scan(&rec.Name, &status, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: get %s: %w", ErrBackendUnavailable, name, err)
	}
	rec.Status = status != 0
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rec, true, nil
}
