package module

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ManifestFile 是模块目录下可选的描述文件，存在时其 name 字段优先于目录名。
const ManifestFile = "module.json"

// Source 是模块集合的唯一事实来源，注册表只通过它得知“存在哪些模块”。
type Source interface {
	Scan(ctx context.Context) ([]Module, error)
}

// StaticSource 持有一组显式注册的模块，常用于配置中的 [[Module]] 条目与测试。
type StaticSource struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewStaticSource 构建静态来源，重复名称会返回错误。
func NewStaticSource(mods ...Module) (*StaticSource, error) {
	s := &StaticSource{modules: make(map[string]Module, len(mods))}
	for _, m := range mods {
		if err := s.Register(m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *StaticSource) normalizeKey(name string) string {
	return strings.ToLower(NormalizeName(name))
}

// Register 加入一个模块，名称大小写不敏感地去重。
func (s *StaticSource) Register(m Module) error {
	m.Name = NormalizeName(m.Name)
	key := s.normalizeKey(m.Name)
	if key == "" {
		return fmt.Errorf("module name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.modules[key]; exists {
		return fmt.Errorf("module %s already registered", m.Name)
	}
	s.modules[key] = m
	return nil
}

// Remove 从来源中移除模块，不存在时忽略。
func (s *StaticSource) Remove(name string) {
	s.mu.Lock()
	delete(s.modules, s.normalizeKey(name))
	s.mu.Unlock()
}

// Scan 返回按名称排序的模块副本。
func (s *StaticSource) Scan(ctx context.Context) ([]Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Module, 0, len(s.modules))
	for _, m := range s.modules {
		result = append(result, m)
	}
	SortByName(result)
	return result, nil
}

// DirSource 扫描若干根目录，每个一级子目录视为一个模块。
type DirSource struct {
	roots []string
}

// NewDirSource 以 roots 为扫描根目录；不存在的目录在扫描时被跳过。
func NewDirSource(roots ...string) *DirSource {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if trimmed := strings.TrimSpace(root); trimmed != "" {
			cleaned = append(cleaned, filepath.Clean(trimmed))
		}
	}
	return &DirSource{roots: cleaned}
}

type manifest struct {
	Name string `json:"name"`
}

// Scan 遍历根目录下的子目录，同名模块以先出现的根目录为准。
func (d *DirSource) Scan(ctx context.Context) ([]Module, error) {
	seen := make(map[string]struct{})
	var result []Module

	for _, root := range d.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("scan modules in %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			name, err := readManifestName(dir)
			if err != nil {
				return nil, err
			}
			if name == "" {
				name = entry.Name()
			}
			key := strings.ToLower(name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, Module{Name: name, Path: dir})
		}
	}

	SortByName(result)
	return result, nil
}

func readManifestName(dir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read manifest in %s: %w", dir, err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("parse manifest in %s: %w", dir, err)
	}
	return NormalizeName(m.Name), nil
}

// MultiSource 按顺序合并多个来源，名称冲突时保留先出现者。
type MultiSource []Source

// Scan 合并所有来源的结果。
func (m MultiSource) Scan(ctx context.Context) ([]Module, error) {
	seen := make(map[string]struct{})
	var result []Module
	for _, src := range m {
		if src == nil {
			continue
		}
		mods, err := src.Scan(ctx)
		if err != nil {
			return nil, err
		}
		for _, mod := range mods {
			key := strings.ToLower(mod.Name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, mod)
		}
	}
	SortByName(result)
	return result, nil
}
