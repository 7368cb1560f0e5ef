package registry

import (
	"strings"

	"github.com/modkit/modkit/internal/module"
)

// DefaultPrefix 是缓存键前缀，同时用作标签名。
const DefaultPrefix = "modules"

type keySet struct {
	prefix string
}

func newKeySet(prefix string) keySet {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return keySet{prefix: prefix}
}

func (k keySet) scan() string {
	return k.prefix + ".modules_scan"
}

func (k keySet) module(name string) string {
	return k.prefix + ".module_" + strings.ToLower(module.NormalizeName(name))
}

func (k keySet) byStatus(active bool) string {
	if active {
		return k.prefix + ".modules_by_status_enabled"
	}
	return k.prefix + ".modules_by_status_disabled"
}

// statusKeys 是 setActive/enable/disable/bulk 需要失效的键。
func (k keySet) statusKeys() []string {
	return []string{k.byStatus(true), k.byStatus(false), k.scan()}
}

// fallback 计算无标签后端下 ClearCache 需要删除的完整键集。
func (k keySet) fallback(mods []module.Module) []string {
	keys := k.statusKeys()
	seen := make(map[string]struct{}, len(mods))
	for _, m := range mods {
		key := k.module(m.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}
