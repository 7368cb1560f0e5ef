package module

import (
	"sort"
	"strings"
)

// Module 描述一个被发现的模块，Name 是稳定唯一键，Path 对注册表而言是不透明的。
type Module struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Status 是模块的三态激活状态；没有激活记录的模块为 StatusUnknown。
type Status int

const (
	StatusUnknown Status = iota
	StatusEnabled
	StatusDisabled
)

// String 输出 unknown/enabled/disabled，供 CLI 与 HTTP 响应使用。
func (s Status) String() string {
	switch s {
	case StatusEnabled:
		return "enabled"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Matches 判断当前状态是否与布尔查询一致；StatusUnknown 对 true/false 均返回 false。
func (s Status) Matches(active bool) bool {
	if active {
		return s == StatusEnabled
	}
	return s == StatusDisabled
}

// StatusOf 将持久化的布尔值映射为三态状态。
func StatusOf(active bool) Status {
	if active {
		return StatusEnabled
	}
	return StatusDisabled
}

// NormalizeName 去除首尾空白，名称比较时再统一小写。
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// SameName 按大小写不敏感的方式比较两个模块名。
func SameName(a, b string) bool {
	return strings.EqualFold(NormalizeName(a), NormalizeName(b))
}

// SortByName 按名称排序，保证 Scan/ByStatus 的输出稳定。
func SortByName(mods []Module) {
	sort.Slice(mods, func(i, j int) bool {
		return mods[i].Name < mods[j].Name
	})
}

// Names 提取模块名列表。
func Names(mods []Module) []string {
	if len(mods) == 0 {
		return nil
	}
	result := make([]string, len(mods))
	for i, m := range mods {
		result[i] = m.Name
	}
	return result
}
