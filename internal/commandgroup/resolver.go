// Package commandgroup 根据一次调用的命令 token 决定宿主需要注册哪些命令分组。
//
// Resolve 是纯函数：只依赖传入的 token 与静态表，不读取进程参数或任何共享状态。
package commandgroup

import (
	"fmt"
	"strings"
)

// Reason 说明 Resolve 命中的是哪条规则。
type Reason string

const (
	ReasonExact    Reason = "exact"
	ReasonMarker   Reason = "marker"
	ReasonFallback Reason = "fallback"
)

// Group 是一组总是一起注册的命令。
type Group struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Marker 将 token 中的子串映射到分组。
type Marker struct {
	Substring string `json:"substring"`
	Group     string `json:"group"`
}

// Table 是静态命令目录；Groups 与 Markers 的顺序即匹配顺序。
type Table struct {
	Essential []string `json:"essential"`
	Groups    []Group  `json:"groups"`
	Markers   []Marker `json:"markers"`
}

// Selection 是 Resolve 的结果。
type Selection struct {
	Essential []string `json:"essential"`
	Groups    []Group  `json:"groups"`
	Reason    Reason   `json:"reason"`
}

// GroupNames 返回选中的分组名，保持表中顺序。
func (s Selection) GroupNames() []string {
	names := make([]string, 0, len(s.Groups))
	for _, g := range s.Groups {
		names = append(names, g.Name)
	}
	return names
}

// Tokens 返回需要注册的全部 token：先 essential，再按分组顺序展开。
func (s Selection) Tokens() []string {
	tokens := append([]string(nil), s.Essential...)
	for _, g := range s.Groups {
		tokens = append(tokens, g.Members...)
	}
	return tokens
}

// Has 判断 token 是否在本次选择中。
func (s Selection) Has(token string) bool {
	for _, t := range s.Tokens() {
		if t == token {
			return true
		}
	}
	return false
}

// Resolve 按顺序应用规则：essential 总是包含；精确命中某分组成员则选该分组；
// 否则按 marker 子串选分组；都不满足时选全部分组。
func Resolve(token string, table Table) Selection {
	token = strings.TrimSpace(token)
	sel := Selection{Essential: append([]string(nil), table.Essential...)}

	if token != "" {
		for _, g := range table.Groups {
			for _, member := range g.Members {
				if member == token {
					sel.Groups = []Group{copyGroup(g)}
					sel.Reason = ReasonExact
					return sel
				}
			}
		}
		for _, m := range table.Markers {
			if m.Substring == "" || !strings.Contains(token, m.Substring) {
				continue
			}
			if g, ok := table.group(m.Group); ok {
				sel.Groups = []Group{copyGroup(g)}
				sel.Reason = ReasonMarker
				return sel
			}
		}
	}

	sel.Groups = make([]Group, 0, len(table.Groups))
	for _, g := range table.Groups {
		sel.Groups = append(sel.Groups, copyGroup(g))
	}
	sel.Reason = ReasonFallback
	return sel
}

func (t Table) group(name string) (Group, bool) {
	for _, g := range t.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

func copyGroup(g Group) Group {
	return Group{Name: g.Name, Members: append([]string(nil), g.Members...)}
}

// Validate 检查表的一致性：token 非空，每个 token 至多属于一个分组，
// essential 不出现在任何分组中，marker 指向存在的分组。
func (t Table) Validate() error {
	essential := make(map[string]struct{}, len(t.Essential))
	for _, token := range t.Essential {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("essential token is empty")
		}
		if _, dup := essential[token]; dup {
			return fmt.Errorf("essential token %s listed twice", token)
		}
		essential[token] = struct{}{}
	}

	owner := make(map[string]string)
	names := make(map[string]struct{}, len(t.Groups))
	for _, g := range t.Groups {
		if strings.TrimSpace(g.Name) == "" {
			return fmt.Errorf("group name is empty")
		}
		if _, dup := names[g.Name]; dup {
			return fmt.Errorf("group %s declared twice", g.Name)
		}
		names[g.Name] = struct{}{}
		for _, token := range g.Members {
			if strings.TrimSpace(token) == "" {
				return fmt.Errorf("group %s has an empty token", g.Name)
			}
			if _, ok := essential[token]; ok {
				return fmt.Errorf("token %s is essential and cannot belong to group %s", token, g.Name)
			}
			if prev, ok := owner[token]; ok {
				return fmt.Errorf("token %s belongs to both %s and %s", token, prev, g.Name)
			}
			owner[token] = g.Name
		}
	}

	for _, m := range t.Markers {
		if strings.TrimSpace(m.Substring) == "" {
			return fmt.Errorf("marker for group %s is empty", m.Group)
		}
		if _, ok := names[m.Group]; !ok {
			return fmt.Errorf("marker %s points to unknown group %s", m.Substring, m.Group)
		}
	}
	return nil
}

// AllTokens 返回表中的全部 token，等价于 fallback 选择。
func (t Table) AllTokens() []string {
	return Resolve("", t).Tokens()
}
