package config

import (
	"errors"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/modkit/modkit/internal/commandgroup"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheTTL.DurationValue() <= 0 {
		return newFieldError("Global.CacheTTL", "必须大于 0")
	}
	switch g.CacheDriver {
	case CacheDriverMemory, CacheDriverFile:
	default:
		return newFieldError("Global.CacheDriver", "仅支持 memory|file")
	}
	if !identifierPattern.MatchString(g.Table) {
		return newFieldError("Global.Table", "必须是合法的 SQL 标识符")
	}
	if strings.ContainsAny(g.CachePrefix, " \t/") {
		return newFieldError("Global.CachePrefix", "不允许包含空白或 /")
	}

	seenModules := map[string]struct{}{}
	for _, m := range c.Modules {
		if m.Name == "" {
			return newFieldError("Module[].Name", "不能为空")
		}
		key := strings.ToLower(m.Name)
		if _, exists := seenModules[key]; exists {
			return newFieldError(moduleField(m.Name, "Name"), "重复")
		}
		seenModules[key] = struct{}{}
	}

	essential := map[string]struct{}{}
	for _, token := range commandgroup.DefaultTable().Essential {
		essential[token] = struct{}{}
	}
	seenCommands := map[string]struct{}{}
	for _, cmd := range c.Commands {
		if cmd.Token == "" {
			return newFieldError("Command[].Token", "不能为空")
		}
		if _, exists := seenCommands[cmd.Token]; exists {
			return newFieldError(commandField(cmd.Token, "Token"), "重复")
		}
		seenCommands[cmd.Token] = struct{}{}
		if _, core := essential[cmd.Token]; core {
			return newFieldError(commandField(cmd.Token, "Token"), "不能覆盖内置命令")
		}
		if strings.TrimSpace(cmd.Run) == "" {
			return newFieldError(commandField(cmd.Token, "Run"), "不能为空")
		}
	}

	return nil
}
