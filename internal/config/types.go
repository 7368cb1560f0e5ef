package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的缓存后端。
const (
	CacheDriverMemory = "memory"
	CacheDriverFile   = "file"
)

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`
	// DatabasePath 为空时位于 StoragePath/modules.db。
	DatabasePath string   `mapstructure:"DatabasePath"`
	Table        string   `mapstructure:"Table"`
	CacheDriver  string   `mapstructure:"CacheDriver"`
	CachePath    string   `mapstructure:"CachePath"`
	CacheTTL     Duration `mapstructure:"CacheTTL"`
	CachePrefix  string   `mapstructure:"CachePrefix"`
	// TestMode 打开后注册表与激活存储的所有读操作都绕过缓存。
	TestMode    bool     `mapstructure:"TestMode"`
	ModulePaths []string `mapstructure:"ModulePaths"`
}

// ModuleConfig 声明一个不依赖目录扫描的静态模块。
type ModuleConfig struct {
	Name string `mapstructure:"Name"`
	Path string `mapstructure:"Path"`
}

// CommandConfig 将命令 token 绑定到一条外部命令行。
type CommandConfig struct {
	Token string `mapstructure:"Token"`
	Run   string `mapstructure:"Run"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig    `mapstructure:",squash"`
	Modules  []ModuleConfig  `mapstructure:"Module"`
	Commands []CommandConfig `mapstructure:"Command"`
}

// DatabaseFile 返回激活存储的 SQLite 文件路径。
func (g GlobalConfig) DatabaseFile() string {
	if strings.TrimSpace(g.DatabasePath) != "" {
		return g.DatabasePath
	}
	return filepath.Join(g.StoragePath, "modules.db")
}

// CacheDir 返回文件缓存目录。
func (g GlobalConfig) CacheDir() string {
	if strings.TrimSpace(g.CachePath) != "" {
		return g.CachePath
	}
	return filepath.Join(g.StoragePath, "cache")
}

// ModuleNames 返回静态模块名摘要，供启动日志使用。
func ModuleNames(mods []ModuleConfig) []string {
	if len(mods) == 0 {
		return nil
	}
	result := make([]string, len(mods))
	for i, m := range mods {
		result[i] = m.Name
	}
	return result
}
