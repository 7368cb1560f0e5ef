package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPath 是未指定 --config 与 MODKIT_CONFIG 时读取的配置文件。
const DefaultPath = "config.toml"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectModuleLevelStatus(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Modules {
		applyModuleDefaults(&cfg.Modules[i])
	}
	for i := range cfg.Commands {
		cfg.Commands[i].Token = strings.ToLower(strings.TrimSpace(cfg.Commands[i].Token))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := resolvePaths(&cfg.Global); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("DatabasePath", "")
	v.SetDefault("Table", "module_statuses")
	v.SetDefault("CacheDriver", CacheDriverMemory)
	v.SetDefault("CachePath", "")
	v.SetDefault("CacheTTL", 3600)
	v.SetDefault("CachePrefix", "modules")
	v.SetDefault("TestMode", false)
	v.SetDefault("ModulePaths", []string{"./modules"})
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.CacheTTL.DurationValue() == 0 {
		g.CacheTTL = Duration(time.Hour)
	}
	g.CacheDriver = strings.ToLower(strings.TrimSpace(g.CacheDriver))
	if g.CacheDriver == "" {
		g.CacheDriver = CacheDriverMemory
	}
	g.Table = strings.TrimSpace(g.Table)
	if g.Table == "" {
		g.Table = "module_statuses"
	}
	g.CachePrefix = strings.TrimSpace(g.CachePrefix)
	if g.CachePrefix == "" {
		g.CachePrefix = "modules"
	}
}

func applyModuleDefaults(m *ModuleConfig) {
	m.Name = strings.TrimSpace(m.Name)
	m.Path = strings.TrimSpace(m.Path)
}

// resolvePaths 将存储相关路径转换为绝对路径，派生路径在此处落定。
func resolvePaths(g *GlobalConfig) error {
	absStorage, err := filepath.Abs(g.StoragePath)
	if err != nil {
		return fmt.Errorf("无法解析存储目录: %w", err)
	}
	g.StoragePath = absStorage

	if g.DatabasePath != ":memory:" {
		absDB, err := filepath.Abs(g.DatabaseFile())
		if err != nil {
			return fmt.Errorf("无法解析数据库路径: %w", err)
		}
		g.DatabasePath = absDB
	}

	absCache, err := filepath.Abs(g.CacheDir())
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	g.CachePath = absCache

	paths := make([]string, 0, len(g.ModulePaths))
	for _, p := range g.ModulePaths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("无法解析模块目录 %s: %w", p, err)
		}
		paths = append(paths, abs)
	}
	g.ModulePaths = paths
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectModuleLevelStatus 拒绝在 [[Module]] 中声明启用状态；状态只由激活存储维护。
func rejectModuleLevelStatus(v *viper.Viper) error {
	raw := v.Get("Module")
	mods, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range mods {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range []string{"Enabled", "Status"} {
			if _, exists := m[key]; exists {
				name := fmt.Sprintf("#%d", idx)
				if rawName, ok := m["Name"].(string); ok && rawName != "" {
					name = rawName
				}
				return newFieldError(moduleField(name, key), "不支持在配置中声明状态，请使用 module:enable / module:disable")
			}
		}
	}

	return nil
}
