package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/modkit/modkit/internal/config"
)

func TestInitLoggerDefaultsToConsole(t *testing.T) {
	buf := useConsole(t)
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.WithFields(RegistryFields("find", "billing", true)).Info("hit")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("输出应为 JSON: %v (%s)", err, buf.String())
	}
	if entry["module"] != "billing" || entry["cache_hit"] != true || entry["op"] != "find" {
		t.Fatalf("字段缺失: %v", entry)
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}); err == nil {
		t.Fatal("未知日志级别应报错")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	buf := useConsole(t)
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "modkit.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != console {
		t.Fatalf("fallback 时应退回 console")
	}
	if !strings.Contains(buf.String(), "logger_fallback") {
		t.Fatalf("应记录 fallback 警告: %s", buf.String())
	}
}

func TestInitLoggerFallbackWhenPathIsDirectory(t *testing.T) {
	useConsole(t)
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info", LogFilePath: t.TempDir()})
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != console {
		t.Fatalf("目录路径应退回 console")
	}
}

func TestInitLoggerCreatesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "modkit.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path, LogMaxBackups: 3}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	rotator, ok := logger.Out.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("应使用 lumberjack 输出，得到 %T", logger.Out)
	}
	if rotator.MaxSize != defaultMaxSize || rotator.MaxBackups != 3 {
		t.Fatalf("轮转参数错误: %+v", rotator)
	}
	logger.Info("test")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"test"`) {
		t.Fatalf("日志未写入文件: %s", raw)
	}
}

func useConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	t.Cleanup(SetConsole(buf))
	return buf
}
