package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/modkit/modkit/internal/config"
)

// console 是未配置 LogFilePath 或文件不可写时的输出；stdout 留给命令结果。
var console io.Writer = os.Stderr

// SetConsole 替换 console 并返回恢复函数；CLI 用它把日志写到调用方的 stderr。
func SetConsole(w io.Writer) (restore func()) {
	prev := console
	if w != nil {
		console = w
	}
	return func() { console = prev }
}

const (
	defaultMaxSize    = 100
	defaultMaxBackups = 10
)

// InitLogger 按全局配置构建 JSON 日志，并同步 logrus 标准 logger，
// 未显式传入 logger 的组件（注册表、runner）与之保持一致。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, fallbackErr := openOutput(cfg)

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if fallbackErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).WithError(fallbackErr).Warn("log file unavailable, using stderr")
	}
	return logger, nil
}

// openOutput 返回 lumberjack 轮转文件。lumberjack 首次写入时才打开文件，
// 这里先探测一次，不可写时退回 console 并返回原因。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	path := strings.TrimSpace(cfg.LogFilePath)
	if path == "" {
		return console, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return console, fmt.Errorf("创建日志目录失败: %w", err)
	}
	probe, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return console, fmt.Errorf("打开日志文件失败: %w", err)
	}
	_ = probe.Close()

	maxSize := cfg.LogMaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	maxBackups := cfg.LogMaxBackups
	if maxBackups < 0 {
		maxBackups = defaultMaxBackups
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
