// Package cli 是 modkit 的命令行入口：essential 命令由本仓库直接实现，
// 分组命令（make/database/publishing）按调用 token 解析后懒注册，并交给
// 外部配置的 handler 执行。
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/modkit/modkit/internal/commandgroup"
	"github.com/modkit/modkit/internal/config"
	"github.com/modkit/modkit/internal/logging"
	"github.com/modkit/modkit/internal/server"
	"github.com/modkit/modkit/internal/version"
)

// ConfigEnv 可覆盖默认配置路径，优先级低于 --config。
const ConfigEnv = "MODKIT_CONFIG"

// ModuleEnv 把 module:use 选中的模块传给分组命令的 handler。
const ModuleEnv = "MODKIT_MODULE"

const (
	flagConfig = "config"
	flagBypass = "bypass-cache"
)

// session 持有一次调用的全局参数与懒加载的运行时。
type session struct {
	configFlag string
	bypass     bool
	checkOnly  bool
	table      commandgroup.Table
	selection  commandgroup.Selection

	rt         *server.Runtime
	configPath string
}

// Execute 解析 args 并执行对应命令，返回进程退出码：
// 0 成功，1 运行失败，2 参数错误。
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	defer logging.SetConsole(stderr)()

	s := &session{table: commandgroup.DefaultTable()}
	root := s.newRootCommand(args)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer s.close()

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, exitErr.Err.Error())
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, err.Error())
	return 1
}

// newRootCommand 先从 args 中找出命令 token，再只注册 Resolve 选中的命令。
func (s *session) newRootCommand(args []string) *cobra.Command {
	token := invocationToken(args)
	s.selection = commandgroup.Resolve(token, s.table)

	root := &cobra.Command{
		Use:           "modkit",
		Short:         "Module activation registry and command catalog",
		Version:       version.Full(),
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if s.checkOnly {
				return s.checkConfig()
			}
			return cmd.Help()
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	root.PersistentFlags().StringVar(&s.configFlag, flagConfig, "", "配置文件路径（默认 ./config.toml，可被 "+ConfigEnv+" 覆盖）")
	root.PersistentFlags().BoolVar(&s.bypass, flagBypass, false, "跳过注册表缓存，所有读取直达存储")
	root.Flags().BoolVar(&s.checkOnly, "check-config", false, "仅校验配置后退出")

	for _, cmd := range s.essentialCommands() {
		root.AddCommand(cmd)
	}
	for _, g := range s.selection.Groups {
		for _, token := range g.Members {
			root.AddCommand(s.groupCommand(g.Name, token))
		}
	}
	return root
}

// invocationToken 返回第一个非 flag 参数，跳过 --config 的取值。
func invocationToken(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		case arg == "--"+flagConfig:
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			return arg
		}
	}
	return ""
}

// resolveConfigPath 按 --config、环境变量、默认值的顺序确定配置路径。
func (s *session) resolveConfigPath() string {
	if path := strings.TrimSpace(s.configFlag); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv(ConfigEnv)); path != "" {
		return path
	}
	return config.DefaultPath
}

// checkConfig 只加载并校验配置，不打开数据库。
func (s *session) checkConfig() error {
	s.configPath = s.resolveConfigPath()
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	fields := logging.BaseFields("check_config", s.configPath)
	fields["modules"] = len(cfg.Modules)
	fields["commands"] = len(cfg.Commands)
	fields["cache_driver"] = cfg.Global.CacheDriver
	fields["result"] = "ok"
	logger.WithFields(fields).Info("配置校验通过")
	return nil
}

// runtime 首次调用时加载配置、初始化日志并构建注册表运行时。
func (s *session) runtime(ctx context.Context) (*server.Runtime, error) {
	if s.rt != nil {
		return s.rt, nil
	}
	s.configPath = s.resolveConfigPath()
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	rt, err := server.NewRuntime(ctx, cfg, logger, server.RuntimeOptions{Bypass: s.bypass})
	if err != nil {
		return nil, fmt.Errorf("初始化注册表失败: %w", err)
	}

	fields := logging.BaseFields("startup", s.configPath)
	fields["modules"] = len(cfg.Modules)
	fields["commands"] = len(cfg.Commands)
	fields["groups"] = s.selection.GroupNames()
	fields["reason"] = string(s.selection.Reason)
	fields["version"] = version.Full()
	logger.WithFields(fields).Debug("配置加载完成")

	s.rt = rt
	return rt, nil
}

func (s *session) close() {
	if s.rt == nil {
		return
	}
	if err := s.rt.Close(); err != nil {
		s.rt.Logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("close runtime failed")
	}
	s.rt = nil
}
