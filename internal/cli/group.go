package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modkit/modkit/internal/runner"
)

// groupCommand 注册一个由外部 handler 执行的分组命令。参数原样透传给 handler，
// 因此关闭 cobra 的 flag 解析，只在这里取出根命令的全局 flag。
func (s *session) groupCommand(group, token string) *cobra.Command {
	return &cobra.Command{
		Use:                token,
		Short:              fmt.Sprintf("Run the configured %s handler", group),
		Annotations:        map[string]string{"group": group},
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rest, err := s.absorbRootFlags(args)
			if err != nil {
				return usageError(err)
			}
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}

			env := []string{ConfigEnv + "=" + s.configPath}
			if name, ok, err := rt.Used.Current(); err != nil {
				return err
			} else if ok {
				env = append(env, ModuleEnv+"="+name)
			}

			run := runner.New(rt.Handlers, runner.Options{
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
				Logger: rt.Logger,
			})
			code, err := run.Run(ctx, token, rest, env...)
			if err != nil {
				if errors.Is(err, runner.ErrNoHandler) {
					return fmt.Errorf("no [[Command]] handler configured for %s", token)
				}
				return err
			}
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
}

// absorbRootFlags 从透传参数中取出 --config 与 --bypass-cache，其余原样返回。
func (s *session) absorbRootFlags(args []string) ([]string, error) {
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			return append(rest, args[i+1:]...), nil
		case arg == "--"+flagConfig:
			if i+1 >= len(args) {
				return nil, errors.New("flag needs an argument: --" + flagConfig)
			}
			s.configFlag = args[i+1]
			i++
		case strings.HasPrefix(arg, "--"+flagConfig+"="):
			s.configFlag = strings.TrimPrefix(arg, "--"+flagConfig+"=")
		case arg == "--"+flagBypass:
			s.bypass = true
		default:
			rest = append(rest, arg)
		}
	}
	return rest, nil
}
