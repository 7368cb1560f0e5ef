package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modkit/modkit/internal/commandgroup"
	"github.com/modkit/modkit/internal/module"
	"github.com/modkit/modkit/internal/registry"
	"github.com/modkit/modkit/internal/server"
)

// essentialCommands 返回始终注册的核心命令。
func (s *session) essentialCommands() []*cobra.Command {
	return []*cobra.Command{
		s.makeCommand(),
		s.listCommand(),
		s.toggleCommand(commandgroup.TokenEnable, true),
		s.toggleCommand(commandgroup.TokenDisable, false),
		s.useCommand(),
		s.unuseCommand(),
		s.statusCommand(),
		s.deleteCommand(),
		s.resetCommand(),
		s.bulkCommand(),
		s.cacheClearCommand(),
		s.serveCommand(),
		s.resolveCommand(),
	}
}

func (s *session) listCommand() *cobra.Command {
	var (
		status string
		size   int
	)
	cmd := &cobra.Command{
		Use:   commandgroup.TokenList,
		Short: "List discovered modules with their activation status",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			var active *bool
			switch strings.ToLower(strings.TrimSpace(status)) {
			case "":
			case "enabled":
				v := true
				active = &v
			case "disabled":
				v := false
				active = &v
			default:
				return usageError(fmt.Errorf("invalid --status %q (want enabled or disabled)", status))
			}
			if size < 0 {
				return usageError(fmt.Errorf("invalid --chunk %d (want a positive size)", size))
			}
			if size > 0 && active != nil {
				return usageError(errors.New("--chunk cannot be combined with --status"))
			}

			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			var pages [][]module.Module
			switch {
			case size > 0:
				pages, err = rt.Registry.Chunks(ctx, size)
			case active == nil:
				var mods []module.Module
				mods, err = rt.Registry.All(ctx)
				pages = [][]module.Module{mods}
			default:
				var mods []module.Module
				mods, err = rt.Registry.ByStatus(ctx, *active)
				pages = [][]module.Module{mods}
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for i, mods := range pages {
				if size > 0 {
					if i > 0 {
						fmt.Fprintln(w)
					}
					fmt.Fprintf(w, "# page %d/%d\n", i+1, len(pages))
				}
				fmt.Fprintln(w, "NAME\tSTATUS\tPATH")
				for _, m := range mods {
					st, err := rt.Registry.Status(ctx, m.Name)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, st, m.Path)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "只列出 enabled 或 disabled 的模块")
	cmd.Flags().IntVar(&size, "chunk", 0, "按给定大小分页输出")
	return cmd
}

func (s *session) toggleCommand(token string, active bool) *cobra.Command {
	verb := "Disable"
	if active {
		verb = "Enable"
	}
	return &cobra.Command{
		Use:   token + " <name>...",
		Short: verb + " one or more modules",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			for _, name := range args {
				if active {
					err = rt.Registry.Enable(ctx, name)
				} else {
					err = rt.Registry.Disable(ctx, name)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", canonicalName(ctx, rt, name), module.StatusOf(active))
			}
			return nil
		},
	}
}

func (s *session) useCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandgroup.TokenUse + " <name>",
		Short: "Select the module that generator commands act on",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			m, ok, err := rt.Registry.Find(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", registry.ErrModuleNotFound, args[0])
			}
			if err := rt.Used.Use(m.Name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "using %s\n", m.Name)
			return nil
		},
	}
}

func (s *session) unuseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandgroup.TokenUnuse,
		Short: "Forget the module selected by " + commandgroup.TokenUse,
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := s.runtime(cmd.Context())
			if err != nil {
				return err
			}
			return rt.Used.Forget()
		},
	}
}

func (s *session) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandgroup.TokenStatus + " [name]...",
		Short: "Show the activation status of modules (defaults to the used module)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				name, ok, err := rt.Used.Current()
				if err != nil {
					return err
				}
				if !ok {
					return usageError(errors.New("no module given and none selected with " + commandgroup.TokenUse))
				}
				args = []string{name}
			}
			for _, name := range args {
				st, err := rt.Registry.Status(ctx, name)
				if err != nil {
					return err
				}
				name = canonicalName(ctx, rt, name)
				rec, ok, err := rt.Activation.Record(ctx, name)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (updated %s)\n", name, st, rec.UpdatedAt.Format(time.RFC3339))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, st)
			}
			return nil
		},
	}
}

func (s *session) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandgroup.TokenDelete + " <name>...",
		Short: "Delete stored activation records",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := rt.Registry.Delete(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", canonicalName(ctx, rt, name))
			}
			return nil
		},
	}
}

func (s *session) resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandgroup.TokenReset,
		Short: "Delete every activation record and clear the registry cache",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			return rt.Registry.Reset(ctx)
		},
	}
}

func (s *session) bulkCommand() *cobra.Command {
	var enable, disable bool
	cmd := &cobra.Command{
		Use:   commandgroup.TokenBulk + " (--enable|--disable) <name>...",
		Short: "Set the status of several modules in one write",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if enable == disable {
				return usageError(errors.New("exactly one of --enable or --disable is required"))
			}
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			if err := rt.Registry.BulkSetActive(ctx, args, enable); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d modules %s\n", len(args), module.StatusOf(enable))
			return nil
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "启用给定模块")
	cmd.Flags().BoolVar(&disable, "disable", false, "停用给定模块")
	return cmd
}

func (s *session) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandgroup.TokenCacheClear,
		Short: "Clear every cached registry entry",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			if err := rt.Registry.ClearCache(ctx); err != nil {
				return err
			}
			strategy := "keys"
			if rt.Registry.Tagged() {
				strategy = "tag"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registry cache cleared (%s)\n", strategy)
			return nil
		},
	}
}

func (s *session) resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandgroup.TokenResolve + " <token>",
		Short: "Show which command groups a token would load",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := commandgroup.Resolve(args[0], s.table)
			return writeSelection(cmd.OutOrStdout(), args[0], sel)
		},
	}
}

func writeSelection(w io.Writer, token string, sel commandgroup.Selection) error {
	groups := sel.GroupNames()
	if len(groups) == 0 {
		groups = []string{"-"}
	}
	_, err := fmt.Fprintf(w, "token:  %s\nreason: %s\ngroups: %s\ntokens: %d\nloaded: %t\n",
		token, sel.Reason, strings.Join(groups, ", "), len(sel.Tokens()), sel.Has(token))
	return err
}

// canonicalName 返回已发现模块的原始拼写；未知模块只做空白归一化。
func canonicalName(ctx context.Context, rt *server.Runtime, name string) string {
	if m, ok, err := rt.Registry.Find(ctx, name); err == nil && ok {
		return m.Name
	}
	return module.NormalizeName(name)
}

// makeCommand 在第一个模块根目录下创建模块目录与 module.json。
func (s *session) makeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commandgroup.TokenMake + " <name>...",
		Short: "Create new module directories",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			roots := rt.Config.Global.ModulePaths
			if len(roots) == 0 {
				return errors.New("no ModulePaths configured")
			}
			for _, name := range args {
				dir, err := scaffoldModule(roots[0], name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", dir)
			}
			// 新目录需要重新扫描才可见。
			return rt.Registry.ClearCache(ctx)
		},
	}
}

func scaffoldModule(root, name string) (string, error) {
	name = module.NormalizeName(name)
	if name == "" {
		return "", registry.ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid module name %q", name)
	}
	dir := filepath.Join(root, name)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("module directory %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create module dir: %w", err)
	}
	raw, err := json.MarshalIndent(map[string]string{"name": name}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, module.ManifestFile), append(raw, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return dir, nil
}
