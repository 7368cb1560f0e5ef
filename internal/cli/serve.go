package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/modkit/modkit/internal/commandgroup"
	"github.com/modkit/modkit/internal/server"
	"github.com/modkit/modkit/internal/server/routes"
)

func (s *session) serveCommand() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   commandgroup.TokenServe,
		Short: "Serve the admin HTTP API",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			if port <= 0 {
				port = rt.Config.Global.ListenPort
			}

			app, err := server.NewApp(server.AppOptions{
				Logger:     rt.Logger,
				ListenPort: port,
			})
			if err != nil {
				return err
			}
			routes.RegisterModuleRoutes(app, routes.Deps{
				Registry: rt.Registry,
				Handlers: rt.Handlers,
				Table:    rt.Table,
				Logger:   rt.Logger,
			})
			server.MountFallback(app, rt.Logger)

			go func() {
				<-ctx.Done()
				_ = app.Shutdown()
			}()

			rt.Logger.WithFields(logrus.Fields{
				"action": "listen",
				"port":   port,
				"tagged": rt.Registry.Tagged(),
				"bypass": rt.Registry.Bypass(),
			}).Info("Fiber 服务启动")

			return app.Listen(fmt.Sprintf(":%d", port))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "覆盖配置中的 ListenPort")
	return cmd
}
