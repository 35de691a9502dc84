package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gradeflow/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port    int
		devMode bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API 服务",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			// 命令行参数覆盖配置
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			if devMode {
				a.cfg.Server.DevMode = true
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			a.logger.Info("starting gradeflow",
				zap.String("data_dir", a.dataDir),
				zap.String("database", a.cfg.Database.Driver),
				zap.Int("port", a.cfg.Server.Port),
			)

			srv := server.NewServer(a.cfg, st, a.logger)
			return srv.Run(ctx, fmt.Sprintf(":%d", a.cfg.Server.Port))
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "服务端口 (覆盖配置文件)")
	cmd.Flags().BoolVar(&devMode, "dev", false, "开发模式")
	return cmd
}
