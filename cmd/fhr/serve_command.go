package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"fhr/internal/config"
	"fhr/internal/server"
)

func newServeCommand() *cobra.Command {
	var (
		port    int
		devMode bool
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动考勤分析 Web 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				log.Printf("加载配置失败，使用默认配置: %v", err)
				cfg = config.DefaultConfig()
			}

			// 命令行参数覆盖配置
			if port > 0 {
				cfg.Server.Port = port
			}
			if devMode {
				cfg.Server.DevMode = true
			}
			if dataDir != "" {
				cfg.Data.DataDir = dataDir
			}

			srv := server.NewServer(cfg)
			defer srv.Close()

			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			fmt.Printf("服务启动中，监听端口 %d ...\n", cfg.Server.Port)
			fmt.Printf("请访问 http://localhost:%d\n", cfg.Server.Port)
			return srv.Run(addr)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "服务端口（覆盖配置文件）")
	cmd.Flags().BoolVar(&devMode, "dev", false, "开发模式")
	cmd.Flags().StringVar(&dataDir, "dataDir", "", "数据目录（覆盖配置文件）")

	return cmd
}
