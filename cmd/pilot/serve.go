package main

import (
	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/logger"
	srv "github.com/samz905/wrrk-pilot/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			log := logger.New(cfg.General.LogLevel, cfg.General.LogFormat)
			defer func() { _ = log.Sync() }()
			return srv.Run(cfg, log)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	return serve
}
