package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/logger"
	srv "github.com/samz905/wrrk-pilot/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runCMD() *cobra.Command {
	var product string
	var target int
	var cfgPath string
	var run = &cobra.Command{
		Use:   "run",
		Short: "Run one prospecting job in the foreground and print its result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.General.LogLevel, cfg.General.LogFormat)
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := srv.BuildRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			runID, err := rt.Orchestrator.StartRun(ctx, product, target)
			if err != nil {
				return err
			}
			log.Info("run started", zap.String("run_id", runID))
			go func() {
				<-ctx.Done()
				_ = rt.Orchestrator.Cancel(cmd.Context(), runID)
			}()
			// The orchestrator outlives ctx; interrupting only requests cancellation.
			if err := rt.Orchestrator.Wait(cmd.Context(), runID); err != nil {
				return err
			}
			result, err := rt.Orchestrator.GetResult(cmd.Context(), runID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
	run.Flags().StringVar(&product, "product", "", "product description")
	run.Flags().IntVar(&target, "target", 50, "number of qualified leads wanted")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	_ = run.MarkFlagRequired("product")

	return run
}
