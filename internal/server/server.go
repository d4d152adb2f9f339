package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/telemetry"
	"go.uber.org/zap"
)

// NewEcho builds the HTTP server with recovery, JSON errors, CORS, health and metrics.
func NewEcho(logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpLogger := logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			httpLogger.Error("request failed", fields...)
		} else {
			httpLogger.Debug("request rejected", fields...)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// Run serves the prospecting API until SIGINT or SIGTERM, then shuts down gracefully.
func Run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Telemetry.Enabled {
		mp, err := telemetry.InstallPrometheus()
		if err != nil {
			return fmt.Errorf("install metrics exporter: %w", err)
		}
		defer func() { _ = mp.Shutdown(context.Background()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Storage.Backend == "postgres" {
		if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			logger.Warn("migrations not applied", zap.Error(err))
		}
	}

	rt, err := BuildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	e := NewEcho(logger)
	rh := NewRunsHandler(rt.Orchestrator, rt.Hub, logger)
	if rt.Replay != nil {
		rh.Replay = rt.Replay
		rh.StreamName = rt.Streams.Stream
	}
	if lister, ok := rt.Runs.(JobLister); ok {
		rh.Jobs = lister
	}
	rh.Register(e.Group("/api/runs"))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", cfg.Server.Address))
		if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info("shutting down")
	httpErr := e.Shutdown(shutdownCtx)
	// runs outlive their requests; stop them before the stores they write to are closed
	if err := rt.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runtime shutdown", zap.Error(err))
	}
	return httpErr
}
