/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 19:55:11
 * @FilePath: \newsroom-cms\backend\cmd\server\main.go
 * @LastEditTime: 2025-10-20 17:02:45
 */
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsroom-cms/backend/internal/app"
	"newsroom-cms/backend/internal/bootstrap"
	"newsroom-cms/backend/internal/config"
	"newsroom-cms/backend/internal/infra/logger"
	"newsroom-cms/backend/internal/infra/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.LoadEnvFiles()

	zapLogger, err := logger.Init()
	if err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Sync()
	sugar := zapLogger.Sugar()

	metrics.MustRegister()

	resources, err := app.InitResources(ctx, config.LoadRuntimeFlags())
	if err != nil {
		sugar.Fatalw("initialise resources failed", "error", err)
	}
	defer func() {
		if err := resources.Close(); err != nil {
			sugar.Warnw("resource cleanup error", "error", err)
		}
	}()

	application, err := bootstrap.BuildApplication(ctx, sugar, resources)
	if err != nil {
		sugar.Fatalw("build application failed", "error", err)
	}

	if application.Sweeper != nil {
		application.Sweeper.Start()
	}

	httpCfg := resources.Config.HTTP
	srv := &http.Server{
		Addr:              ":" + httpCfg.Port,
		Handler:           application.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		sugar.Infow("http server listening", "addr", srv.Addr, "mode", resources.Flags.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		sugar.Infow("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			sugar.Errorw("http server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("http shutdown failed", "error", err)
	}

	if application.Sweeper != nil {
		application.Sweeper.Stop()
	} else if _, err := application.Views.Flush(shutdownCtx); err != nil {
		sugar.Warnw("flush pending views failed", "error", err)
	}
}
