// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Main entry point for the quickdb master: the HTTP job service (C9)
// fanned out to the worker fleet via the scatter engine (C7).

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"quickdb/internal/config"
	"quickdb/internal/httpjob"
	"quickdb/internal/lockfile"
	"quickdb/internal/logging"
	"quickdb/internal/scatter"
	"quickdb/internal/version"
	"quickdb/internal/wire"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadMaster()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("failed to init logger", zap.Error(err))
	}
	defer logger.Sync()

	removePID, err := lockfile.WritePID(cfg.PIDFile)
	if err != nil {
		logger.Fatal("failed to write pid file", zap.Error(err))
	}
	defer removePID()

	var secret []byte
	if cfg.AuthSecretFile != "" {
		secret, err = wire.LoadSecret(cfg.AuthSecretFile)
		if err != nil {
			logger.Fatal("failed to load auth secret", zap.Error(err))
		}
	}

	info := version.Info()
	logger.Info("starting quickdb-master",
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("date", info.Date),
		zap.Strings("workers", cfg.Workers),
	)

	s := scatter.New(cfg.Workers, secret)
	svc := httpjob.New(s, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: svc.Routes(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("HTTP server error", zap.Error(err))
	}
	logger.Info("server stopped")
}
