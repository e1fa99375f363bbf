// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Main entry point for the quickdb worker daemon: the per-fleet-member
// chunk-processing engine (C6) serving one data directory's shards.

package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"quickdb/internal/config"
	"quickdb/internal/lockfile"
	"quickdb/internal/logging"
	"quickdb/internal/shardstore"
	"quickdb/internal/version"
	"quickdb/internal/wire"
	"quickdb/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorker()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("failed to init logger", zap.Error(err))
	}
	defer logger.Sync()

	releaseLock, err := lockfile.AcquireDir(filepath.Join(cfg.DataDir, ".lock"))
	if err != nil {
		logger.Fatal("failed to acquire data directory lock", zap.Error(err))
	}
	defer releaseLock()

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

	store, err := shardstore.LoadManifest(cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to load shard manifest", zap.Error(err))
	}

	info := version.Info()
	logger.Info("starting quickdb-worker",
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("date", info.Date),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("parallel", cfg.Parallel),
	)

	w := worker.New(store, secret, cfg.MasterAddr, cfg.Parallel, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	logger.Info("listening", zap.String("addr", addr))
	if err := w.Serve(ctx, ln); err != nil {
		logger.Fatal("worker exited with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}
