/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/common"
	"github.com/python-is-trash/westwallet-backend/internal/config"
	"github.com/python-is-trash/westwallet-backend/internal/httpserver"
	"github.com/python-is-trash/westwallet-backend/internal/listener"

	"go.uber.org/zap"
)

type stopper interface {
	Stop()
}

func main() {
	noScan := flag.Bool("no-scan", false, "Serve webhooks only; do not run the periodic history scan")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.Logging)
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting WestWallet backend",
		zap.String("store", cfg.StoreBackend),
		zap.String("addr", cfg.Server.Addr))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	server, err := httpserver.New(cfg.Server, httpserver.Dependencies{
		Engine:  services.Engine,
		Gateway: services.Gateway,
		Store:   services.Store,
		Metrics: services.Metrics,
	})
	if err != nil {
		zap.L().Fatal("Failed to create HTTP server", zap.Error(err))
	}

	var workers []stopper

	if !*noScan {
		listenerCfg := cfg.Listener
		listenerCfg.ScanAssets = services.ScanAssets
		depositListener := listener.NewDepositListener(listener.DepositListenerConfig{
			Gateway:  services.Gateway,
			Engine:   services.Engine,
			Store:    services.Store,
			Redis:    services.Redis,
			Metrics:  services.Metrics,
			Listener: listenerCfg,
		})
		depositListener.Start(ctx)
		workers = append(workers, depositListener)
	} else {
		zap.L().Info("History scan disabled (--no-scan)")
	}

	maturity := listener.NewMaturityWorker(services.Investment, cfg.Listener.MaturityInterval)
	maturity.Start(ctx)
	workers = append(workers, maturity)

	notifier := listener.NewNotificationDispatcher(services.Store, listener.LogSender{}, 0)
	notifier.Start(ctx)
	workers = append(workers, notifier)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	zap.L().Info("Backend running", zap.Int("workers", len(workers)))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received, stopping...")
	case err := <-serverErr:
		if err != nil {
			zap.L().Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("HTTP server shutdown incomplete", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, w := range workers {
			wg.Add(1)
			go func(w stopper) {
				defer wg.Done()
				w.Stop()
			}(w)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("All workers stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
