package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"pnvr/internal/amqp"
	"pnvr/internal/backend"
	"pnvr/internal/cache"
	"pnvr/internal/cli"
	apphttp "pnvr/internal/http"
	"pnvr/internal/log"
	"pnvr/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer result.Close()

	cacheManager := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
	var reportCache cache.Cache[int, services.ConvenioReport]
	if cfg.ReportCacheSize > 0 {
		lru := cache.NewLRUCache[int, services.ConvenioReport](cfg.ReportCacheSize, cfg.ReportCacheTTL)
		cacheManager.Register(lru)
		reportCache = lru
	}
	reports := services.NewReportService(result.Backend, reportCache, logger)

	// AMQP is optional on the HTTP side: without it jobs wait for the
	// worker's sweep.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, exports left for the worker sweep", "error", err)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}
	var exports *services.ExportService
	if result.Queue != nil {
		exports = services.NewExportService(reports, result.Queue, publisher, logger)
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, reports, exports, apphttp.Options{
		ReportTimeout:   cfg.ReportTimeout,
		ExportRateLimit: cfg.ExportRateLimit,
		Ready:           result.Backend.Ping,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting pnvr server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"exports_enabled", exports.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		cacheManager.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
