package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/cropguard-api/internal/config"
	"github.com/Brownie44l1/cropguard-api/internal/handlers"
	"github.com/Brownie44l1/cropguard-api/internal/labels"
	"github.com/Brownie44l1/cropguard-api/internal/logger"
	"github.com/Brownie44l1/cropguard-api/internal/metrics"
	"github.com/Brownie44l1/cropguard-api/internal/model"
	"github.com/Brownie44l1/cropguard-api/internal/pipeline"
)

func main() {
	cfg, err := config.Load(config.ParseConfigFlag())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.Server.Debug)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = logger.Sync()
	}()

	runtime, err := model.NewRuntime(cfg.Model, logger)
	if err != nil {
		logger.Fatal("Failed to initialize model runtime", zap.Error(err))
	}

	registry, err := model.LoadRegistry(runtime, cfg.Model, logger)
	if err != nil {
		runtime.Close()
		logger.Fatal("Failed to load models", zap.Error(err))
	}
	release := func() {
		if err := registry.Close(); err != nil {
			logger.Warn("Failed to release models", zap.Error(err))
		}
		runtime.Close()
	}

	m := metrics.New()
	p := pipeline.New(registry,
		pipeline.WithBatchConcurrency(cfg.Pipeline.BatchConcurrency),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(logger))
	handler := handlers.NewHandler(p, logger, m, cfg.Server.MaxUploadSize)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(cfg.Server.CORSOrigin),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	quitSig := make(chan os.Signal, 1)
	errSig := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errSig <- err
		}
	}()

	logger.Info("Server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("device", string(runtime.Device())),
		zap.Int("crops", labels.NumCrops()),
		zap.Strings("endpoints", []string{
			"GET /health",
			"GET /labels",
			"GET /metrics",
			"POST /predict/",
			"POST /predict_batch/",
		}))

	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	signal.Notify(quitSig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errSig:
		logger.Error("Server failed", zap.Error(err))
		release()
	case <-quitSig:
		logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdown(ctx, httpServer, logger, release)
	}
}
