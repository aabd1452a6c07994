// Package main is the entry point for the Anomaly Scorer process (C2): a
// per-patient, per-metric baseline tracker that scores how anomalous each
// submitted vital reading is relative to its rolling history.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/observability"
	_ "github.com/vitalmesh/pulsegrid/internal/rpcjson"
	"github.com/vitalmesh/pulsegrid/internal/scorer"
	"github.com/vitalmesh/pulsegrid/internal/scorerrpc"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	telemetry, err := observability.New(observability.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		LogLevel:       cfg.Observability.LogLevel,
		LogFormat:      cfg.Observability.LogFormat,
		TracingEnabled: cfg.Observability.TracingEnabled,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.SamplingRate,
		MetricsEnabled: true,
		MetricsPort:    cfg.Observability.MetricsPort,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.Logger()
	defer telemetry.Shutdown(context.Background())
	defer logger.Sync()

	logger.Info("starting anomaly scorer",
		zap.String("version", cfg.Service.Version),
		zap.Int("grpc_port", cfg.Scorer.GRPCPort),
		zap.Bool("cache_enabled", cfg.Scorer.CacheEnabled),
	)

	fallback := scorer.NewFallbackStore(cfg.Scorer.WindowSize())

	var store scorer.Store = fallback
	if cfg.Scorer.CacheEnabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Scorer.CacheAddress})
		store = scorer.NewRedisStore(client, cfg.Scorer.WindowSize(), cfg.Scorer.BaselineTTL(), fallback)
	}

	server := scorer.NewServer(store, cfg.Scorer, logger, telemetry.Metrics())

	grpcServer := grpc.NewServer()
	scorerrpc.RegisterServer(grpcServer, server)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Scorer.GRPCPort))
	if err != nil {
		logger.Fatal("failed to bind grpc listener", zap.Error(err))
	}

	go func() {
		logger.Info("scorer grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("scorer grpc server failed", zap.Error(err))
		}
	}()

	health := observability.NewHealthChecker(logger, telemetry)
	if cfg.Scorer.CacheEnabled {
		health.RegisterRPCPeerCheck("baseline_cache", cfg.Scorer.CacheAddress)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
		Handler: metricsAndHealthMux(telemetry, health),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("scorer metrics server failed", zap.Error(err))
		}
	}()

	telemetry.StartSystemMetricsCollector(context.Background())

	logger.Info("anomaly scorer started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down anomaly scorer...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.Deadline())
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.Shutdown.Deadline()):
		grpcServer.Stop()
	}

	logger.Info("anomaly scorer stopped")
}

func metricsAndHealthMux(telemetry *observability.Telemetry, health *observability.HealthChecker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.HandleFunc("/healthz", health.LivenessHandler())
	mux.HandleFunc("/readyz", health.ReadinessHandler())
	return mux
}

func configPath() string {
	if p := os.Getenv("PULSEGRID_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}
