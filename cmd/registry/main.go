// Package main is the entry point for the Registry process (C1): a
// synchronous, read-only lookup service for devices, patients, and
// threshold profiles, seeded from a YAML file at startup.
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

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/observability"
	"github.com/vitalmesh/pulsegrid/internal/registry"
	"github.com/vitalmesh/pulsegrid/internal/registryrpc"
	_ "github.com/vitalmesh/pulsegrid/internal/rpcjson"
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

	logger.Info("starting registry",
		zap.String("version", cfg.Service.Version),
		zap.Int("grpc_port", cfg.Registry.GRPCPort),
	)

	store := registry.NewStore()
	if cfg.Registry.SeedFile != "" {
		if err := store.LoadSeedFile(cfg.Registry.SeedFile); err != nil {
			logger.Fatal("failed to load registry seed file", zap.Error(err))
		}
	}

	server := registry.NewServer(store, logger)

	grpcServer := grpc.NewServer()
	registryrpc.RegisterServer(grpcServer, server)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Registry.GRPCPort))
	if err != nil {
		logger.Fatal("failed to bind grpc listener", zap.Error(err))
	}

	go func() {
		logger.Info("registry grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("registry grpc server failed", zap.Error(err))
		}
	}()

	health := observability.NewHealthChecker(logger, telemetry)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
		Handler: metricsAndHealthMux(telemetry, health),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("registry metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("registry started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down registry...")

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

	logger.Info("registry stopped")
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
