// Package main is the entry point for the Enricher process (C5): it
// consumes telemetry.normalized, resolves device/patient/threshold
// context from the Registry, and publishes telemetry.enriched.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vitalmesh/pulsegrid/internal/broker"
	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/enricher"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/lineage"
	"github.com/vitalmesh/pulsegrid/internal/observability"
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

	logger.Info("starting enricher", zap.String("version", cfg.Service.Version))

	conn, err := broker.Connect(cfg.Broker, logger)
	if err != nil {
		logger.Fatal("failed to connect to broker", zap.Error(err))
	}

	publisher := broker.NewPublisher(conn, cfg.Broker, logger, telemetry.Metrics())

	registryConn, err := grpc.NewClient(cfg.Enricher.Registry.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		logger.Fatal("failed to dial registry", zap.Error(err))
	}
	defer registryConn.Close()
	registryClient := registryrpc.NewClient(registryConn)

	var auditor *lineage.Auditor
	if cfg.Observability.LineageAudit {
		auditor = lineage.New(logger, cfg.Scorer.BaselineTTL())
		defer auditor.Close()
	}

	enr := enricher.New(registryClient, cfg.Enricher, logger, telemetry.Metrics())
	stage := enricher.NewStage(enr, publisher, logger, telemetry.Metrics(), auditor)

	consumer := broker.NewConsumer(conn, cfg.Broker, envelope.TopicNormalized, stage.Handler(), logger, telemetry.Metrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("failed to start normalized telemetry consumer", zap.Error(err))
	}

	health := observability.NewHealthChecker(logger, telemetry)
	health.RegisterCheck(observability.HealthCheck{
		Name:     "broker",
		Critical: true,
		Check: func(context.Context) error {
			if !conn.IsConnected() {
				return fmt.Errorf("broker not connected")
			}
			return nil
		},
	})
	health.RegisterRPCPeerCheck("registry", cfg.Enricher.Registry.Address)

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
		Handler: metricsAndHealthMux(telemetry, health),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("enricher metrics server failed", zap.Error(err))
		}
	}()

	telemetry.StartSystemMetricsCollector(ctx)

	logger.Info("enricher started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down enricher...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.Deadline())
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	cancel()

	if err := conn.Close(cfg.Shutdown.Deadline()); err != nil {
		logger.Error("broker close error", zap.Error(err))
	}

	logger.Info("enricher stopped")
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
