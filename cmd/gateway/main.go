// Package main is the entry point for the Gateway process (C3): the
// ingest front door exposing POST /telemetry (HTTP) and SendMeasurements
// (grpc), both funneling into one Accept core that publishes to the raw
// topic.
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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vitalmesh/pulsegrid/internal/broker"
	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/gateway"
	"github.com/vitalmesh/pulsegrid/internal/gatewayrpc"
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

	logger.Info("starting gateway",
		zap.String("version", cfg.Service.Version),
		zap.Int("http_port", cfg.Gateway.HTTPPort),
		zap.Int("grpc_port", cfg.Gateway.GRPCPort),
	)

	conn, err := broker.Connect(cfg.Broker, logger)
	if err != nil {
		logger.Fatal("failed to connect to broker", zap.Error(err))
	}

	publisher := broker.NewPublisher(conn, cfg.Broker, logger, telemetry.Metrics())

	var registryClient registryrpc.Client
	if cfg.Gateway.VerifyDevice {
		registryConn, err := grpc.NewClient(cfg.Gateway.Registry.Address,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			logger.Fatal("failed to dial registry", zap.Error(err))
		}
		defer registryConn.Close()
		registryClient = registryrpc.NewClient(registryConn)
	}

	var auditor *lineage.Auditor
	if cfg.Observability.LineageAudit {
		auditor = lineage.New(logger, cfg.Scorer.BaselineTTL())
		defer auditor.Close()
	}

	svc := gateway.NewService(publisher, registryClient, cfg.Gateway, logger, telemetry.Metrics(), auditor)

	router := gin.New()
	router.Use(gin.Recovery())
	svc.RegisterHTTP(router)

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
	if cfg.Gateway.VerifyDevice {
		health.RegisterRPCPeerCheck("registry", cfg.Gateway.Registry.Address)
	}
	router.GET("/healthz", gin.WrapF(health.LivenessHandler()))
	router.GET("/readyz", gin.WrapF(health.ReadinessHandler()))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Gateway.HTTPPort),
		Handler: router,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("gateway http server failed", zap.Error(err))
		}
	}()

	grpcServer := grpc.NewServer()
	gatewayrpc.RegisterServer(grpcServer, gateway.NewGRPCServer(svc))
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Gateway.GRPCPort))
	if err != nil {
		logger.Fatal("failed to bind grpc listener", zap.Error(err))
	}
	go func() {
		logger.Info("gateway grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("gateway grpc server failed", zap.Error(err))
		}
	}()

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
		Handler: telemetry.MetricsHandler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway metrics server failed", zap.Error(err))
		}
	}()

	telemetry.StartSystemMetricsCollector(context.Background())

	logger.Info("gateway started successfully",
		zap.String("http_url", fmt.Sprintf("http://localhost:%d%s", cfg.Gateway.HTTPPort, "/telemetry")),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.Deadline())
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
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

	if err := conn.Close(cfg.Shutdown.Deadline()); err != nil {
		logger.Error("broker close error", zap.Error(err))
	}

	logger.Info("gateway stopped")
}

func configPath() string {
	if p := os.Getenv("PULSEGRID_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}
