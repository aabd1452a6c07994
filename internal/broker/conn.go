// Package broker wraps NATS JetStream as pulsegrid's event backbone: the
// five append-only topics (telemetry.raw/normalized/enriched/scored/alerts),
// idempotent publish, durable pull consumers, and per-device ordering
// without Kafka-style partitions.
package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/config"
)

// Conn bundles a NATS connection and its JetStream context.
type Conn struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Connect dials the NATS server and obtains a JetStream context. It does
// not create streams — those are expected to already exist, provisioned
// once, out of process-lifecycle scope.
func Connect(cfg config.BrokerConfig, logger *zap.Logger) (*Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("broker disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("broker reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: jetstream context: %w", err)
	}

	return &Conn{nc: nc, js: js, logger: logger}, nil
}

// Close drains and closes the underlying NATS connection, giving in-flight
// publishes the shutdown deadline to land.
func (c *Conn) Close(deadline time.Duration) error {
	c.nc.SetClosedHandler(func(*nats.Conn) {})
	done := make(chan error, 1)
	go func() { done <- c.nc.Drain() }()

	select {
	case err := <-done:
		return err
	case <-time.After(deadline):
		c.nc.Close()
		return fmt.Errorf("broker: drain deadline exceeded, forced close")
	}
}

// IsConnected reports whether the underlying connection is currently up,
// used by health checks.
func (c *Conn) IsConnected() bool {
	return c.nc.IsConnected()
}
