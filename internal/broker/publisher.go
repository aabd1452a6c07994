package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/observability"
)

// Publisher publishes events to a topic with idempotent delivery (via
// JetStream's Nats-Msg-Id deduplication header) and per-device ordering
// (by routing every event for a device to the same subject token).
type Publisher struct {
	conn    *Conn
	cfg     config.BrokerConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewPublisher constructs a Publisher. metrics may be nil.
func NewPublisher(conn *Conn, cfg config.BrokerConfig, logger *zap.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{conn: conn, cfg: cfg, logger: logger, metrics: metrics}
}

// Subject returns the device-keyed subject for a topic, e.g.
// "telemetry.raw.device-42". Consumers wildcard-subscribe as "<topic>.*".
func Subject(topic, deviceID string) string {
	return topic + "." + deviceID
}

// Publish sends payload to topic on the subject keyed by deviceID,
// deduplicated by eventID, retrying with exponential backoff up to the
// configured attempt ceiling.
func (p *Publisher) Publish(ctx context.Context, topic, deviceID, eventID string, payload []byte) error {
	subject := Subject(topic, deviceID)
	backoff := p.cfg.InitialBackoff()
	maxBackoff := p.cfg.MaxBackoff()
	attempts := p.cfg.RetryCount()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		msg := nats.NewMsg(subject)
		msg.Data = payload
		msg.Header.Set(nats.MsgIdHdr, eventID)

		_, err := p.conn.js.PublishMsg(msg, nats.Context(ctx))
		if err == nil {
			p.observe(topic, "success")
			return nil
		}
		lastErr = err
		p.logger.Warn("broker publish failed, retrying",
			zap.String("topic", topic),
			zap.String("event_id", eventID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			p.observe(topic, "canceled")
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	p.observe(topic, "failure")
	return fmt.Errorf("broker: publish to %s after %d attempts: %w", topic, attempts, lastErr)
}

func (p *Publisher) observe(topic, status string) {
	if p.metrics == nil {
		return
	}
	p.metrics.BrokerPublishTotal.WithLabelValues(topic, status).Inc()
}
