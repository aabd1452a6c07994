package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/observability"
)

// Handler processes one message's payload. Returning a *PoisonPillError
// terminates the message without redelivery; any other error triggers a
// Nak and redelivery, up to the configured poison limit.
type Handler func(ctx context.Context, payload []byte) error

// Consumer is a durable JetStream pull consumer for one topic, fanning
// out per-device work through a KeyedDispatcher so ordering is preserved
// per device even though messages for many devices arrive in one batch.
type Consumer struct {
	conn        *Conn
	topic       string
	durable     string
	handler     Handler
	dispatcher  *KeyedDispatcher
	poisonLimit int
	batchSize   int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// StreamName derives the JetStream stream name backing a topic, e.g.
// "telemetry.raw" -> "TELEMETRY_RAW". Streams are provisioned out of
// process scope; this is only used to bind the pull subscription to the
// right stream.
func StreamName(topic string) string {
	return strings.ToUpper(strings.ReplaceAll(topic, ".", "_"))
}

// NewConsumer constructs a Consumer for topic, consumed under durable name
// consumerGroup (shared by every replica of the stage, giving competing
// consumers semantics). metrics may be nil.
func NewConsumer(conn *Conn, cfg config.BrokerConfig, topic string, handler Handler, logger *zap.Logger, metrics *observability.Metrics) *Consumer {
	c := &Consumer{
		conn:        conn,
		topic:       topic,
		durable:     cfg.ConsumerGroup,
		handler:     handler,
		poisonLimit: cfg.PoisonLimit(),
		batchSize:   cfg.MaxInFlight,
		logger:      logger,
		metrics:     metrics,
	}
	if c.batchSize <= 0 {
		c.batchSize = 20
	}
	c.dispatcher = NewKeyedDispatcher(c.process, 5*time.Minute, 32)
	return c
}

// Start creates the pull subscription on "<topic>.*" and runs the fetch
// loop in a background goroutine, returning immediately.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.conn.js.PullSubscribe(
		c.topic+".*",
		c.durable,
		nats.BindStream(StreamName(c.topic)),
	)
	if err != nil {
		return err
	}

	c.logger.Info("consumer subscribed",
		zap.String("topic", c.topic),
		zap.String("durable", c.durable),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer stopping", zap.String("topic", c.topic))
				return
			default:
				msgs, err := sub.Fetch(c.batchSize, nats.MaxWait(2*time.Second))
				if err != nil {
					continue // nats.ErrTimeout on an empty queue is expected
				}
				for _, msg := range msgs {
					c.dispatcher.Dispatch(ctx, deviceIDFromSubject(c.topic, msg.Subject), msg)
				}
			}
		}
	}()

	return nil
}

// process runs the handler for one message and resolves Ack/Nak/Term. A
// handler panic is recovered and treated the same as a returned error —
// Nak, not Ack — so a bug in one stage's transform never crashes the
// consumer goroutine or silently drops the message.
func (c *Consumer) process(ctx context.Context, msg *nats.Msg) {
	err := c.runHandler(ctx, msg.Data)
	if err == nil {
		msg.Ack()
		c.observe("ok")
		return
	}

	if _, ok := AsPoisonPill(err); ok {
		c.logger.Warn("terminating poison-pill message",
			zap.String("topic", c.topic),
			zap.Error(err),
		)
		msg.Term()
		c.observe("poison")
		if c.metrics != nil {
			c.metrics.BrokerPoisonTotal.WithLabelValues(c.topic).Inc()
		}
		return
	}

	if meta, metaErr := msg.Metadata(); metaErr == nil && int(meta.NumDelivered) >= c.poisonLimit {
		c.logger.Warn("exceeded redelivery limit, terminating",
			zap.String("topic", c.topic),
			zap.Uint64("num_delivered", meta.NumDelivered),
			zap.Error(err),
		)
		msg.Term()
		c.observe("poison")
		if c.metrics != nil {
			c.metrics.BrokerPoisonTotal.WithLabelValues(c.topic).Inc()
		}
		return
	}

	c.logger.Warn("nak message, transient error",
		zap.String("topic", c.topic),
		zap.Error(err),
	)
	msg.Nak()
	c.observe("nak")
}

// runHandler invokes the handler and converts a panic into an error so one
// stage's bug can never take down the consumer goroutine.
func (c *Consumer) runHandler(ctx context.Context, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", zap.String("topic", c.topic), zap.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, payload)
}

func (c *Consumer) observe(outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.BrokerConsumeTotal.WithLabelValues(c.topic, outcome).Inc()
}

// deviceIDFromSubject strips "<topic>." from subject, returning the
// device_id routing token (falls back to the full subject if the prefix is
// somehow absent).
func deviceIDFromSubject(topic, subject string) string {
	prefix := topic + "."
	if trimmed := strings.TrimPrefix(subject, prefix); trimmed != subject {
		return trimmed
	}
	return subject
}
