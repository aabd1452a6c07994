package normalizer

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/broker"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/lineage"
	"github.com/vitalmesh/pulsegrid/internal/observability"
)

// Stage wires a Normalizer to the broker: consume telemetry.raw, transform,
// publish telemetry.normalized, preserving per-device ordering end to end.
type Stage struct {
	normalizer *Normalizer
	publisher  *broker.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	lineage    *lineage.Auditor
}

// NewStage constructs a Stage. auditor may be nil (lineage audit disabled).
func NewStage(normalizer *Normalizer, publisher *broker.Publisher, logger *zap.Logger, metrics *observability.Metrics, auditor *lineage.Auditor) *Stage {
	return &Stage{normalizer: normalizer, publisher: publisher, logger: logger, metrics: metrics, lineage: auditor}
}

// Handler returns the broker.Handler to register with a Consumer bound to
// telemetry.raw.
func (s *Stage) Handler() broker.Handler {
	return s.handle
}

func (s *Stage) handle(ctx context.Context, payload []byte) error {
	start := time.Now()

	var raw envelope.RawTelemetry
	if err := json.Unmarshal(payload, &raw); err != nil {
		// A malformed payload can never become valid on redelivery.
		return &broker.PoisonPillError{Reason: "undecodable raw telemetry: " + err.Error()}
	}

	normalized := s.normalizer.Normalize(raw)

	if s.lineage != nil {
		s.lineage.Record(normalized.TraceID, "normalizer", normalized.EventID, normalized.SourceEventID)
	}

	out, err := json.Marshal(normalized)
	if err != nil {
		return &broker.PoisonPillError{Reason: "unencodable normalized telemetry: " + err.Error()}
	}

	if err := s.publisher.Publish(ctx, envelope.TopicNormalized, normalized.DeviceID, normalized.EventID, out); err != nil {
		s.logger.Error("normalizer: publish failed", zap.Error(err), zap.String("event_id", normalized.EventID))
		return err
	}

	if s.metrics != nil {
		s.metrics.EventsProcessed.WithLabelValues("normalizer", normalized.ValidationStatus).Inc()
		s.metrics.ProcessingDuration.WithLabelValues("normalizer").Observe(time.Since(start).Seconds())
	}

	return nil
}
