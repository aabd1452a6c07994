package enricher

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

// Stage wires an Enricher to the broker: consume telemetry.normalized,
// enrich, publish telemetry.enriched.
type Stage struct {
	enricher  *Enricher
	publisher *broker.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	lineage   *lineage.Auditor
}

// NewStage constructs a Stage. auditor may be nil (lineage audit disabled).
func NewStage(enricher *Enricher, publisher *broker.Publisher, logger *zap.Logger, metrics *observability.Metrics, auditor *lineage.Auditor) *Stage {
	return &Stage{enricher: enricher, publisher: publisher, logger: logger, metrics: metrics, lineage: auditor}
}

// Handler returns the broker.Handler to register with a Consumer bound to
// telemetry.normalized.
func (s *Stage) Handler() broker.Handler {
	return s.handle
}

func (s *Stage) handle(ctx context.Context, payload []byte) error {
	start := time.Now()

	var normalized envelope.NormalizedTelemetry
	if err := json.Unmarshal(payload, &normalized); err != nil {
		return &broker.PoisonPillError{Reason: "undecodable normalized telemetry: " + err.Error()}
	}

	enriched := s.enricher.Enrich(ctx, normalized)

	if s.lineage != nil {
		s.lineage.Record(enriched.TraceID, "enricher", enriched.EventID, enriched.SourceEventID)
	}

	out, err := json.Marshal(enriched)
	if err != nil {
		return &broker.PoisonPillError{Reason: "unencodable enriched telemetry: " + err.Error()}
	}

	if err := s.publisher.Publish(ctx, envelope.TopicEnriched, enriched.DeviceID, enriched.EventID, out); err != nil {
		s.logger.Error("enricher: publish failed", zap.Error(err), zap.String("event_id", enriched.EventID))
		return err
	}

	if s.metrics != nil {
		outcome := "enriched"
		if enriched.Orphan {
			outcome = "orphan"
		}
		s.metrics.EventsProcessed.WithLabelValues("enricher", outcome).Inc()
		s.metrics.ProcessingDuration.WithLabelValues("enricher").Observe(time.Since(start).Seconds())
	}

	return nil
}
