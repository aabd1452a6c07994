package rules

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

// Stage wires an Engine to the broker: consume telemetry.enriched,
// evaluate, publish telemetry.scored and, conditionally, telemetry.alerts.
type Stage struct {
	engine    *Engine
	publisher *broker.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	lineage   *lineage.Auditor
}

// NewStage constructs a Stage. auditor may be nil (lineage audit disabled).
func NewStage(engine *Engine, publisher *broker.Publisher, logger *zap.Logger, metrics *observability.Metrics, auditor *lineage.Auditor) *Stage {
	return &Stage{engine: engine, publisher: publisher, logger: logger, metrics: metrics, lineage: auditor}
}

// Handler returns the broker.Handler to register with a Consumer bound to
// telemetry.enriched.
func (s *Stage) Handler() broker.Handler {
	return s.handle
}

// handle evaluates one enriched event and publishes both derived events.
// Both publishes are attempted; if either fails — the scored publish
// succeeds but the alert publish fails, or vice versa — the input is not
// acknowledged and will be redelivered in full. A redelivery re-runs
// Evaluate and therefore mints fresh event_ids, so downstream consumers
// may observe duplicate scored/alert events sharing one source_event_id;
// this is tolerated rather than guarded against with a dedupe table.
func (s *Stage) handle(ctx context.Context, payload []byte) error {
	start := time.Now()

	var enriched envelope.EnrichedTelemetry
	if err := json.Unmarshal(payload, &enriched); err != nil {
		return &broker.PoisonPillError{Reason: "undecodable enriched telemetry: " + err.Error()}
	}

	scored, alert := s.engine.Evaluate(ctx, enriched)

	if s.lineage != nil {
		s.lineage.Record(scored.TraceID, "rules", scored.EventID, scored.SourceEventID)
		if alert != nil {
			s.lineage.Record(alert.TraceID, "alerts", alert.EventID, alert.SourceEventID)
		}
	}

	scoredPayload, err := json.Marshal(scored)
	if err != nil {
		return &broker.PoisonPillError{Reason: "unencodable scored telemetry: " + err.Error()}
	}
	var publishErr error
	if err := s.publisher.Publish(ctx, envelope.TopicScored, scored.DeviceID, scored.EventID, scoredPayload); err != nil {
		s.logger.Error("rules: scored publish failed", zap.Error(err), zap.String("event_id", scored.EventID))
		publishErr = err
	}

	if alert != nil {
		alertPayload, err := json.Marshal(alert)
		if err != nil {
			return &broker.PoisonPillError{Reason: "unencodable alert: " + err.Error()}
		}
		if err := s.publisher.Publish(ctx, envelope.TopicAlerts, alert.DeviceID, alert.EventID, alertPayload); err != nil {
			s.logger.Error("rules: alert publish failed", zap.Error(err), zap.String("event_id", alert.EventID))
			if publishErr == nil {
				publishErr = err
			}
		} else if s.metrics != nil {
			s.metrics.AlertsGenerated.WithLabelValues(alert.Severity).Inc()
		}
	}

	if publishErr != nil {
		return publishErr
	}

	if s.metrics != nil {
		s.metrics.EventsProcessed.WithLabelValues("rules", scored.OverallSeverity).Inc()
		s.metrics.ProcessingDuration.WithLabelValues("rules").Observe(time.Since(start).Seconds())
	}

	return nil
}
