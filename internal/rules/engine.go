// Package rules implements the Rules Engine (C6): it calls the Anomaly
// Scorer for a vitals-derived anomaly score, evaluates the fixed
// threshold rule set R1-R4, aggregates the two into one overall severity,
// and emits a ScoredTelemetry plus a conditional Alert.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/observability"
	"github.com/vitalmesh/pulsegrid/internal/scorerrpc"
)

// Rule ids, in evaluation order.
const (
	RuleHeartRateHigh  = "R1"
	RuleSpO2Low        = "R2"
	RuleTemperatureHigh = "R3"
	RuleCombinedHighRiskSpO2 = "R4"
)

const alertTypeVitalSignAnomaly = "vital_sign_anomaly"

// Engine evaluates rules against an EnrichedTelemetry and produces a
// ScoredTelemetry plus an optional Alert.
type Engine struct {
	scorer  scorerrpc.Client
	cfg     config.RulesConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New constructs an Engine. scorer may be nil only in tests that never
// exercise non-orphan events.
func New(scorer scorerrpc.Client, cfg config.RulesConfig, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{scorer: scorer, cfg: cfg, logger: logger, metrics: metrics}
}

// triggeredRule records one fired rule and the condition it fired on, so
// the Alert's Condition field can summarize the first trigger.
type triggeredRule struct {
	id        string
	severity  string
	condition string
}

// Evaluate turns an EnrichedTelemetry into a ScoredTelemetry and,
// conditionally, an Alert. Orphan events always score "ok" with no rules
// evaluated and no alert — there is no patient or threshold profile to
// evaluate against.
func (e *Engine) Evaluate(ctx context.Context, in envelope.EnrichedTelemetry) (envelope.ScoredTelemetry, *envelope.Alert) {
	scored := envelope.ScoredTelemetry{
		EnrichedTelemetry: in,
		AnomalyScores:     map[string]envelope.AnomalyScore{},
		OverallSeverity:   envelope.SeverityOK,
	}
	scored.EventType = envelope.EventTypeScored
	scored.SourceEventID = in.EventID
	scored.EventID = uuid.NewString()
	scored.Timestamp = time.Now().UTC()

	if in.Orphan {
		return scored, nil
	}

	var triggered []triggeredRule
	if in.Thresholds != nil {
		triggered = e.evaluateRules(in)
	}

	anomalyScores, anomalySeverity, overallRisk, degraded := e.scoreAnomaly(ctx, in)
	scored.AnomalyScores = anomalyScores
	scored.OverallRiskScore = overallRisk
	scored.AnomalyDegraded = degraded

	overall := anomalySeverity
	for _, t := range triggered {
		overall = envelope.MaxSeverity(overall, t.severity)
		scored.RulesTriggered = append(scored.RulesTriggered, t.id)
		if e.metrics != nil {
			e.metrics.RulesTriggered.WithLabelValues(t.id).Inc()
		}
	}
	scored.OverallSeverity = overall

	if overall == envelope.SeverityOK {
		return scored, nil
	}

	return scored, e.buildAlert(in, scored, triggered)
}

// evaluateRules applies R1-R4 against whichever vitals are actually
// present; a rule whose vital is absent from the reading never fires.
func (e *Engine) evaluateRules(in envelope.EnrichedTelemetry) []triggeredRule {
	var fired []triggeredRule
	thresholds := in.Thresholds

	hr, hasHR := in.Vitals[envelope.MetricHeartRate]
	spo2, hasSpO2 := in.Vitals[envelope.MetricOxygenSaturation]
	temp, hasTemp := in.Vitals[envelope.MetricTemperature]

	if hasHR {
		if hr.Value > thresholds.HeartRate.Max {
			fired = append(fired, triggeredRule{
				id:       RuleHeartRateHigh,
				severity: envelope.SeverityWarning,
				condition: fmt.Sprintf("heart_rate %.1f exceeds max %.1f", hr.Value, thresholds.HeartRate.Max),
			})
		}
	}

	if hasSpO2 {
		if spo2.Value < thresholds.OxygenSaturation.Min {
			fired = append(fired, triggeredRule{
				id:       RuleSpO2Low,
				severity: envelope.SeverityCritical,
				condition: fmt.Sprintf("oxygen_saturation %.1f below min %.1f", spo2.Value, thresholds.OxygenSaturation.Min),
			})
		}
	}

	if hasTemp {
		celsius := temperatureInCelsius(temp)
		if celsius > thresholds.Temperature.Max {
			fired = append(fired, triggeredRule{
				id:       RuleTemperatureHigh,
				severity: envelope.SeverityWarning,
				condition: fmt.Sprintf("temperature %.1f°C exceeds max %.1f°C", celsius, thresholds.Temperature.Max),
			})
		}
	}

	if hasHR && hasSpO2 {
		if hr.Value > e.cfg.HRVeryHigh() && spo2.Value < e.cfg.SpO2Low() {
			fired = append(fired, triggeredRule{
				id:       RuleCombinedHighRiskSpO2,
				severity: envelope.SeverityCritical,
				condition: fmt.Sprintf("heart_rate %.1f and oxygen_saturation %.1f both breached combined thresholds", hr.Value, spo2.Value),
			})
		}
	}

	return fired
}

// scoreAnomaly calls the Anomaly Scorer for every present vital. On gRPC
// failure or timeout it degrades to all-zero scores with
// anomaly_degraded=true rather than failing the event.
func (e *Engine) scoreAnomaly(ctx context.Context, in envelope.EnrichedTelemetry) (map[string]envelope.AnomalyScore, string, float64, bool) {
	readings := make([]scorerrpc.MetricReading, 0, len(in.Vitals))
	for metric, vital := range in.Vitals {
		value := vital.Value
		if metric == envelope.MetricTemperature {
			value = temperatureInCelsius(vital)
		}
		readings = append(readings, scorerrpc.MetricReading{Metric: metric, Value: value})
	}

	if e.scorer == nil || len(readings) == 0 {
		return degradedScores(in.Vitals), envelope.SeverityOK, 0, e.scorer == nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Scorer.Timeout())
	defer cancel()

	start := time.Now()
	resp, err := e.scorer.ScoreVitals(callCtx, &scorerrpc.ScoreVitalsRequest{
		PatientID: in.PatientID,
		EventID:   in.EventID,
		Readings:  readings,
	})
	e.observeRPC(time.Since(start), err)

	if err != nil || resp.Status != scorerrpc.StatusSuccess {
		if err != nil {
			e.logger.Warn("rules: anomaly scorer call failed, degrading", zap.Error(err), zap.String("event_id", in.EventID))
		} else {
			e.logger.Warn("rules: anomaly scorer returned non-success status, degrading",
				zap.String("status", resp.Status), zap.String("event_id", in.EventID))
		}
		return degradedScores(in.Vitals), envelope.SeverityOK, 0, true
	}

	scores := make(map[string]envelope.AnomalyScore, len(resp.Scores))
	severity := envelope.SeverityOK
	for _, s := range resp.Scores {
		scores[s.Metric] = envelope.AnomalyScore{Score: s.Score, Severity: s.Severity}
		severity = envelope.MaxSeverity(severity, s.Severity)
	}
	return scores, severity, resp.OverallRiskScore, false
}

// degradedScores returns a 0/ok score for every present vital, used when
// the Anomaly Scorer is unreachable.
func degradedScores(vitals map[string]envelope.Vital) map[string]envelope.AnomalyScore {
	scores := make(map[string]envelope.AnomalyScore, len(vitals))
	for metric := range vitals {
		scores[metric] = envelope.AnomalyScore{Score: 0, Severity: envelope.SeverityOK}
	}
	return scores
}

func (e *Engine) observeRPC(d time.Duration, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RPCDuration.WithLabelValues("scorer", "ScoreVitals", status).Observe(d.Seconds())
	if err != nil {
		e.metrics.RPCErrors.WithLabelValues("scorer", "ScoreVitals", status).Inc()
	}
}

// buildAlert constructs the Alert emitted alongside a non-ok ScoredTelemetry.
// Condition summarizes the first triggering rule's metric, observed value,
// and breached threshold; when only the anomaly score (not a threshold
// rule) pushed severity above ok, Condition describes that instead.
func (e *Engine) buildAlert(in envelope.EnrichedTelemetry, scored envelope.ScoredTelemetry, triggered []triggeredRule) *envelope.Alert {
	condition := fmt.Sprintf("anomaly score elevated (overall_risk_score=%.2f)", scored.OverallRiskScore)
	if len(triggered) > 0 {
		condition = triggered[0].condition
	}

	return &envelope.Alert{
		EventEnvelope: envelope.EventEnvelope{
			EventID:       uuid.NewString(),
			TraceID:       in.TraceID,
			EventType:     envelope.EventTypeAlert,
			Version:       envelope.SchemaVersion,
			Timestamp:     time.Now().UTC(),
			SourceEventID: scored.EventID,
		},
		AlertID:        uuid.NewString(),
		PatientID:      in.PatientID,
		DeviceID:       in.DeviceID,
		Severity:       scored.OverallSeverity,
		AlertType:      alertTypeVitalSignAnomaly,
		Condition:      condition,
		RulesTriggered: scored.RulesTriggered,
		Details: map[string]any{
			"overall_risk_score": scored.OverallRiskScore,
			"anomaly_degraded":   scored.AnomalyDegraded,
		},
	}
}

// temperatureInCelsius returns v's value converted to Celsius for
// comparison purposes only. The stored vital's Value/Unit are never
// mutated; thresholds are always expressed in Celsius by the Registry, so
// a Fahrenheit-reporting device's reading is converted here, at comparison
// time, rather than earlier in the pipeline. Conversion happens only at
// comparison time; the stored value is never rewritten to a different unit.
func temperatureInCelsius(v envelope.Vital) float64 {
	if v.Unit == "fahrenheit" {
		return (v.Value - 32) * 5 / 9
	}
	return v.Value
}
