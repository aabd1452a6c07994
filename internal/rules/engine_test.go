package rules

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/scorerrpc"
)

// fakeScorerClient is a hand-rolled stand-in for the generated grpc client,
// letting tests control the Anomaly Scorer's response without a network.
type fakeScorerClient struct {
	resp *scorerrpc.ScoreVitalsResponse
	err  error
}

func (f *fakeScorerClient) ScoreVitals(ctx context.Context, req *scorerrpc.ScoreVitalsRequest, _ ...grpc.CallOption) (*scorerrpc.ScoreVitalsResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func okThresholds() *envelope.ThresholdProfile {
	return &envelope.ThresholdProfile{
		HeartRate:        envelope.ThresholdRange{Min: 60, Max: 100},
		OxygenSaturation: envelope.ThresholdRange{Min: 95, Max: 100},
		Temperature:      envelope.ThresholdRange{Min: 36, Max: 37.5},
	}
}

func enrichedWith(vitals map[string]envelope.Vital, thresholds *envelope.ThresholdProfile, orphan bool) envelope.EnrichedTelemetry {
	return envelope.EnrichedTelemetry{
		NormalizedTelemetry: envelope.NormalizedTelemetry{
			EventEnvelope: envelope.EventEnvelope{EventID: "evt-1", TraceID: "trace-1"},
			DeviceID:      "D1",
			PatientID:     "P1",
			Vitals:        vitals,
		},
		Orphan:     orphan,
		Thresholds: thresholds,
	}
}

func TestEvaluateOrphanShortCircuits(t *testing.T) {
	engine := New(&fakeScorerClient{}, config.RulesConfig{}, zap.NewNop(), nil)

	in := enrichedWith(map[string]envelope.Vital{
		envelope.MetricHeartRate: {Value: 250},
	}, nil, true)

	scored, alert := engine.Evaluate(context.Background(), in)

	if scored.OverallSeverity != envelope.SeverityOK {
		t.Fatalf("expected orphan events to score ok, got %q", scored.OverallSeverity)
	}
	if len(scored.RulesTriggered) != 0 {
		t.Fatalf("expected no rules evaluated for an orphan event, got %v", scored.RulesTriggered)
	}
	if alert != nil {
		t.Fatalf("expected no alert for an orphan event, got %+v", alert)
	}
}

func TestEvaluateR1HeartRateHighFires(t *testing.T) {
	engine := New(&fakeScorerClient{resp: &scorerrpc.ScoreVitalsResponse{Status: scorerrpc.StatusSuccess}}, config.RulesConfig{}, zap.NewNop(), nil)

	in := enrichedWith(map[string]envelope.Vital{
		envelope.MetricHeartRate: {Value: 150, Unit: "bpm"},
	}, okThresholds(), false)

	scored, alert := engine.Evaluate(context.Background(), in)

	if len(scored.RulesTriggered) != 1 || scored.RulesTriggered[0] != RuleHeartRateHigh {
		t.Fatalf("expected R1 to fire, got %v", scored.RulesTriggered)
	}
	if scored.OverallSeverity != envelope.SeverityWarning {
		t.Fatalf("expected severity=warning, got %q", scored.OverallSeverity)
	}
	if alert == nil {
		t.Fatalf("expected an alert for a non-ok severity")
	}
}

func TestEvaluateR2SpO2LowFires(t *testing.T) {
	engine := New(&fakeScorerClient{resp: &scorerrpc.ScoreVitalsResponse{Status: scorerrpc.StatusSuccess}}, config.RulesConfig{}, zap.NewNop(), nil)

	in := enrichedWith(map[string]envelope.Vital{
		envelope.MetricOxygenSaturation: {Value: 88, Unit: "%"},
	}, okThresholds(), false)

	scored, _ := engine.Evaluate(context.Background(), in)

	if len(scored.RulesTriggered) != 1 || scored.RulesTriggered[0] != RuleSpO2Low {
		t.Fatalf("expected R2 to fire, got %v", scored.RulesTriggered)
	}
	if scored.OverallSeverity != envelope.SeverityCritical {
		t.Fatalf("expected severity=critical for low oxygen saturation, got %q", scored.OverallSeverity)
	}
}

func TestEvaluateR3TemperatureConvertsFahrenheitBeforeComparing(t *testing.T) {
	engine := New(&fakeScorerClient{resp: &scorerrpc.ScoreVitalsResponse{Status: scorerrpc.StatusSuccess}}, config.RulesConfig{}, zap.NewNop(), nil)

	// 102F is well above the 37.5C threshold once converted; the stored
	// value/unit are never mutated, only the comparison uses Celsius.
	in := enrichedWith(map[string]envelope.Vital{
		envelope.MetricTemperature: {Value: 102.0, Unit: "fahrenheit"},
	}, okThresholds(), false)

	scored, _ := engine.Evaluate(context.Background(), in)

	if len(scored.RulesTriggered) != 1 || scored.RulesTriggered[0] != RuleTemperatureHigh {
		t.Fatalf("expected R3 to fire on a Fahrenheit reading converted to Celsius, got %v", scored.RulesTriggered)
	}
}

func TestEvaluateR4CombinedHighRiskRequiresBothBreaches(t *testing.T) {
	cfg := config.RulesConfig{HRVeryHighValue: 120, SpO2LowValue: 90}
	engine := New(&fakeScorerClient{resp: &scorerrpc.ScoreVitalsResponse{Status: scorerrpc.StatusSuccess}}, cfg, zap.NewNop(), nil)

	in := enrichedWith(map[string]envelope.Vital{
		envelope.MetricHeartRate:        {Value: 130, Unit: "bpm"},
		envelope.MetricOxygenSaturation: {Value: 85, Unit: "%"},
	}, okThresholds(), false)

	scored, _ := engine.Evaluate(context.Background(), in)

	found := false
	for _, r := range scored.RulesTriggered {
		if r == RuleCombinedHighRiskSpO2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected R4 to fire when both heart_rate and oxygen_saturation breach combined thresholds, got %v", scored.RulesTriggered)
	}
}

func TestEvaluateDegradesOnScorerFailure(t *testing.T) {
	engine := New(&fakeScorerClient{err: context.DeadlineExceeded}, config.RulesConfig{}, zap.NewNop(), nil)

	in := enrichedWith(map[string]envelope.Vital{
		envelope.MetricHeartRate: {Value: 75, Unit: "bpm"},
	}, okThresholds(), false)

	scored, _ := engine.Evaluate(context.Background(), in)

	if !scored.AnomalyDegraded {
		t.Fatalf("expected anomaly_degraded=true when the scorer call fails")
	}
	for metric, s := range scored.AnomalyScores {
		if s.Score != 0 || s.Severity != envelope.SeverityOK {
			t.Fatalf("expected degraded score for %q to be zero/ok, got %+v", metric, s)
		}
	}
}

func TestEvaluateNoVitalsNoThresholdsStaysOK(t *testing.T) {
	engine := New(&fakeScorerClient{}, config.RulesConfig{}, zap.NewNop(), nil)

	in := enrichedWith(map[string]envelope.Vital{}, nil, false)

	scored, alert := engine.Evaluate(context.Background(), in)

	if scored.OverallSeverity != envelope.SeverityOK {
		t.Fatalf("expected ok severity with no vitals and no thresholds, got %q", scored.OverallSeverity)
	}
	if alert != nil {
		t.Fatalf("expected no alert, got %+v", alert)
	}
}

func TestEvaluateTimestampsAndLineage(t *testing.T) {
	engine := New(&fakeScorerClient{resp: &scorerrpc.ScoreVitalsResponse{Status: scorerrpc.StatusSuccess}}, config.RulesConfig{}, zap.NewNop(), nil)

	in := enrichedWith(map[string]envelope.Vital{
		envelope.MetricHeartRate: {Value: 75, Unit: "bpm"},
	}, okThresholds(), false)

	before := time.Now().UTC()
	scored, _ := engine.Evaluate(context.Background(), in)

	if scored.SourceEventID != "evt-1" {
		t.Fatalf("expected source_event_id to chain from the input event id, got %q", scored.SourceEventID)
	}
	if scored.TraceID != "trace-1" {
		t.Fatalf("expected trace_id preserved, got %q", scored.TraceID)
	}
	if scored.EventID == "evt-1" {
		t.Fatalf("expected a freshly generated event id distinct from the input")
	}
	if scored.Timestamp.Before(before) {
		t.Fatalf("expected a freshly stamped timestamp at or after evaluation time")
	}
}
