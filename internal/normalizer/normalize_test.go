package normalizer

import (
	"testing"
	"time"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
)

func testConfig() config.NormalizationConfig {
	return config.NormalizationConfig{
		HeartRateBounds:             config.ClampBounds{Min: 20, Max: 240},
		OxygenSaturationBounds:      config.ClampBounds{Min: 50, Max: 100},
		TemperatureCelsiusBounds:    config.ClampBounds{Min: 30, Max: 45},
		TemperatureFahrenheitBounds: config.ClampBounds{Min: 86, Max: 113},
	}
}

func TestNormalizeClampsOutOfRangeHeartRate(t *testing.T) {
	n := New(testConfig())

	raw := envelope.RawTelemetry{
		EventEnvelope: envelope.EventEnvelope{
			EventID:   "evt-1",
			TraceID:   "trace-1",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		DeviceID: "D1",
		Measurements: []envelope.Measurement{
			{Metric: "hr", Value: 400, Unit: "bpm"},
		},
	}

	got := n.Normalize(raw)

	vital, ok := got.Vitals[envelope.MetricHeartRate]
	if !ok {
		t.Fatalf("expected heart_rate vital to be present")
	}
	if vital.Value != 240 {
		t.Fatalf("expected heart rate clamped to 240, got %v", vital.Value)
	}
	if got.ValidationStatus != envelope.ValidationClamped {
		t.Fatalf("expected validation_status=clamped, got %q", got.ValidationStatus)
	}
	if len(got.NormalizationMetadata.ClampedMetrics) != 1 || got.NormalizationMetadata.ClampedMetrics[0] != envelope.MetricHeartRate {
		t.Fatalf("expected heart_rate recorded as clamped, got %v", got.NormalizationMetadata.ClampedMetrics)
	}
	if got.SourceEventID != "evt-1" || got.TraceID != "trace-1" {
		t.Fatalf("expected lineage fields preserved, got source=%q trace=%q", got.SourceEventID, got.TraceID)
	}
}

func TestNormalizePreservesDeclaredTemperatureUnit(t *testing.T) {
	n := New(testConfig())

	cases := []struct {
		name     string
		unit     string
		value    float64
		wantUnit string
	}{
		{name: "fahrenheit preserved", unit: "fahrenheit", value: 98.6, wantUnit: "fahrenheit"},
		{name: "celsius preserved", unit: "celsius", value: 37.0, wantUnit: "celsius"},
		{name: "bare F preserved", unit: "F", value: 100.4, wantUnit: "fahrenheit"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := envelope.RawTelemetry{
				EventEnvelope: envelope.EventEnvelope{Timestamp: time.Now().UTC()},
				DeviceID:      "D1",
				Measurements: []envelope.Measurement{
					{Metric: "temp", Value: tc.value, Unit: tc.unit},
				},
			}

			got := n.Normalize(raw)

			vital, ok := got.Vitals[envelope.MetricTemperature]
			if !ok {
				t.Fatalf("expected temperature vital to be present")
			}
			if vital.Unit != tc.wantUnit {
				t.Fatalf("expected unit %q preserved, got %q", tc.wantUnit, vital.Unit)
			}
			if vital.Value != tc.value {
				t.Fatalf("expected value %v untouched (in-range), got %v", tc.value, vital.Value)
			}
		})
	}
}

func TestNormalizeDropsUnrecognizedMetric(t *testing.T) {
	n := New(testConfig())

	raw := envelope.RawTelemetry{
		EventEnvelope: envelope.EventEnvelope{Timestamp: time.Now().UTC()},
		DeviceID:      "D1",
		Measurements: []envelope.Measurement{
			{Metric: "hr", Value: 72, Unit: "bpm"},
			{Metric: "glucose", Value: 90, Unit: "mg/dl"},
		},
	}

	got := n.Normalize(raw)

	if _, ok := got.Vitals[envelope.MetricHeartRate]; !ok {
		t.Fatalf("expected heart_rate to survive alongside the dropped metric")
	}
	if len(got.NormalizationMetadata.DroppedMetrics) != 1 || got.NormalizationMetadata.DroppedMetrics[0] != "glucose" {
		t.Fatalf("expected glucose recorded as dropped, got %v", got.NormalizationMetadata.DroppedMetrics)
	}
}

func TestNormalizeSubstitutesUnparseableTimestamp(t *testing.T) {
	n := New(testConfig())

	raw := envelope.RawTelemetry{
		EventEnvelope:   envelope.EventEnvelope{Timestamp: time.Now().UTC()},
		DeviceID:        "D1",
		DeviceTimestamp: "not-a-timestamp",
		Measurements:    []envelope.Measurement{{Metric: "hr", Value: 72, Unit: "bpm"}},
	}

	got := n.Normalize(raw)

	if got.ValidationStatus != envelope.ValidationTimestampSubstituted {
		t.Fatalf("expected validation_status=timestamp_substituted, got %q", got.ValidationStatus)
	}
	if time.Since(got.Timestamp) > time.Minute {
		t.Fatalf("expected substituted timestamp to be close to now, got %v", got.Timestamp)
	}
}

func TestNormalizeAcceptsUnixMillisTimestamp(t *testing.T) {
	n := New(testConfig())

	want := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	raw := envelope.RawTelemetry{
		EventEnvelope:   envelope.EventEnvelope{Timestamp: time.Now().UTC()},
		DeviceID:        "D1",
		DeviceTimestamp: "1773576000000",
		Measurements:    []envelope.Measurement{{Metric: "hr", Value: 72, Unit: "bpm"}},
	}

	got := n.Normalize(raw)

	if got.ValidationStatus != envelope.ValidationValid {
		t.Fatalf("expected validation_status=valid for a parseable millis timestamp, got %q", got.ValidationStatus)
	}
	if got.Timestamp.Sub(want).Abs() > time.Second {
		t.Fatalf("expected timestamp close to %v, got %v", want, got.Timestamp)
	}
}
