// Package normalizer implements the Normalizer (C4): it canonicalizes
// device-reported metric names, clamps values to each metric's
// physiological range (temperature keeps its declared unit), and repairs malformed timestamps, turning
// a RawTelemetry into a NormalizedTelemetry (spec §4.2).
package normalizer

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
)

// canonicalUnit is the unit every Vital is normalized to, per metric.
// Temperature has no single canonical unit: spec §9 requires the declared
// unit (celsius or fahrenheit) be preserved verbatim, so it is resolved
// per-reading in convertAndClamp rather than looked up here.
var canonicalUnit = map[string]string{
	envelope.MetricHeartRate:        "bpm",
	envelope.MetricOxygenSaturation: "%",
	envelope.MetricRespiratoryRate:  "breaths_per_min",
}

// Normalizer holds the clamp configuration applied to every reading.
type Normalizer struct {
	cfg config.NormalizationConfig
}

// New constructs a Normalizer.
func New(cfg config.NormalizationConfig) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Normalize canonicalizes and clamps raw into a NormalizedTelemetry. An
// unrecognized metric name is dropped (recorded in
// NormalizationMetadata.DroppedMetrics) rather than rejecting the whole
// event, since one bad reading shouldn't discard the rest of the batch
// (spec §4.2 "partial acceptance").
func (n *Normalizer) Normalize(raw envelope.RawTelemetry) envelope.NormalizedTelemetry {
	ts, substituted := normalizeTimestamp(raw.DeviceTimestamp, raw.Timestamp)

	vitals := make(map[string]envelope.Vital, len(raw.Measurements))
	var dropped, clamped []string

	for _, m := range raw.Measurements {
		canonical, ok := envelope.CanonicalMetric(m.Metric)
		if !ok {
			dropped = append(dropped, m.Metric)
			continue
		}

		value, unit, wasClamped, err := n.convertAndClamp(canonical, m.Value, m.Unit)
		if err != nil {
			dropped = append(dropped, m.Metric)
			continue
		}
		if wasClamped {
			clamped = append(clamped, canonical)
		}

		vitals[canonical] = envelope.Vital{
			Value:     value,
			Unit:      unit,
			Timestamp: ts,
		}
	}

	sort.Strings(dropped)
	sort.Strings(clamped)

	status := envelope.ValidationValid
	if substituted {
		status = envelope.ValidationTimestampSubstituted
	} else if len(clamped) > 0 {
		status = envelope.ValidationClamped
	}

	return envelope.NormalizedTelemetry{
		EventEnvelope: envelope.EventEnvelope{
			EventID:       uuid.NewString(),
			TraceID:       raw.TraceID,
			EventType:     envelope.EventTypeNormalized,
			Version:       envelope.SchemaVersion,
			Timestamp:     ts,
			SourceEventID: raw.EventID,
		},
		DeviceID:         raw.DeviceID,
		Vitals:           vitals,
		ValidationStatus: status,
		NormalizationMetadata: envelope.NormalizationMetadata{
			DroppedMetrics: dropped,
			ClampedMetrics: clamped,
		},
	}
}

// convertAndClamp clamps value to the metric's configured physiological
// range and reports the unit the stored value is expressed in. Temperature
// is never converted between Celsius and Fahrenheit here: whichever unit
// the device declared is preserved in the event, and clamped against that
// unit's own bounds. The stored value is never rewritten downstream either;
// the Rules Engine converts a Fahrenheit reading to Celsius only for its
// threshold comparison and the value it sends to the Anomaly Scorer.
func (n *Normalizer) convertAndClamp(metric string, value float64, unit string) (result float64, resultUnit string, wasClamped bool, err error) {
	bounds, resultUnit, err := n.boundsAndUnit(metric, unit)
	if err != nil {
		return 0, "", false, err
	}

	if value < bounds.Min {
		return bounds.Min, resultUnit, true, nil
	}
	if value > bounds.Max {
		return bounds.Max, resultUnit, true, nil
	}
	return value, resultUnit, false, nil
}

func (n *Normalizer) boundsAndUnit(metric string, unit string) (config.ClampBounds, string, error) {
	switch metric {
	case envelope.MetricHeartRate:
		return n.cfg.HeartRate(), canonicalUnit[metric], nil
	case envelope.MetricOxygenSaturation:
		return n.cfg.OxygenSaturation(), canonicalUnit[metric], nil
	case envelope.MetricRespiratoryRate:
		return config.ClampBounds{Min: 4, Max: 60}, canonicalUnit[metric], nil
	case envelope.MetricTemperature:
		switch unit {
		case "fahrenheit", "f", "F":
			return n.cfg.TemperatureFahrenheit(), "fahrenheit", nil
		default:
			return n.cfg.TemperatureCelsius(), "celsius", nil
		}
	default:
		return config.ClampBounds{}, "", fmt.Errorf("unsupported metric: %s", metric)
	}
}

// normalizeTimestamp re-parses the caller-submitted timestamp string
// (ISO-8601, Unix seconds, or Unix milliseconds) independently of whatever
// the Gateway already resolved. Falling back to the envelope's own
// timestamp covers callers that bypassed the Gateway's own parsing (e.g. a
// directly-published test event); an empty or unparseable value of either
// is substituted with the current instant rather than dropping the event
// (spec §4.2 step 4).
func normalizeTimestamp(deviceTimestamp string, envelopeTimestamp time.Time) (time.Time, bool) {
	if deviceTimestamp != "" {
		if t, ok := envelope.ParseFlexibleTimestamp(deviceTimestamp); ok {
			return t, false
		}
		return time.Now().UTC(), true
	}
	if !envelopeTimestamp.IsZero() {
		return envelopeTimestamp, false
	}
	return time.Now().UTC(), true
}
