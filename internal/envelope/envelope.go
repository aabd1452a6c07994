// Package envelope defines the wire types shared by every pipeline stage.
//
// A single event lineage flows Gateway -> Normalizer -> Enricher -> Rules
// Engine, each stage wrapping the previous payload in a wider envelope while
// copying EventEnvelope.TraceID unchanged and setting SourceEventID to the
// event_id of its input.
package envelope

import (
	"strconv"
	"strings"
	"time"
)

// Schema version carried on every produced event.
const SchemaVersion = "1.0.0"

// Topic names for the five append-only event logs.
const (
	TopicRaw        = "telemetry.raw"
	TopicNormalized = "telemetry.normalized"
	TopicEnriched   = "telemetry.enriched"
	TopicScored     = "telemetry.scored"
	TopicAlerts     = "telemetry.alerts"
)

// Event type tags, one per topic.
const (
	EventTypeRaw        = "telemetry.raw"
	EventTypeNormalized = "telemetry.normalized"
	EventTypeEnriched   = "telemetry.enriched"
	EventTypeScored     = "telemetry.scored"
	EventTypeAlert      = "telemetry.alert"
)

// Canonical metric names.
const (
	MetricHeartRate        = "heart_rate"
	MetricOxygenSaturation = "oxygen_saturation"
	MetricTemperature      = "temperature"
	MetricRespiratoryRate  = "respiratory_rate"
	MetricBloodPressure    = "blood_pressure"
)

// Validation status values a NormalizedTelemetry may carry.
const (
	ValidationValid               = "valid"
	ValidationClamped             = "clamped"
	ValidationTimestampSubstituted = "timestamp_substituted"
)

// Severity ordering, low to high. Used by the Rules Engine to aggregate
// rule-derived and anomaly-derived severities.
const (
	SeverityOK       = "ok"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityOK:       0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityWarning:  3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// MaxSeverity returns whichever of a, b ranks higher in the
// ok<low<medium<warning<high<critical lattice. Unknown strings rank as ok.
func MaxSeverity(a, b string) string {
	if severityRank[a] >= severityRank[b] {
		return a
	}
	return b
}

// EventEnvelope is embedded in every pipeline event.
type EventEnvelope struct {
	EventID       string    `json:"event_id"`
	TraceID       string    `json:"trace_id"`
	EventType     string    `json:"event_type"`
	Version       string    `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	SourceEventID string    `json:"source_event_id,omitempty"`
}

// Measurement is a single raw device reading as submitted at ingest.
type Measurement struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
}

// DeviceMetadata carries optional device-reported context.
type DeviceMetadata struct {
	Battery int    `json:"battery,omitempty"`
	Firmware string `json:"firmware,omitempty"`
}

// RawTelemetry is what the Gateway publishes to the raw topic.
type RawTelemetry struct {
	EventEnvelope
	DeviceID string `json:"device_id"`
	// DeviceTimestamp is the timestamp exactly as submitted by the caller
	// (ISO-8601, Unix seconds, or Unix milliseconds), preserved verbatim so
	// the Normalizer can re-attempt parsing independently of whatever the
	// Gateway already resolved EventEnvelope.Timestamp to.
	DeviceTimestamp string          `json:"device_timestamp,omitempty"`
	Measurements    []Measurement   `json:"measurements"`
	Metadata        *DeviceMetadata `json:"metadata,omitempty"`
}

// Vital is a normalized, unit-tagged, timestamped vital reading.
type Vital struct {
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizationMetadata records what the Normalizer did to the input.
type NormalizationMetadata struct {
	DroppedMetrics []string `json:"dropped_metrics,omitempty"`
	ClampedMetrics []string `json:"clamped_metrics,omitempty"`
}

// NormalizedTelemetry is what the Normalizer publishes to the normalized topic.
type NormalizedTelemetry struct {
	EventEnvelope
	DeviceID               string           `json:"device_id"`
	PatientID               string           `json:"patient_id,omitempty"`
	Vitals                   map[string]Vital `json:"vitals"`
	ValidationStatus         string           `json:"validation_status"`
	NormalizationMetadata    NormalizationMetadata `json:"normalization_metadata"`
}

// ThresholdRange is a closed [Min, Max] physiological band.
type ThresholdRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// BloodPressureThresholds groups systolic/diastolic bands.
type BloodPressureThresholds struct {
	Systolic  ThresholdRange `json:"systolic" yaml:"systolic"`
	Diastolic ThresholdRange `json:"diastolic" yaml:"diastolic"`
}

// ThresholdProfile mirrors the Registry entity of the same name.
type ThresholdProfile struct {
	PatientID        string                  `json:"patient_id" yaml:"patient_id"`
	DeviceID         string                  `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	HeartRate        ThresholdRange          `json:"heart_rate" yaml:"heart_rate"`
	BloodPressure    BloodPressureThresholds `json:"blood_pressure" yaml:"blood_pressure"`
	Temperature      ThresholdRange          `json:"temperature" yaml:"temperature"`
	OxygenSaturation ThresholdRange          `json:"oxygen_saturation" yaml:"oxygen_saturation"`
	RespiratoryRate  ThresholdRange          `json:"respiratory_rate" yaml:"respiratory_rate"`
	// Source records which profile resolved this response: "device" or
	// "patient" — made explicit here rather than left for the Enricher to
	// infer.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// PatientProfile mirrors the subset of the Registry's Patient entity the
// pipeline actually consumes.
type PatientProfile struct {
	Age int    `json:"age"`
	Sex string `json:"sex"`
}

// EnrichmentMetadata records which registry lookups contributed.
type EnrichmentMetadata struct {
	EnrichmentSources []string `json:"enrichment_sources"`
}

// EnrichedTelemetry is what the Enricher publishes to the enriched topic.
type EnrichedTelemetry struct {
	NormalizedTelemetry
	Orphan             bool                `json:"orphan"`
	PatientProfile     *PatientProfile     `json:"patientProfile,omitempty"`
	Thresholds         *ThresholdProfile   `json:"thresholds,omitempty"`
	EnrichmentMetadata EnrichmentMetadata  `json:"enrichment_metadata"`
}

// AnomalyScore is the per-metric output of the Anomaly Scorer.
type AnomalyScore struct {
	Score    float64 `json:"score"`
	Severity string  `json:"severity"`
}

// ScoredTelemetry is what the Rules Engine publishes to the scored topic.
type ScoredTelemetry struct {
	EnrichedTelemetry
	AnomalyScores    map[string]AnomalyScore `json:"anomaly_scores"`
	OverallRiskScore float64                 `json:"overall_risk_score"`
	OverallSeverity  string                  `json:"overall_severity"`
	RulesTriggered   []string                `json:"rulesTriggered,omitempty"`
	AnomalyDegraded  bool                    `json:"anomaly_degraded,omitempty"`
}

// Alert is what the Rules Engine publishes to the alerts topic, conditionally.
type Alert struct {
	EventEnvelope
	AlertID        string   `json:"alert_id"`
	PatientID      string   `json:"patient_id"`
	DeviceID       string   `json:"device_id"`
	Severity       string   `json:"severity"`
	AlertType      string   `json:"alert_type"`
	Condition      string   `json:"condition"`
	RulesTriggered []string `json:"rulesTriggered"`
	Details        map[string]any `json:"details,omitempty"`
}

// MetricAliases maps accepted device-reported metric spellings to the
// canonical name the rest of the pipeline uses.
var MetricAliases = map[string]string{
	"hr":          MetricHeartRate,
	"heartrate":   MetricHeartRate,
	"pulse":       MetricHeartRate,
	"heart_rate":  MetricHeartRate,
	"spo2":        MetricOxygenSaturation,
	"o2sat":       MetricOxygenSaturation,
	"o2":          MetricOxygenSaturation,
	"oxygen_saturation": MetricOxygenSaturation,
	"temp":        MetricTemperature,
	"body_temp":   MetricTemperature,
	"temperature": MetricTemperature,
}

// CanonicalMetric resolves a device-reported metric name to its canonical
// form, reporting whether it was recognized at all.
func CanonicalMetric(name string) (string, bool) {
	canonical, ok := MetricAliases[name]
	return canonical, ok
}

// ParseFlexibleTimestamp accepts ISO-8601 (RFC3339, with or without
// fractional seconds), Unix seconds, or Unix milliseconds, returning the
// parsed instant in UTC. Callers decide what to do on failure: the Gateway
// rejects, the Normalizer substitutes the current time.
func ParseFlexibleTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case n > 1e14: // nanoseconds
			return time.Unix(0, n).UTC(), true
		case n > 1e11: // milliseconds
			return time.Unix(0, n*int64(time.Millisecond)).UTC(), true
		default: // seconds
			return time.Unix(n, 0).UTC(), true
		}
	}

	return time.Time{}, false
}
