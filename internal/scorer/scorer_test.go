package scorer

import (
	"math"
	"testing"
	"time"

	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/scorerrpc"
)

func TestBaselineObserveTracksMeanAndStdDev(t *testing.T) {
	b := NewBaseline(envelope.MetricHeartRate, 5)
	now := time.Now()

	for _, v := range []float64{70, 72, 68, 74, 66} {
		b.Observe(v, now)
	}

	if b.Count != 5 {
		t.Fatalf("expected count=5, got %d", b.Count)
	}
	if math.Abs(b.Mean-70) > 1e-9 {
		t.Fatalf("expected mean=70, got %v", b.Mean)
	}
	if b.StdDev() <= 0 {
		t.Fatalf("expected positive stddev, got %v", b.StdDev())
	}
}

func TestBaselineObserveEvictsOldestOnceFull(t *testing.T) {
	b := NewBaseline(envelope.MetricHeartRate, 3)
	now := time.Now()

	for _, v := range []float64{100, 100, 100} {
		b.Observe(v, now)
	}
	if z := b.ZScore(100); z != 0 {
		t.Fatalf("expected zero z-score for constant baseline, got %v", z)
	}

	// Push a fourth sample; the window capacity is 3, so the first 100 is evicted.
	b.Observe(10, now)
	if b.Count != 3 {
		t.Fatalf("expected count capped at capacity 3, got %d", b.Count)
	}
	if math.Abs(b.Mean-70) > 1e-9 {
		t.Fatalf("expected mean=70 after eviction ((100+100+10)/3), got %v", b.Mean)
	}
}

func TestBaselineObserveEvictionAsymmetricWraparound(t *testing.T) {
	b := NewBaseline(envelope.MetricHeartRate, 3)
	now := time.Now()

	// 1, 2, 3 fills the window; 4 evicts the 1, leaving {2, 3, 4}.
	for _, v := range []float64{1, 2, 3, 4} {
		b.Observe(v, now)
	}

	if math.Abs(b.Mean-3.0) > 1e-9 {
		t.Fatalf("expected mean=3.0 for window {2,3,4}, got %v", b.Mean)
	}
	if math.Abs(b.M2-2.0) > 1e-9 {
		t.Fatalf("expected M2=2.0 for window {2,3,4}, got %v", b.M2)
	}

	// Evicting the 2 next should leave {3, 4, 5}: mean=4.0, M2=2.0.
	b.Observe(5, now)
	if math.Abs(b.Mean-4.0) > 1e-9 {
		t.Fatalf("expected mean=4.0 for window {3,4,5}, got %v", b.Mean)
	}
	if math.Abs(b.M2-2.0) > 1e-9 {
		t.Fatalf("expected M2=2.0 for window {3,4,5}, got %v", b.M2)
	}
}

func TestBaselineZScoreZeroVariance(t *testing.T) {
	b := NewBaseline(envelope.MetricHeartRate, 10)
	now := time.Now()
	b.Observe(80, now)

	if z := b.ZScore(80); z != 0 {
		t.Fatalf("expected z-score 0 with a single sample, got %v", z)
	}
}

func TestBaselineExpired(t *testing.T) {
	b := NewBaseline(envelope.MetricHeartRate, 10)
	now := time.Now()
	b.Observe(80, now)

	if b.Expired(time.Hour, now.Add(30*time.Minute)) {
		t.Fatalf("expected baseline not expired within TTL")
	}
	if !b.Expired(time.Hour, now.Add(2*time.Hour)) {
		t.Fatalf("expected baseline expired past TTL")
	}
}

func TestBootstrapScoreWithinRangeIsOK(t *testing.T) {
	score, severity := BootstrapScore(envelope.MetricHeartRate, 130) // hard range midpoint

	if severity != envelope.SeverityOK {
		t.Fatalf("expected severity=ok at the midpoint, got %q", severity)
	}
	if score < 0.2 || score > 0.5 {
		t.Fatalf("expected score within [0.2, 0.5], got %v", score)
	}
}

func TestBootstrapScoreAtExtremeIsLow(t *testing.T) {
	score, severity := BootstrapScore(envelope.MetricHeartRate, 240) // hard max

	if severity != envelope.SeverityLow {
		t.Fatalf("expected severity=low at the hard boundary, got %q", severity)
	}
	if math.Abs(score-0.5) > 1e-9 {
		t.Fatalf("expected score=0.5 at full deviation, got %v", score)
	}
}

func TestBootstrapScoreUnknownMetric(t *testing.T) {
	score, severity := BootstrapScore("unknown_metric", 42)

	if severity != envelope.SeverityLow || score != 0.2 {
		t.Fatalf("expected floor score/severity for an unrecognized metric, got score=%v severity=%q", score, severity)
	}
}

func TestClassifyZScoreBands(t *testing.T) {
	cases := []struct {
		z            float64
		wantSeverity string
	}{
		{z: 0, wantSeverity: envelope.SeverityOK},
		{z: 1.5, wantSeverity: envelope.SeverityLow},
		{z: 2.5, wantSeverity: envelope.SeverityMedium},
		{z: 3.5, wantSeverity: envelope.SeverityHigh},
		{z: 10, wantSeverity: envelope.SeverityCritical},
	}

	for _, tc := range cases {
		score, severity := ClassifyZScore(tc.z)
		if severity != tc.wantSeverity {
			t.Errorf("z=%v: expected severity %q, got %q", tc.z, tc.wantSeverity, severity)
		}
		if score < 0 || score > 1 {
			t.Errorf("z=%v: expected score in [0,1], got %v", tc.z, score)
		}
	}
}

func TestClassifyZScoreSaturatesAtCritical(t *testing.T) {
	score, severity := ClassifyZScore(100)
	if severity != envelope.SeverityCritical || score != 1.0 {
		t.Fatalf("expected saturated critical score=1.0, got score=%v severity=%q", score, severity)
	}
}

func TestOverallRiskScoreWeightsAndRenormalizes(t *testing.T) {
	full := OverallRiskScore([]scorerrpc.MetricScore{
		{Metric: envelope.MetricHeartRate, Score: 1.0},
		{Metric: envelope.MetricOxygenSaturation, Score: 0.0},
		{Metric: envelope.MetricTemperature, Score: 0.0},
	})
	if math.Abs(full-0.35) > 1e-9 {
		t.Fatalf("expected 0.35 weighted heart_rate-only contribution, got %v", full)
	}

	// Dropping oxygen_saturation and temperature should renormalize heart_rate to weight 1.
	hrOnly := OverallRiskScore([]scorerrpc.MetricScore{
		{Metric: envelope.MetricHeartRate, Score: 0.6},
	})
	if math.Abs(hrOnly-0.6) > 1e-9 {
		t.Fatalf("expected renormalized score=0.6 with only heart_rate present, got %v", hrOnly)
	}

	// A metric outside the weighted set contributes nothing.
	ignored := OverallRiskScore([]scorerrpc.MetricScore{
		{Metric: envelope.MetricRespiratoryRate, Score: 1.0},
	})
	if ignored != 0 {
		t.Fatalf("expected respiratory_rate to be excluded from the overall score, got %v", ignored)
	}
}

func TestEventDedupeSeenBefore(t *testing.T) {
	d := newEventDedupe(time.Minute)
	now := time.Now()

	if d.SeenBefore("evt-1", now) {
		t.Fatalf("expected first sighting to report false")
	}
	if !d.SeenBefore("evt-1", now) {
		t.Fatalf("expected redelivery within TTL to report true")
	}
	if d.SeenBefore("evt-1", now.Add(2*time.Minute)) {
		t.Fatalf("expected sighting past TTL to report false (treated as new)")
	}
}

func TestEventDedupeEmptyEventIDNeverDeduped(t *testing.T) {
	d := newEventDedupe(time.Minute)
	now := time.Now()

	if d.SeenBefore("", now) || d.SeenBefore("", now) {
		t.Fatalf("expected an empty event id to never be treated as a duplicate")
	}
}
