package scorer

import (
	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/scorerrpc"
)

// overallWeights are the per-metric contributions to the overall risk
// score: 0.35 heart rate + 0.35 oxygen saturation + 0.30 temperature.
// Metrics absent from a given request have their weight dropped and the
// remaining weights renormalized to sum to 1.
var overallWeights = map[string]float64{
	envelope.MetricHeartRate:        0.35,
	envelope.MetricOxygenSaturation: 0.35,
	envelope.MetricTemperature:      0.30,
}

// OverallRiskScore folds per-metric scores into the weighted overall risk
// score, renormalizing weights over whichever of heart_rate/
// oxygen_saturation/temperature are actually present. Metrics outside that
// weighted set (e.g. respiratory_rate) do not contribute to the overall
// score.
func OverallRiskScore(scores []scorerrpc.MetricScore) float64 {
	var weighted, totalWeight float64
	for _, s := range scores {
		w, ok := overallWeights[s.Metric]
		if !ok {
			continue
		}
		weighted += w * s.Score
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// severityBand is one (low, high] z-score band mapped to a severity label
// and a normalized [0,1] score contribution.
type severityBand struct {
	maxZ     float64
	severity string
	minScore float64
	maxScore float64
}

var severityBands = []severityBand{
	{maxZ: 1.0, severity: envelope.SeverityOK, minScore: 0.0, maxScore: 0.2},
	{maxZ: 2.0, severity: envelope.SeverityLow, minScore: 0.2, maxScore: 0.4},
	{maxZ: 3.0, severity: envelope.SeverityMedium, minScore: 0.4, maxScore: 0.6},
	{maxZ: 4.0, severity: envelope.SeverityHigh, minScore: 0.6, maxScore: 0.8},
}

const criticalMinScore = 0.8

// ClassifyZScore maps an absolute z-score to a (normalized score, severity)
// pair. Scores above the last band's threshold saturate at 1.0/critical.
func ClassifyZScore(z float64) (score float64, severity string) {
	for _, band := range severityBands {
		if z <= band.maxZ {
			// Linear interpolation within the band keeps the score monotonic
			// in z rather than a step function, so two readings on the same
			// band are still distinguishable.
			span := band.maxScore - band.minScore
			var prevMax float64
			if band.maxZ > 1.0 {
				prevMax = band.maxZ - 1.0
			}
			frac := (z - prevMax)
			if frac < 0 {
				frac = 0
			}
			return clamp01(band.minScore + frac*span), band.severity
		}
	}
	return 1.0, envelope.SeverityCritical
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
