package scorer

import "github.com/vitalmesh/pulsegrid/internal/envelope"

// hardRanges holds each metric's outer physiological clamp window, the same bounds
// the Normalizer enforces. The bootstrap scorer has no access
// to a patient's own threshold profile — only the Rules Engine does — so it
// falls back to these population-wide bounds to judge how far from typical
// a reading sits before a baseline has enough samples to trust z-scores.
var hardRanges = map[string]struct{ min, max float64 }{
	envelope.MetricHeartRate:        {min: 20, max: 240},
	envelope.MetricOxygenSaturation: {min: 50, max: 100},
	envelope.MetricTemperature:      {min: 30, max: 45},
	envelope.MetricRespiratoryRate:  {min: 4, max: 60},
}

// softToleranceFraction is the fraction of a metric's half-width, measured
// from the midpoint, still treated as unremarkable (severity "ok" rather
// than "low") while a baseline is still bootstrapping.
const softToleranceFraction = 0.35

// BootstrapScore derives a score in [0.2, 0.5] and a severity of "low" or
// "ok" from how far value sits from the metric's physiological
// midpoint, relative to its hard clamp half-width, for use while a
// baseline has fewer than MinSamples observations. An unrecognized metric
// scores at the bottom of the bootstrap band.
func BootstrapScore(metric string, value float64) (score float64, severity string) {
	rng, ok := hardRanges[metric]
	if !ok {
		return 0.2, envelope.SeverityLow
	}

	mid := (rng.min + rng.max) / 2
	halfWidth := (rng.max - rng.min) / 2
	if halfWidth <= 0 {
		return 0.2, envelope.SeverityLow
	}

	deviation := absFloat(value-mid) / halfWidth
	if deviation > 1 {
		deviation = 1
	}

	score = 0.2 + deviation*0.3
	severity = envelope.SeverityLow
	if deviation <= softToleranceFraction {
		severity = envelope.SeverityOK
	}
	return score, severity
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
