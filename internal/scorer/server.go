package scorer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/observability"
	"github.com/vitalmesh/pulsegrid/internal/scorerrpc"
)

// Server implements scorerrpc.Server: it folds each submitted reading into
// its patient/metric baseline and reports how anomalous the reading is
// relative to that baseline.
type Server struct {
	scorerrpc.UnimplementedServer
	store      Store
	minSamples int
	dedupe     *eventDedupe
	dedupeOn   bool
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewServer constructs a Server.
func NewServer(store Store, cfg config.ScorerConfig, logger *zap.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		store:      store,
		minSamples: cfg.MinSamples(),
		dedupe:     newEventDedupe(cfg.BaselineTTL()),
		dedupeOn:   cfg.DedupeByEventID,
		logger:     logger,
		metrics:    metrics,
	}
}

var _ scorerrpc.Server = (*Server)(nil)

// ScoreVitals folds every reading into its baseline and returns a
// per-metric anomaly score. Readings are scored by BootstrapScore (a score
// in [0.2, 0.5], severity "ok" or "low") while fewer than MinSamples
// observations exist for that metric, since a young baseline's mean/stddev
// aren't trustworthy yet.
func (s *Server) ScoreVitals(ctx context.Context, req *scorerrpc.ScoreVitalsRequest) (*scorerrpc.ScoreVitalsResponse, error) {
	if req.PatientID == "" || len(req.Readings) == 0 {
		return &scorerrpc.ScoreVitalsResponse{Status: scorerrpc.StatusInvalidRequest, Error: "patient_id and readings are required"}, nil
	}

	now := time.Now()
	skipObserve := s.dedupeOn && s.dedupe.SeenBefore(req.EventID, now)

	scores := make([]scorerrpc.MetricScore, 0, len(req.Readings))
	for _, reading := range req.Readings {
		var baseline *Baseline
		var err error

		if skipObserve {
			existing, ok, getErr := s.store.Get(ctx, req.PatientID, reading.Metric)
			if getErr != nil {
				s.logger.Warn("scorer: baseline lookup failed", zap.Error(getErr))
				return &scorerrpc.ScoreVitalsResponse{Status: scorerrpc.StatusInternalError, Error: getErr.Error()}, nil
			}
			if !ok {
				baseline = NewBaseline(reading.Metric, 0)
			} else {
				baseline = existing
			}
		} else {
			baseline, err = s.store.Observe(ctx, req.PatientID, reading.Metric, reading.Value, now)
			if err != nil {
				s.logger.Warn("scorer: baseline update failed", zap.Error(err))
				return &scorerrpc.ScoreVitalsResponse{Status: scorerrpc.StatusInternalError, Error: err.Error()}, nil
			}
			if s.metrics != nil {
				s.metrics.BaselineUpdatesTotal.WithLabelValues(reading.Metric).Inc()
			}
		}

		bootstrap := baseline.Count < s.minSamples
		var score float64
		var severity string
		if bootstrap {
			score, severity = BootstrapScore(reading.Metric, reading.Value)
		} else {
			z := baseline.ZScore(reading.Value)
			score, severity = ClassifyZScore(z)
		}

		scores = append(scores, scorerrpc.MetricScore{
			Metric:    reading.Metric,
			Score:     score,
			Severity:  severity,
			Bootstrap: bootstrap,
		})
	}

	return &scorerrpc.ScoreVitalsResponse{
		Status:           scorerrpc.StatusSuccess,
		PatientID:        req.PatientID,
		Scores:           scores,
		OverallRiskScore: OverallRiskScore(scores),
	}, nil
}
