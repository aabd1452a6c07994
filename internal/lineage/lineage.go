// Package lineage audits a single trace_id's journey across pipeline
// stages, checking live that trace propagation and source-event linkage
// hold end to end rather than only in tests: same sha256-keyed-group
// technique and ticker-based cleanup goroutine as a cross-event correlator,
// repurposed from grouping unrelated events by shared IP/user/host into
// tracking one lineage's own stage-by-stage hop list.
package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hop is one stage's contribution to a trace_id's lineage.
type Hop struct {
	Stage         string
	EventID       string
	SourceEventID string
	RecordedAt    time.Time
}

// Trail is the ordered list of hops observed for one trace_id.
type Trail struct {
	TraceID   string
	Hops      []Hop
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Auditor tracks in-flight trace_id lineages and logs a warning when a
// hop's source_event_id does not match the previous hop's event_id.
// A trace_id not seen again within ttl is reaped by the background cleanup
// goroutine so long-lived processes don't leak memory over many lineages.
type Auditor struct {
	logger *zap.Logger
	mu     sync.RWMutex
	trails map[string]*Trail
	ttl    time.Duration
	stop   chan struct{}
}

// New constructs an Auditor and starts its background cleanup goroutine.
// Call Close to stop it.
func New(logger *zap.Logger, ttl time.Duration) *Auditor {
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	a := &Auditor{
		logger: logger,
		trails: make(map[string]*Trail),
		ttl:    ttl,
		stop:   make(chan struct{}),
	}
	go a.cleanup()
	return a
}

// Record appends a hop to traceID's trail, logging a warning (but never
// failing the pipeline — this is an audit, not an enforcement point) when
// sourceEventID doesn't match the event_id of the most recent hop, which
// would indicate a broken P2 source-linkage chain.
func (a *Auditor) Record(traceID, stage, eventID, sourceEventID string) {
	if traceID == "" {
		return
	}

	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	trail, ok := a.trails[traceID]
	if !ok {
		trail = &Trail{TraceID: traceID, CreatedAt: now}
		a.trails[traceID] = trail
	}

	if len(trail.Hops) > 0 && sourceEventID != "" {
		prev := trail.Hops[len(trail.Hops)-1]
		if prev.EventID != sourceEventID {
			a.logger.Warn("lineage: source_event_id does not chain to the prior hop",
				zap.String("trace_id", traceID),
				zap.String("prior_stage", prev.Stage),
				zap.String("prior_event_id", prev.EventID),
				zap.String("stage", stage),
				zap.String("source_event_id", sourceEventID),
			)
		}
	}

	trail.Hops = append(trail.Hops, Hop{
		Stage:         stage,
		EventID:       eventID,
		SourceEventID: sourceEventID,
		RecordedAt:    now,
	})
	trail.UpdatedAt = now
}

// Trail returns a copy of traceID's hop list, if any is currently tracked.
func (a *Auditor) Trail(traceID string) ([]Hop, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	trail, ok := a.trails[traceID]
	if !ok {
		return nil, false
	}
	hops := make([]Hop, len(trail.Hops))
	copy(hops, trail.Hops)
	return hops, true
}

// GroupKey derives a stable, opaque bucket id for traceID, used only for
// log/metric cardinality control rather than event grouping.
func GroupKey(traceID string) string {
	h := sha256.Sum256([]byte(traceID))
	return hex.EncodeToString(h[:])[:16]
}

// Close stops the background cleanup goroutine.
func (a *Auditor) Close() {
	close(a.stop)
}

func (a *Auditor) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			a.mu.Lock()
			for id, trail := range a.trails {
				if now.Sub(trail.UpdatedAt) > a.ttl {
					delete(a.trails, id)
				}
			}
			a.mu.Unlock()
		case <-a.stop:
			return
		}
	}
}
