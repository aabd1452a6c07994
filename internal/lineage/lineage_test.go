package lineage

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAuditorRecordBuildsOrderedTrail(t *testing.T) {
	a := New(zap.NewNop(), time.Hour)
	defer a.Close()

	a.Record("trace-1", "gateway", "evt-1", "")
	a.Record("trace-1", "normalizer", "evt-2", "evt-1")
	a.Record("trace-1", "enricher", "evt-3", "evt-2")

	hops, ok := a.Trail("trace-1")
	if !ok {
		t.Fatalf("expected a trail to exist for trace-1")
	}
	if len(hops) != 3 {
		t.Fatalf("expected 3 hops, got %d", len(hops))
	}
	stages := []string{hops[0].Stage, hops[1].Stage, hops[2].Stage}
	want := []string{"gateway", "normalizer", "enricher"}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("expected hop order %v, got %v", want, stages)
		}
	}
}

func TestAuditorRecordIgnoresEmptyTraceID(t *testing.T) {
	a := New(zap.NewNop(), time.Hour)
	defer a.Close()

	a.Record("", "gateway", "evt-1", "")

	if _, ok := a.Trail(""); ok {
		t.Fatalf("expected no trail to be created for an empty trace_id")
	}
}

func TestAuditorTrailUnknownTraceID(t *testing.T) {
	a := New(zap.NewNop(), time.Hour)
	defer a.Close()

	if _, ok := a.Trail("never-seen"); ok {
		t.Fatalf("expected no trail for an unseen trace_id")
	}
}

func TestAuditorRecordDoesNotFailOnBrokenChain(t *testing.T) {
	a := New(zap.NewNop(), time.Hour)
	defer a.Close()

	// A source_event_id that doesn't chain to the prior hop only logs a
	// warning; it must never panic or drop the hop.
	a.Record("trace-1", "gateway", "evt-1", "")
	a.Record("trace-1", "normalizer", "evt-2", "some-other-event")

	hops, ok := a.Trail("trace-1")
	if !ok || len(hops) != 2 {
		t.Fatalf("expected both hops recorded despite the broken chain, got %v ok=%v", hops, ok)
	}
}

func TestGroupKeyStableAndOpaque(t *testing.T) {
	k1 := GroupKey("trace-1")
	k2 := GroupKey("trace-1")
	k3 := GroupKey("trace-2")

	if k1 != k2 {
		t.Fatalf("expected GroupKey to be deterministic, got %q vs %q", k1, k2)
	}
	if k1 == k3 {
		t.Fatalf("expected distinct trace ids to produce distinct group keys")
	}
	if len(k1) != 16 {
		t.Fatalf("expected a 16-character group key, got %d chars", len(k1))
	}
}
