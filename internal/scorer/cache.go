package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// updateBaselineScript performs the ring-buffer Welford update atomically
// server-side, avoiding a read-then-write race between Anomaly Scorer
// replicas sharing one Redis instance.
const updateBaselineScript = `
local key = KEYS[1]
local metric = ARGV[1]
local value = tonumber(ARGV[2])
local ts = ARGV[3]
local capacity = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local raw = redis.call('GET', key)
local baseline
if raw then
  baseline = cjson.decode(raw)
else
  baseline = {
    metric = metric,
    window = {},
    next = 0,
    count = 0,
    capacity = capacity,
    mean = 0,
    m2 = 0,
  }
  for i = 1, capacity do baseline.window[i] = 0 end
end

if baseline.count < baseline.capacity then
  baseline.count = baseline.count + 1
  local delta = value - baseline.mean
  baseline.mean = baseline.mean + delta / baseline.count
  baseline.m2 = baseline.m2 + delta * (value - baseline.mean)
else
  -- Decrement Welford's state to n-1 by retracting the evicted sample,
  -- then increment back to n folding in the new one. Folding both deltas
  -- against the stale mean in one step drifts after the first wraparound.
  local n = baseline.count
  local idx = baseline.next + 1
  local old = baseline.window[idx]
  local oldDelta = old - baseline.mean
  local meanAfterRemoval = baseline.mean - oldDelta / (n - 1)
  local m2AfterRemoval = baseline.m2 - oldDelta * (old - meanAfterRemoval)

  local newDelta = value - meanAfterRemoval
  baseline.mean = meanAfterRemoval + newDelta / n
  baseline.m2 = m2AfterRemoval + newDelta * (value - baseline.mean)
end

baseline.window[baseline.next + 1] = value
baseline.next = (baseline.next + 1) % baseline.capacity
baseline.updated_at = ts

local encoded = cjson.encode(baseline)
redis.call('SETEX', key, ttl, encoded)
return encoded
`

// Store persists and retrieves per-patient, per-metric baselines.
type Store interface {
	Observe(ctx context.Context, patientID, metric string, value float64, at time.Time) (*Baseline, error)
	Get(ctx context.Context, patientID, metric string) (*Baseline, bool, error)
}

// CacheKey returns the Redis key for a (patient, metric) baseline:
// "baseline:{patient_id}:{metric}".
func CacheKey(patientID, metric string) string {
	return fmt.Sprintf("baseline:%s:%s", patientID, metric)
}

// RedisStore is the cache-first primary baseline store.
type RedisStore struct {
	client     *redis.Client
	script     *redis.Script
	capacity   int
	ttl        time.Duration
	fallback   *FallbackStore
}

// NewRedisStore builds a RedisStore. fallback is used when Redis is
// unreachable, so a transient cache outage degrades scoring rather than
// failing it outright.
func NewRedisStore(client *redis.Client, capacity int, ttl time.Duration, fallback *FallbackStore) *RedisStore {
	return &RedisStore{
		client:   client,
		script:   redis.NewScript(updateBaselineScript),
		capacity: capacity,
		ttl:      ttl,
		fallback: fallback,
	}
}

// Observe atomically folds a new reading into the cached baseline via the
// Lua CAS script, falling back to the in-process store on Redis errors.
func (s *RedisStore) Observe(ctx context.Context, patientID, metric string, value float64, at time.Time) (*Baseline, error) {
	key := CacheKey(patientID, metric)
	res, err := s.script.Run(ctx, s.client, []string{key},
		metric, value, at.Format(time.RFC3339Nano), s.capacity, int(s.ttl.Seconds()),
	).Result()
	if err != nil {
		if s.fallback != nil {
			return s.fallback.Observe(ctx, patientID, metric, value, at)
		}
		return nil, fmt.Errorf("scorer: redis update_baseline: %w", err)
	}

	raw, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("scorer: unexpected script result type %T", res)
	}

	var b Baseline
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("scorer: decoding baseline: %w", err)
	}
	return &b, nil
}

// Get returns the cached baseline without modifying it, falling back to
// the in-process store on Redis errors.
func (s *RedisStore) Get(ctx context.Context, patientID, metric string) (*Baseline, bool, error) {
	key := CacheKey(patientID, metric)
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		if s.fallback != nil {
			return s.fallback.Get(ctx, patientID, metric)
		}
		return nil, false, fmt.Errorf("scorer: redis get: %w", err)
	}

	var b Baseline
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, false, fmt.Errorf("scorer: decoding baseline: %w", err)
	}
	return &b, true, nil
}

// FallbackStore is an in-process baseline store used when Redis is
// unreachable. It stripes locks across a fixed bucket count so unrelated
// keys don't serialize on one mutex, mirroring the same CAS-safety goal as
// the Lua script.
type FallbackStore struct {
	stripes []*sync.Mutex
	data    []map[string]*Baseline
	capacity int
}

const fallbackStripes = 64

// NewFallbackStore builds an in-process fallback store.
func NewFallbackStore(capacity int) *FallbackStore {
	f := &FallbackStore{
		stripes:  make([]*sync.Mutex, fallbackStripes),
		data:     make([]map[string]*Baseline, fallbackStripes),
		capacity: capacity,
	}
	for i := range f.stripes {
		f.stripes[i] = &sync.Mutex{}
		f.data[i] = make(map[string]*Baseline)
	}
	return f
}

func (f *FallbackStore) stripe(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % fallbackStripes
}

// Observe folds a new reading into the in-process baseline under the
// key's stripe lock.
func (f *FallbackStore) Observe(_ context.Context, patientID, metric string, value float64, at time.Time) (*Baseline, error) {
	key := CacheKey(patientID, metric)
	idx := f.stripe(key)
	f.stripes[idx].Lock()
	defer f.stripes[idx].Unlock()

	b, ok := f.data[idx][key]
	if !ok {
		b = NewBaseline(metric, f.capacity)
		f.data[idx][key] = b
	}
	b.Observe(value, at)

	snapshot := *b
	snapshot.Window = append([]float64(nil), b.Window...)
	return &snapshot, nil
}

// Get returns a snapshot of the in-process baseline, if any.
func (f *FallbackStore) Get(_ context.Context, patientID, metric string) (*Baseline, bool, error) {
	key := CacheKey(patientID, metric)
	idx := f.stripe(key)
	f.stripes[idx].Lock()
	defer f.stripes[idx].Unlock()

	b, ok := f.data[idx][key]
	if !ok {
		return nil, false, nil
	}
	snapshot := *b
	snapshot.Window = append([]float64(nil), b.Window...)
	return &snapshot, true, nil
}
