package broker

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// keyedQueue is one device's serialized work queue.
type keyedQueue struct {
	msgs chan *nats.Msg
	done chan struct{}
}

// KeyedDispatcher gives NATS subject-based delivery the same per-device
// ordering guarantee Kafka partitions give for free: every message for a
// given key is handled by exactly one goroutine, in arrival order, even
// though the pull consumer fetches many devices' messages in one batch.
//
// Idle queues are reaped after idleTimeout so device churn doesn't leak
// goroutines.
type KeyedDispatcher struct {
	mu          sync.Mutex
	queues      map[string]*keyedQueue
	handle      func(context.Context, *nats.Msg)
	idleTimeout time.Duration
	queueDepth  int
}

// NewKeyedDispatcher builds a dispatcher that calls handle for every
// message, serialized per key. queueDepth bounds how many messages may be
// buffered per key before Dispatch blocks (backpressure).
func NewKeyedDispatcher(handle func(context.Context, *nats.Msg), idleTimeout time.Duration, queueDepth int) *KeyedDispatcher {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &KeyedDispatcher{
		queues:      make(map[string]*keyedQueue),
		handle:      handle,
		idleTimeout: idleTimeout,
		queueDepth:  queueDepth,
	}
}

// Dispatch enqueues msg for processing under key, starting a worker
// goroutine for key if none is currently running.
func (d *KeyedDispatcher) Dispatch(ctx context.Context, key string, msg *nats.Msg) {
	d.mu.Lock()
	q, ok := d.queues[key]
	if !ok {
		q = &keyedQueue{
			msgs: make(chan *nats.Msg, d.queueDepth),
			done: make(chan struct{}),
		}
		d.queues[key] = q
		go d.run(ctx, key, q)
	}
	select {
	case q.msgs <- msg:
		d.mu.Unlock()
		return
	default:
	}
	d.mu.Unlock()

	select {
	case q.msgs <- msg:
	case <-ctx.Done():
	}
}

func (d *KeyedDispatcher) run(ctx context.Context, key string, q *keyedQueue) {
	defer close(q.done)
	timer := time.NewTimer(d.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-q.msgs:
			if !timer.Stop() {
				<-timer.C
			}
			d.handle(ctx, msg)
			timer.Reset(d.idleTimeout)
		case <-timer.C:
			if d.reap(key, q) {
				return
			}
			timer.Reset(d.idleTimeout)
		case <-ctx.Done():
			return
		}
	}
}

// reap removes key's queue if it is empty, returning true if removed. The
// removal happens under the same lock Dispatch holds while it looks up the
// queue and enqueues into it when the queue has room, so reap never removes
// a queue that a concurrent Dispatch has just filled; a Dispatch that finds
// the queue full waits on the send outside the lock, and a full queue is
// never reaped.
func (d *KeyedDispatcher) reap(key string, q *keyedQueue) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(q.msgs) > 0 {
		return false
	}
	delete(d.queues, key)
	return true
}
