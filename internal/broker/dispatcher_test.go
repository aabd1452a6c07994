package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestKeyedDispatcherPreservesPerKeyOrder(t *testing.T) {
	var mu sync.Mutex
	var gotOrder []string

	handle := func(_ context.Context, msg *nats.Msg) {
		mu.Lock()
		gotOrder = append(gotOrder, string(msg.Data))
		mu.Unlock()
	}

	d := NewKeyedDispatcher(handle, time.Minute, 8)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.Dispatch(ctx, "device-A", &nats.Msg{Data: []byte{byte('0' + i)}})
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(gotOrder)
		mu.Unlock()
		if n == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all 5 messages to be handled, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range gotOrder {
		if v != string(byte('0'+i)) {
			t.Fatalf("expected in-order delivery for a single key, got %v", gotOrder)
		}
	}
}

func TestKeyedDispatcherRunsDistinctKeysConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)

	handle := func(_ context.Context, msg *nats.Msg) {
		started <- string(msg.Data)
		<-release
	}

	d := NewKeyedDispatcher(handle, time.Minute, 8)
	ctx := context.Background()

	d.Dispatch(ctx, "device-A", &nats.Msg{Data: []byte("a")})
	d.Dispatch(ctx, "device-B", &nats.Msg{Data: []byte("b")})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-started:
			seen[k] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for both distinct keys to start concurrently, seen=%v", seen)
		}
	}
	close(release)

	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected both distinct keys to be dispatched, got %v", seen)
	}
}
