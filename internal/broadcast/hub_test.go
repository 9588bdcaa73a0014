package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHubFiltersBySession(t *testing.T) {
	h := NewHub(zap.NewNop())
	defer h.Close()

	_, all := h.Subscribe("", 8)
	_, one := h.Subscribe("s1", 8)

	h.Publish(context.Background(), InsightEvent{SessionID: "s1", Content: "a"})
	h.Publish(context.Background(), InsightEvent{SessionID: "s2", Content: "b"})

	if got := len(all); got != 2 {
		t.Errorf("wildcard subscriber got %d events, want 2", got)
	}
	if got := len(one); got != 1 {
		t.Fatalf("session subscriber got %d events, want 1", got)
	}
	if ev := <-one; ev.Session() != "s1" {
		t.Errorf("session subscriber got event of %s", ev.Session())
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(zap.NewNop())
	defer h.Close()

	_, ch := h.Subscribe("", 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Publish(context.Background(), PerformanceEvent{SessionID: "s", Cycle: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if ev := <-ch; ev.(PerformanceEvent).Cycle != 0 {
		t.Errorf("kept cycle %d, want the first event", ev.(PerformanceEvent).Cycle)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(zap.NewNop())
	id, ch := h.Subscribe("", 1)
	h.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// unknown ids are ignored
	h.Unsubscribe(id)
	if h.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", h.Subscribers())
	}
}

type countingObserver struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	seen   chan struct{}
}

func (o *countingObserver) Name() string { return "counting" }

func (o *countingObserver) Notify(_ context.Context, ev Event) error {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
	o.seen <- struct{}{}
	if o.fail {
		return errors.New("observer down")
	}
	return nil
}

func TestHubAttachKeepsDeliveringAfterErrors(t *testing.T) {
	h := NewHub(zap.NewNop())
	defer h.Close()

	obs := &countingObserver{fail: true, seen: make(chan struct{}, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Attach(ctx, obs, 4)

	h.Publish(ctx, ReflectionEvent{SessionID: "s", Cycle: 1})
	h.Publish(ctx, ReflectionEvent{SessionID: "s", Cycle: 2})
	for i := 0; i < 2; i++ {
		select {
		case <-obs.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("observer saw %d events, want 2", i)
		}
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.Subscribers() != 0 {
		t.Error("cancelled observer still subscribed")
	}
}
