//go:build e2e

package broadcast

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func TestRedisRelayTail(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}

	relay, err := NewRedisRelay("redis://"+endpoint, 100, zap.NewNop())
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	t.Cleanup(func() { relay.Close() })

	sent := []Event{
		ReflectionEvent{SessionID: "s1", Cycle: 0, ReflectionKind: "user_input", Content: "hello"},
		InsightEvent{SessionID: "s1", InsightKind: "learning", Content: "noted", Connections: []int{1}},
		InsightEvent{SessionID: "s2", InsightKind: "learning", Content: "elsewhere"},
		GenerationEvent{SessionID: "s1", Content: "done", IsComplete: true},
	}
	for _, ev := range sent {
		if err := relay.Notify(ctx, ev); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}

	tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var got []Event
	for ev := range relay.Tail(tctx, "s1", "0") {
		got = append(got, ev)
		if len(got) == 3 {
			cancel()
		}
	}
	if len(got) != 3 {
		t.Fatalf("tailed %d events, want 3", len(got))
	}
	if got[0].Kind() != KindReflection || got[2].Kind() != KindGeneration {
		t.Errorf("tailed kinds %s..%s", got[0].Kind(), got[2].Kind())
	}
	if in := got[1].(InsightEvent); in.Content != "noted" || len(in.Connections) != 1 {
		t.Errorf("insight = %+v", in)
	}
}

func TestNewRedisRelayRejectsBadURL(t *testing.T) {
	if _, err := NewRedisRelay("not a url", 10, zap.NewNop()); err == nil {
		t.Fatal("expected an error for a bad url")
	}
}
