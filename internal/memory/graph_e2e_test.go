//go:build e2e

package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/reflecta/internal/broadcast"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("neo4j bolt url: %v", err)
	}
	g, err := NewGraph(uri, "", "", zap.NewNop())
	if err != nil {
		t.Fatalf("new graph: %v", err)
	}
	t.Cleanup(func() { g.Close(ctx) })
	if err := g.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := g.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return g
}

func TestGraphRecallsConnectedInsights(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)
	now := time.Now()

	events := []broadcast.Event{
		broadcast.ReflectionEvent{SessionID: "s1", Cycle: 1, ReflectionKind: "analysis", Content: "about tides", Timestamp: now},
		broadcast.InsightEvent{SessionID: "s1", InsightKind: "learning", Content: "Tides follow the moon.", Connections: []int{1}, Timestamp: now},
		broadcast.InsightEvent{SessionID: "s1", InsightKind: "adaptation", Content: "Gravity explains the bulge.", Connections: []int{1, 2}, Timestamp: now},
		broadcast.InsightEvent{SessionID: "other", InsightKind: "learning", Content: "Tides elsewhere.", Connections: []int{1}, Timestamp: now},
		broadcast.PerformanceEvent{SessionID: "s1", Cycle: 1},
	}
	for _, ev := range events {
		if err := g.Notify(ctx, ev); err != nil {
			t.Fatalf("notify %s: %v", ev.Kind(), err)
		}
	}

	got, err := g.Recall(ctx, "s1", "why do tides happen", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected recalled insights")
	}
	if !strings.Contains(got[0], "moon") {
		t.Errorf("best match = %q, want the tides insight", got[0])
	}
	for _, c := range got {
		if strings.Contains(c, "elsewhere") {
			t.Errorf("recall leaked another session's insight: %q", c)
		}
	}

	if got, _ := g.Recall(ctx, "s1", "?", 5); len(got) != 0 {
		t.Errorf("empty query recalled %v", got)
	}
}
