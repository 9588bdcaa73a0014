//go:build e2e

package recall

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/nidhogg/reflecta/internal/broadcast"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.12.4",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start qdrant: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("qdrant host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6334/tcp")
	if err != nil {
		t.Fatalf("qdrant port: %v", err)
	}

	x, err := NewIndex(QdrantConfig{Host: host, Port: port.Int(), Collection: "test_insights", MinScore: 0.1},
		HashEmbedder{Dim: 64}, zap.NewNop())
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	t.Cleanup(func() { x.Close() })
	if err := x.EnsureCollection(ctx); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}
	// second call finds the existing collection
	if err := x.EnsureCollection(ctx); err != nil {
		t.Fatalf("ensure existing collection: %v", err)
	}
	return x
}

func TestIndexRecallIsScopedToSession(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)

	for _, ev := range []broadcast.Event{
		broadcast.InsightEvent{SessionID: "s1", InsightKind: "learning", Content: "tides follow the moon"},
		broadcast.InsightEvent{SessionID: "s1", InsightKind: "correction", Content: "compilers emit machine code"},
		broadcast.InsightEvent{SessionID: "s2", InsightKind: "learning", Content: "tides follow the moon too"},
		broadcast.GenerationEvent{SessionID: "s1", Content: "ignored"},
	} {
		if err := x.Notify(ctx, ev); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}

	got, err := x.Recall(ctx, "s1", "why do tides follow the moon", 3)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) == 0 || got[0] != "tides follow the moon" {
		t.Fatalf("recall = %v, want the tides insight first", got)
	}
	for _, c := range got {
		if c == "tides follow the moon too" {
			t.Error("recall leaked another session's insight")
		}
	}
}
