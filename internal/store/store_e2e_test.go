//go:build e2e

package store

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/nidhogg/reflecta/internal/learning"
	"github.com/nidhogg/reflecta/internal/reflection"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("reflecta_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}
	s, err := New(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// migrations must be re-runnable
	if err := s.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	return s
}

func TestStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetSession(ctx, "nope"); !errors.Is(err, reflection.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sess := &reflection.Session{
		ID:        uuid.New().String(),
		Name:      "e2e",
		Objective: "test",
		Active:    true,
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	for i, kind := range []reflection.ReflectionKind{reflection.KindUserInput, reflection.KindAnalysis} {
		err := s.AppendReflection(ctx, &reflection.Reflection{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			Cycle:     i,
			Kind:      kind,
			Content:   "content",
			Metadata:  map[string]any{"n": i},
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("append reflection: %v", err)
		}
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.TotalReflections != 2 {
		t.Errorf("total reflections = %d, want 2", got.TotalReflections)
	}

	// UpdateSession leaves the counter alone
	end := time.Now()
	sess.Active = false
	sess.EndedAt = &end
	sess.ImprovementRate = 42
	if err := s.UpdateSession(ctx, sess); err != nil {
		t.Fatalf("update session: %v", err)
	}
	got, _ = s.GetSession(ctx, sess.ID)
	if got.Active || got.EndedAt == nil || got.ImprovementRate != 42 || got.TotalReflections != 2 {
		t.Errorf("after update: %+v", got)
	}

	refs, err := s.ListReflections(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list reflections: %v", err)
	}
	if len(refs) != 2 || refs[0].Kind != reflection.KindUserInput {
		t.Fatalf("reflections = %+v", refs)
	}
	if _, err := s.ListReflections(ctx, "nope"); !errors.Is(err, reflection.ErrNotFound) {
		t.Errorf("list for unknown session: expected ErrNotFound, got %v", err)
	}

	err = s.AppendReflection(ctx, &reflection.Reflection{
		ID: uuid.New().String(), SessionID: "nope", Kind: reflection.KindAnalysis, CreatedAt: time.Now(),
	})
	if !errors.Is(err, reflection.ErrNotFound) {
		t.Errorf("append to unknown session: expected ErrNotFound, got %v", err)
	}
}

func TestStoreInsightsAndContent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sess := &reflection.Session{ID: uuid.New().String(), StartedAt: time.Now()}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	base := time.Now()
	for i := 1; i <= 12; i++ {
		err := s.AppendInsight(ctx, &reflection.MemoryInsight{
			ID:          uuid.New().String(),
			SessionID:   sess.ID,
			Kind:        reflection.InsightLearning,
			Content:     "insight",
			Connections: []int{1, i},
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append insight: %v", err)
		}
	}
	recent, err := s.RecentInsights(ctx, 10)
	if err != nil {
		t.Fatalf("recent insights: %v", err)
	}
	if len(recent) != 10 {
		t.Fatalf("got %d insights, want 10", len(recent))
	}
	if recent[0].Connections[1] != 12 {
		t.Errorf("newest insight connections = %v, want [1 12]", recent[0].Connections)
	}

	c := &reflection.GeneratedContent{
		ID: uuid.New().String(), SessionID: sess.ID, CreatedAt: base, UpdatedAt: base,
	}
	if err := s.SaveContent(ctx, c); err != nil {
		t.Fatalf("save content: %v", err)
	}
	c.Content = "final words"
	c.IsComplete = true
	c.Quality = 88
	if err := s.SaveContent(ctx, c); err != nil {
		t.Fatalf("overwrite content: %v", err)
	}
	got, err := s.GetContent(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	if !got.IsComplete || got.Content != "final words" || got.Quality != 88 {
		t.Errorf("content = %+v", got)
	}
}

func TestStoreLearningState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sid := uuid.New().String()

	entries := []learning.VocabEntry{
		{Token: "the", ID: 0, Frequency: 1, Embedding: []float64{0.1, 0.2}},
		{Token: "h", ID: 1, Frequency: 3, Embedding: []float64{0.3, 0.4}},
	}
	if err := s.UpsertVocabulary(ctx, sid, entries); err != nil {
		t.Fatalf("upsert vocabulary: %v", err)
	}
	entries[1].Frequency = 5
	if err := s.UpsertVocabulary(ctx, sid, entries[1:]); err != nil {
		t.Fatalf("re-upsert vocabulary: %v", err)
	}
	vocab, err := s.LoadVocabulary(ctx, sid)
	if err != nil {
		t.Fatalf("load vocabulary: %v", err)
	}
	if len(vocab) != 2 || vocab[1].Frequency != 5 || vocab[0].Embedding[1] != 0.2 {
		t.Errorf("vocabulary = %+v", vocab)
	}

	m := learning.NewModel(learning.Config{EmbeddingDim: 2, HiddenDim: 3, OutputSize: 4}, rand.New(rand.NewSource(1)))
	if err := s.AppendWeights(ctx, sid, m.Snapshots()); err != nil {
		t.Fatalf("append weights: %v", err)
	}
	m.Update(0.9)
	newest := m.Snapshots()
	if err := s.AppendWeights(ctx, sid, newest); err != nil {
		t.Fatalf("append weights again: %v", err)
	}
	latest, err := s.LatestWeights(ctx, sid)
	if err != nil {
		t.Fatalf("latest weights: %v", err)
	}
	if len(latest) != len(learning.LayerNames) {
		t.Fatalf("got %d layers, want %d", len(latest), len(learning.LayerNames))
	}
	restored := learning.NewModel(learning.Config{EmbeddingDim: 2, HiddenDim: 3, OutputSize: 4}, rand.New(rand.NewSource(2)))
	if err := restored.Restore(latest); err != nil {
		t.Fatalf("restore: %v", err)
	}
	out, _ := restored.Layer(learning.LayerOutput)
	if out.Weights[0][0] != newest[3].Weights[0][0] {
		t.Error("latest weights are not the newest snapshot")
	}

	if epoch, err := s.LatestEpoch(ctx, sid); err != nil || epoch != 0 {
		t.Errorf("epoch before training = %d, %v", epoch, err)
	}
	for _, epoch := range []int{1, 2} {
		if err := s.AppendLearningMetrics(ctx, &learning.LearningMetrics{
			ID: uuid.New().String(), SessionID: sid, Epoch: epoch, Loss: 0.5, CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("append metrics: %v", err)
		}
	}
	if epoch, err := s.LatestEpoch(ctx, sid); err != nil || epoch != 2 {
		t.Errorf("latest epoch = %d, %v; want 2", epoch, err)
	}
}
