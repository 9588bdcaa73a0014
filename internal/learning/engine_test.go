package learning_test

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/nidhogg/reflecta/internal/learning"
	"github.com/nidhogg/reflecta/internal/store/memstore"
	"go.uber.org/zap"
)

func TestEngineTrainPersistsAndResumes(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	cfg := learning.Config{EmbeddingDim: 4, HiddenDim: 8, OutputSize: 32}

	e := learning.NewEngine("s1", cfg, st, rand.New(rand.NewSource(1)), zap.NewNop())
	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	res, err := e.Train(ctx, "hello world", "hello there world")
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if res.Epoch != 1 {
		t.Errorf("first epoch = %d, want 1", res.Epoch)
	}
	if res.Loss < 0 || res.Loss > 1 {
		t.Errorf("loss %v outside [0,1]", res.Loss)
	}
	if res.Convergence != 1-res.Loss {
		t.Errorf("convergence %v does not match loss %v", res.Convergence, res.Loss)
	}
	if res.VocabSize != e.Vocabulary().Size() {
		t.Errorf("reported vocab %d, engine has %d", res.VocabSize, e.Vocabulary().Size())
	}
	if len(st.TrainingBatches("s1")) != 1 || len(st.LearningMetrics("s1")) != 1 {
		t.Fatal("expected one batch and one metrics row")
	}

	saved, err := st.LatestWeights(ctx, "s1")
	if err != nil || len(saved) != len(learning.LayerNames) {
		t.Fatalf("latest weights: %d layers, err %v", len(saved), err)
	}

	resumed := learning.NewEngine("s1", cfg, st, rand.New(rand.NewSource(2)), zap.NewNop())
	if err := resumed.Bootstrap(ctx); err != nil {
		t.Fatalf("resume bootstrap: %v", err)
	}
	if resumed.Vocabulary().Size() != e.Vocabulary().Size() {
		t.Errorf("resumed vocab %d, want %d", resumed.Vocabulary().Size(), e.Vocabulary().Size())
	}
	if resumed.Epoch() != 1 {
		t.Errorf("resumed epoch = %d, want 1", resumed.Epoch())
	}
	out, _ := resumed.Model().Layer(learning.LayerOutput)
	if out.Weights[0][0] != saved[3].Weights[0][0] {
		t.Error("resumed engine did not load the latest weights")
	}

	before, _ := e.Tokenize(ctx, "hello world")
	after, _ := resumed.Tokenize(ctx, "hello world")
	if len(before) != len(after) {
		t.Fatalf("token counts differ: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("token %d: %d before resume, %d after", i, before[i], after[i])
		}
	}

	next, err := resumed.Train(ctx, "hello world", "hello there world")
	if err != nil {
		t.Fatalf("resumed train: %v", err)
	}
	if next.Epoch != 2 {
		t.Errorf("resumed train epoch = %d, want 2", next.Epoch)
	}
	metrics := st.LearningMetrics("s1")
	if len(metrics) != 2 || metrics[0].Epoch == metrics[1].Epoch {
		t.Errorf("metrics history repeats epochs: %+v", metrics)
	}
}

func TestGenerateUsesOnlyKnownSubwords(t *testing.T) {
	ctx := context.Background()
	e := learning.NewEngine("s3", learning.DefaultConfig(), memstore.New(), rand.New(rand.NewSource(4)), zap.NewNop())
	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := e.Tokenize(ctx, "hello world"); err != nil {
		t.Fatalf("tokenize: %v", err)
	}

	for i := 0; i < 200; i++ {
		out, err := e.Generate(ctx, "hello world")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if strings.TrimSpace(out) == "" {
			t.Fatalf("generation %d is empty", i)
		}
		for _, piece := range strings.Fields(out) {
			if _, ok := e.Vocabulary().Lookup(piece); !ok {
				t.Fatalf("generation %d contains unknown subword %q", i, piece)
			}
		}
	}
}

func TestEngineBootstrapIgnoresBadSnapshot(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	err := st.AppendWeights(ctx, "s2", []learning.LayerSnapshot{
		{Name: learning.LayerEmbedding, Weights: [][]float64{{1}}, Biases: []float64{0}},
	})
	if err != nil {
		t.Fatalf("seed weights: %v", err)
	}
	e := learning.NewEngine("s2", learning.DefaultConfig(), st, rand.New(rand.NewSource(1)), zap.NewNop())
	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap should keep random weights, got %v", err)
	}
	emb, _ := e.Model().Layer(learning.LayerEmbedding)
	if emb.In() != learning.DefaultConfig().EmbeddingDim {
		t.Errorf("embedding width %d, want default", emb.In())
	}
}
