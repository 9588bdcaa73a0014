package learning

import (
	"context"
	"time"
)

// Layer names of the toy network, in forward-pass order.
const (
	LayerEmbedding   = "embedding"
	LayerAttention   = "attention"
	LayerFeedForward = "feedforward"
	LayerOutput      = "output"
)

// LayerNames lists every layer the engine owns, in forward-pass order.
var LayerNames = []string{LayerEmbedding, LayerAttention, LayerFeedForward, LayerOutput}

// Config holds the numeric shape and training parameters of an engine.
type Config struct {
	EmbeddingDim  int     `json:"embedding_dim"`
	HiddenDim     int     `json:"hidden_dim"`
	OutputSize    int     `json:"output_size"`
	MaxSubwordLen int     `json:"max_subword_len"`
	LearningRate  float64 `json:"learning_rate"`
	InitStd       float64 `json:"init_std"`
	GradientScale float64 `json:"gradient_scale"`
}

// DefaultConfig returns the shape used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim:  16,
		HiddenDim:     32,
		OutputSize:    512,
		MaxSubwordLen: 8,
		LearningRate:  0.001,
		InitStd:       0.1,
		GradientScale: 0.1,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EmbeddingDim <= 0 {
		c.EmbeddingDim = d.EmbeddingDim
	}
	if c.HiddenDim <= 0 {
		c.HiddenDim = d.HiddenDim
	}
	if c.OutputSize <= 0 {
		c.OutputSize = d.OutputSize
	}
	if c.MaxSubwordLen <= 0 {
		c.MaxSubwordLen = d.MaxSubwordLen
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.InitStd <= 0 {
		c.InitStd = d.InitStd
	}
	if c.GradientScale <= 0 {
		c.GradientScale = d.GradientScale
	}
	return c
}

// VocabEntry is one subword of a session vocabulary.
type VocabEntry struct {
	Token     string    `json:"token"`
	ID        int       `json:"id"`
	Frequency int       `json:"frequency"`
	Embedding []float64 `json:"embedding"`
}

// LayerSnapshot is an immutable copy of one layer's parameters.
type LayerSnapshot struct {
	Name         string      `json:"name"`
	Weights      [][]float64 `json:"weights"`
	Biases       []float64   `json:"biases"`
	LearningRate float64     `json:"learning_rate"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TrainingBatch records the inputs and output of one training cycle.
type TrainingBatch struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Epoch     int       `json:"epoch"`
	Input     string    `json:"input"`
	Target    string    `json:"target"`
	Output    string    `json:"output"`
	Loss      float64   `json:"loss"`
	CreatedAt time.Time `json:"created_at"`
}

// LearningMetrics records the derived scores of one training cycle.
type LearningMetrics struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Epoch       int       `json:"epoch"`
	Loss        float64   `json:"loss"`
	Perplexity  float64   `json:"perplexity"`
	BLEU        float64   `json:"bleu"`
	Convergence float64   `json:"convergence"`
	VocabSize   int       `json:"vocab_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Persister is the slice of durable storage the engine needs.
// All calls are scoped by session id.
type Persister interface {
	UpsertVocabulary(ctx context.Context, sessionID string, entries []VocabEntry) error
	LoadVocabulary(ctx context.Context, sessionID string) ([]VocabEntry, error)
	AppendWeights(ctx context.Context, sessionID string, layers []LayerSnapshot) error
	LatestWeights(ctx context.Context, sessionID string) ([]LayerSnapshot, error)
	AppendTrainingBatch(ctx context.Context, batch *TrainingBatch) error
	AppendLearningMetrics(ctx context.Context, m *LearningMetrics) error
	// LatestEpoch returns the highest recorded training epoch, 0 when none.
	LatestEpoch(ctx context.Context, sessionID string) (int, error)
}
