package learning

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CycleResult is the outcome of one training step.
type CycleResult struct {
	Epoch       int     `json:"epoch"`
	Output      string  `json:"output"`
	Loss        float64 `json:"loss"`
	Perplexity  float64 `json:"perplexity"`
	BLEU        float64 `json:"bleu"`
	Convergence float64 `json:"convergence"`
	VocabSize   int     `json:"vocab_size"`
}

// Engine owns the vocabulary and weights of a single session.
// It is driven by one reflection loop and is not safe for concurrent use.
type Engine struct {
	sessionID string
	cfg       Config
	vocab     *Vocabulary
	model     *Model
	store     Persister
	epoch     int
	rng       *rand.Rand
	logger    *zap.Logger
}

// NewEngine creates a randomly initialised engine for sessionID.
// Call Bootstrap to resume from persisted state.
func NewEngine(sessionID string, cfg Config, store Persister, rng *rand.Rand, logger *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		sessionID: sessionID,
		cfg:       cfg,
		vocab:     NewVocabulary(cfg.EmbeddingDim, cfg.MaxSubwordLen, cfg.InitStd, rng),
		model:     NewModel(cfg, rng),
		store:     store,
		rng:       rng,
		logger:    logger,
	}
}

// Vocabulary exposes the session vocabulary.
func (e *Engine) Vocabulary() *Vocabulary { return e.vocab }

// Model exposes the session network.
func (e *Engine) Model() *Model { return e.model }

// Bootstrap reloads the latest weight snapshot and the vocabulary of the
// session. A missing or inconsistent snapshot keeps the random weights;
// storage errors are returned.
func (e *Engine) Bootstrap(ctx context.Context) error {
	snaps, err := e.store.LatestWeights(ctx, e.sessionID)
	if err != nil {
		return fmt.Errorf("load weights: %w", err)
	}
	if len(snaps) > 0 {
		if err := e.model.Restore(snaps); err != nil {
			e.logger.Warn("discarding unusable weight snapshot",
				zap.String("session", e.sessionID), zap.Error(err))
		}
	}

	entries, err := e.store.LoadVocabulary(ctx, e.sessionID)
	if err != nil {
		return fmt.Errorf("load vocabulary: %w", err)
	}
	emb, _ := e.model.Layer(LayerEmbedding)
	vocab := NewVocabulary(emb.In(), e.cfg.MaxSubwordLen, e.cfg.InitStd, e.rng)
	if len(entries) > 0 && !vocab.Load(entries) {
		e.logger.Warn("discarding inconsistent vocabulary",
			zap.String("session", e.sessionID), zap.Int("entries", len(entries)))
		vocab = NewVocabulary(emb.In(), e.cfg.MaxSubwordLen, e.cfg.InitStd, e.rng)
	}
	e.vocab = vocab

	epoch, err := e.store.LatestEpoch(ctx, e.sessionID)
	if err != nil {
		return fmt.Errorf("load epoch: %w", err)
	}
	e.epoch = epoch

	e.logger.Info("learning engine bootstrapped",
		zap.String("session", e.sessionID),
		zap.Int("vocab", e.vocab.Size()),
		zap.Int("epoch", e.epoch),
		zap.Bool("resumed", len(snaps) > 0))
	return nil
}

// Tokenize segments text and persists every new or re-counted subword.
func (e *Engine) Tokenize(ctx context.Context, text string) ([]int, error) {
	ids, touched := e.vocab.Tokenize(text)
	if len(touched) > 0 {
		if err := e.store.UpsertVocabulary(ctx, e.sessionID, touched); err != nil {
			return nil, fmt.Errorf("save vocabulary: %w", err)
		}
	}
	return ids, nil
}

// Generate runs a forward pass over text and detokenizes the result.
func (e *Engine) Generate(ctx context.Context, text string) (string, error) {
	ids, err := e.Tokenize(ctx, text)
	if err != nil {
		return "", err
	}
	return e.vocab.Detokenize(e.model.Forward(e.vocab, ids)), nil
}

// Epoch returns the last completed training epoch of the session.
func (e *Engine) Epoch() int { return e.epoch }

// Train runs tokenize → forward → loss → update for the next epoch and
// persists the weight snapshot, the batch and the metrics. Epochs continue
// across resumed runs of the session.
func (e *Engine) Train(ctx context.Context, input, target string) (*CycleResult, error) {
	epoch := e.epoch + 1
	output, err := e.Generate(ctx, input)
	if err != nil {
		return nil, err
	}

	loss := Loss(output, target)
	e.model.Update(loss)
	if err := e.store.AppendWeights(ctx, e.sessionID, e.model.Snapshots()); err != nil {
		return nil, fmt.Errorf("save weights: %w", err)
	}

	res := &CycleResult{
		Epoch:       epoch,
		Output:      output,
		Loss:        loss,
		Perplexity:  Perplexity(loss),
		BLEU:        Overlap(output, target),
		Convergence: Convergence(loss),
		VocabSize:   e.vocab.Size(),
	}

	now := time.Now()
	if err := e.store.AppendTrainingBatch(ctx, &TrainingBatch{
		ID:        uuid.New().String(),
		SessionID: e.sessionID,
		Epoch:     epoch,
		Input:     input,
		Target:    target,
		Output:    output,
		Loss:      loss,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("save training batch: %w", err)
	}
	if err := e.store.AppendLearningMetrics(ctx, &LearningMetrics{
		ID:          uuid.New().String(),
		SessionID:   e.sessionID,
		Epoch:       epoch,
		Loss:        res.Loss,
		Perplexity:  res.Perplexity,
		BLEU:        res.BLEU,
		Convergence: res.Convergence,
		VocabSize:   res.VocabSize,
		CreatedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("save learning metrics: %w", err)
	}
	e.epoch = epoch

	e.logger.Debug("training cycle complete",
		zap.String("session", e.sessionID),
		zap.Int("epoch", epoch),
		zap.Float64("loss", loss),
		zap.Int("vocab", res.VocabSize))
	return res, nil
}
