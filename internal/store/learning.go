package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/reflecta/internal/learning"
)

// UpsertVocabulary writes entries keyed by (session, token).
func (s *Store) UpsertVocabulary(ctx context.Context, sessionID string, entries []learning.VocabEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		emb, err := json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		batch.Queue(`
			INSERT INTO vocabulary (session_id, token, token_id, frequency, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (session_id, token) DO UPDATE SET
				frequency = EXCLUDED.frequency,
				embedding = EXCLUDED.embedding`,
			sessionID, e.Token, e.ID, e.Frequency, emb)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert vocabulary: %w", err)
	}
	return nil
}

// LoadVocabulary returns the session's vocabulary ordered by token id.
func (s *Store) LoadVocabulary(ctx context.Context, sessionID string) ([]learning.VocabEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT token, token_id, frequency, embedding
		FROM vocabulary
		WHERE session_id = $1
		ORDER BY token_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	defer rows.Close()

	var out []learning.VocabEntry
	for rows.Next() {
		var e learning.VocabEntry
		var emb []byte
		if err := rows.Scan(&e.Token, &e.ID, &e.Frequency, &emb); err != nil {
			return nil, fmt.Errorf("scan vocabulary: %w", err)
		}
		if err := json.Unmarshal(emb, &e.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of %q: %w", e.Token, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendWeights stores one snapshot row per layer.
func (s *Store) AppendWeights(ctx context.Context, sessionID string, layers []learning.LayerSnapshot) error {
	batch := &pgx.Batch{}
	for _, l := range layers {
		w, err := json.Marshal(l.Weights)
		if err != nil {
			return fmt.Errorf("marshal weights %s: %w", l.Name, err)
		}
		b, err := json.Marshal(l.Biases)
		if err != nil {
			return fmt.Errorf("marshal biases %s: %w", l.Name, err)
		}
		batch.Queue(`
			INSERT INTO model_weights (session_id, layer, weights, biases, learning_rate, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, l.Name, w, b, l.LearningRate, l.UpdatedAt)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append weights: %w", err)
	}
	return nil
}

// LatestWeights returns the newest snapshot of every layer of the session.
func (s *Store) LatestWeights(ctx context.Context, sessionID string) ([]learning.LayerSnapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (layer) layer, weights, biases, learning_rate, updated_at
		FROM model_weights
		WHERE session_id = $1
		ORDER BY layer, id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("latest weights: %w", err)
	}
	defer rows.Close()

	var out []learning.LayerSnapshot
	for rows.Next() {
		var l learning.LayerSnapshot
		var w, b []byte
		if err := rows.Scan(&l.Name, &w, &b, &l.LearningRate, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan weights: %w", err)
		}
		if err := json.Unmarshal(w, &l.Weights); err != nil {
			return nil, fmt.Errorf("decode weights %s: %w", l.Name, err)
		}
		if err := json.Unmarshal(b, &l.Biases); err != nil {
			return nil, fmt.Errorf("decode biases %s: %w", l.Name, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AppendTrainingBatch records one training cycle.
func (s *Store) AppendTrainingBatch(ctx context.Context, b *learning.TrainingBatch) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO training_batches (id, session_id, epoch, input, target, output, loss, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.SessionID, b.Epoch, b.Input, b.Target, b.Output, b.Loss, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append training batch: %w", err)
	}
	return nil
}

// LatestEpoch returns the highest epoch with recorded metrics, 0 when none.
func (s *Store) LatestEpoch(ctx context.Context, sessionID string) (int, error) {
	var epoch int
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(epoch), 0) FROM learning_metrics WHERE session_id = $1`, sessionID,
	).Scan(&epoch)
	if err != nil {
		return 0, fmt.Errorf("latest epoch: %w", err)
	}
	return epoch, nil
}

// AppendLearningMetrics records the scores of one training cycle.
func (s *Store) AppendLearningMetrics(ctx context.Context, m *learning.LearningMetrics) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO learning_metrics (id, session_id, epoch, loss, perplexity, bleu, convergence, vocab_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.SessionID, m.Epoch, m.Loss, m.Perplexity, m.BLEU, m.Convergence, m.VocabSize, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append learning metrics: %w", err)
	}
	return nil
}
