package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/reflecta/internal/reflection"
)

// SaveContent inserts the content row or overwrites it by id.
func (s *Store) SaveContent(ctx context.Context, c *reflection.GeneratedContent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO generated_content
			(id, session_id, reflection_id, content, is_complete, quality, coherence, goal_alignment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			is_complete = EXCLUDED.is_complete,
			quality = EXCLUDED.quality,
			coherence = EXCLUDED.coherence,
			goal_alignment = EXCLUDED.goal_alignment,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.SessionID, c.ReflectionID, c.Content, c.IsComplete,
		c.Quality, c.Coherence, c.GoalAlignment, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	return nil
}

// GetContent returns the newest content row of the session.
func (s *Store) GetContent(ctx context.Context, sessionID string) (*reflection.GeneratedContent, error) {
	var c reflection.GeneratedContent
	err := s.db.QueryRow(ctx, `
		SELECT id, session_id, COALESCE(reflection_id, ''), content, is_complete,
		       quality, coherence, goal_alignment, created_at, updated_at
		FROM generated_content
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, sessionID,
	).Scan(&c.ID, &c.SessionID, &c.ReflectionID, &c.Content, &c.IsComplete,
		&c.Quality, &c.Coherence, &c.GoalAlignment, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, missing(err, "content for session", sessionID)
	}
	return &c, nil
}
