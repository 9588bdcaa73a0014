package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/reflecta/internal/reflection"
)

// AppendReflection inserts r and bumps the session counter in one
// transaction.
func (s *Store) AppendReflection(ctx context.Context, r *reflection.Reflection) error {
	var meta []byte
	if len(r.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE reflection_sessions SET total_reflections = total_reflections + 1
			WHERE id = $1`, r.SessionID)
		if err != nil {
			return fmt.Errorf("count reflection: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("session %s: %w", r.SessionID, reflection.ErrNotFound)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO reflections (id, session_id, cycle, kind, content, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.SessionID, r.Cycle, string(r.Kind), r.Content, meta, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append reflection: %w", err)
		}
		return nil
	})
}

// ListReflections returns the session's reflections in creation order.
func (s *Store) ListReflections(ctx context.Context, sessionID string) ([]*reflection.Reflection, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reflection_sessions WHERE id = $1)`, sessionID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, reflection.ErrNotFound)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, cycle, kind, content, metadata, created_at
		FROM reflections
		WHERE session_id = $1
		ORDER BY created_at ASC, cycle ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list reflections: %w", err)
	}
	defer rows.Close()

	var out []*reflection.Reflection
	for rows.Next() {
		var r reflection.Reflection
		var kind string
		var meta []byte
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Cycle, &kind, &r.Content, &meta, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reflection: %w", err)
		}
		r.Kind = reflection.ReflectionKind(kind)
		if r.Metadata, err = decodeMetadata(r.ID, meta); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func decodeMetadata(id string, meta []byte) (map[string]any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(meta, &out); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", id, err)
	}
	return out, nil
}
