package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/reflecta/internal/reflection"
)

const sessionColumns = `id, name, objective, active, started_at, ended_at, total_reflections, improvement_rate`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*reflection.Session, error) {
	var sess reflection.Session
	err := row.Scan(&sess.ID, &sess.Name, &sess.Objective, &sess.Active,
		&sess.StartedAt, &sess.EndedAt, &sess.TotalReflections, &sess.ImprovementRate)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *reflection.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO reflection_sessions (id, name, objective, active, started_at, ended_at, total_reflections, improvement_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.Name, sess.Objective, sess.Active,
		sess.StartedAt, sess.EndedAt, sess.TotalReflections, sess.ImprovementRate,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*reflection.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM reflection_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, missing(err, "session", id)
	}
	return sess, nil
}

// UpdateSession writes the mutable fields. total_reflections is maintained
// by AppendReflection and is not touched here.
func (s *Store) UpdateSession(ctx context.Context, sess *reflection.Session) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reflection_sessions
		SET name = $2, objective = $3, active = $4, started_at = $5, ended_at = $6, improvement_rate = $7
		WHERE id = $1`,
		sess.ID, sess.Name, sess.Objective, sess.Active, sess.StartedAt, sess.EndedAt, sess.ImprovementRate,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, reflection.ErrNotFound)
	}
	return nil
}

// ListSessions returns every session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*reflection.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM reflection_sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*reflection.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
