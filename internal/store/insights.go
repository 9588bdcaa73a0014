package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/reflecta/internal/reflection"
)

// AppendInsight inserts a memory insight.
func (s *Store) AppendInsight(ctx context.Context, in *reflection.MemoryInsight) error {
	conns := make([]int32, len(in.Connections))
	for i, c := range in.Connections {
		conns[i] = int32(c)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_insights (id, session_id, kind, content, connections, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		in.ID, in.SessionID, string(in.Kind), in.Content, conns, in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append insight: %w", err)
	}
	return nil
}

// RecentInsights returns up to limit insights across all sessions, newest
// first.
func (s *Store) RecentInsights(ctx context.Context, limit int) ([]*reflection.MemoryInsight, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, kind, content, connections, created_at
		FROM memory_insights
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent insights: %w", err)
	}
	defer rows.Close()

	var out []*reflection.MemoryInsight
	for rows.Next() {
		var in reflection.MemoryInsight
		var kind string
		var conns []int32
		if err := rows.Scan(&in.ID, &in.SessionID, &kind, &in.Content, &conns, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		in.Kind = reflection.InsightKind(kind)
		in.Connections = make([]int, len(conns))
		for i, c := range conns {
			in.Connections[i] = int(c)
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}
