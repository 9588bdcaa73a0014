package reflection

import (
	"context"

	"github.com/nidhogg/reflecta/internal/broadcast"
	"github.com/nidhogg/reflecta/internal/learning"
)

// Store is the persistence contract of the reflection loop. Implementations
// return an error wrapping ErrNotFound for absent sessions.
type Store interface {
	learning.Persister

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context) ([]*Session, error)

	// AppendReflection inserts r and increments the session's
	// total_reflections in the same write.
	AppendReflection(ctx context.Context, r *Reflection) error
	ListReflections(ctx context.Context, sessionID string) ([]*Reflection, error)

	AppendInsight(ctx context.Context, in *MemoryInsight) error
	RecentInsights(ctx context.Context, limit int) ([]*MemoryInsight, error)

	// SaveContent inserts or overwrites the content row by id.
	SaveContent(ctx context.Context, c *GeneratedContent) error
	GetContent(ctx context.Context, sessionID string) (*GeneratedContent, error)
}

// Publisher delivers events to observers without blocking.
type Publisher interface {
	Publish(ctx context.Context, ev broadcast.Event)
}

// Recaller supplies associations for the memory-recall step. Results are
// enrichment: failures are logged and the step continues.
type Recaller interface {
	Name() string
	Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error)
}
