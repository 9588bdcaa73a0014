// Package memstore keeps reflection state in process memory. It backs the
// local batch mode and the tests; nothing survives a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nidhogg/reflecta/internal/learning"
	"github.com/nidhogg/reflecta/internal/reflection"
)

// Store is a reflection.Store over maps guarded by one lock.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*reflection.Session
	reflections map[string][]*reflection.Reflection
	insights    []*reflection.MemoryInsight
	content     map[string]*reflection.GeneratedContent // by content id
	vocab       map[string]map[string]learning.VocabEntry
	weights     map[string][][]learning.LayerSnapshot
	batches     map[string][]*learning.TrainingBatch
	metrics     map[string][]*learning.LearningMetrics
}

var _ reflection.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions:    make(map[string]*reflection.Session),
		reflections: make(map[string][]*reflection.Reflection),
		content:     make(map[string]*reflection.GeneratedContent),
		vocab:       make(map[string]map[string]learning.VocabEntry),
		weights:     make(map[string][][]learning.LayerSnapshot),
		batches:     make(map[string][]*learning.TrainingBatch),
		metrics:     make(map[string][]*learning.LearningMetrics),
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, reflection.ErrNotFound)
}

func (s *Store) CreateSession(_ context.Context, sess *reflection.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*reflection.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound("session", id)
	}
	cp := *sess
	return &cp, nil
}

// UpdateSession overwrites the mutable fields. TotalReflections is owned by
// AppendReflection and is left alone.
func (s *Store) UpdateSession(_ context.Context, sess *reflection.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return notFound("session", sess.ID)
	}
	total := cur.TotalReflections
	*cur = *sess
	cur.TotalReflections = total
	return nil
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(_ context.Context) ([]*reflection.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*reflection.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *Store) AppendReflection(_ context.Context, r *reflection.Reflection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[r.SessionID]
	if !ok {
		return notFound("session", r.SessionID)
	}
	cp := *r
	s.reflections[r.SessionID] = append(s.reflections[r.SessionID], &cp)
	sess.TotalReflections++
	return nil
}

func (s *Store) ListReflections(_ context.Context, sessionID string) ([]*reflection.Reflection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, notFound("session", sessionID)
	}
	src := s.reflections[sessionID]
	out := make([]*reflection.Reflection, len(src))
	for i, r := range src {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) AppendInsight(_ context.Context, in *reflection.MemoryInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[in.SessionID]; !ok {
		return notFound("session", in.SessionID)
	}
	cp := *in
	cp.Connections = append([]int(nil), in.Connections...)
	s.insights = append(s.insights, &cp)
	return nil
}

// RecentInsights returns up to limit insights across all sessions, newest
// first.
func (s *Store) RecentInsights(_ context.Context, limit int) ([]*reflection.MemoryInsight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*reflection.MemoryInsight
	for i := len(s.insights) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.insights[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SaveContent(_ context.Context, c *reflection.GeneratedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[c.SessionID]; !ok {
		return notFound("session", c.SessionID)
	}
	cp := *c
	s.content[c.ID] = &cp
	return nil
}

// GetContent returns the newest content row of the session.
func (s *Store) GetContent(_ context.Context, sessionID string) (*reflection.GeneratedContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *reflection.GeneratedContent
	for _, c := range s.content {
		if c.SessionID != sessionID {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, notFound("content for session", sessionID)
	}
	cp := *best
	return &cp, nil
}

func (s *Store) UpsertVocabulary(_ context.Context, sessionID string, entries []learning.VocabEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.vocab[sessionID]
	if !ok {
		m = make(map[string]learning.VocabEntry)
		s.vocab[sessionID] = m
	}
	for _, e := range entries {
		e.Embedding = append([]float64(nil), e.Embedding...)
		m[e.Token] = e
	}
	return nil
}

func (s *Store) LoadVocabulary(_ context.Context, sessionID string) ([]learning.VocabEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]learning.VocabEntry, 0, len(s.vocab[sessionID]))
	for _, e := range s.vocab[sessionID] {
		e.Embedding = append([]float64(nil), e.Embedding...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AppendWeights(_ context.Context, sessionID string, layers []learning.LayerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[sessionID] = append(s.weights[sessionID], copySnapshots(layers))
	return nil
}

func (s *Store) LatestWeights(_ context.Context, sessionID string) ([]learning.LayerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.weights[sessionID]
	if len(hist) == 0 {
		return nil, nil
	}
	return copySnapshots(hist[len(hist)-1]), nil
}

func (s *Store) AppendTrainingBatch(_ context.Context, b *learning.TrainingBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.batches[b.SessionID] = append(s.batches[b.SessionID], &cp)
	return nil
}

func (s *Store) AppendLearningMetrics(_ context.Context, m *learning.LearningMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.metrics[m.SessionID] = append(s.metrics[m.SessionID], &cp)
	return nil
}

func (s *Store) LatestEpoch(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := 0
	for _, m := range s.metrics[sessionID] {
		latest = max(latest, m.Epoch)
	}
	return latest, nil
}

// TrainingBatches returns the session's batches in epoch order.
func (s *Store) TrainingBatches(sessionID string) []*learning.TrainingBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*learning.TrainingBatch(nil), s.batches[sessionID]...)
}

// LearningMetrics returns the session's metrics in epoch order.
func (s *Store) LearningMetrics(sessionID string) []*learning.LearningMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*learning.LearningMetrics(nil), s.metrics[sessionID]...)
}

// WeightHistory returns how many snapshots the session has written.
func (s *Store) WeightHistory(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.weights[sessionID])
}

func copySnapshots(in []learning.LayerSnapshot) []learning.LayerSnapshot {
	out := make([]learning.LayerSnapshot, len(in))
	for i, l := range in {
		out[i] = l
		out[i].Weights = make([][]float64, len(l.Weights))
		for r, row := range l.Weights {
			out[i].Weights[r] = append([]float64(nil), row...)
		}
		out[i].Biases = append([]float64(nil), l.Biases...)
	}
	return out
}
