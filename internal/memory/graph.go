// Package memory mirrors reflection insights into a Neo4j graph and recalls
// related insights by spreading activation over it.
package memory

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/reflecta/internal/broadcast"
)

// Graph stores sessions, cycles, reflections and insights as nodes:
//
//	(:Insight)-[:CONNECTS]->(:Cycle)-[:OF]->(:Session)
//	(:Reflection)-[:DURING]->(:Cycle)
type Graph struct {
	driver neo4j.DriverWithContext
	opts   ActivationOpts
	logger *zap.Logger
}

// NewGraph connects to Neo4j.
func NewGraph(uri, user, password string, logger *zap.Logger) (*Graph, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Graph{driver: driver, opts: DefaultActivationOpts(), logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraints the writes rely on.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT session_id IF NOT EXISTS FOR (s:Session) REQUIRE s.id IS UNIQUE`,
		`CREATE INDEX cycle_key IF NOT EXISTS FOR (c:Cycle) ON (c.session_id, c.index)`,
	} {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

func (g *Graph) Name() string { return "neo4j" }

// Notify records reflection and insight events. Other events are ignored.
func (g *Graph) Notify(ctx context.Context, ev broadcast.Event) error {
	switch e := ev.(type) {
	case broadcast.ReflectionEvent:
		return g.recordReflection(ctx, e)
	case broadcast.InsightEvent:
		return g.recordInsight(ctx, e)
	}
	return nil
}

func (g *Graph) recordReflection(ctx context.Context, e broadcast.ReflectionEvent) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (s:Session {id: $sessionId})
		 MERGE (c:Cycle {session_id: $sessionId, index: $cycle})
		 MERGE (c)-[:OF]->(s)
		 CREATE (r:Reflection {
			session_id: $sessionId, kind: $kind,
			content: $content, created_at: $ts
		 })-[:DURING]->(c)`,
		map[string]interface{}{
			"sessionId": e.SessionID,
			"cycle":     int64(e.Cycle),
			"kind":      e.ReflectionKind,
			"content":   e.Content,
			"ts":        e.Timestamp,
		})
	if err != nil {
		return fmt.Errorf("record reflection: %w", err)
	}
	return nil
}

func (g *Graph) recordInsight(ctx context.Context, e broadcast.InsightEvent) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	cycles := make([]int64, len(e.Connections))
	for i, c := range e.Connections {
		cycles[i] = int64(c)
	}
	latest := int64(0)
	if n := len(cycles); n > 0 {
		latest = cycles[n-1]
	}

	// Edge weight grows with the cycle index.
	_, err := session.Run(ctx,
		`MERGE (s:Session {id: $sessionId})
		 CREATE (i:Insight {
			session_id: $sessionId, kind: $kind, content: $content,
			activation_level: 1.0, recall_count: 0, created_at: $ts
		 })
		 WITH i, s
		 UNWIND $cycles AS idx
		 MERGE (c:Cycle {session_id: $sessionId, index: idx})
		 MERGE (c)-[:OF]->(s)
		 MERGE (i)-[r:CONNECTS]->(c)
		 SET r.weight = CASE WHEN $latest = 0 THEN 1.0 ELSE toFloat(idx) / toFloat($latest) END`,
		map[string]interface{}{
			"sessionId": e.SessionID,
			"kind":      e.InsightKind,
			"content":   e.Content,
			"cycles":    cycles,
			"latest":    latest,
			"ts":        e.Timestamp,
		})
	if err != nil {
		return fmt.Errorf("record insight: %w", err)
	}
	g.logger.Debug("insight mirrored to graph",
		zap.String("session", e.SessionID),
		zap.Int("connections", len(cycles)))
	return nil
}
