package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ActivationOpts controls spreading activation behavior.
type ActivationOpts struct {
	MaxDepth    int     // max hops, default 3
	DecayFactor float64 // per-hop decay, default 0.7
	Threshold   float64 // min activation to recall, default 0.3
	MaxNodes    int     // max recalled nodes, default 50
	UsageBoost  float64 // activation added to a recalled insight, default 0.15
}

// DefaultActivationOpts returns sensible defaults.
func DefaultActivationOpts() ActivationOpts {
	return ActivationOpts{
		MaxDepth:    3,
		DecayFactor: 0.7,
		Threshold:   0.3,
		MaxNodes:    50,
		UsageBoost:  0.15,
	}
}

// ActivatedInsight is an insight reached by spreading activation.
type ActivatedInsight struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Content    string  `json:"content"`
	Activation float64 `json:"activation"`
	Score      float64 `json:"score"`
}

// Activate spreads activation from insights whose content mentions any
// trigger, through shared cycles, to the other insights of the session.
func (g *Graph) Activate(ctx context.Context, sessionID string, triggers []string, opts ActivationOpts) ([]ActivatedInsight, error) {
	if opts.MaxDepth == 0 {
		opts = DefaultActivationOpts()
	}
	start := time.Now()

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		UNWIND $triggers AS keyword
		MATCH (seed:Insight {session_id: $sessionId})
		WHERE toLower(seed.content) CONTAINS keyword
		WITH COLLECT(DISTINCT seed) AS seeds
		UNWIND seeds AS seed
		CALL {
			WITH seed
			MATCH path = (seed)-[:CONNECTS*0..` + fmt.Sprint(opts.MaxDepth) + `]-(node:Insight)
			WITH node, length(path) AS depth,
			     reduce(w = 1.0, r IN relationships(path) | w * coalesce(r.weight, 0.5)) AS pathWeight
			RETURN node, $decay ^ toFloat(depth) * pathWeight * node.activation_level AS activation
		}
		WITH node, MAX(activation) AS activation
		WHERE activation > $threshold
		RETURN elementId(node) AS id, node.kind AS kind, node.content AS content, activation
		ORDER BY activation DESC
		LIMIT $maxNodes`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"triggers":  triggers,
		"sessionId": sessionID,
		"decay":     opts.DecayFactor,
		"threshold": opts.Threshold,
		"maxNodes":  int64(opts.MaxNodes),
	})
	if err != nil {
		return nil, fmt.Errorf("activate insights: %w", err)
	}

	var out []ActivatedInsight
	for result.Next(ctx) {
		rec := result.Record()
		var n ActivatedInsight
		if v, ok := rec.Get("id"); ok && v != nil {
			n.ID = v.(string)
		}
		if v, ok := rec.Get("kind"); ok && v != nil {
			n.Kind = v.(string)
		}
		if v, ok := rec.Get("content"); ok && v != nil {
			n.Content = v.(string)
		}
		if v, ok := rec.Get("activation"); ok && v != nil {
			n.Activation = v.(float64)
		}
		out = append(out, n)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read activation: %w", err)
	}

	g.logger.Debug("spreading activation complete",
		zap.String("session", sessionID),
		zap.Int("triggers", len(triggers)),
		zap.Int("recalled", len(out)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

// Recall returns the contents of up to limit insights related to query,
// ranked by activation blended with keyword similarity. Recalled insights
// are reinforced.
func (g *Graph) Recall(ctx context.Context, sessionID, query string, limit int) ([]string, error) {
	keywords := tokenize(query)
	if len(keywords) == 0 {
		return nil, nil
	}
	nodes, err := g.Activate(ctx, sessionID, keywords, g.opts)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Score = 0.5*nodes[i].Activation + 0.5*keywordSimilarity(keywords, nodes[i].Kind, nodes[i].Content)
	}
	rank(nodes)
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}

	out := make([]string, len(nodes))
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Content
		ids[i] = n.ID
	}
	if err := g.reinforce(ctx, ids); err != nil {
		g.logger.Warn("insight reinforcement failed", zap.Error(err))
	}
	return out, nil
}

// reinforce raises the activation of recalled insights, capped at 1.
func (g *Graph) reinforce(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (i:Insight) WHERE elementId(i) IN $ids
		 SET i.activation_level = CASE
		       WHEN i.activation_level + $boost > 1.0 THEN 1.0
		       ELSE i.activation_level + $boost
		     END,
		     i.recall_count = i.recall_count + 1`,
		map[string]interface{}{"ids": ids, "boost": g.opts.UsageBoost})
	return err
}
