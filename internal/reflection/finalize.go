package reflection

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/reflecta/internal/broadcast"
	"github.com/nidhogg/reflecta/internal/reference"
	"go.uber.org/zap"
)

// finalize produces the final content and streams it as growing word
// prefixes. The content row is written before the first delta and
// overwritten with the complete text after the last.
func (o *Orchestrator) finalize(ctx context.Context, r *Run) (*GeneratedContent, error) {
	r.setState(StateFinalizing)
	sid := r.session.ID
	fail := func(err error) error {
		return &PhaseError{Phase: PhaseFinalize, SessionID: sid, Err: err}
	}

	text := o.finalText(ctx, r)
	now := time.Now()
	content := &GeneratedContent{
		ID:           uuid.New().String(),
		SessionID:    sid,
		ReflectionID: r.input.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.saveContent(ctx, content); err != nil {
		return nil, fail(err)
	}

	words := strings.Fields(text)
	coherence, alignment := 0.0, 0.0
	for i := 0; i < len(words); {
		i += 1 + r.rng.Intn(3)
		if i > len(words) {
			i = len(words)
		}
		done := float64(i) / float64(len(words))
		coherence = clamp(60+40*done*r.rng.Float64(), 0, 100)
		alignment = clamp(50+50*done*r.rng.Float64(), 0, 100)
		last := i == len(words)
		o.pub.Publish(ctx, broadcast.GenerationEvent{
			SessionID:  sid,
			Content:    strings.Join(words[:i], " "),
			IsComplete: last,
			Metrics: broadcast.GenerationMetrics{
				Words:         i,
				Coherence:     coherence,
				GoalAlignment: alignment,
			},
		})
		if !last {
			o.pause(ctx, r, o.deltaDelay(r))
		}
	}

	content.Content = strings.Join(words, " ")
	content.IsComplete = true
	content.Quality = clamp(70+30*r.rng.Float64(), 0, 100)
	content.Coherence = coherence
	content.GoalAlignment = alignment
	content.UpdatedAt = time.Now()
	if err := o.saveContent(ctx, content); err != nil {
		return nil, fail(err)
	}
	return content, nil
}

// finalText is the engine's forward pass over the input, or the template
// when the engine fails or produces nothing.
func (o *Orchestrator) finalText(ctx context.Context, r *Run) string {
	cctx, cancel := o.stepContext(ctx)
	defer cancel()
	text, err := r.engine.Generate(cctx, r.req.Input)
	if err != nil || strings.TrimSpace(text) == "" {
		o.logger.Warn("engine produced no content, using template",
			zap.String("session", r.session.ID), zap.Error(err))
		return reference.Render(r.req.Input)
	}
	return text
}

func (o *Orchestrator) saveContent(ctx context.Context, c *GeneratedContent) error {
	cctx, cancel := o.stepContext(ctx)
	defer cancel()
	return storeErr(o.store.SaveContent(cctx, c))
}

func (o *Orchestrator) deltaDelay(r *Run) time.Duration {
	lo, hi := o.opts.DeltaDelayMin, o.opts.DeltaDelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.rng.Int63n(int64(hi-lo)))
}
