package reflection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/reflecta/internal/broadcast"
	"github.com/nidhogg/reflecta/internal/learning"
	"github.com/nidhogg/reflecta/internal/reference"
	"go.uber.org/zap"
)

// cycle runs one pass of analysis, recall, strategy, optional noise,
// insight synthesis and a training step. Any store failure aborts it.
func (o *Orchestrator) cycle(ctx context.Context, r *Run, c int) (*learning.CycleResult, error) {
	sid := r.session.ID
	fail := func(p Phase, err error) error {
		return &PhaseError{Phase: p, SessionID: sid, Cycle: c, Err: err}
	}
	start := time.Now()
	written := 0

	cctx, cancel := o.stepContext(ctx)
	prior, err := o.store.ListReflections(cctx, sid)
	cancel()
	if err != nil {
		return nil, fail(PhaseAnalysis, storeErr(err))
	}
	text, meta := composeAnalysis(r.rng, r.req.Input, c, prior)
	if _, err := o.appendReflection(ctx, r, c, KindAnalysis, text, meta); err != nil {
		return nil, fail(PhaseAnalysis, err)
	}
	written++

	cctx, cancel = o.stepContext(ctx)
	recent, err := o.store.RecentInsights(cctx, o.opts.RecallWindow)
	cancel()
	if err != nil {
		return nil, fail(PhaseMemoryRecall, storeErr(err))
	}
	text, meta = composeRecall(recent, o.associate(ctx, sid, r.req.Input), o.opts.RecallWindow)
	if _, err := o.appendReflection(ctx, r, c, KindMemoryRecall, text, meta); err != nil {
		return nil, fail(PhaseMemoryRecall, err)
	}
	written++

	kind, text, meta := composeStrategy(r.rng, c, r.session.Objective)
	if _, err := o.appendReflection(ctx, r, c, kind, text, meta); err != nil {
		return nil, fail(PhaseStrategy, err)
	}
	written++

	if r.req.NoiseLevel > 0 {
		text, meta = composeNoise(r.rng, r.req.NoiseLevel)
		if _, err := o.appendReflection(ctx, r, c, KindNoiseInjection, text, meta); err != nil {
			return nil, fail(PhaseNoise, err)
		}
		written++
	}
	elapsed := time.Since(start)

	ik := InsightKinds[r.rng.Intn(len(InsightKinds))]
	insight := &MemoryInsight{
		ID:          uuid.New().String(),
		SessionID:   sid,
		Kind:        ik,
		Content:     composeInsight(ik, c, r.req.Input),
		Connections: connections(c),
		CreatedAt:   time.Now(),
	}
	cctx, cancel = o.stepContext(ctx)
	err = o.store.AppendInsight(cctx, insight)
	cancel()
	if err != nil {
		return nil, fail(PhaseInsight, storeErr(err))
	}
	o.pub.Publish(ctx, broadcast.InsightEvent{
		SessionID:   sid,
		InsightKind: string(insight.Kind),
		Content:     insight.Content,
		Timestamp:   insight.CreatedAt,
		Connections: insight.Connections,
	})

	target := o.target(ctx, r.req.Input)
	cctx, cancel = o.stepContext(ctx)
	lr, err := r.engine.Train(cctx, r.req.Input, target)
	cancel()
	if err != nil {
		return nil, fail(PhaseLearning, storeErr(err))
	}

	r.session.ImprovementRate = clamp(lr.Convergence*100, 0, 100)
	cctx, cancel = o.stepContext(ctx)
	err = o.store.UpdateSession(cctx, r.session)
	cancel()
	if err != nil {
		return nil, fail(PhaseLearning, storeErr(err))
	}

	o.pub.Publish(ctx, broadcast.PerformanceEvent{
		SessionID:         sid,
		Cycle:             c,
		ResponseQuality:   clamp(100*(0.5*lr.Convergence+0.5*lr.BLEU), 0, 100),
		LearningProgress:  clamp(100*float64(c)/float64(r.req.Cycles), 0, 100),
		AvgReflectionTime: elapsed.Seconds() / float64(written),
		MemoryUtilization: clamp(100*float64(len(recent))/float64(o.opts.RecallWindow), 0, 100),
	})

	o.logger.Debug("reflection cycle complete",
		zap.String("session", sid),
		zap.Int("cycle", c),
		zap.Int("reflections", written),
		zap.Float64("loss", lr.Loss))
	return lr, nil
}

// associate gathers related text from every recaller. Failures only cost
// the enrichment.
func (o *Orchestrator) associate(ctx context.Context, sessionID, query string) []string {
	var out []string
	for _, rc := range o.activeRecallers() {
		cctx, cancel := o.stepContext(ctx)
		got, err := rc.Recall(cctx, sessionID, query, 3)
		cancel()
		if err != nil {
			o.logger.Warn("recall failed, continuing without it",
				zap.String("recaller", rc.Name()),
				zap.String("session", sessionID),
				zap.Error(err))
			continue
		}
		out = append(out, got...)
	}
	return out
}

// target asks the generator for the training target. An unavailable
// generator degrades to the deterministic template.
func (o *Orchestrator) target(ctx context.Context, prompt string) string {
	cctx, cancel := o.stepContext(ctx)
	defer cancel()
	text, err := o.ref.Generate(cctx, prompt)
	if err != nil || text == "" {
		o.logger.Warn("reference unavailable, using template",
			zap.String("generator", o.ref.Name()), zap.Error(err))
		return reference.Render(prompt)
	}
	return text
}

func (o *Orchestrator) publishReflection(ctx context.Context, ref *Reflection) {
	o.pub.Publish(ctx, broadcast.ReflectionEvent{
		SessionID:      ref.SessionID,
		Cycle:          ref.Cycle,
		ReflectionKind: string(ref.Kind),
		Content:        ref.Content,
		Timestamp:      ref.CreatedAt,
		Metadata:       ref.Metadata,
	})
}
