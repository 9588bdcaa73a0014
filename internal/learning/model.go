package learning

import (
	"fmt"
	"math"
	"math/rand"
)

// Model is the four-layer toy network. It never mixes information across
// token positions: every position is projected independently.
type Model struct {
	layers map[string]*Layer
	cfg    Config
	rng    *rand.Rand
}

// NewModel initialises every layer with random weights.
func NewModel(cfg Config, rng *rand.Rand) *Model {
	cfg = cfg.withDefaults()
	m := &Model{layers: make(map[string]*Layer, len(LayerNames)), cfg: cfg, rng: rng}
	m.layers[LayerEmbedding] = newLayer(LayerEmbedding, cfg.EmbeddingDim, cfg.EmbeddingDim, cfg.InitStd, cfg.LearningRate, rng)
	m.layers[LayerAttention] = newLayer(LayerAttention, cfg.EmbeddingDim, cfg.EmbeddingDim, cfg.InitStd, cfg.LearningRate, rng)
	m.layers[LayerFeedForward] = newLayer(LayerFeedForward, cfg.HiddenDim, cfg.EmbeddingDim, cfg.InitStd, cfg.LearningRate, rng)
	m.layers[LayerOutput] = newLayer(LayerOutput, cfg.OutputSize, cfg.HiddenDim, cfg.InitStd, cfg.LearningRate, rng)
	return m
}

// Layer returns the named layer.
func (m *Model) Layer(name string) (*Layer, bool) {
	l, ok := m.layers[name]
	return l, ok
}

// Restore replaces the layers with persisted snapshots. It requires every
// layer to be present and the chain of shapes to line up; on failure the
// model is left untouched.
func (m *Model) Restore(snaps []LayerSnapshot) error {
	restored := make(map[string]*Layer, len(LayerNames))
	for _, s := range snaps {
		l, err := layerFromSnapshot(s)
		if err != nil {
			return err
		}
		restored[s.Name] = l
	}
	for _, name := range LayerNames {
		if _, ok := restored[name]; !ok {
			return fmt.Errorf("snapshot missing layer %s", name)
		}
	}
	emb, att := restored[LayerEmbedding], restored[LayerAttention]
	ff, out := restored[LayerFeedForward], restored[LayerOutput]
	if att.In() != emb.Out() || ff.In() != att.Out() || out.In() != ff.Out() {
		return fmt.Errorf("snapshot layer shapes do not chain: %dx%d %dx%d %dx%d %dx%d",
			emb.Out(), emb.In(), att.Out(), att.In(), ff.Out(), ff.In(), out.Out(), out.In())
	}
	m.layers = restored
	return nil
}

// Forward runs the network over tokens and samples one output id per
// position. Ids without a stored embedding get a fresh random vector.
// Sampling covers only the output rows that have a vocabulary entry, so
// every sampled id detokenizes.
func (m *Model) Forward(vocab *Vocabulary, tokens []int) []int {
	emb := m.layers[LayerEmbedding]
	known := min(m.layers[LayerOutput].Out(), vocab.Size())
	if known == 0 {
		return nil
	}
	out := make([]int, 0, len(tokens))
	for _, id := range tokens {
		x := vocab.Embedding(id)
		if x == nil {
			x = randomVector(m.rng, emb.In(), m.cfg.InitStd)
		}
		h := emb.Apply(x)
		h = m.layers[LayerAttention].Apply(h)
		h = m.layers[LayerFeedForward].Apply(h)
		logits := m.layers[LayerOutput].Apply(h)
		out = append(out, Sample(Softmax(logits[:min(known, len(logits))]), m.rng.Float64()))
	}
	return out
}

// Update applies one simulated gradient step to every layer.
func (m *Model) Update(loss float64) {
	for _, name := range LayerNames {
		m.layers[name].step(loss, m.cfg.GradientScale, m.rng)
	}
}

// Snapshots returns a copy of every layer in forward-pass order.
func (m *Model) Snapshots() []LayerSnapshot {
	out := make([]LayerSnapshot, 0, len(LayerNames))
	for _, name := range LayerNames {
		out = append(out, m.layers[name].Snapshot())
	}
	return out
}

// Softmax converts logits into probabilities, subtracting the max logit
// before exponentiating.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	probs := make([]float64, len(logits))
	total := 0.0
	for i, v := range logits {
		probs[i] = math.Exp(v - maxVal)
		total += probs[i]
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

// Sample walks the cumulative distribution with draw r in [0,1). The last
// index absorbs any floating-point remainder.
func Sample(probs []float64, r float64) int {
	cum := 0.0
	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}
	return len(probs) - 1
}
