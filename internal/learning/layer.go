package learning

import (
	"fmt"
	"math/rand"
	"time"
)

// Layer is a dense weight matrix of shape (nout, nin) plus a bias vector.
type Layer struct {
	Name         string
	Weights      [][]float64
	Biases       []float64
	LearningRate float64
	UpdatedAt    time.Time
}

// newLayer samples a layer with N(0, std) weights and zero biases.
func newLayer(name string, nout, nin int, std, lr float64, rng *rand.Rand) *Layer {
	w := make([][]float64, nout)
	for i := range w {
		w[i] = randomVector(rng, nin, std)
	}
	return &Layer{
		Name:         name,
		Weights:      w,
		Biases:       make([]float64, nout),
		LearningRate: lr,
		UpdatedAt:    time.Now(),
	}
}

// Out returns the number of output rows.
func (l *Layer) Out() int { return len(l.Weights) }

// In returns the expected input width.
func (l *Layer) In() int {
	if len(l.Weights) == 0 {
		return 0
	}
	return len(l.Weights[0])
}

// Apply computes W·x + b. Inputs shorter than the layer width are
// zero-extended; longer inputs are truncated.
func (l *Layer) Apply(x []float64) []float64 {
	out := make([]float64, len(l.Weights))
	for i, row := range l.Weights {
		sum := l.Biases[i]
		n := min(len(row), len(x))
		for j := 0; j < n; j++ {
			sum += row[j] * x[j]
		}
		out[i] = sum
	}
	return out
}

// step subtracts lr × grad from every parameter. Gradients are noise
// scaled by loss: there is no backpropagation through the network.
func (l *Layer) step(loss, scale float64, rng *rand.Rand) {
	for i, row := range l.Weights {
		for j := range row {
			row[j] -= l.LearningRate * loss * scale * rng.NormFloat64()
		}
		l.Biases[i] -= l.LearningRate * loss * scale * rng.NormFloat64()
	}
	l.UpdatedAt = time.Now()
}

// Snapshot returns a deep copy of the layer parameters.
func (l *Layer) Snapshot() LayerSnapshot {
	w := make([][]float64, len(l.Weights))
	for i, row := range l.Weights {
		w[i] = append([]float64(nil), row...)
	}
	return LayerSnapshot{
		Name:         l.Name,
		Weights:      w,
		Biases:       append([]float64(nil), l.Biases...),
		LearningRate: l.LearningRate,
		UpdatedAt:    l.UpdatedAt,
	}
}

// layerFromSnapshot rebuilds a layer, checking the matrix is rectangular
// and matches the bias length.
func layerFromSnapshot(s LayerSnapshot) (*Layer, error) {
	if len(s.Weights) == 0 || len(s.Weights) != len(s.Biases) {
		return nil, fmt.Errorf("layer %s: %d rows, %d biases", s.Name, len(s.Weights), len(s.Biases))
	}
	nin := len(s.Weights[0])
	for i, row := range s.Weights {
		if len(row) != nin {
			return nil, fmt.Errorf("layer %s: row %d has width %d, want %d", s.Name, i, len(row), nin)
		}
	}
	w := make([][]float64, len(s.Weights))
	for i, row := range s.Weights {
		w[i] = append([]float64(nil), row...)
	}
	return &Layer{
		Name:         s.Name,
		Weights:      w,
		Biases:       append([]float64(nil), s.Biases...),
		LearningRate: s.LearningRate,
		UpdatedAt:    s.UpdatedAt,
	}, nil
}
