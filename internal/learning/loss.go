package learning

import (
	"math"
	"strings"
)

// Loss is the word-level Hamming distance between output and target,
// normalised by the longer sequence. The shorter side is padded with empty
// words, so it always lands in [0,1].
func Loss(output, target string) float64 {
	a, b := strings.Fields(output), strings.Fields(target)
	n := max(len(a), len(b))
	if n == 0 {
		return 0
	}
	mismatches := 0
	for i := 0; i < n; i++ {
		var x, y string
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			mismatches++
		}
	}
	return float64(mismatches) / float64(n)
}

// Perplexity is exp(loss).
func Perplexity(loss float64) float64 { return math.Exp(loss) }

// Convergence estimates progress as max(0, 1-loss).
func Convergence(loss float64) float64 { return math.Max(0, 1-loss) }

// Overlap is the BLEU-like fraction of generated words that occur anywhere
// in the target. An empty generation scores 0.
func Overlap(generated, target string) float64 {
	gen := strings.Fields(generated)
	if len(gen) == 0 {
		return 0
	}
	ref := make(map[string]struct{})
	for _, w := range strings.Fields(target) {
		ref[w] = struct{}{}
	}
	hits := 0
	for _, w := range gen {
		if _, ok := ref[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(gen))
}
