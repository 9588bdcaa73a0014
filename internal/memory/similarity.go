package memory

import (
	"math"
	"sort"
	"strings"
)

// keywordSimilarity computes overlap between keywords and insight text.
// Uses a combination of exact match ratio and TF-like weighting.
func keywordSimilarity(keywords []string, kind, content string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	target := strings.ToLower(kind + " " + content)
	targetSet := make(map[string]bool)
	for _, w := range tokenize(target) {
		targetSet[w] = true
	}

	var matched int
	var weighted float64
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if targetSet[kw] {
			matched++
			weighted += 1.0
		} else if strings.Contains(target, kw) {
			matched++
			weighted += 0.7 // partial substring match
		}
	}
	if matched == 0 {
		return 0
	}

	jaccard := float64(matched) / math.Max(float64(len(keywords)+len(targetSet)-matched), 1)
	coverage := weighted / float64(len(keywords))
	return 0.4*jaccard + 0.6*coverage
}

// tokenize splits text into lowercase word tokens, dropping single
// characters and duplicates.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 1 && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// rank sorts by score descending.
func rank(nodes []ActivatedInsight) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Score > nodes[j].Score
	})
}
