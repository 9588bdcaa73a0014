package reflection

import (
	"fmt"
	"math/rand"
	"strings"
)

var analysisFocus = []string{
	"the intent behind the wording",
	"which constraints are implied but unstated",
	"where the answer could drift from the goal",
	"the shortest path to a useful response",
	"ambiguities that need a default",
}

var strategyMoves = []string{
	"lead with the core answer, then support it",
	"restate the goal before elaborating",
	"trade breadth for a precise example",
	"resolve the largest ambiguity first",
}

var noiseVariations = []string{
	"What if the answer were framed as a question back to the reader?",
	"Try the opposite tone: terse where it was warm.",
	"Borrow a metaphor from an unrelated field.",
	"Reorder the argument from conclusion to premise.",
	"Drop the most obvious point and see what remains.",
}

// keyTerms returns up to n distinct words longer than three characters.
func keyTerms(text string, n int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len([]rune(w)) <= 3 {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == n {
			break
		}
	}
	return out
}

func composeAnalysis(rng *rand.Rand, input string, cycle int, prior []*Reflection) (string, map[string]any) {
	terms := keyTerms(input, 3)
	focus := analysisFocus[rng.Intn(len(analysisFocus))]
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %d analysis: the request has %d words", cycle, len(strings.Fields(input)))
	if len(terms) > 0 {
		fmt.Fprintf(&b, " centred on %s", strings.Join(terms, ", "))
	}
	fmt.Fprintf(&b, ". Examining %s.", focus)
	if last := lastOf(prior, KindRefinement, KindStrategy); last != nil {
		fmt.Fprintf(&b, " Building on cycle %d's %s.", last.Cycle, last.Kind)
	}
	return b.String(), map[string]any{
		"key_terms":    terms,
		"prior_count":  len(prior),
		"focus":        focus,
		"input_length": len(input),
	}
}

func composeRecall(insights []*MemoryInsight, associations []string, window int) (string, map[string]any) {
	var b strings.Builder
	if len(insights) == 0 {
		b.WriteString("Memory recall: no earlier insights yet; starting from first principles.")
	} else {
		fmt.Fprintf(&b, "Memory recall: %d recent insights considered.", len(insights))
		for i, in := range insights {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, " [%s] %s", in.Kind, in.Content)
		}
	}
	if len(associations) > 0 {
		fmt.Fprintf(&b, " Related: %s.", strings.Join(associations, "; "))
	}
	return b.String(), map[string]any{
		"insights_considered": len(insights),
		"window":              window,
		"associations":        len(associations),
	}
}

func composeStrategy(rng *rand.Rand, cycle int, objective string) (ReflectionKind, string, map[string]any) {
	move := strategyMoves[rng.Intn(len(strategyMoves))]
	if cycle == 1 {
		goal := objective
		if goal == "" {
			goal = "a direct, useful answer"
		}
		return KindStrategy,
			fmt.Sprintf("Strategy: aim for %s; %s.", goal, move),
			map[string]any{"move": move}
	}
	return KindRefinement,
		fmt.Sprintf("Refinement %d: %s, tightening what cycle %d produced.", cycle-1, move, cycle-1),
		map[string]any{"move": move, "refinement_depth": cycle - 1}
}

func composeNoise(rng *rand.Rand, level float64) (string, map[string]any) {
	v := noiseVariations[rng.Intn(len(noiseVariations))]
	return fmt.Sprintf("Noise injection (%.2f): %s", level, v),
		map[string]any{"noise_level": level, "variation": v}
}

func composeInsight(kind InsightKind, cycle int, input string) string {
	terms := keyTerms(input, 2)
	subject := "the request"
	if len(terms) > 0 {
		subject = strings.Join(terms, " and ")
	}
	switch kind {
	case InsightPatternRecognition:
		return fmt.Sprintf("A recurring pattern around %s appeared by cycle %d.", subject, cycle)
	case InsightLearning:
		return fmt.Sprintf("Cycle %d showed which framing of %s holds up.", cycle, subject)
	case InsightOptimization:
		return fmt.Sprintf("Fewer steps were needed to address %s in cycle %d.", subject, cycle)
	case InsightAdaptation:
		return fmt.Sprintf("The approach to %s shifted to fit the objective in cycle %d.", subject, cycle)
	case InsightCorrection:
		return fmt.Sprintf("An earlier assumption about %s was corrected in cycle %d.", subject, cycle)
	case InsightEnhancement:
		return fmt.Sprintf("The treatment of %s gained detail in cycle %d.", subject, cycle)
	}
	return fmt.Sprintf("Cycle %d produced a note about %s.", cycle, subject)
}

// lastOf returns the newest reflection of any of the kinds.
func lastOf(rs []*Reflection, kinds ...ReflectionKind) *Reflection {
	for i := len(rs) - 1; i >= 0; i-- {
		for _, k := range kinds {
			if rs[i].Kind == k {
				return rs[i]
			}
		}
	}
	return nil
}

func connections(cycle int) []int {
	out := make([]int, cycle)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
