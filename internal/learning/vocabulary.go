package learning

import (
	"math/rand"
	"strings"
)

// Vocabulary is a session-local subword table. Ids are dense and never
// reassigned; each entry carries an embedding vector.
type Vocabulary struct {
	entries       []*VocabEntry
	index         map[string]int
	maxSubwordLen int
	dim           int
	std           float64
	rng           *rand.Rand
}

// NewVocabulary creates an empty vocabulary sampling embeddings of size dim.
func NewVocabulary(dim, maxSubwordLen int, std float64, rng *rand.Rand) *Vocabulary {
	return &Vocabulary{
		index:         make(map[string]int),
		maxSubwordLen: maxSubwordLen,
		dim:           dim,
		std:           std,
		rng:           rng,
	}
}

// Size returns the number of known subwords.
func (v *Vocabulary) Size() int { return len(v.entries) }

// Lookup returns the id of token, if known.
func (v *Vocabulary) Lookup(token string) (int, bool) {
	id, ok := v.index[token]
	return id, ok
}

// Token returns the subword for id, if known.
func (v *Vocabulary) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.entries) {
		return "", false
	}
	return v.entries[id].Token, true
}

// Embedding returns the stored vector for id, or nil.
func (v *Vocabulary) Embedding(id int) []float64 {
	if id < 0 || id >= len(v.entries) {
		return nil
	}
	return v.entries[id].Embedding
}

// Tokenize splits text into subword ids, registering unseen subwords.
// The returned slice of touched entries covers every new or re-counted
// subword so the caller can persist them.
func (v *Vocabulary) Tokenize(text string) ([]int, []VocabEntry) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return []int{}, nil
	}

	var ids []int
	touched := make(map[int]struct{})
	for _, w := range words {
		for _, piece := range v.segment(w) {
			id := v.observe(piece)
			touched[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	out := make([]VocabEntry, 0, len(touched))
	for id := range touched {
		out = append(out, v.entries[id].clone())
	}
	return ids, out
}

// segment performs greedy longest-known-prefix segmentation of one word.
// Short words stay whole. Pieces registered earlier in the same word are
// visible to later prefix checks.
func (v *Vocabulary) segment(word string) []string {
	runes := []rune(word)
	if len(runes) <= 3 {
		return []string{word}
	}

	var pieces []string
	for start := 0; start < len(runes); {
		n := 1
		maxLen := min(v.maxSubwordLen, len(runes)-start)
		for l := maxLen; l >= 1; l-- {
			if _, ok := v.index[string(runes[start:start+l])]; ok {
				n = l
				break
			}
		}
		piece := string(runes[start : start+n])
		if _, ok := v.index[piece]; !ok {
			v.register(piece)
		}
		pieces = append(pieces, piece)
		start += n
	}
	return pieces
}

// observe returns the id of piece, registering it when unseen, and counts
// the occurrence.
func (v *Vocabulary) observe(piece string) int {
	id, ok := v.index[piece]
	if !ok {
		id = v.register(piece)
	}
	v.entries[id].Frequency++
	return id
}

func (v *Vocabulary) register(piece string) int {
	id := len(v.entries)
	v.entries = append(v.entries, &VocabEntry{
		Token:     piece,
		ID:        id,
		Frequency: 0,
		Embedding: randomVector(v.rng, v.dim, v.std),
	})
	v.index[piece] = id
	return id
}

// Detokenize maps ids back to subwords joined by single spaces.
// Unknown ids are dropped.
func (v *Vocabulary) Detokenize(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if tok, ok := v.Token(id); ok {
			parts = append(parts, tok)
		}
	}
	return strings.Join(parts, " ")
}

// Load replaces the table with persisted entries. Entries are placed by id;
// a gap or duplicate id makes the persisted table unusable.
func (v *Vocabulary) Load(entries []VocabEntry) bool {
	table := make([]*VocabEntry, len(entries))
	index := make(map[string]int, len(entries))
	for i := range entries {
		e := entries[i].clone()
		if e.ID < 0 || e.ID >= len(entries) || table[e.ID] != nil {
			return false
		}
		if _, dup := index[e.Token]; dup {
			return false
		}
		if len(e.Embedding) != v.dim {
			e.Embedding = randomVector(v.rng, v.dim, v.std)
		}
		table[e.ID] = &e
		index[e.Token] = e.ID
	}
	v.entries = table
	v.index = index
	return true
}

// Entries returns a copy of every entry ordered by id.
func (v *Vocabulary) Entries() []VocabEntry {
	out := make([]VocabEntry, len(v.entries))
	for i, e := range v.entries {
		out[i] = e.clone()
	}
	return out
}

func (e VocabEntry) clone() VocabEntry {
	emb := make([]float64, len(e.Embedding))
	copy(emb, e.Embedding)
	e.Embedding = emb
	return e
}

func randomVector(rng *rand.Rand, n int, std float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64() * std
	}
	return out
}
