package memory

import "testing"

func TestTokenize(t *testing.T) {
	got := tokenize("Why do the Tides, tides rise? a")
	want := []string{"why", "do", "the", "tides", "rise"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeywordSimilarity(t *testing.T) {
	kws := []string{"tides", "moon"}
	exact := keywordSimilarity(kws, "learning", "The moon drives the tides.")
	partial := keywordSimilarity(kws, "learning", "Tidesmoonlight is a made-up word.")
	none := keywordSimilarity(kws, "learning", "Nothing related here.")

	if none != 0 {
		t.Errorf("unrelated text scored %v", none)
	}
	if !(exact > partial && partial > 0) {
		t.Errorf("expected exact %v > partial %v > 0", exact, partial)
	}
	if keywordSimilarity(nil, "x", "y") != 0 {
		t.Error("no keywords should score 0")
	}
}

func TestRankOrdersByScore(t *testing.T) {
	nodes := []ActivatedInsight{{ID: "a", Score: 0.1}, {ID: "b", Score: 0.9}, {ID: "c", Score: 0.5}}
	rank(nodes)
	if nodes[0].ID != "b" || nodes[1].ID != "c" || nodes[2].ID != "a" {
		t.Errorf("rank order = %s %s %s", nodes[0].ID, nodes[1].ID, nodes[2].ID)
	}
}
