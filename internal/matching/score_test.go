package matching

import (
	"fmt"
	"testing"
)

// ---------- Score tests ----------

func TestScore_IdenticalSets(t *testing.T) {
	got := Score([]string{"music", "gaming"}, []string{"gaming", "music"})
	if got != 1.0 {
		t.Errorf("expected 1.0 for identical sets, got %v", got)
	}
}

func TestScore_PartialOverlap(t *testing.T) {
	// Intersection {gaming} = 1, union {music, gaming} = 2.
	got := Score([]string{"music", "gaming"}, []string{"gaming"})
	if got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
}

func TestScore_NoOverlap(t *testing.T) {
	got := Score([]string{"music"}, []string{"cooking"})
	if got != 0 {
		t.Errorf("expected 0 for disjoint sets, got %v", got)
	}
}

func TestScore_EmptySets(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
	}{
		{"both empty", nil, nil},
		{"left empty", nil, []string{"music"}},
		{"right empty", []string{"music"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.a, tc.b); got != 0 {
				t.Errorf("expected 0, got %v", got)
			}
		})
	}
}

func TestScore_Symmetric(t *testing.T) {
	a := []string{"music", "gaming", "anime"}
	b := []string{"gaming", "cooking"}
	if Score(a, b) != Score(b, a) {
		t.Errorf("score is not symmetric: %v vs %v", Score(a, b), Score(b, a))
	}
}

func TestScore_Range(t *testing.T) {
	pairs := [][2][]string{
		{{"a"}, {"a", "b", "c"}},
		{{"a", "b"}, {"b", "c"}},
		{{"a", "b", "c", "d"}, {"a"}},
	}
	for i, p := range pairs {
		got := Score(p[0], p[1])
		if got < 0 || got > 1 {
			t.Errorf("pair %d: score %v outside [0,1]", i, got)
		}
	}
}

func TestScore_DuplicateTags(t *testing.T) {
	// Duplicates count once: {music} vs {music} = 1.0.
	got := Score([]string{"music", "music"}, []string{"music"})
	if got != 1.0 {
		t.Errorf("expected 1.0 with duplicate tags collapsed, got %v", got)
	}
}

// ---------- Rank tests ----------

func TestRank_PrefersHigherOverlap(t *testing.T) {
	// Y shares "gaming" with X (score 0.5); Z has no interests (score 0).
	candidates := []Candidate{
		{SessionID: "z", Interests: nil},
		{SessionID: "y", Interests: []string{"gaming"}},
	}

	ranked := Rank([]string{"music", "gaming"}, candidates)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(ranked))
	}
	if ranked[0].SessionID != "y" {
		t.Errorf("expected y first, got %s", ranked[0].SessionID)
	}
	if ranked[1].SessionID != "z" {
		t.Errorf("expected z second, got %s", ranked[1].SessionID)
	}
}

func TestRank_TiesKeepQueueOrder(t *testing.T) {
	// All three score 0 against the requester, so queue order must survive.
	candidates := []Candidate{
		{SessionID: "first", Interests: []string{"cooking"}},
		{SessionID: "second", Interests: []string{"travel"}},
		{SessionID: "third", Interests: nil},
	}

	ranked := Rank([]string{"music"}, candidates)
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if ranked[i].SessionID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, ranked[i].SessionID)
		}
	}
}

func TestRank_NoInterestsIsFIFO(t *testing.T) {
	candidates := make([]Candidate, 5)
	for i := range candidates {
		candidates[i] = Candidate{
			SessionID: fmt.Sprintf("user-%d", i),
			Interests: []string{fmt.Sprintf("interest-%d", i)},
		}
	}

	ranked := Rank(nil, candidates)
	for i := range candidates {
		if ranked[i].SessionID != candidates[i].SessionID {
			t.Errorf("position %d: expected %s, got %s", i, candidates[i].SessionID, ranked[i].SessionID)
		}
	}
}

func TestRank_DoesNotModifyInput(t *testing.T) {
	candidates := []Candidate{
		{SessionID: "a", Interests: nil},
		{SessionID: "b", Interests: []string{"music"}},
	}

	_ = Rank([]string{"music"}, candidates)
	if candidates[0].SessionID != "a" || candidates[1].SessionID != "b" {
		t.Errorf("input slice was reordered: %v, %v", candidates[0].SessionID, candidates[1].SessionID)
	}
}

func TestRank_Empty(t *testing.T) {
	ranked := Rank([]string{"music"}, nil)
	if len(ranked) != 0 {
		t.Errorf("expected empty result, got %d candidates", len(ranked))
	}
}
