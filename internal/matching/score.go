// Package matching ranks waiting candidates by interest compatibility. It is
// purely computational: queue membership and selection live in the hub, which
// calls Rank on a snapshot of the waiting list.
package matching

import "sort"

// Candidate is a snapshot of one waiting session, taken in queue order.
type Candidate struct {
	SessionID string
	Addr      string
	Interests []string
}

// Score returns the Jaccard similarity of two interest lists: the size of the
// intersection divided by the size of the union, in [0, 1]. If either list is
// empty the score is 0, so interest-less participants fall back to pure queue
// order. Duplicate tags within a list are counted once.
func Score(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(a))
	for _, tag := range a {
		setA[tag] = true
	}
	setB := make(map[string]bool, len(b))
	for _, tag := range b {
		setB[tag] = true
	}

	intersection := 0
	for tag := range setA {
		if setB[tag] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Rank orders candidates by descending Score against interests. The sort is
// stable, so candidates with equal scores keep their queue order; with no
// interests at all this degrades to plain FIFO. The input slice is not
// modified.
func Rank(interests []string, candidates []Candidate) []Candidate {
	type scored struct {
		candidate Candidate
		score     float64
	}
	entries := make([]scored, len(candidates))
	for i, c := range candidates {
		entries[i] = scored{candidate: c, score: Score(interests, c.Interests)}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	ranked := make([]Candidate, len(entries))
	for i, e := range entries {
		ranked[i] = e.candidate
	}
	return ranked
}
