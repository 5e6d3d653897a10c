package dispatch

import (
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// closeMatches returns up to n candidates whose edit-distance similarity
// to the term reaches the cutoff, best matches first. Ties keep the
// candidates' original order.
func closeMatches(term string, candidates []string, n int, cutoff float64) []string {
	type scored struct {
		name  string
		ratio float64
	}
	var hits []scored
	termLen := utf8.RuneCountInString(term)
	for _, cand := range candidates {
		longest := termLen
		if l := utf8.RuneCountInString(cand); l > longest {
			longest = l
		}
		if longest == 0 {
			continue
		}
		distance := levenshtein.ComputeDistance(term, cand)
		ratio := 1 - float64(distance)/float64(longest)
		if ratio >= cutoff {
			hits = append(hits, scored{name: cand, ratio: ratio})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].ratio > hits[j].ratio })
	if len(hits) > n {
		hits = hits[:n]
	}
	out := make([]string, len(hits))
	for i, hit := range hits {
		out[i] = hit.name
	}
	return out
}
