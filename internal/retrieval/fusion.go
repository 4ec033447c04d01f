package retrieval

import "sort"

// rrfK dampens the weight of top ranks in reciprocal-rank fusion. 60 is
// the constant from the original RRF paper and works well untuned.
const rrfK = 60

// fusedItem is one identifier's merged standing across ranked lists.
type fusedItem struct {
	key      string
	score    float64
	bestRank int
}

// fuseRanked merges ranked identifier lists by reciprocal-rank fusion:
// each appearance contributes 1/(k+rank) with rank starting at 1. Output
// order is deterministic: score descending, then best single-list rank,
// then identifier.
func fuseRanked(lists ...[]string) []fusedItem {
	merged := make(map[string]*fusedItem)
	for _, list := range lists {
		// one contribution per list, at the key's first rank
		seen := make(map[string]struct{}, len(list))
		for i, key := range list {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			rank := i + 1
			it, ok := merged[key]
			if !ok {
				it = &fusedItem{key: key, bestRank: rank}
				merged[key] = it
			}
			it.score += 1.0 / float64(rrfK+rank)
			if rank < it.bestRank {
				it.bestRank = rank
			}
		}
	}

	out := make([]fusedItem, 0, len(merged))
	for _, it := range merged {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].bestRank != out[j].bestRank {
			return out[i].bestRank < out[j].bestRank
		}
		return out[i].key < out[j].key
	})
	return out
}
