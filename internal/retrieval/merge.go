package retrieval

import "sort"

// Merge concatenates per-folder results, keeps one candidate per chunk ID
// (the one with the highest VectorScore, first seen on ties) and sorts by
// VectorScore descending. The result depends only on the order of results,
// not on when each search finished.
func Merge(results ...[]Candidate) []Candidate {
	index := make(map[string]int)
	var out []Candidate
	for _, rs := range results {
		for _, c := range rs {
			if i, ok := index[c.ChunkID]; ok {
				if c.VectorScore > out[i].VectorScore {
					out[i] = c
				}
				continue
			}
			index[c.ChunkID] = len(out)
			out = append(out, c)
		}
	}
	if out == nil {
		return []Candidate{}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VectorScore > out[j].VectorScore
	})
	return out
}
