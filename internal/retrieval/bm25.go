package retrieval

import (
	"math"
	"regexp"
	"strings"
)

// Okapi BM25 constants.
const (
	BM25K1 = 1.5
	BM25B  = 0.75
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize lowercases text and returns its word tokens. No stemming or
// stopword removal is applied.
func Tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// ScoreBM25 returns a copy of candidates with BM25Score set, treating the
// candidate set as the corpus. Scores are divided by the number of query
// terms and clamped at zero; the 0.7/0.3 hybrid weights assume that scale.
func ScoreBM25(queryTerms []string, candidates []Candidate) []Candidate {
	out := clone(candidates)
	if len(out) == 0 {
		return out
	}
	if len(queryTerms) == 0 {
		for i := range out {
			out[i].BM25Score = 0
		}
		return out
	}

	termFreqs := make([]map[string]int, len(out))
	totalLen := 0
	for i, c := range out {
		tf := make(map[string]int)
		for _, tok := range Tokenize(c.Text) {
			tf[tok]++
		}
		termFreqs[i] = tf
		totalLen += c.TokenCount
	}

	avgLen := float64(totalLen) / float64(len(out))
	if avgLen <= 0 {
		avgLen = 1
	}

	docFreq := make(map[string]int, len(queryTerms))
	for _, term := range queryTerms {
		if _, done := docFreq[term]; done {
			continue
		}
		n := 0
		for _, tf := range termFreqs {
			if tf[term] > 0 {
				n++
			}
		}
		docFreq[term] = n
	}

	n := float64(len(out))
	for i := range out {
		sum := 0.0
		for _, term := range queryTerms {
			tf := float64(termFreqs[i][term])
			if tf == 0 {
				continue
			}
			df := float64(docFreq[term])
			sum += idf(n, df) * (tf * (BM25K1 + 1)) /
				(tf + BM25K1*(1-BM25B+BM25B*float64(out[i].TokenCount)/avgLen))
		}
		out[i].BM25Score = math.Max(0, sum/float64(len(queryTerms)))
	}
	return out
}

func idf(n, df float64) float64 {
	num := n - df + 0.5
	den := df + 0.5
	if num <= 0 || den <= 0 {
		return 0
	}
	return math.Log(num / den)
}
