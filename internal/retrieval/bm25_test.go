package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"section", "5", "by_laws", "räte"}, Tokenize("Section 5: BY_LAWS, Räte!"))
	assert.Empty(t, Tokenize("  ,.; "))
}

func TestScoreBM25_OnlyMatchingCandidateScores(t *testing.T) {
	filler := strings.Repeat("care ", 95)
	candidates := []Candidate{
		{ChunkID: "a", Text: filler + "sepsis sepsis sepsis sepsis sepsis", TokenCount: 100},
		{ChunkID: "b", Text: strings.Repeat("board ", 100), TokenCount: 100},
		{ChunkID: "c", Text: strings.Repeat("policy ", 100), TokenCount: 100},
	}

	scored := ScoreBM25([]string{"sepsis"}, candidates)
	require.Len(t, scored, 3)
	assert.Greater(t, scored[0].BM25Score, 0.0)
	assert.Equal(t, 0.0, scored[1].BM25Score)
	assert.Equal(t, 0.0, scored[2].BM25Score)

	// Input is not mutated.
	assert.Equal(t, 0.0, candidates[0].BM25Score)
}

func TestScoreBM25_KnownValue(t *testing.T) {
	candidates := []Candidate{
		{Text: "sepsis", TokenCount: 10},
		{Text: "other", TokenCount: 10},
		{Text: "other", TokenCount: 10},
	}
	scored := ScoreBM25([]string{"sepsis", "missing"}, candidates)

	// idf = ln(2.5/1.5); tf=1 and length equals the average, so the tf part is 1.
	want := 0.5108256237659907 / 2
	assert.InDelta(t, want, scored[0].BM25Score, 1e-9)
}

func TestScoreBM25_NeverNegative(t *testing.T) {
	// A term present in every candidate has a negative idf.
	candidates := []Candidate{
		{Text: "quorum rules", TokenCount: 2},
		{Text: "quorum votes", TokenCount: 2},
		{Text: "quorum", TokenCount: 1},
	}
	for _, c := range ScoreBM25([]string{"quorum"}, candidates) {
		assert.GreaterOrEqual(t, c.BM25Score, 0.0)
	}
}

func TestScoreBM25_EmptyInputs(t *testing.T) {
	assert.Empty(t, ScoreBM25([]string{"x"}, nil))

	scored := ScoreBM25(nil, []Candidate{{Text: "x", TokenCount: 1, BM25Score: 3}})
	assert.Equal(t, 0.0, scored[0].BM25Score)
}

func TestScoreBM25_ZeroTokenCounts(t *testing.T) {
	candidates := []Candidate{{Text: "alpha"}, {Text: "beta"}, {Text: "gamma"}}
	scored := ScoreBM25([]string{"alpha"}, candidates)
	assert.Greater(t, scored[0].BM25Score, 0.0)
}
