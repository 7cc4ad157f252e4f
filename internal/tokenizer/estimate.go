package tokenizer

import (
	"math"
	"strings"
	"sync"
	"unicode"
)

// WordsPerToken is the English-prose ratio the estimator assumes.
const WordsPerToken = 0.75

// Estimator is the fallback used when no BPE encoding is available.
// Encode yields one id per word span (a word plus its leading whitespace),
// so Decode reproduces the original text exactly. Count reports
// ceil(words / WordsPerToken), which differs from len(Encode); callers that
// size windows in encoded units must scale by WordsPerToken.
//
// Ids are assigned on first sight and never evicted, so a long-lived
// Estimator should only be used for Count; encode through Session.
type Estimator struct {
	mu    sync.Mutex
	ids   map[string]int
	spans []string
}

func NewEstimator() *Estimator {
	return &Estimator{ids: make(map[string]int)}
}

func (e *Estimator) Encode(text string) []int {
	parts := splitSpans(text)
	if len(parts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(parts))
	for i, p := range parts {
		id, ok := e.ids[p]
		if !ok {
			id = len(e.spans)
			e.ids[p] = id
			e.spans = append(e.spans, p)
		}
		out[i] = id
	}
	return out
}

func (e *Estimator) Decode(tokens []int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var sb strings.Builder
	for _, id := range tokens {
		if id >= 0 && id < len(e.spans) {
			sb.WriteString(e.spans[id])
		}
	}
	return sb.String()
}

// Session returns an empty Estimator whose id table lives as long as the
// caller keeps it.
func (e *Estimator) Session() Tokenizer {
	return NewEstimator()
}

func (e *Estimator) Count(text string) int {
	return EstimateCount(text)
}

func (e *Estimator) Estimated() bool { return true }

// EstimateCount returns ceil(words / WordsPerToken).
func EstimateCount(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / WordsPerToken))
}

// splitSpans cuts text into word spans that concatenate back to text.
// Trailing whitespace becomes its own span.
func splitSpans(text string) []string {
	var spans []string
	start := 0
	inWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if inWord && space {
			spans = append(spans, text[start:i])
			start = i
			inWord = false
		} else if !space {
			inWord = true
		}
	}
	if start < len(text) {
		spans = append(spans, text[start:])
	}
	return spans
}
