package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docrag/internal/retrieval"
)

const (
	// MaxPassageChars bounds each passage's text in the prompt.
	MaxPassageChars = 2000
	// DefaultMaxContextChars bounds the formatted passages together.
	DefaultMaxContextChars = 12000
)

const SystemPrompt = "You are a precise, factual assistant that only uses provided information and always includes proper citations."

const NoEvidenceAnswer = "I do not have sufficient information in the provided documents to answer this question."

const answerInstructions = `Answer the question using ONLY the provided passages below.

STRICT INSTRUCTIONS:
1. Answer using ONLY information from the provided passages
2. For EVERY fact or claim, include a citation in this exact format: [doc_title] — page X-Y — chunk_id
3. If the passages don't contain enough information to answer the question, respond with "` + NoEvidenceAnswer + `"
4. Do NOT add information not found in the passages
5. Do NOT make assumptions or inferences beyond what's explicitly stated
6. Be precise and factual`

// CitationID is the label a passage is cited by.
func CitationID(c retrieval.Candidate) string {
	return fmt.Sprintf("[%s] — page %d-%d — %s", c.DocTitle, c.PageStart, c.PageEnd, c.ChunkID)
}

// BuildPrompt formats passages in rank order until maxContextChars is
// spent, then appends the question. It returns the prompt and the number of
// passages that fit.
func BuildPrompt(question string, passages []retrieval.Candidate, maxContextChars int) (string, int) {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}

	var parts []string
	total := 0
	for i, p := range passages {
		text := p.Text
		if len(text) > MaxPassageChars {
			text = cutAt(text, MaxPassageChars) + "...[truncated]"
		}
		part := fmt.Sprintf("PASSAGE %d:\nCitation: %s\nContent: %s\n", i+1, CitationID(p), text)
		if total+len(part) > maxContextChars {
			break
		}
		parts = append(parts, part)
		total += len(part)
	}

	var sb strings.Builder
	sb.WriteString(answerInstructions)
	sb.WriteString("\n\nPASSAGES:\n")
	sb.WriteString(strings.Join(parts, "\n"))
	sb.WriteString("\nQUESTION: ")
	sb.WriteString(question)
	sb.WriteString("\n\nANSWER (with citations):")
	return sb.String(), len(parts)
}

// cutAt truncates s to at most n bytes without splitting a rune.
func cutAt(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
