// Package answer composes cited answers from retrieved passages with an LLM
// and checks that every citation points at a passage it was given.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docrag/internal/retrieval"
)

// SourceNotFoundAnswer replaces answers that carry no valid citation.
const SourceNotFoundAnswer = "Source not found. The answer could not be properly cited."

// Answer is a composed reply to one question.
type Answer struct {
	Question          string                `json:"question"`
	Answer            string                `json:"answer"`
	Confidence        string                `json:"confidence"`
	Citations         []Citation            `json:"citations"`
	HasValidCitations bool                  `json:"has_valid_citations"`
	Passages          []retrieval.Candidate `json:"passages"`
	PassagesUsed      int                   `json:"passages_used"`
	Notes             []string              `json:"notes,omitempty"`
}

// Composer prompts an LLM with ranked passages and post-processes the reply.
type Composer struct {
	llm             LLM
	stats           *LLMStats
	log             *slog.Logger
	MaxContextChars int
}

func NewComposer(llm LLM, stats *LLMStats, log *slog.Logger) *Composer {
	if log == nil {
		log = slog.Default()
	}
	return &Composer{
		llm:             llm,
		stats:           stats,
		log:             log,
		MaxContextChars: DefaultMaxContextChars,
	}
}

// Answer answers question from passages. With no passages it returns the
// no-evidence answer without calling the LLM. LLM failures are returned.
func (c *Composer) Answer(ctx context.Context, question string, passages []retrieval.Candidate) (*Answer, error) {
	if len(passages) == 0 {
		return noEvidence(question, passages, NoEvidenceAnswer), nil
	}

	prompt, used := BuildPrompt(question, passages, c.MaxContextChars)

	start := time.Now()
	raw, err := c.llm.Complete(ctx, SystemPrompt, prompt)
	elapsed := time.Since(start).Milliseconds()
	if c.stats != nil {
		c.stats.Record(elapsed)
	}
	if err != nil {
		c.log.Error("answer_generation_failed", slog.String("error", err.Error()), slog.Int64("duration_ms", elapsed))
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	if IsInsufficient(raw) {
		a := noEvidence(question, passages, raw)
		a.PassagesUsed = used
		return a, nil
	}

	citations, notes := ExtractCitations(raw, passages)
	a := &Answer{
		Question:     question,
		Answer:       FormatAnswer(raw),
		Confidence:   Confidence(citations, len(passages)),
		Citations:    citations,
		Passages:     passages,
		PassagesUsed: used,
		Notes:        notes,
	}
	for _, ct := range citations {
		if ct.Valid {
			a.HasValidCitations = true
			break
		}
	}
	if !a.HasValidCitations {
		a.Notes = append(a.Notes, "no valid citations found in answer")
		a.Answer = SourceNotFoundAnswer
		a.Confidence = ConfidenceLow
	}

	c.log.Info("answer_generated",
		slog.String("confidence", a.Confidence),
		slog.Int("citations", len(citations)),
		slog.Int("passages_used", used),
		slog.Int64("duration_ms", elapsed),
	)
	return a, nil
}

func noEvidence(question string, passages []retrieval.Candidate, text string) *Answer {
	return &Answer{
		Question:   question,
		Answer:     text,
		Confidence: ConfidenceLow,
		Citations:  []Citation{},
		Passages:   passages,
		Notes:      []string{"insufficient evidence in retrieved passages"},
	}
}
