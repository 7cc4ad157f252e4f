package answer

import (
	"regexp"
	"strings"

	"github.com/dgallion1/docrag/internal/retrieval"
)

// Confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Citation is a reference found in an answer.
type Citation struct {
	DocTitle  string `json:"doc_title"`
	PageRange string `json:"page_range"`
	ChunkID   string `json:"chunk_id"`
	Valid     bool   `json:"valid"`
}

var citationRe = regexp.MustCompile(`\[([^\]]+)\]\s*—\s*page\s*(\d+(?:-\d+)?)\s*—\s*([^\s\]]+)`)

// ExtractCitations finds every citation in answer. A citation is valid when
// its chunk id is among passages and its title is contained in that
// passage's title. Notes describe the invalid ones.
func ExtractCitations(answer string, passages []retrieval.Candidate) ([]Citation, []string) {
	byID := make(map[string]retrieval.Candidate, len(passages))
	for _, p := range passages {
		byID[p.ChunkID] = p
	}

	var citations []Citation
	var notes []string
	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		c := Citation{
			DocTitle:  strings.TrimSpace(m[1]),
			PageRange: strings.TrimSpace(m[2]),
			ChunkID:   strings.TrimRight(strings.TrimSpace(m[3]), ".,;:)"),
		}
		p, ok := byID[c.ChunkID]
		switch {
		case !ok:
			notes = append(notes, "citation not found in passages: "+c.ChunkID)
		case !strings.Contains(p.DocTitle, c.DocTitle):
			notes = append(notes, "citation title mismatch: "+c.ChunkID)
		default:
			c.Valid = true
		}
		citations = append(citations, c)
	}
	return citations, notes
}

// Confidence grades an answer by its citations: high needs at least two
// valid citations, a valid ratio of 0.8, and three passages; medium needs
// one valid citation and a ratio of 0.5.
func Confidence(citations []Citation, passageCount int) string {
	if len(citations) == 0 {
		return ConfidenceLow
	}
	valid := 0
	for _, c := range citations {
		if c.Valid {
			valid++
		}
	}
	ratio := float64(valid) / float64(len(citations))

	if valid >= 2 && ratio >= 0.8 && passageCount >= 3 {
		return ConfidenceHigh
	}
	if valid >= 1 && ratio >= 0.5 {
		return ConfidenceMedium
	}
	return ConfidenceLow
}

var insufficientPhrases = []string{
	"i do not have sufficient information",
	"i don't have enough information",
	"insufficient information",
	"not enough information",
	"i do not know",
	"i don't know",
	"cannot answer",
}

// IsInsufficient reports whether the model declined for lack of evidence.
func IsInsufficient(answer string) bool {
	lower := strings.ToLower(answer)
	for _, p := range insufficientPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var blankRunRe = regexp.MustCompile(`\n\s*\n`)

// FormatAnswer collapses blank-line runs and ends the text with terminal
// punctuation.
func FormatAnswer(raw string) string {
	s := blankRunRe.ReplaceAllString(strings.TrimSpace(raw), "\n\n")
	if s != "" && !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
		s += "."
	}
	return s
}
