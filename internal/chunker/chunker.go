package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docrag/internal/doctree"
	"github.com/dgallion1/docrag/internal/tokenizer"
)

// ErrInvalidParameter is returned for window sizes that cannot make progress.
var ErrInvalidParameter = errors.New("invalid parameter")

// boundaryLookback is how many trailing lines are examined for a cleaner cut.
const boundaryLookback = 5

// Config controls chunking behavior.
type Config struct {
	MaxTokens     int // Window size in tokens.
	OverlapTokens int // Tokens shared by consecutive windows.
}

// DefaultConfig returns the 1000/200 window.
func DefaultConfig() Config {
	return Config{MaxTokens: 1000, OverlapTokens: 200}
}

// Validate checks 0 <= OverlapTokens < MaxTokens.
func (c Config) Validate() error {
	if c.MaxTokens < 1 {
		return fmt.Errorf("%w: max_tokens must be >= 1, got %d", ErrInvalidParameter, c.MaxTokens)
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxTokens {
		return fmt.Errorf("%w: overlap_tokens must be in [0, %d), got %d", ErrInvalidParameter, c.MaxTokens, c.OverlapTokens)
	}
	return nil
}

var bulletPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*[•·‣▪▫]\s*`),
	regexp.MustCompile(`^\s*[-*+]\s*`),
	regexp.MustCompile(`^\s*\d+\.\s*`),
	regexp.MustCompile(`^\s*[a-zA-Z]\.\s*`),
	regexp.MustCompile(`^\s*\([a-zA-Z0-9]+\)\s*`),
}

// Chunk splits each block into overlapping token windows. Blocks that fit
// in one window are emitted unchanged. Longer blocks are cut into windows of
// maxTokens advancing by maxTokens-overlapTokens, and non-final cuts move
// back to a nearby sentence or paragraph break.
func Chunk(blocks []doctree.Block, maxTokens, overlapTokens int, tok tokenizer.Tokenizer) ([]doctree.Chunk, error) {
	cfg := Config{MaxTokens: maxTokens, OverlapTokens: overlapTokens}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Estimated tokenizers encode one unit per word, so windows are sized in
	// words to keep the reported token counts within maxTokens.
	window, overlap := maxTokens, overlapTokens
	if tok.Estimated() {
		window, overlap = scaleWindow(maxTokens, overlapTokens)
	}

	var chunks []doctree.Chunk
	for _, b := range blocks {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		chunks = append(chunks, chunkBlock(b, maxTokens, window, overlap, tokenizer.Session(tok))...)
	}
	return chunks, nil
}

func chunkBlock(b doctree.Block, maxTokens, window, overlap int, tok tokenizer.Tokenizer) []doctree.Chunk {
	tokens := tok.Encode(b.Text)
	if len(tokens) <= window {
		return []doctree.Chunk{newChunk(b, b.Text, tok.Count(b.Text))}
	}

	var out []doctree.Chunk
	prev := -1
	for start := 0; start < len(tokens); {
		// BPE tokens may hold part of a multi-byte character; both cuts
		// land on character boundaries.
		if start = alignStart(tokens, start, prev, tok); start >= len(tokens) {
			break
		}
		prev = start
		end := alignEnd(tokens, start, min(start+window, len(tokens)), tok)
		text := tok.Decode(tokens[start:end])
		for end > start+1 && tok.Count(text) > maxTokens {
			e := alignEnd(tokens, start, end-1, tok)
			if e >= end {
				break
			}
			end = e
			text = tok.Decode(tokens[start:end])
		}

		kept := end - start
		if end < len(tokens) {
			if adjusted := adjustBoundary(text); adjusted != text {
				text = adjusted
				kept = min(len(tok.Encode(adjusted)), kept)
			}
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			out = append(out, newChunk(b, trimmed, tok.Count(trimmed)))
		}
		if end >= len(tokens) {
			break
		}
		// An adjusted cut may drop more than the overlap; never skip past
		// what the chunk kept.
		start = max(min(start+window-overlap, start+kept), start+1)
	}
	return out
}

// startsChar reports whether the bytes of token id begin a UTF-8 character.
func startsChar(tok tokenizer.Tokenizer, id int) bool {
	s := tok.Decode([]int{id})
	return s == "" || utf8.RuneStart(s[0])
}

// alignStart moves start back to the token that begins the character it
// falls inside, staying above floor. If that would reach floor it moves
// forward to the next character instead.
func alignStart(tokens []int, start, floor int, tok tokenizer.Tokenizer) int {
	for s := start; s > floor; s-- {
		if startsChar(tok, tokens[s]) {
			return s
		}
	}
	for start < len(tokens) && !startsChar(tok, tokens[start]) {
		start++
	}
	return start
}

// alignEnd moves end back until tokens[start:end] ends on a whole character.
// If no such cut exists after start it moves forward instead.
func alignEnd(tokens []int, start, end int, tok tokenizer.Tokenizer) int {
	for e := end; e > start; e-- {
		if e == len(tokens) || startsChar(tok, tokens[e]) {
			return e
		}
	}
	e := end + 1
	for e < len(tokens) && !startsChar(tok, tokens[e]) {
		e++
	}
	return min(e, len(tokens))
}

func newChunk(b doctree.Block, text string, count int) doctree.Chunk {
	return doctree.Chunk{
		Text:        text,
		TokenCount:  count,
		PageStart:   b.PageStart,
		PageEnd:     b.PageEnd,
		HeadingPath: copyPath(b.HeadingPath),
	}
}

// adjustBoundary moves the end of text back to just after a blank or
// sentence-ending line, or to just before a trailing list item, looking at
// most boundaryLookback lines back. The original text is returned when no
// better cut exists.
func adjustBoundary(text string) string {
	lines := strings.Split(text, "\n")
	stop := max(len(lines)-boundaryLookback, 0)

	for i := len(lines) - 1; i >= stop; i-- {
		line := strings.TrimSpace(lines[i])

		if line == "" || endsSentence(line) {
			if cut := strings.Join(lines[:i+1], "\n"); strings.TrimSpace(cut) != "" {
				return cut
			}
		}

		if isListItem(line) && i > 0 {
			prev := strings.TrimSpace(lines[i-1])
			if prev == "" || endsSentence(prev) {
				if cut := strings.Join(lines[:i], "\n"); strings.TrimSpace(cut) != "" {
					return cut
				}
			}
		}
	}
	return text
}

func endsSentence(line string) bool {
	return strings.HasSuffix(line, ".") || strings.HasSuffix(line, "!") ||
		strings.HasSuffix(line, "?") || strings.HasSuffix(line, ":")
}

func isListItem(line string) bool {
	for _, re := range bulletPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func scaleWindow(maxTokens, overlapTokens int) (int, int) {
	window := max(int(float64(maxTokens)*tokenizer.WordsPerToken), 1)
	overlap := int(float64(overlapTokens) * tokenizer.WordsPerToken)
	if overlap >= window {
		overlap = window - 1
	}
	return window, overlap
}

func copyPath(p []string) []string {
	if len(p) == 0 {
		return nil
	}
	out := make([]string, len(p))
	copy(out, p)
	return out
}
