// Package tokenizer provides the single token scheme used for chunk windows
// and token counts. Mixing schemes between chunking and validation shifts
// chunk boundaries, so callers construct one Tokenizer and pass it through.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer encodes text to integer token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
	// Estimated reports whether counts are a word-based estimate rather
	// than true model tokens.
	Estimated() bool
}

// Names accepted by New.
const (
	CL100kBase = "cl100k_base"
	Estimate   = "estimate"
)

var loaderOnce sync.Once

// Session returns a tokenizer for one encode/decode round over a single
// text. Tokenizers whose ids are assigned as text is seen return a fresh
// instance, so the id table is released with the session. Fixed
// vocabularies return t.
func Session(t Tokenizer) Tokenizer {
	if s, ok := t.(interface{ Session() Tokenizer }); ok {
		return s.Session()
	}
	return t
}

// New returns the tokenizer registered under name.
func New(name string) (Tokenizer, error) {
	switch name {
	case "", CL100kBase:
		return NewTiktoken(CL100kBase)
	case Estimate:
		return NewEstimator(), nil
	default:
		return nil, fmt.Errorf("unknown tokenizer: %s", name)
	}
}

// Tiktoken wraps a BPE encoding loaded from the embedded offline ranks.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named BPE encoding without network access.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	if len(tokens) == 0 {
		return ""
	}
	return t.enc.Decode(tokens)
}

func (t *Tiktoken) Count(text string) int {
	return len(t.Encode(text))
}

func (t *Tiktoken) Estimated() bool { return false }
