package session

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens deterministically for a fixed nominal model, per
// spec.md §3 ("tokens counted deterministically using a fixed tokenizer for
// a nominal model") and §4.2.
type Tokenizer interface {
	Count(text string) int
}

// tiktokenCounter wraps tiktoken-go's BPE encoder. Encoding construction is
// not cheap, so it is built once and cached.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

var (
	defaultOnce      sync.Once
	defaultTokenizer Tokenizer
	defaultInitErr   error
)

// NewTokenizer builds a Tokenizer for the given nominal model name, falling
// back to the cl100k_base encoding (used by gpt-4o-mini and siblings) for
// any model tiktoken-go does not recognize by name — the tokenizer must
// remain available even if the configured model string is unfamiliar.
func NewTokenizer(model string) (Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &tiktokenCounter{enc: enc}, nil
}

// DefaultTokenizer returns a process-wide cl100k_base-based tokenizer,
// used wherever a caller has not threaded a configured one through (e.g.
// tests for lower-level store operations).
func DefaultTokenizer() Tokenizer {
	defaultOnce.Do(func() {
		defaultTokenizer, defaultInitErr = NewTokenizer("gpt-4o-mini")
		if defaultInitErr != nil {
			defaultTokenizer = fallbackTokenizer{}
		}
	})
	return defaultTokenizer
}

func (t *tiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// fallbackTokenizer approximates token count at four characters per token
// when the BPE tables cannot be loaded at all (e.g. offline test sandboxes
// without the tiktoken vocabulary files cached). It is never used unless
// tiktoken-go itself fails to initialize any encoding.
type fallbackTokenizer struct{}

func (fallbackTokenizer) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
