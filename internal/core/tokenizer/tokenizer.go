package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is used for models tiktoken does not know about.
const DefaultEncoding = "cl100k_base"

// Tokenizer converts text to token ids and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Counter reports the token count of text as a given model would see it.
type Counter interface {
	CountTokens(text, model string) int
}

var loaderOnce sync.Once

// useOfflineRanks makes tiktoken read BPE ranks from the embedded loader
// instead of downloading them at first use.
func useOfflineRanks() {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	// "all" keeps special-token text in user documents from panicking the encoder.
	return t.enc.Encode(text, []string{"all"}, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// NewEncoding loads a named tiktoken encoding such as cl100k_base.
func NewEncoding(name string) (Tokenizer, error) {
	useOfflineRanks()
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", name, err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

// Registry resolves and caches a tokenizer per model name.
type Registry struct {
	defaultEncoding string

	mu      sync.Mutex
	byModel map[string]Tokenizer
}

func NewRegistry(defaultEncoding string) *Registry {
	if defaultEncoding == "" {
		defaultEncoding = DefaultEncoding
	}
	return &Registry{defaultEncoding: defaultEncoding, byModel: map[string]Tokenizer{}}
}

// Default returns the registry's default encoding.
func (r *Registry) Default() (Tokenizer, error) {
	return r.ForModel("")
}

// ForModel returns the model's own encoding, or the default encoding when
// tiktoken has no mapping for the model.
func (r *Registry) ForModel(model string) (Tokenizer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tok, ok := r.byModel[model]; ok {
		return tok, nil
	}

	useOfflineRanks()
	var enc *tiktoken.Tiktoken
	var err error
	if model != "" {
		enc, err = tiktoken.EncodingForModel(model)
	}
	if model == "" || err != nil {
		enc, err = tiktoken.GetEncoding(r.defaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("load encoding %q: %w", r.defaultEncoding, err)
		}
	}

	tok := &tiktokenTokenizer{enc: enc}
	r.byModel[model] = tok
	return tok, nil
}

// CountTokens never fails. If no encoding can be loaded at all it falls back
// to a length based estimate.
func (r *Registry) CountTokens(text, model string) int {
	if text == "" {
		return 0
	}
	tok, err := r.ForModel(model)
	if err != nil {
		return approxTokens(text)
	}
	return len(tok.Encode(text))
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// CounterFunc lets a plain function act as a Counter.
type CounterFunc func(text, model string) int

func (f CounterFunc) CountTokens(text, model string) int { return f(text, model) }

// FixedCounter counts every model with the same tokenizer.
func FixedCounter(tok Tokenizer) Counter {
	return CounterFunc(func(text, _ string) int {
		return len(tok.Encode(text))
	})
}
