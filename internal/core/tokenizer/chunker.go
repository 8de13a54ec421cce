package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/docuchat/internal/models"
)

// ErrInvalidWindow is returned when the chunk window cannot advance.
var ErrInvalidWindow = errors.New("chunk overlap must be non-negative and smaller than the chunk size")

// PageChunk is one token window of a page.
type PageChunk struct {
	Page       int
	Text       string
	TokenCount int
}

// Chunk splits text into windows of maxTokens tokens. Consecutive windows
// share at least overlap tokens; the final window may be shorter. Text that
// already fits is returned unchanged as a single chunk.
//
// Byte-level encodings split multibyte characters across tokens, so window
// edges are moved back to the nearest token that starts a character. Every
// chunk is valid UTF-8.
func Chunk(tok Tokenizer, text string, page, maxTokens, overlap int) ([]PageChunk, error) {
	if err := validateWindow(maxTokens, overlap); err != nil {
		return nil, err
	}

	tokens := tok.Encode(text)
	if len(tokens) <= maxTokens {
		return []PageChunk{{Page: page, Text: text, TokenCount: len(tokens)}}, nil
	}

	boundary := runeBoundaries(tok, tokens)
	step := maxTokens - overlap
	out := make([]PageChunk, 0, len(tokens)/step+1)
	prevStart, prevEnd := -1, -1
	for start := 0; start < len(tokens); start += step {
		end := min(start+maxTokens, len(tokens))

		lo := start
		for lo > 0 && !boundary[lo] {
			lo--
		}
		hi := end
		for hi > lo && !boundary[hi] {
			hi--
		}
		if hi == lo {
			// a single character wider than the window
			for hi = end; !boundary[hi]; hi++ {
			}
		}

		if lo != prevStart || hi != prevEnd {
			out = append(out, PageChunk{
				Page:       page,
				Text:       strings.ToValidUTF8(tok.Decode(tokens[lo:hi]), string(utf8.RuneError)),
				TokenCount: hi - lo,
			})
			prevStart, prevEnd = lo, hi
		}
		if hi == len(tokens) {
			break
		}
	}
	return out, nil
}

// runeBoundaries reports, for every token offset, whether the decoded text
// at that offset begins a new character. Offsets 0 and len(tokens) are
// always boundaries.
func runeBoundaries(tok Tokenizer, tokens []int) []bool {
	full := tok.Decode(tokens)
	marks := make([]bool, len(tokens)+1)
	marks[0], marks[len(tokens)] = true, true

	offset := 0
	for i := 1; i < len(tokens); i++ {
		offset += len(tok.Decode(tokens[i-1 : i]))
		marks[i] = offset >= len(full) || utf8.RuneStart(full[offset])
	}
	return marks
}

func validateWindow(maxTokens, overlap int) error {
	if maxTokens <= 0 || overlap < 0 || overlap >= maxTokens {
		return fmt.Errorf("%w (size=%d overlap=%d)", ErrInvalidWindow, maxTokens, overlap)
	}
	return nil
}

// Chunker applies a fixed window configuration to pages.
type Chunker struct {
	tok       Tokenizer
	maxTokens int
	overlap   int
}

func NewChunker(tok Tokenizer, maxTokens, overlap int) (*Chunker, error) {
	if err := validateWindow(maxTokens, overlap); err != nil {
		return nil, err
	}
	return &Chunker{tok: tok, maxTokens: maxTokens, overlap: overlap}, nil
}

// ChunkPage splits a single extracted page.
func (c *Chunker) ChunkPage(p models.PageText) []PageChunk {
	// the window was validated at construction
	chunks, _ := Chunk(c.tok, p.Text, p.Page, c.maxTokens, c.overlap)
	return chunks
}
