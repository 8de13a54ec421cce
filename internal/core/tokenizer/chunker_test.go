package tokenizer

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/markdave123-py/docuchat/internal/models"
)

// byteTokenizer treats every byte as one token so tests stay deterministic.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

func TestChunkShortTextUnchanged(t *testing.T) {
	chunks, err := Chunk(byteTokenizer{}, "short page", 3, 400, 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "short page" || chunks[0].Page != 3 {
		t.Errorf("unexpected chunk %+v", chunks[0])
	}
}

func TestChunkWindowsAndOverlap(t *testing.T) {
	tok := byteTokenizer{}
	text := strings.Repeat("abcdefghijklmnopqrstuvwxyz", 7)

	cases := []struct {
		max, overlap int
	}{
		{10, 0},
		{10, 3},
		{7, 6},
		{50, 10},
		{182, 1},
	}

	for _, tc := range cases {
		chunks, err := Chunk(tok, text, 1, tc.max, tc.overlap)
		if err != nil {
			t.Fatalf("max=%d overlap=%d: %v", tc.max, tc.overlap, err)
		}

		var rebuilt []int
		for i, c := range chunks {
			toks := tok.Encode(c.Text)
			if len(toks) > tc.max {
				t.Errorf("max=%d overlap=%d: chunk %d has %d tokens", tc.max, tc.overlap, i, len(toks))
			}
			if c.TokenCount != len(toks) {
				t.Errorf("chunk %d: token count %d, want %d", i, c.TokenCount, len(toks))
			}
			if i == 0 {
				rebuilt = append(rebuilt, toks...)
				continue
			}
			prev := tok.Encode(chunks[i-1].Text)
			if !slices.Equal(prev[len(prev)-tc.overlap:], toks[:tc.overlap]) {
				t.Errorf("max=%d overlap=%d: chunk %d does not share %d tokens with previous", tc.max, tc.overlap, i, tc.overlap)
			}
			rebuilt = append(rebuilt, toks[tc.overlap:]...)
		}

		if got := tok.Decode(rebuilt); got != text {
			t.Errorf("max=%d overlap=%d: rebuilt text mismatch", tc.max, tc.overlap)
		}
	}
}

func TestChunkMultibyteTextStaysValidUTF8(t *testing.T) {
	text := strings.Repeat("数据库文档 héllo 🙂 ßπ, ", 40)

	cases := []struct {
		max, overlap int
	}{
		{7, 2},
		{4, 0},
		{5, 4},
		{3, 1},
		{64, 16},
	}

	for _, tc := range cases {
		chunks, err := Chunk(byteTokenizer{}, text, 1, tc.max, tc.overlap)
		if err != nil {
			t.Fatalf("max=%d overlap=%d: %v", tc.max, tc.overlap, err)
		}
		if len(chunks) < 2 {
			t.Fatalf("max=%d overlap=%d: expected several chunks, got %d", tc.max, tc.overlap, len(chunks))
		}
		for i, c := range chunks {
			if !utf8.ValidString(c.Text) {
				t.Fatalf("max=%d overlap=%d: chunk %d is not valid UTF-8: %q", tc.max, tc.overlap, i, c.Text)
			}
			if !strings.Contains(text, c.Text) {
				t.Errorf("max=%d overlap=%d: chunk %d %q is not a slice of the page", tc.max, tc.overlap, i, c.Text)
			}
			if c.TokenCount > tc.max && utf8.RuneCountInString(c.Text) > 1 {
				t.Errorf("max=%d overlap=%d: chunk %d has %d tokens", tc.max, tc.overlap, i, c.TokenCount)
			}
		}
		if !strings.HasPrefix(text, chunks[0].Text) || !strings.HasSuffix(text, chunks[len(chunks)-1].Text) {
			t.Errorf("max=%d overlap=%d: chunks do not cover both ends of the page", tc.max, tc.overlap)
		}
	}
}

func TestChunkCJKWithDefaultEncoding(t *testing.T) {
	tok, err := NewEncoding(DefaultEncoding)
	if err != nil {
		t.Fatalf("NewEncoding: %v", err)
	}
	text := strings.Repeat("向量数据库按租户隔离文档，检索时只返回本租户的片段。", 200)

	chunks, err := Chunk(tok, text, 1, 400, 40)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c.Text) {
			t.Errorf("chunk %d of %d is not valid UTF-8", i, len(chunks))
		}
		if c.TokenCount > 400 {
			t.Errorf("chunk %d has %d tokens", i, c.TokenCount)
		}
	}
}

func TestChunkKeepsFinalPartialWindow(t *testing.T) {
	chunks, err := Chunk(byteTokenizer{}, "0123456789AB", 1, 5, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"01234", "45678", "89AB"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i := range want {
		if chunks[i].Text != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, want[i])
		}
	}
}

func TestChunkRejectsOverlapNotSmallerThanSize(t *testing.T) {
	for _, tc := range [][2]int{{10, 10}, {10, 11}, {0, 0}, {10, -1}} {
		if _, err := Chunk(byteTokenizer{}, "text", 1, tc[0], tc[1]); !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("size=%d overlap=%d: expected ErrInvalidWindow, got %v", tc[0], tc[1], err)
		}
	}
	if _, err := NewChunker(byteTokenizer{}, 40, 40); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("NewChunker: expected ErrInvalidWindow, got %v", err)
	}
}

func TestChunkerChunkPage(t *testing.T) {
	c, err := NewChunker(byteTokenizer{}, 4, 2)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	chunks := c.ChunkPage(models.PageText{Page: 7, Text: "abcdefgh"})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch.Page != 7 {
			t.Errorf("chunk page = %d, want 7", ch.Page)
		}
	}
}
