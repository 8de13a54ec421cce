package prompt

import (
	"strings"
	"testing"

	"github.com/markdave123-py/docuchat/internal/core/tokenizer"
	"github.com/markdave123-py/docuchat/internal/models"
)

// runeCounter counts one token per rune so budgets are easy to reason about.
var runeCounter = tokenizer.CounterFunc(func(text, _ string) int {
	return len([]rune(text))
})

func chunk(title string, page int, text string) models.RetrievedChunk {
	return models.RetrievedChunk{DocumentTitle: title, Page: page, Text: text}
}

func TestAssembleFormatsBlocks(t *testing.T) {
	a := NewAssembler(runeCounter, "gpt-4o")
	p := a.Assemble("What is the policy?", []models.RetrievedChunk{
		chunk("Handbook", 3, "Ten days of leave."),
		chunk("Memo", 1, "Effective June."),
	}, 8000)

	want := "[Document: Handbook - page 3]\nTen days of leave.\n\n[Document: Memo - page 1]\nEffective June.\n"
	if p.Context != want {
		t.Errorf("context = %q\nwant      %q", p.Context, want)
	}
	if p.ChunksUsed != 2 {
		t.Errorf("ChunksUsed = %d", p.ChunksUsed)
	}
	if !strings.Contains(p.User, want) || !strings.Contains(p.User, "What is the policy?") {
		t.Errorf("user prompt missing context or question: %q", p.User)
	}
	if p.System == "" {
		t.Error("expected a system prompt")
	}
}

func TestAssembleStaysWithinBudget(t *testing.T) {
	a := NewAssembler(runeCounter, "m")
	var chunks []models.RetrievedChunk
	for i := 0; i < 50; i++ {
		chunks = append(chunks, chunk("Doc", i+1, strings.Repeat("x", 10+i*7)))
	}

	for _, max := range []int{0, 10, 57, 100, 333, 1000, 5000} {
		p := a.Assemble("q", chunks, max)
		if got := runeCounter.CountTokens(p.Context, "m"); float64(got) > 0.7*float64(max) {
			t.Errorf("max=%d: context has %d tokens, budget %.1f", max, got, 0.7*float64(max))
		}
		if p.ContextTokens != runeCounter.CountTokens(p.Context, "m") {
			t.Errorf("max=%d: ContextTokens %d does not match context", max, p.ContextTokens)
		}
	}
}

func TestAssembleStopsAtFirstOverflow(t *testing.T) {
	a := NewAssembler(runeCounter, "m")
	chunks := []models.RetrievedChunk{
		chunk("A", 1, "short"),
		chunk("B", 1, strings.Repeat("y", 500)),
		chunk("C", 1, "tiny"),
	}
	p := a.Assemble("q", chunks, 200)
	if p.ChunksUsed != 1 {
		t.Fatalf("expected only the first chunk, got %d", p.ChunksUsed)
	}
	if strings.Contains(p.Context, "tiny") {
		t.Error("assembler skipped past an oversized chunk")
	}
}

func TestAssembleWithNoFittingChunks(t *testing.T) {
	a := NewAssembler(runeCounter, "m")
	p := a.Assemble("still asked", []models.RetrievedChunk{chunk("A", 1, strings.Repeat("z", 100))}, 10)
	if p.Context != "" || p.ChunksUsed != 0 {
		t.Errorf("expected empty context, got %q", p.Context)
	}
	if !strings.Contains(p.User, "still asked") {
		t.Error("question must still be sent")
	}
}

func TestBudget(t *testing.T) {
	if Budget(8000) != 5600 || Budget(57) != 39 {
		t.Errorf("unexpected budget values %d %d", Budget(8000), Budget(57))
	}
}
