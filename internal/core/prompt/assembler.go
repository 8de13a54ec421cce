package prompt

import (
	"fmt"

	"github.com/markdave123-py/docuchat/internal/core/tokenizer"
	"github.com/markdave123-py/docuchat/internal/models"
)

const systemPrompt = `You are a document question answering assistant. Answer the user's question using only the retrieved documents provided in the prompt.

Rules:
- Use only information found in the retrieved documents.
- If the documents do not contain the answer, say plainly that you do not have enough information.
- Keep answers clear and accurate.
- When possible, cite the document title and page you relied on.`

// Prompt is an assembled system/user pair plus bookkeeping about the context.
type Prompt struct {
	System        string
	User          string
	Context       string
	ContextTokens int
	ChunksUsed    int
}

// Assembler packs retrieved chunks into a bounded prompt.
type Assembler struct {
	counter tokenizer.Counter
	model   string
}

// NewAssembler counts tokens with counter as the given model would.
func NewAssembler(counter tokenizer.Counter, model string) *Assembler {
	return &Assembler{counter: counter, model: model}
}

// Budget is 70% of maxContextTokens, rounded down. The remainder is left for
// the system prompt, the question and the answer.
func Budget(maxContextTokens int) int {
	return maxContextTokens * 7 / 10
}

// Assemble adds chunks in the given order until the next one would push the
// context past the budget. It never skips ahead to a smaller chunk.
func (a *Assembler) Assemble(question string, chunks []models.RetrievedChunk, maxContextTokens int) Prompt {
	budget := Budget(maxContextTokens)

	var (
		context string
		used    int
		count   int
	)
	for _, c := range chunks {
		candidate := formatBlock(c)
		if count > 0 {
			candidate = context + "\n" + candidate
		}
		n := a.counter.CountTokens(candidate, a.model)
		if n > budget {
			break
		}
		context, used = candidate, n
		count++
	}

	return Prompt{
		System:        systemPrompt,
		User:          fmt.Sprintf("Retrieved documents:\n\n%s\n\nUser question:\n%s", context, question),
		Context:       context,
		ContextTokens: used,
		ChunksUsed:    count,
	}
}

func formatBlock(c models.RetrievedChunk) string {
	return fmt.Sprintf("[Document: %s - page %d]\n%s\n", c.DocumentTitle, c.Page, c.Text)
}
