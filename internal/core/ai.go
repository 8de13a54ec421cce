package core

import "context"

// EmbeddingProvider turns text into vectors. EmbedBatch returns vectors in
// the same order as its input and makes no remote call for an empty slice.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatStreamer produces a completion token by token. onToken is invoked for
// every fragment as it arrives; a non-nil error from onToken aborts the stream.
// The full accumulated response is returned on success.
type ChatStreamer interface {
	StreamChat(ctx context.Context, model, systemPrompt, userPrompt string, onToken func(string) error) (string, error)
}
