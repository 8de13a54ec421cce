package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/models"
)

// ErrNoTenant is returned when a search is attempted without a tenant scope.
var ErrNoTenant = errors.New("retrieval requires a tenant")

// ChunkSearcher runs the tenant scoped nearest-neighbour query.
type ChunkSearcher interface {
	SearchTenantChunks(ctx context.Context, tenantID int64, queryVec []float32, limit int) ([]models.RetrievedChunk, error)
}

// Retriever finds the chunks of a tenant's documents closest to a query.
type Retriever struct {
	embedder    core.EmbeddingProvider
	store       ChunkSearcher
	defaultTopK int
}

func NewRetriever(embedder core.EmbeddingProvider, store ChunkSearcher, defaultTopK int) *Retriever {
	if defaultTopK <= 0 {
		defaultTopK = 6
	}
	return &Retriever{embedder: embedder, store: store, defaultTopK: defaultTopK}
}

// Retrieve embeds the query and returns at most topK chunks, nearest first.
// topK <= 0 selects the configured default.
func (r *Retriever) Retrieve(ctx context.Context, query string, tenantID int64, topK int) ([]models.RetrievedChunk, error) {
	if tenantID <= 0 {
		return nil, ErrNoTenant
	}
	if topK <= 0 {
		topK = r.defaultTopK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	chunks, err := r.store.SearchTenantChunks(ctx, tenantID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return chunks, nil
}
