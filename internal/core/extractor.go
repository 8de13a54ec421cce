package core

import (
	"context"

	"github.com/markdave123-py/docuchat/internal/models"
)

// DocumentExtractor turns raw PDF bytes into per-page text.
type DocumentExtractor interface {
	// Inspect parses the document and returns its page count without
	// extracting text. It enforces the same page limit as Extract.
	Inspect(data []byte) (int, error)
	// Extract returns the non-empty pages in page order, 1-indexed.
	Extract(ctx context.Context, data []byte) ([]models.PageText, error)
}
