package ingestion_engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docuchat/internal/models"
)

// streamChunks turns extracted pages into positioned chunks for one document.
// Positions are zero-based and stable across the whole document.
func (i *DocumentIngestor) streamChunks(
	ctx context.Context,
	g *errgroup.Group,
	docID int64,
	pages []models.PageText,
) <-chan models.DocumentChunk {
	out := make(chan models.DocumentChunk, 8)

	g.Go(func() error {
		defer close(out)

		pos := 0
		for _, p := range pages {
			for _, c := range i.chunker.ChunkPage(p) {
				ch := models.DocumentChunk{
					DocumentID: docID,
					Page:       c.Page,
					Position:   pos,
					Text:       c.Text,
					TokenCount: c.TokenCount,
				}
				pos++

				select {
				case out <- ch:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		i.log.WithField("document_id", docID).Debugf("chunked %d pages into %d chunks", len(pages), pos)
		return nil
	})

	return out
}

// embedAndPersist embeds chunks in batches and writes each batch with its
// vectors. It returns the number of chunks stored.
func (i *DocumentIngestor) embedAndPersist(ctx context.Context, in <-chan models.DocumentChunk, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 16
	}

	stored := 0
	batch := make([]models.DocumentChunk, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, len(batch))
		for j := range batch {
			texts[j] = batch[j].Text
		}

		vecs, err := i.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(batch) {
			return errEmbeddingCount(len(vecs), len(batch))
		}
		for j := range batch {
			if i.cfg.EmbedDim > 0 && len(vecs[j]) != i.cfg.EmbedDim {
				return errEmbeddingDim(len(vecs[j]), i.cfg.EmbedDim)
			}
			batch[j].Embedding = vecs[j]
		}

		if err := i.db.InsertDocumentChunks(ctx, batch); err != nil {
			return err
		}
		stored += len(batch)
		batch = batch[:0]
		return nil
	}

	for ch := range in {
		batch = append(batch, ch)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stored, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return stored, err
	}
	if err := flush(); err != nil {
		return stored, err
	}
	return stored, nil
}
