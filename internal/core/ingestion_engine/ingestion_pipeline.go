package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/core/tokenizer"
	"github.com/markdave123-py/docuchat/internal/logger"
	"github.com/markdave123-py/docuchat/internal/models"
)

var _ Ingestor = (*DocumentIngestor)(nil)

var ErrDocumentNotFound = errors.New("document not found")

func errEmbeddingCount(got, want int) error {
	return fmt.Errorf("embedding count mismatch: got %d want %d", got, want)
}

func errEmbeddingDim(got, want int) error {
	return fmt.Errorf("embedding dimension mismatch: got %d want %d", got, want)
}

func NewDocumentIngestor(
	db core.DbClient,
	obj core.ObjectClient,
	emb core.EmbeddingProvider,
	extractor core.DocumentExtractor,
	chunker *tokenizer.Chunker,
	queue Queue,
	cfg *IngestConfig,
) *DocumentIngestor {
	if cfg == nil {
		cfg = &IngestConfig{}
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &DocumentIngestor{
		db: db, obj: obj, embedder: emb, extractor: extractor, chunker: chunker,
		queue: queue, cfg: cfg,
		results: make(chan IngestResult, 64),
		log:     logger.New("ingestor"),
	}
}

// WithObserver reports stored chunk counts to o.
func (i *DocumentIngestor) WithObserver(o ChunkObserver) *DocumentIngestor {
	i.observer = o
	return i
}

// Start launches numWorkers consumers on the queue. They stop when ctx ends.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			log := i.log.WithField("worker", w)

			err := i.queue.Consume(ctx, func(ctx context.Context, job Job) error {
				log.WithField("document_id", job.DocumentID).Info("processing document")
				_, err := i.ProcessOne(ctx, job.DocumentID)
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrQueueClosed) {
				log.WithError(err).Error("worker stopped")
				return
			}
			log.Debug("worker shutting down")
		}(w)
	}
}

// Wait blocks until every worker has returned.
func (i *DocumentIngestor) Wait() {
	i.wg.Wait()
}

// Enqueue schedules a document for ingestion.
func (i *DocumentIngestor) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	if err := i.queue.Publish(ctx, job); err != nil {
		return fmt.Errorf("enqueue document %d: %w", job.DocumentID, err)
	}
	return nil
}

// Results reports the outcome of every processed document. Outcomes are
// dropped when nobody keeps up with the channel.
func (i *DocumentIngestor) Results() <-chan IngestResult {
	return i.results
}

// ProcessOne extracts, chunks, embeds and persists a single document and
// moves it to ready or failed. It returns the number of stored chunks.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID int64) (int, error) {
	n, err := i.process(ctx, docID)
	i.publish(IngestResult{DocumentID: docID, Chunks: n, Err: err})
	return n, err
}

func (i *DocumentIngestor) process(ctx context.Context, docID int64) (int, error) {
	log := i.log.WithField("document_id", docID)

	doc, err := i.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("load document %d: %w", docID, err)
	}
	if doc == nil {
		return 0, fmt.Errorf("%w: %d", ErrDocumentNotFound, docID)
	}
	if doc.Status == models.DocumentReady {
		log.Info("document already ingested, skipping")
		return i.db.CountDocumentChunks(ctx, docID)
	}

	if err := i.db.UpdateDocumentStatus(ctx, docID, models.DocumentProcessing, ""); err != nil {
		return 0, fmt.Errorf("mark processing: %w", err)
	}

	proctx, cancel := context.WithTimeout(ctx, i.cfg.JobTimeout)
	defer cancel()

	stored, err := i.run(proctx, doc)
	if err != nil {
		i.markFailed(ctx, doc.ID, err)
		return 0, err
	}

	if err := i.db.UpdateDocumentStatus(ctx, docID, models.DocumentReady, ""); err != nil {
		return stored, fmt.Errorf("mark ready: %w", err)
	}
	if i.observer != nil {
		i.observer.ObserveChunksStored(doc.TenantID, stored)
	}
	log.WithField("chunks", stored).Info("document ready")
	return stored, nil
}

func (i *DocumentIngestor) run(ctx context.Context, doc *models.Document) (int, error) {
	data, err := i.obj.GetFile(ctx, doc.ObjectKey)
	if err != nil {
		return 0, fmt.Errorf("get object: %w", err)
	}

	pages, err := i.extractor.Extract(ctx, data)
	if err != nil {
		return 0, err
	}

	// Build an errgroup to tie the pipeline stages together.
	g, gctx := errgroup.WithContext(ctx)

	// pages -> chunks.
	chunkCh := i.streamChunks(gctx, g, doc.ID, pages)

	// chunks -> embed + persist.
	var stored int
	g.Go(func() error {
		n, err := i.embedAndPersist(gctx, chunkCh, i.cfg.BatchSize)
		stored = n
		return err
	})

	// Wait for all stages. Any error cancels the rest.
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return stored, nil
}

// markFailed removes partial chunks and records the error. A document
// interrupted by shutdown goes back to pending instead.
func (i *DocumentIngestor) markFailed(ctx context.Context, docID int64, cause error) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	log := i.log.WithField("document_id", docID)
	if err := i.db.DeleteDocumentChunks(bctx, docID); err != nil {
		log.WithError(err).Error("failed to remove partial chunks")
	}

	status, msg := models.DocumentFailed, cause.Error()
	if ctx.Err() != nil {
		status, msg = models.DocumentPending, ""
	}
	if err := i.db.UpdateDocumentStatus(bctx, docID, status, msg); err != nil {
		log.WithError(err).Error("failed to record ingestion failure")
	}
	log.WithError(cause).Warnf("ingestion ended with status %s", status)
}

func (i *DocumentIngestor) publish(res IngestResult) {
	select {
	case i.results <- res:
	default:
		i.log.WithField("document_id", res.DocumentID).Debug("result channel full, dropping outcome")
	}
}
