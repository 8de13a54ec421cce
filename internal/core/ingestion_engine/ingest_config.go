package ingestion_engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/core/tokenizer"
)

// IngestConfig tunes the pipeline.
//
// BatchSize:  how many chunks to embed/write in one batch (e.g., 16).
// EmbedDim:   expected embedding dimension; 0 skips the check.
// JobTimeout: upper bound for one document.
type IngestConfig struct {
	BatchSize  int
	EmbedDim   int
	JobTimeout time.Duration
}

// IngestResult is published for every processed job.
type IngestResult struct {
	DocumentID int64
	Chunks     int
	Err        error
}

// ChunkObserver is told how many chunks each ready document stored.
type ChunkObserver interface {
	ObserveChunksStored(tenantID int64, n int)
}

// DocumentIngestor orchestrates the background ingestion pipeline:
//
// db:        persistence for documents and chunks.
// obj:       object storage holding the uploaded bytes.
// embedder:  embedding provider (Gemini/OpenAI-compatible).
// extractor: per-page PDF text.
// chunker:   token windows per page.
// queue:     job transport (in-memory or RabbitMQ).
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	embedder  core.EmbeddingProvider
	extractor core.DocumentExtractor
	chunker   *tokenizer.Chunker
	queue     Queue
	cfg       *IngestConfig
	observer  ChunkObserver

	results chan IngestResult
	log     *logrus.Entry
	wg      sync.WaitGroup
}
