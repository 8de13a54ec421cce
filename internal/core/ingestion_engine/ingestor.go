package ingestion_engine

import "context"

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, job Job) error
	ProcessOne(ctx context.Context, docID int64) (int, error)
	Results() <-chan IngestResult
}
