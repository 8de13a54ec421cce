package ingestion_engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Publish after Close.
var ErrQueueClosed = errors.New("ingest queue closed")

// Job asks a worker to ingest one stored document.
type Job struct {
	DocumentID int64     `json:"document_id"`
	TenantID   int64     `json:"tenant_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JobHandler processes one job. A returned error means the job is finished
// and failed; it is not redelivered.
type JobHandler func(ctx context.Context, job Job) error

// Queue carries ingestion jobs from the upload path to the worker pool.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	// Consume feeds jobs to handler until ctx ends. Several workers may
	// consume from the same queue concurrently.
	Consume(ctx context.Context, handler JobHandler) error
	Close() error
}

// MemoryQueue is a bounded in-process queue. Publish blocks while it is full.
type MemoryQueue struct {
	jobs chan Job
	done chan struct{}
	once sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{jobs: make(chan Job, size), done: make(chan struct{})}
}

func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler JobHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrQueueClosed
		case job := <-q.jobs:
			_ = handler(ctx, job)
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
