package ingestion_engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	db "github.com/markdave123-py/docuchat/internal/core/database"
	objectclient "github.com/markdave123-py/docuchat/internal/core/object-client"
	"github.com/markdave123-py/docuchat/internal/core/tokenizer"
	"github.com/markdave123-py/docuchat/internal/models"
)

type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

type fakeEmbedder struct {
	dim   int
	err   error
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

type fixture struct {
	store *db.MemoryClient
	obj   *objectclient.MemoryClient
	emb   *fakeEmbedder
	queue *MemoryQueue
	ing   *DocumentIngestor
}

func newFixture(t *testing.T, emb *fakeEmbedder) *fixture {
	t.Helper()
	chunker, err := tokenizer.NewChunker(byteTokenizer{}, 500, 50)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	f := &fixture{
		store: db.NewMemoryClient(),
		obj:   objectclient.NewMemoryClient(),
		emb:   emb,
		queue: NewMemoryQueue(8),
	}
	f.ing = NewDocumentIngestor(f.store, f.obj, emb, NewPDFExtractor(500), chunker, f.queue,
		&IngestConfig{BatchSize: 4, EmbedDim: emb.dim, JobTimeout: 10 * time.Second})
	return f
}

func (f *fixture) upload(t *testing.T, tenantID int64, data []byte) *models.Document {
	t.Helper()
	ctx := context.Background()
	key := "docs/test.pdf"
	if _, err := f.obj.UploadFile(ctx, key, data, "application/pdf"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	doc := &models.Document{TenantID: tenantID, Title: "test.pdf", FileName: "test.pdf", ObjectKey: key}
	if err := f.store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func TestProcessOneStoresChunksAndMarksReady(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{dim: 3})
	doc := f.upload(t, 1, buildPDF("Alpha page text", "Beta page text"))

	n, err := f.ing.ProcessOne(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 chunks, got %d", n)
	}

	got, _ := f.store.GetDocumentByID(context.Background(), doc.ID)
	if got.Status != models.DocumentReady {
		t.Errorf("status = %q, want ready", got.Status)
	}
	count, _ := f.store.CountDocumentChunks(context.Background(), doc.ID)
	if count != 2 {
		t.Errorf("stored chunks = %d, want 2", count)
	}

	select {
	case res := <-f.ing.Results():
		if res.DocumentID != doc.ID || res.Chunks != 2 || res.Err != nil {
			t.Errorf("unexpected result %+v", res)
		}
	default:
		t.Fatal("no ingest result published")
	}
}

type chunkTally map[int64]int

func (c chunkTally) ObserveChunksStored(tenantID int64, n int) { c[tenantID] += n }

func TestProcessOneReportsStoredChunks(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{dim: 3})
	tally := chunkTally{}
	f.ing.WithObserver(tally)

	ok := f.upload(t, 4, buildPDF("Alpha page text", "Beta page text"))
	if _, err := f.ing.ProcessOne(context.Background(), ok.ID); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	bad := f.upload(t, 5, []byte("not a pdf"))
	if _, err := f.ing.ProcessOne(context.Background(), bad.ID); err == nil {
		t.Fatal("expected the corrupt upload to fail")
	}

	if tally[4] != 2 {
		t.Errorf("tenant 4 stored %d chunks, want 2", tally[4])
	}
	if _, seen := tally[5]; seen {
		t.Error("a failed document must not report stored chunks")
	}
}

func TestProcessOneEmbeddingFailureMarksFailed(t *testing.T) {
	boom := errors.New("embedding backend down")
	f := newFixture(t, &fakeEmbedder{dim: 3, err: boom})
	doc := f.upload(t, 1, buildPDF("Alpha", "Beta"))

	_, err := f.ing.ProcessOne(context.Background(), doc.ID)
	if !errors.Is(err, boom) {
		t.Fatalf("expected embedding error, got %v", err)
	}

	got, _ := f.store.GetDocumentByID(context.Background(), doc.ID)
	if got.Status != models.DocumentFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("expected failure message on document")
	}
	count, _ := f.store.CountDocumentChunks(context.Background(), doc.ID)
	if count != 0 {
		t.Errorf("expected no chunks after failure, got %d", count)
	}

	res := <-f.ing.Results()
	if !errors.Is(res.Err, boom) || res.Chunks != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProcessOneWrongDimensionFails(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{dim: 3})
	f.ing.cfg.EmbedDim = 768
	doc := f.upload(t, 1, buildPDF("Alpha"))

	if _, err := f.ing.ProcessOne(context.Background(), doc.ID); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	got, _ := f.store.GetDocumentByID(context.Background(), doc.ID)
	if got.Status != models.DocumentFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestProcessOneCorruptPDFFails(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{dim: 3})
	doc := f.upload(t, 1, []byte("not a pdf"))

	if _, err := f.ing.ProcessOne(context.Background(), doc.ID); err == nil {
		t.Fatal("expected extraction error")
	}
	if f.emb.calls.Load() != 0 {
		t.Error("embedder should not be called for an unreadable document")
	}
	got, _ := f.store.GetDocumentByID(context.Background(), doc.ID)
	if got.Status != models.DocumentFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestProcessOneUnknownDocument(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{dim: 3})
	if _, err := f.ing.ProcessOne(context.Background(), 42); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestWorkersDrainQueue(t *testing.T) {
	f := newFixture(t, &fakeEmbedder{dim: 3})
	doc := f.upload(t, 7, buildPDF("Queued page"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.ing.Start(ctx, 2)

	if err := f.ing.Enqueue(ctx, Job{DocumentID: doc.ID, TenantID: 7}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case res := <-f.ing.Results():
		if res.Err != nil || res.DocumentID != doc.ID {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker")
	}

	cancel()
	f.ing.Wait()

	got, _ := f.store.GetDocumentByID(context.Background(), doc.ID)
	if got.Status != models.DocumentReady {
		t.Errorf("status = %q, want ready", got.Status)
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1)
	_ = q.Close()
	if err := q.Publish(context.Background(), Job{DocumentID: 1}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.Consume(context.Background(), func(context.Context, Job) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed from Consume, got %v", err)
	}
}
