package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/models"
)

// MemoryClient keeps every table in process memory. It backs local runs
// with STORAGE_DRIVER=memory and the test suites.
type MemoryClient struct {
	mu sync.RWMutex

	nextID    int64
	documents map[int64]models.Document
	chunks    []models.DocumentChunk
	sessions  map[int64]models.ChatSession
	messages  []models.ChatMessage
	usage     []models.UsageRecord

	now func() time.Time
}

var _ core.DbClient = (*MemoryClient)(nil)

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		documents: map[int64]models.Document{},
		sessions:  map[int64]models.ChatSession{},
		now:       time.Now,
	}
}

func (c *MemoryClient) id() int64 {
	c.nextID++
	return c.nextID
}

func (c *MemoryClient) Ping(context.Context) error { return nil }
func (c *MemoryClient) Close() error               { return nil }

func (c *MemoryClient) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if doc.Status == "" {
		doc.Status = models.DocumentPending
	}
	doc.ID = c.id()
	doc.CreatedAt = c.now()
	doc.UpdatedAt = doc.CreatedAt
	c.documents[doc.ID] = *doc
	return nil
}

func (c *MemoryClient) GetDocumentByID(_ context.Context, id int64) (*models.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.documents[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (c *MemoryClient) GetTenantDocument(ctx context.Context, tenantID, id int64) (*models.Document, error) {
	d, err := c.GetDocumentByID(ctx, id)
	if err != nil || d == nil || d.TenantID != tenantID {
		return nil, err
	}
	return d, nil
}

func (c *MemoryClient) ListDocumentsByTenant(_ context.Context, tenantID int64) ([]models.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []models.Document{}
	for _, d := range c.documents {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (c *MemoryClient) UpdateDocumentStatus(_ context.Context, id int64, status, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.documents[id]
	if !ok {
		return fmt.Errorf("document not found: %d", id)
	}
	d.Status = status
	d.Error = errMsg
	d.UpdatedAt = c.now()
	c.documents[id] = d
	return nil
}

func (c *MemoryClient) DeleteDocument(_ context.Context, tenantID, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.documents[id]
	if !ok || d.TenantID != tenantID {
		return fmt.Errorf("document not found: %d", id)
	}
	delete(c.documents, id)
	c.chunks = slices.DeleteFunc(c.chunks, func(ch models.DocumentChunk) bool { return ch.DocumentID == id })
	return nil
}

func (c *MemoryClient) InsertDocumentChunks(_ context.Context, chunks []models.DocumentChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range chunks {
		if _, ok := c.documents[ch.DocumentID]; !ok {
			return fmt.Errorf("document not found: %d", ch.DocumentID)
		}
	}
	for _, ch := range chunks {
		ch.ID = c.id()
		ch.CreatedAt = c.now()
		c.chunks = append(c.chunks, ch)
	}
	return nil
}

func (c *MemoryClient) DeleteDocumentChunks(_ context.Context, documentID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chunks = slices.DeleteFunc(c.chunks, func(ch models.DocumentChunk) bool { return ch.DocumentID == documentID })
	return nil
}

func (c *MemoryClient) CountDocumentChunks(_ context.Context, documentID int64) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, ch := range c.chunks {
		if ch.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (c *MemoryClient) SearchTenantChunks(_ context.Context, tenantID int64, queryVec []float32, limit int) ([]models.RetrievedChunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []models.RetrievedChunk{}
	for _, ch := range c.chunks {
		if ch.Embedding == nil {
			continue
		}
		d, ok := c.documents[ch.DocumentID]
		if !ok || d.TenantID != tenantID {
			continue
		}
		out = append(out, models.RetrievedChunk{
			Text:          ch.Text,
			Page:          ch.Page,
			DocumentTitle: d.Title,
			Distance:      cosineDistance(queryVec, ch.Embedding),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cosineDistance matches pgvector's <=> operator.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func (c *MemoryClient) CreateChatSession(_ context.Context, session *models.ChatSession) error {
	if session == nil {
		return errors.New("nil session")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	session.ID = c.id()
	session.CreatedAt = c.now()
	c.sessions[session.ID] = *session
	return nil
}

func (c *MemoryClient) GetChatSession(_ context.Context, tenantID, userID, id int64) (*models.ChatSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sessions[id]
	if !ok || s.TenantID != tenantID || s.UserID != userID {
		return nil, nil
	}
	return &s, nil
}

func (c *MemoryClient) ListChatSessions(_ context.Context, tenantID, userID int64) ([]models.ChatSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []models.ChatSession{}
	for _, s := range c.sessions {
		if s.TenantID == tenantID && s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (c *MemoryClient) AppendChatTurn(_ context.Context, userMsg, assistantMsg *models.ChatMessage, usage *models.UsageRecord) error {
	if userMsg == nil || assistantMsg == nil {
		return errors.New("a turn needs both messages")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range []*models.ChatMessage{userMsg, assistantMsg} {
		if _, ok := c.sessions[m.SessionID]; !ok {
			return fmt.Errorf("session not found: %d", m.SessionID)
		}
	}
	for _, m := range []*models.ChatMessage{userMsg, assistantMsg} {
		m.ID = c.id()
		m.CreatedAt = c.now()
		c.messages = append(c.messages, *m)
	}
	if usage != nil {
		usage.ID = c.id()
		c.usage = append(c.usage, *usage)
	}
	return nil
}

func (c *MemoryClient) GetMessagesBySession(_ context.Context, sessionID int64) ([]models.ChatMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []models.ChatMessage{}
	for _, m := range c.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *MemoryClient) InsertUsage(_ context.Context, rec *models.UsageRecord) error {
	if rec == nil {
		return errors.New("nil usage record")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rec.ID = c.id()
	c.usage = append(c.usage, *rec)
	return nil
}

func (c *MemoryClient) SumUsage(_ context.Context, tenantID, userID int64, from, to time.Time) (models.UsageWindow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var w models.UsageWindow
	for _, r := range c.usage {
		if r.TenantID != tenantID || r.UserID != userID {
			continue
		}
		if r.Timestamp.After(from) && !r.Timestamp.After(to) {
			w.TokensIn += r.TokensIn
			w.TokensOut += r.TokensOut
		}
	}
	return w, nil
}
