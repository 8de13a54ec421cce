package models

import (
	"fmt"
	"time"
)

// Document status values. A document only becomes retrievable once it is ready.
const (
	DocumentPending    = "pending"
	DocumentProcessing = "processing"
	DocumentReady      = "ready"
	DocumentFailed     = "failed"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Identity is the verified caller attached to every request after authentication.
type Identity struct {
	TenantID int64 `json:"tenant_id"`
	UserID   int64 `json:"user_id"`
}

// RateKey is the per-identity bucket used by the rate limiter.
func (id Identity) RateKey() string {
	return fmt.Sprintf("user:%d:%d", id.TenantID, id.UserID)
}

// Document is one uploaded PDF owned by a tenant.
type Document struct {
	ID          int64     `db:"id" json:"id"`
	TenantID    int64     `db:"tenant_id" json:"tenant_id"`
	Title       string    `db:"title" json:"title"`
	FileName    string    `db:"file_name" json:"file_name"`
	ObjectKey   string    `db:"object_key" json:"-"`
	ContentType string    `db:"content_type" json:"content_type"`
	Pages       int       `db:"pages" json:"pages"`
	Status      string    `db:"status" json:"status"`
	Error       string    `db:"error" json:"error,omitempty"`
	ChunkCount  int       `db:"-" json:"chunk_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentChunk is a bounded passage of a document page with its embedding.
// Embedding is nil until the chunk has been embedded.
type DocumentChunk struct {
	ID         int64     `db:"id" json:"id"`
	DocumentID int64     `db:"document_id" json:"document_id"`
	Page       int       `db:"page" json:"page"`
	Position   int       `db:"position" json:"position"`
	Text       string    `db:"text" json:"text"`
	Embedding  []float32 `db:"embedding" json:"-"`
	TokenCount int       `db:"token_count" json:"token_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PageText is the extracted text of a single 1-indexed PDF page.
type PageText struct {
	Page int
	Text string
}

// RetrievedChunk is a search hit enriched with its document title.
type RetrievedChunk struct {
	Text          string  `json:"text"`
	Page          int     `json:"page"`
	DocumentTitle string  `json:"document_title"`
	Distance      float64 `json:"distance"`
}

// ChatSession groups the turns of one conversation.
type ChatSession struct {
	ID        int64     `db:"id" json:"id"`
	TenantID  int64     `db:"tenant_id" json:"tenant_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ChatMessage is one side of a turn. User messages carry TokensIn, assistant
// messages carry TokensOut.
type ChatMessage struct {
	ID        int64     `db:"id" json:"id"`
	SessionID int64     `db:"session_id" json:"session_id"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	TokensIn  int       `db:"tokens_in" json:"tokens_in"`
	TokensOut int       `db:"tokens_out" json:"tokens_out"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UsageRecord is an append-only ledger row.
type UsageRecord struct {
	ID        int64     `db:"id" json:"id"`
	TenantID  int64     `db:"tenant_id" json:"tenant_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	TokensIn  int       `db:"tokens_in" json:"tokens_in"`
	TokensOut int       `db:"tokens_out" json:"tokens_out"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// UsageWindow is the token total over one trailing window.
type UsageWindow struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// UsageStats reports the trailing 24 hour and 7 day windows.
type UsageStats struct {
	Window24h UsageWindow `json:"window_24h"`
	Window7d  UsageWindow `json:"window_7d"`
}
