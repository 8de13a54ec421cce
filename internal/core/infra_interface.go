package core

import (
	"context"
	"time"

	"github.com/markdave123-py/docuchat/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
// Lookups return (nil, nil) when the row does not exist.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id int64) (*models.Document, error)
	GetTenantDocument(ctx context.Context, tenantID, id int64) (*models.Document, error)
	ListDocumentsByTenant(ctx context.Context, tenantID int64) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id int64, status, errMsg string) error
	DeleteDocument(ctx context.Context, tenantID, id int64) error

	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	DeleteDocumentChunks(ctx context.Context, documentID int64) error
	CountDocumentChunks(ctx context.Context, documentID int64) (int, error)
	SearchTenantChunks(ctx context.Context, tenantID int64, queryVec []float32, limit int) ([]models.RetrievedChunk, error)

	CreateChatSession(ctx context.Context, session *models.ChatSession) error
	GetChatSession(ctx context.Context, tenantID, userID, id int64) (*models.ChatSession, error)
	ListChatSessions(ctx context.Context, tenantID, userID int64) ([]models.ChatSession, error)
	AppendChatTurn(ctx context.Context, userMsg, assistantMsg *models.ChatMessage, usage *models.UsageRecord) error
	GetMessagesBySession(ctx context.Context, sessionID int64) ([]models.ChatMessage, error)

	InsertUsage(ctx context.Context, rec *models.UsageRecord) error
	SumUsage(ctx context.Context, tenantID, userID int64, from, to time.Time) (models.UsageWindow, error)

	Ping(ctx context.Context) error
	Close() error
}

// ObjectClient stores raw uploads. Implementations are bound to one bucket.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error
}
