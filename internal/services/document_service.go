package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/docuchat/internal/logger"
	"github.com/markdave123-py/docuchat/internal/models"
)

const pdfMime = "application/pdf"

var (
	ErrFileTooLarge     = errors.New("file exceeds the upload size limit")
	ErrDocumentNotFound = errors.New("document not found")
)

// ValidationError is an upload the service refused before storing anything.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UploadResult is returned to the uploader before ingestion runs.
type UploadResult struct {
	DocumentID int64 `json:"document_id"`
	ChunkCount int   `json:"chunk_count"`
	ElapsedMS  int64 `json:"elapsed_ms"`
}

// Enqueuer hands a stored document to the background ingestor.
type Enqueuer interface {
	Enqueue(ctx context.Context, job ingestion_engine.Job) error
}

type DocumentService struct {
	db        core.DbClient
	storage   core.ObjectClient
	extractor core.DocumentExtractor
	queue     Enqueuer
	maxBytes  int64
	log       *logrus.Entry
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, extractor core.DocumentExtractor, queue Enqueuer, maxBytes int64) *DocumentService {
	return &DocumentService{
		db:        db,
		storage:   storage,
		extractor: extractor,
		queue:     queue,
		maxBytes:  maxBytes,
		log:       logger.New("documents"),
	}
}

// Upload validates the PDF, stores it, records a pending document and
// schedules ingestion. Extraction problems are reported here, synchronously.
func (s *DocumentService) Upload(ctx context.Context, tenantID int64, filename, title string, data []byte) (*UploadResult, error) {
	start := time.Now()

	filename = filepath.Base(strings.TrimSpace(filename))
	if err := s.validate(filename, data); err != nil {
		return nil, err
	}

	pages, err := s.extractor.Inspect(data)
	if err != nil {
		return nil, &ValidationError{Reason: "unreadable pdf", Err: err}
	}

	key := objectKey(tenantID, uuid.NewString(), filename)
	if _, err := s.storage.UploadFile(ctx, key, data, pdfMime); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	if strings.TrimSpace(title) == "" {
		title = filename
	}
	doc := &models.Document{
		TenantID:    tenantID,
		Title:       strings.TrimSpace(title),
		FileName:    filename,
		ObjectKey:   key,
		ContentType: pdfMime,
		Pages:       pages,
		Status:      models.DocumentPending,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		_ = s.storage.DeleteFile(context.WithoutCancel(ctx), key)
		return nil, fmt.Errorf("create document: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"document_id": doc.ID, "tenant_id": tenantID})
	if err := s.queue.Enqueue(ctx, ingestion_engine.Job{DocumentID: doc.ID, TenantID: tenantID}); err != nil {
		log.WithError(err).Error("failed to schedule ingestion")
		_ = s.db.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, models.DocumentFailed, "could not schedule ingestion")
		return nil, err
	}
	log.WithField("pages", pages).Info("document accepted")

	return &UploadResult{
		DocumentID: doc.ID,
		ChunkCount: 0,
		ElapsedMS:  time.Since(start).Milliseconds(),
	}, nil
}

func (s *DocumentService) validate(filename string, data []byte) error {
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return ErrFileTooLarge
	}
	if len(data) == 0 {
		return &ValidationError{Reason: "empty file"}
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") || docconv.MimeTypeByExtension(filename) != pdfMime {
		return &ValidationError{Reason: "only pdf uploads are accepted"}
	}
	if m := mimetype.Detect(data); !m.Is(pdfMime) {
		return &ValidationError{Reason: fmt.Sprintf("content is %s, not pdf", m.String())}
	}
	return nil
}

// List returns the tenant's documents with their current chunk counts.
func (s *DocumentService) List(ctx context.Context, tenantID int64) ([]models.Document, error) {
	docs, err := s.db.ListDocumentsByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		n, err := s.db.CountDocumentChunks(ctx, docs[i].ID)
		if err != nil {
			return nil, err
		}
		docs[i].ChunkCount = n
	}
	return docs, nil
}

func (s *DocumentService) Get(ctx context.Context, tenantID, id int64) (*models.Document, error) {
	doc, err := s.db.GetTenantDocument(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	n, err := s.db.CountDocumentChunks(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.ChunkCount = n
	return doc, nil
}

// Delete removes the document, its chunks and the stored upload.
func (s *DocumentService) Delete(ctx context.Context, tenantID, id int64) error {
	doc, err := s.db.GetTenantDocument(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if err := s.db.DeleteDocument(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.storage.DeleteFile(ctx, doc.ObjectKey); err != nil {
		s.log.WithError(err).WithField("document_id", id).Warn("stored upload not removed")
	}
	return nil
}

// objectKey creates a consistent storage key layout.
func objectKey(tenantID int64, id, filename string) string {
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("tenants", strconv.FormatInt(tenantID, 10), "documents", id, filename)
}
