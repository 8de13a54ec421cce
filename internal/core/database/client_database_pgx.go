package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/docuchat/internal/config"
	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/models"
)

// defaultSearchProbes is sqrt of the ivfflat list count in initdb.sql.
const defaultSearchProbes = 10

type DatabaseClient struct {
	db     *sql.DB
	probes int
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	probes := cfg.SearchProbes
	if probes <= 0 {
		probes = defaultSearchProbes
	}
	return &DatabaseClient{db: db, probes: probes}, nil
}

func (c *DatabaseClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Documents

const documentColumns = `id, tenant_id, title, file_name, object_key, content_type, pages, status, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.TenantID, &d.Title, &d.FileName, &d.ObjectKey, &d.ContentType,
		&d.Pages, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.Status == "" {
		doc.Status = models.DocumentPending
	}
	const q = `
		INSERT INTO documents (tenant_id, title, file_name, object_key, content_type, pages, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	return c.db.QueryRowContext(ctx, q,
		doc.TenantID, doc.Title, doc.FileName, doc.ObjectKey, doc.ContentType, doc.Pages, doc.Status,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id int64) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (c *DatabaseClient) GetTenantDocument(ctx context.Context, tenantID, id int64) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND tenant_id = $2`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (c *DatabaseClient) ListDocumentsByTenant(ctx context.Context, tenantID int64) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := c.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id int64, status, errMsg string) error {
	const q = `
		UPDATE documents
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, errMsg)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %d", id)
	}
	return nil
}

// DeleteDocument removes the document and, through the foreign key, its chunks.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, tenantID, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %d", id)
	}
	return nil
}

// Chunks

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks (document_id, page, position, text, embedding, token_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		var vec *pgvector.Vector
		if ch.Embedding != nil {
			v := pgvector.NewVector(ch.Embedding)
			vec = &v
		}
		if _, err := stmt.ExecContext(ctx,
			ch.DocumentID, ch.Page, ch.Position, ch.Text, vec, ch.TokenCount,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if usage != nil {
		if err := tx.QueryRowContext(ctx, insertUsageSQL,
			usage.TenantID, usage.UserID, usage.TokensIn, usage.TokensOut, usage.Timestamp).Scan(&usage.ID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteDocumentChunks(ctx context.Context, documentID int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	return err
}

func (c *DatabaseClient) CountDocumentChunks(ctx context.Context, documentID int64) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

// SearchTenantChunks returns the limit chunks nearest to queryVec by cosine
// distance, restricted to the tenant's documents in the same statement.
//
// The tenant filter runs after the ivfflat scan, so a tenant whose chunks sit
// outside the probed lists can come back short. The search widens the probe
// count for its transaction and, if it still has fewer than limit rows,
// repeats the query as an exact scan.
func (c *DatabaseClient) SearchTenantChunks(ctx context.Context, tenantID int64, queryVec []float32, limit int) ([]models.RetrievedChunk, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT set_config('ivfflat.probes', $1, true)`, strconv.Itoa(c.probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}
	vec := pgvector.NewVector(queryVec)
	out, err := searchChunks(ctx, tx, vec, tenantID, limit)
	if err != nil {
		return nil, err
	}

	if len(out) < limit {
		if _, err := tx.ExecContext(ctx, `SELECT set_config('enable_indexscan', 'off', true)`); err != nil {
			return nil, fmt.Errorf("disable index scan: %w", err)
		}
		if out, err = searchChunks(ctx, tx, vec, tenantID, limit); err != nil {
			return nil, err
		}
	}
	return out, tx.Commit()
}

func searchChunks(ctx context.Context, tx *sql.Tx, vec pgvector.Vector, tenantID int64, limit int) ([]models.RetrievedChunk, error) {
	const q = `
		SELECT c.text, c.page, d.title, c.embedding <=> $1 AS distance
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.tenant_id = $2
		  AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1
		LIMIT $3
	`
	rows, err := tx.QueryContext(ctx, q, vec, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.RetrievedChunk{}
	for rows.Next() {
		var rc models.RetrievedChunk
		if err := rows.Scan(&rc.Text, &rc.Page, &rc.DocumentTitle, &rc.Distance); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// Chat

func (c *DatabaseClient) CreateChatSession(ctx context.Context, session *models.ChatSession) error {
	if session == nil {
		return errors.New("nil session")
	}
	const q = `INSERT INTO chat_sessions (tenant_id, user_id) VALUES ($1, $2) RETURNING id, created_at`
	return c.db.QueryRowContext(ctx, q, session.TenantID, session.UserID).Scan(&session.ID, &session.CreatedAt)
}

func (c *DatabaseClient) GetChatSession(ctx context.Context, tenantID, userID, id int64) (*models.ChatSession, error) {
	const q = `
		SELECT id, tenant_id, user_id, created_at
		FROM chat_sessions
		WHERE id = $1 AND tenant_id = $2 AND user_id = $3
	`
	var s models.ChatSession
	err := c.db.QueryRowContext(ctx, q, id, tenantID, userID).Scan(&s.ID, &s.TenantID, &s.UserID, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *DatabaseClient) ListChatSessions(ctx context.Context, tenantID, userID int64) ([]models.ChatSession, error) {
	const q = `
		SELECT id, tenant_id, user_id, created_at
		FROM chat_sessions
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at DESC, id DESC
	`
	rows, err := c.db.QueryContext(ctx, q, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ChatSession{}
	for rows.Next() {
		var s models.ChatSession
		if err := rows.Scan(&s.ID, &s.TenantID, &s.UserID, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AppendChatTurn writes the user and assistant messages of one turn and its
// usage row in a single transaction. A nil usage writes the messages only.
func (c *DatabaseClient) AppendChatTurn(ctx context.Context, userMsg, assistantMsg *models.ChatMessage, usage *models.UsageRecord) error {
	if userMsg == nil || assistantMsg == nil {
		return errors.New("a turn needs both messages")
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO messages (session_id, role, content, tokens_in, tokens_out)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	for _, m := range []*models.ChatMessage{userMsg, assistantMsg} {
		if err := tx.QueryRowContext(ctx, q, m.SessionID, m.Role, m.Content, m.TokensIn, m.TokensOut).
			Scan(&m.ID, &m.CreatedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetMessagesBySession(ctx context.Context, sessionID int64) ([]models.ChatMessage, error) {
	const q = `
		SELECT id, session_id, role, content, tokens_in, tokens_out, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY id ASC
	`
	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.TokensIn, &m.TokensOut, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Usage

const insertUsageSQL = `
	INSERT INTO usage_records (tenant_id, user_id, tokens_in, tokens_out, "timestamp")
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id
`

func (c *DatabaseClient) InsertUsage(ctx context.Context, rec *models.UsageRecord) error {
	if rec == nil {
		return errors.New("nil usage record")
	}
	return c.db.QueryRowContext(ctx, insertUsageSQL, rec.TenantID, rec.UserID, rec.TokensIn, rec.TokensOut, rec.Timestamp).Scan(&rec.ID)
}

// SumUsage totals the ledger rows stamped in (from, to].
func (c *DatabaseClient) SumUsage(ctx context.Context, tenantID, userID int64, from, to time.Time) (models.UsageWindow, error) {
	const q = `
		SELECT COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND user_id = $2
		  AND "timestamp" > $3 AND "timestamp" <= $4
	`
	var w models.UsageWindow
	err := c.db.QueryRowContext(ctx, q, tenantID, userID, from, to).Scan(&w.TokensIn, &w.TokensOut)
	return w, err
}
