package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

const schemaLockID int64 = 2026101601

const documentColumns = `id, title, pages, raw_text, status, doc_type, confidence, tags, due_date, event_date,
	teacher, subject, grade_level, urgency, summary, classifier_source, error_message, created_at, updated_at`

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	pages JSONB NOT NULL DEFAULT '[]'::jsonb,
	raw_text TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK (status IN ('processing', 'processed', 'failed')),
	doc_type TEXT NOT NULL DEFAULT 'Other',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	due_date TEXT NOT NULL DEFAULT '',
	event_date TEXT NOT NULL DEFAULT '',
	teacher TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	grade_level TEXT NOT NULL DEFAULT '',
	urgency TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	classifier_source TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_doc_type ON documents(doc_type);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	pagesJSON, err := json.Marshal(nonNil(doc.Pages))
	if err != nil {
		return fmt.Errorf("marshal pages: %w", err)
	}
	tagsJSON, err := json.Marshal(nonNil(doc.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, title, pages, status, doc_type, tags, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		doc.ID, doc.Title, pagesJSON, string(doc.Status), string(doc.DocType), tagsJSON, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE ($1 = '' OR status = $1) AND ($2 = '' OR doc_type = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3
`, string(filter.Status), string(filter.DocType), filter.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// MarkProcessed is a conditional update: only a document still in processing is written.
func (r *DocumentRepository) MarkProcessed(ctx context.Context, id, rawText string, meta domain.Metadata) error {
	tagsJSON, err := json.Marshal(nonNil(meta.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, raw_text = $3, doc_type = $4, confidence = $5, tags = $6, due_date = $7, event_date = $8,
	teacher = $9, subject = $10, grade_level = $11, urgency = $12, summary = $13, classifier_source = $14,
	error_message = '', updated_at = $15
WHERE id = $1 AND status = 'processing'
`,
		id, string(domain.StatusProcessed), rawText, string(meta.DocType), meta.Confidence, tagsJSON,
		meta.Extracted.DueDate, meta.Extracted.EventDate, meta.Extracted.Teacher, meta.Extracted.Subject,
		meta.Extracted.GradeLevel, meta.Extracted.Urgency, meta.Summary, string(meta.Source), r.now(),
	)
	if err != nil {
		return fmt.Errorf("mark document processed: %w", err)
	}
	return r.checkTransition(ctx, "mark document processed", id, res)
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, id, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1 AND status = 'processing'
`, id, string(domain.StatusFailed), errMessage, r.now())
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return r.checkTransition(ctx, "mark document failed", id, res)
}

func (r *DocumentRepository) checkTransition(ctx context.Context, op, id string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("%s lookup status: %w", op, err)
	}
	return domain.WrapError(domain.ErrInvalidTransition, op, fmt.Errorf("id=%s status=%s", id, status))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc                     domain.Document
		pagesRaw, tagsRaw       []byte
		status, docType, source string
	)
	err := row.Scan(
		&doc.ID, &doc.Title, &pagesRaw, &doc.RawText, &status, &docType, &doc.Confidence, &tagsRaw,
		&doc.DueDate, &doc.EventDate, &doc.Teacher, &doc.Subject, &doc.GradeLevel, &doc.Urgency,
		&doc.Summary, &source, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pagesRaw, &doc.Pages); err != nil {
		return nil, fmt.Errorf("unmarshal pages: %w", err)
	}
	if err := json.Unmarshal(tagsRaw, &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	doc.Pages = nonNil(doc.Pages)
	doc.Tags = nonNil(doc.Tags)
	doc.Status = domain.DocumentStatus(status)
	doc.DocType = domain.ParseDocType(docType)
	doc.ClassifierSource = domain.ClassificationSource(source)
	return &doc, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
