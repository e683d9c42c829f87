// Package sqlite is the embedded document repository used when no Postgres DSN is configured.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

const documentColumns = `id, title, pages, raw_text, status, doc_type, confidence, tags, due_date, event_date,
	teacher, subject, grade_level, urgency, summary, classifier_source, error_message, created_at, updated_at`

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path with WAL enabled. A single connection serializes writers.
func Open(ctx context.Context, path string) (*DocumentRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	repo := &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *DocumentRepository) Close() error {
	return r.db.Close()
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	pages TEXT NOT NULL DEFAULT '[]',
	raw_text TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK (status IN ('processing', 'processed', 'failed')),
	doc_type TEXT NOT NULL DEFAULT 'Other',
	confidence REAL NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '[]',
	due_date TEXT NOT NULL DEFAULT '',
	event_date TEXT NOT NULL DEFAULT '',
	teacher TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	grade_level TEXT NOT NULL DEFAULT '',
	urgency TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	classifier_source TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	pagesJSON, err := marshalList(doc.Pages)
	if err != nil {
		return fmt.Errorf("marshal pages: %w", err)
	}
	tagsJSON, err := marshalList(doc.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (id, title, pages, status, doc_type, tags, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, doc.ID, doc.Title, pagesJSON, string(doc.Status), string(doc.DocType), tagsJSON,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
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
WHERE (?1 = '' OR status = ?1) AND (?2 = '' OR doc_type = ?2)
ORDER BY created_at DESC, id DESC
LIMIT ?3
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

func (r *DocumentRepository) MarkProcessed(ctx context.Context, id, rawText string, meta domain.Metadata) error {
	tagsJSON, err := marshalList(meta.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = ?, raw_text = ?, doc_type = ?, confidence = ?, tags = ?, due_date = ?, event_date = ?,
	teacher = ?, subject = ?, grade_level = ?, urgency = ?, summary = ?, classifier_source = ?,
	error_message = '', updated_at = ?
WHERE id = ? AND status = 'processing'
`,
		string(domain.StatusProcessed), rawText, string(meta.DocType), meta.Confidence, tagsJSON,
		meta.Extracted.DueDate, meta.Extracted.EventDate, meta.Extracted.Teacher, meta.Extracted.Subject,
		meta.Extracted.GradeLevel, meta.Extracted.Urgency, meta.Summary, string(meta.Source),
		formatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark document processed: %w", err)
	}
	return r.checkTransition(ctx, "mark document processed", id, res)
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, id, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents SET status = ?, error_message = ?, updated_at = ?
WHERE id = ? AND status = 'processing'
`, string(domain.StatusFailed), errMessage, formatTime(r.now()), id)
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
	err = r.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&status)
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
		pagesRaw, tagsRaw       string
		status, docType, source string
		createdAt, updatedAt    string
	)
	err := row.Scan(
		&doc.ID, &doc.Title, &pagesRaw, &doc.RawText, &status, &docType, &doc.Confidence, &tagsRaw,
		&doc.DueDate, &doc.EventDate, &doc.Teacher, &doc.Subject, &doc.GradeLevel, &doc.Urgency,
		&doc.Summary, &source, &doc.Error, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pagesRaw), &doc.Pages); err != nil {
		return nil, fmt.Errorf("unmarshal pages: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsRaw), &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if doc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if doc.Pages == nil {
		doc.Pages = []string{}
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	doc.Status = domain.DocumentStatus(status)
	doc.DocType = domain.ParseDocType(docType)
	doc.ClassifierSource = domain.ClassificationSource(source)
	return &doc, nil
}

func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	return string(raw), err
}

// Timestamps are fixed-width UTC text so that created_at orders lexically.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
