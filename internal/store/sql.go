package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docfill/internal/models"
)

// SQLStore persists documents through database/sql. The schema is created
// by storage.Migrate. Mutate holds an in-process lock per document and a
// database row lock, so several processes may share one database.
type SQLStore struct {
	db    *sql.DB
	locks *keyedMutex
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, locks: newKeyedMutex()}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) Create(ctx context.Context, doc *models.Document) error {
	if err := validateNew(doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, filename, original_content, file_path, status, created_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.OriginalContent, doc.FilePath, string(doc.Status), doc.CreatedAt, nullTime(doc.CompletedAt),
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if err := insertFields(ctx, tx, doc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create document: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Document, error) {
	return load(ctx, s.db, id)
}

func (s *SQLStore) List(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	out := make([]*models.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := load(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *SQLStore) Mutate(ctx context.Context, id string, fn func(doc *models.Document) error) (*models.Document, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mutate document: %w", err)
	}
	defer tx.Rollback()

	// Take the row write lock before reading so writers from other processes
	// queue here instead of committing over each other's snapshot. On MySQL
	// this locks the documents row; on sqlite it acquires the reserved lock.
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET status = status WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("lock document: %w", err)
	}
	working, err := load(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = id

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET filename = ?, original_content = ?, file_path = ?, status = ?, completed_at = ? WHERE id = ?`,
		working.Filename, working.OriginalContent, working.FilePath, string(working.Status), nullTime(working.CompletedAt), id,
	); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE document_id = ?`, id); err != nil {
		return nil, fmt.Errorf("replace fields: %w", err)
	}
	if err := insertFields(ctx, tx, working); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mutate document: %w", err)
	}
	return working.Clone(), nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if err := exists(ctx, s.db, msg.DocumentID); err != nil {
		return err
	}
	var fieldID sql.NullString
	if msg.FieldID != nil {
		fieldID = sql.NullString{String: *msg.FieldID, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, document_id, role, content, field_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.DocumentID, string(msg.Role), msg.Content, fieldID, msg.Timestamp,
	); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (s *SQLStore) Messages(ctx context.Context, documentID string) ([]*models.ChatMessage, error) {
	if err := exists(ctx, s.db, documentID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, field_id, created_at FROM chat_messages WHERE document_id = ? ORDER BY seq ASC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatMessage
	for rows.Next() {
		var (
			msg     models.ChatMessage
			role    string
			fieldID sql.NullString
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &fieldID, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if msg.Role, err = models.ParseRole(role); err != nil {
			return nil, err
		}
		if fieldID.Valid {
			v := fieldID.String
			msg.FieldID = &v
		}
		msg.DocumentID = documentID
		out = append(out, &msg)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func exists(ctx context.Context, q querier, id string) error {
	var found string
	err := q.QueryRowContext(ctx, `SELECT id FROM documents WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("lookup document: %w", err)
	}
	return nil
}

func load(ctx context.Context, q querier, id string) (*models.Document, error) {
	var (
		doc         models.Document
		status      string
		completedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, filename, original_content, file_path, status, created_at, completed_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.Filename, &doc.OriginalContent, &doc.FilePath, &status, &doc.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc.Status, err = models.ParseDocumentStatus(status); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		at := completedAt.Time
		doc.CompletedAt = &at
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, name, placeholder, occurrence_index, value, status, ord, type FROM fields WHERE document_id = ? ORDER BY ord ASC, id ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("load fields: %w", err)
	}
	defer rows.Close()
	doc.Fields = make([]models.Field, 0)
	for rows.Next() {
		var (
			f           models.Field
			value       sql.NullString
			fieldStatus string
			fieldType   string
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.Placeholder, &f.OccurrenceIndex, &value, &fieldStatus, &f.Order, &fieldType); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		if f.Status, err = models.ParseFieldStatus(fieldStatus); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.String
			f.Value = &v
		}
		f.Type = models.FieldType(fieldType)
		f.DocumentID = id
		doc.Fields = append(doc.Fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load fields: %w", err)
	}
	return &doc, nil
}

func insertFields(ctx context.Context, q querier, doc *models.Document) error {
	for _, f := range doc.Fields {
		var value sql.NullString
		if f.Value != nil {
			value = sql.NullString{String: *f.Value, Valid: true}
		}
		fieldType := f.Type
		if fieldType == "" {
			fieldType = models.FieldText
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO fields (document_id, id, name, placeholder, occurrence_index, value, status, ord, type) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, f.ID, f.Name, f.Placeholder, f.OccurrenceIndex, value, string(f.Status), f.Order, string(fieldType),
		); err != nil {
			return fmt.Errorf("insert field %s: %w", f.ID, err)
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
