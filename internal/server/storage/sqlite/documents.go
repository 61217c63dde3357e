package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kiosklab/posbox/internal/server/storage"
)

// AppendDocument upserts the document and appends a change log entry.
// Both writes happen in one transaction: a change is visible to pull iff the
// document state reflects it.
func (s *Storage) AppendDocument(ctx context.Context, collection, docID string, body []byte) error {
	return s.append(ctx, storage.ChangeRecord{
		Collection: collection,
		DocID:      docID,
		Type:       storage.ChangeTypeDocument,
		Body:       body,
	})
}

// AppendDelete marks the document deleted and appends a delete entry.
// Deleting an absent document still appends the entry: clients that saw the
// document through an earlier pull must learn about the deletion.
func (s *Storage) AppendDelete(ctx context.Context, collection, docID string) error {
	return s.append(ctx, storage.ChangeRecord{
		Collection: collection,
		DocID:      docID,
		Type:       storage.ChangeTypeDelete,
	})
}

func (s *Storage) append(ctx context.Context, rec storage.ChangeRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO changes (collection, doc_id, type, body) VALUES (?, ?, ?, ?)`,
		rec.Collection, rec.DocID, rec.Type, rec.Body,
	)
	if err != nil {
		return fmt.Errorf("failed to insert change: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get change seq: %w", err)
	}

	deleted := 0
	if rec.Type == storage.ChangeTypeDelete {
		deleted = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, doc_id, body, deleted, updated_seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, doc_id) DO UPDATE SET
			body = excluded.body,
			deleted = excluded.deleted,
			updated_seq = excluded.updated_seq`,
		rec.Collection, rec.DocID, rec.Body, deleted, seq,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetDocument returns the current body of a live document.
// Returns ErrDocumentNotFound for absent and deleted documents.
func (s *Storage) GetDocument(ctx context.Context, collection, docID string) ([]byte, error) {
	var body []byte
	var deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT body, deleted FROM documents WHERE collection = ? AND doc_id = ?`,
		collection, docID,
	).Scan(&body, &deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if deleted != 0 {
		return nil, storage.ErrDocumentNotFound
	}
	return body, nil
}

// ChangesSince returns up to limit change records with seq > since in
// ascending seq order, and whether more remain.
func (s *Storage) ChangesSince(ctx context.Context, collection string, since int64, limit int) ([]storage.ChangeRecord, bool, error) {
	// Выбираем limit+1 строк: лишняя строка сигнализирует hasMore
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, doc_id, type, body
		FROM changes
		WHERE collection = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?`,
		collection, since, limit+1,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query changes: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []storage.ChangeRecord
	for rows.Next() {
		rec := storage.ChangeRecord{Collection: collection}
		if err := rows.Scan(&rec.Seq, &rec.DocID, &rec.Type, &rec.Body); err != nil {
			return nil, false, fmt.Errorf("failed to scan change: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("rows iteration error: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	return records, hasMore, nil
}
