package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/store"
)

// cursorKey returns the meta key holding the pull cursor of a collection.
func cursorKey(collection string) []byte {
	return []byte("cursor:" + collection)
}

// GetCursor returns the persisted pull cursor for collection,
// or "" if the collection has never been pulled.
func (s *Storage) GetCursor(ctx context.Context, collection string) (string, error) {
	var cursor string
	err := s.view(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(cursorKey(collection)); v != nil {
			cursor = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get cursor: %w", err)
	}
	return cursor, nil
}

// ApplyPulled applies a batch of remote changes and persists the new cursor in
// the same transaction. Document writes overwrite unconditionally and deletes
// of absent documents are no-ops, so replaying a batch after a crash is safe.
// The changes are applied directly to the collection and never touch the
// outbox: pulled data must not be pushed back.
func (s *Storage) ApplyPulled(ctx context.Context, collection string, changes []store.Change, cursor string) error {
	bucketName, err := collectionBucket(collection)
	if err != nil {
		return err
	}

	return s.update(ctx, func(tx *bbolt.Tx) error {
		for _, ch := range changes {
			if ch.Type == store.ChangeTypeDelete {
				if err := deleteDocTx(tx, bucketName, collection, ch.ID); err != nil {
					return err
				}
				continue
			}

			// Достаем id из самого документа
			var doc models.Document
			if err := json.Unmarshal(ch.Document, &doc); err != nil {
				return fmt.Errorf("failed to unmarshal pulled document: %w", err)
			}
			id := doc.ID()
			if id == "" {
				return store.ErrMissingID
			}
			if err := putDocTx(tx, bucketName, collection, id, ch.Document); err != nil {
				return err
			}
		}

		if cursor != "" {
			if err := tx.Bucket(bucketMeta).Put(cursorKey(collection), []byte(cursor)); err != nil {
				return fmt.Errorf("failed to persist cursor: %w", err)
			}
		}
		return nil
	})
}
