package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/kiosklab/posbox/internal/models"
)

// outboxKey строит ключ записи outbox: createdAt с ведущими нулями плюс id.
// Естественный порядок ключей bbolt дает порядок по createdAt, с
// детерминированным разрешением коллизий временных меток по id.
func outboxKey(op *models.OutboxOp) []byte {
	return []byte(fmt.Sprintf("%013d.%s", op.CreatedAt, op.ID))
}

// appendOpTx добавляет операцию в outbox внутри уже открытой транзакции.
func appendOpTx(tx *bbolt.Tx, op *models.OutboxOp) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox op: %w", err)
	}
	if err := tx.Bucket(bucketOutbox).Put(outboxKey(op), data); err != nil {
		return fmt.Errorf("failed to append outbox op: %w", err)
	}
	return nil
}

// OutboxBatch returns up to limit pending operations in createdAt order.
func (s *Storage) OutboxBatch(ctx context.Context, limit int) ([]models.OutboxOp, error) {
	var ops []models.OutboxOp
	err := s.view(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketOutbox).Cursor()
		for k, v := c.First(); k != nil && len(ops) < limit; k, v = c.Next() {
			var op models.OutboxOp
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal outbox op: %w", err)
			}
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox batch: %w", err)
	}
	return ops, nil
}

// DeleteOutboxOps removes exactly the given operations in one transaction.
func (s *Storage) DeleteOutboxOps(ctx context.Context, ops []models.OutboxOp) error {
	if len(ops) == 0 {
		return nil
	}
	return s.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		for i := range ops {
			if err := bucket.Delete(outboxKey(&ops[i])); err != nil {
				return fmt.Errorf("failed to delete outbox op: %w", err)
			}
		}
		return nil
	})
}

// OutboxCount returns the number of pending operations.
func (s *Storage) OutboxCount(ctx context.Context) (int, error) {
	var count int
	err := s.view(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketOutbox).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return count, nil
}
