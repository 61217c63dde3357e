package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/store"
)

// SaveOrder writes the order, every line item and the outbox op in one
// atomic transaction.
func (s *Storage) SaveOrder(ctx context.Context, order *models.Order, items []models.OrderItem, op *models.OutboxOp) error {
	orderData, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	itemData := make([][]byte, 0, len(items))
	for i := range items {
		data, err := json.Marshal(&items[i])
		if err != nil {
			return fmt.Errorf("failed to marshal order item: %w", err)
		}
		itemData = append(itemData, data)
	}

	return s.update(ctx, func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketOrders).Put([]byte(order.ID), orderData); err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
		itemsBucket := tx.Bucket(bucketOrderItems)
		for i := range items {
			if err := itemsBucket.Put([]byte(items[i].ID), itemData[i]); err != nil {
				return fmt.Errorf("failed to save order item: %w", err)
			}
		}
		if op != nil {
			return appendOpTx(tx, op)
		}
		return nil
	})
}

// UpdateOrderStatus loads the order, writes the new status and updatedAt and
// appends the outbox op, all inside a single read-write transaction.
// Returns store.ErrNotFound (and writes nothing) if the order is absent.
func (s *Storage) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, updatedAt int64, op *models.OutboxOp) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketOrders)

		data := bucket.Get([]byte(orderID))
		if data == nil {
			return store.ErrNotFound
		}

		var order models.Order
		if err := json.Unmarshal(data, &order); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}

		order.Status = status
		order.UpdatedAt = updatedAt

		updated, err := json.Marshal(&order)
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		if err := bucket.Put([]byte(orderID), updated); err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}

		if op != nil {
			return appendOpTx(tx, op)
		}
		return nil
	})
}

// RecentOrders returns up to limit orders ordered by updatedAt descending.
// Ties are broken by id for a deterministic order.
func (s *Storage) RecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOrders).ForEach(func(k, v []byte) error {
			var order models.Order
			if err := json.Unmarshal(v, &order); err != nil {
				return fmt.Errorf("failed to unmarshal order: %w", err)
			}
			orders = append(orders, order)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get recent orders: %w", err)
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].UpdatedAt != orders[j].UpdatedAt {
			return orders[i].UpdatedAt > orders[j].UpdatedAt
		}
		return orders[i].ID < orders[j].ID
	})

	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// OrderItems returns all line items whose orderId matches.
func (s *Storage) OrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOrderItems).ForEach(func(k, v []byte) error {
			var item models.OrderItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to unmarshal order item: %w", err)
			}
			if item.OrderID == orderID {
				items = append(items, item)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	return items, nil
}
