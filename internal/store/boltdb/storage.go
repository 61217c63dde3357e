// Package boltdb implements the local durable storage on top of bbolt.
package boltdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.etcd.io/bbolt"

	"github.com/kiosklab/posbox/internal/store"
)

var (
	// BoltDB bucket names
	bucketProducts     = []byte("products")
	bucketOrders       = []byte("orders")
	bucketOrderItems   = []byte("order_items")
	bucketOutbox       = []byte("outbox")
	bucketPrintJobs    = []byte("print_jobs")
	bucketMeta         = []byte("meta")
	bucketProductsName = []byte("idx_products_name")
)

// Transaction retry budget: a transient commit failure is retried up to
// txRetries times with a linear 100ms·attempt delay before surfacing.
const (
	txRetries   = 2
	txRetryStep = 100 * time.Millisecond
)

// Storage represents the bbolt storage implementation for the POS client.
// It implements store.DocumentStorage, store.OutboxStorage, store.PullStorage
// and store.JobStorage.
type Storage struct {
	db *bbolt.DB
}

// New creates a new bbolt storage instance.
// dbPath is the path to the database file.
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{db: db}

	// Инициализируем buckets
	if err := storage.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		all := [][]byte{
			bucketProducts,
			bucketOrders,
			bucketOrderItems,
			bucketOutbox,
			bucketPrintJobs,
			bucketMeta,
			bucketProductsName,
		}
		for _, name := range all {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// collectionBucket maps a collection name to its bucket name.
func collectionBucket(collection string) ([]byte, error) {
	switch collection {
	case "products":
		return bucketProducts, nil
	case "orders":
		return bucketOrders, nil
	case "order_items":
		return bucketOrderItems, nil
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
}

// update запускает read-write транзакцию с ограниченным числом повторов.
// Каждая неудачная попытка повторяется с линейной задержкой 100ms·attempt.
func (s *Storage) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if s.db == nil {
		return store.ErrStorageClosed
	}

	attempt := 0
	b := retry.WithMaxRetries(txRetries, retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * txRetryStep, false
	}))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := s.db.Update(fn); err != nil {
			// Доменные ошибки не лечатся повтором
			if errors.Is(err, store.ErrNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

// view запускает read-only транзакцию.
func (s *Storage) view(fn func(tx *bbolt.Tx) error) error {
	if s.db == nil {
		return store.ErrStorageClosed
	}
	return s.db.View(fn)
}
