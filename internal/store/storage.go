// Package store defines the storage interfaces of the offline data layer.
// The bbolt implementation lives in the boltdb subpackage.
package store

import (
	"context"

	"github.com/kiosklab/posbox/internal/models"
)

// DocumentStorage is the transactional document transport used by the offline
// data store. Every mutating call that carries a non-nil *models.OutboxOp
// writes the document mutation and the outbox entry in one atomic transaction.
type DocumentStorage interface {
	// SaveDocument writes doc into collection and appends op to the outbox.
	SaveDocument(ctx context.Context, collection string, doc models.Document, op *models.OutboxOp) error

	// GetDocument retrieves a document by id.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, collection, id string) (models.Document, error)

	// DeleteDocument removes a document and appends op to the outbox.
	// Deleting an absent document is not an error (deletes are idempotent).
	DeleteDocument(ctx context.Context, collection, id string, op *models.OutboxOp) error

	// SaveOrder writes the order, all of its line items and op atomically.
	SaveOrder(ctx context.Context, order *models.Order, items []models.OrderItem, op *models.OutboxOp) error

	// UpdateOrderStatus loads the order, writes the new status and updatedAt,
	// and appends op, all in a single read-write transaction.
	// Returns ErrNotFound if the order doesn't exist; nothing is written then.
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, updatedAt int64, op *models.OutboxOp) error

	// RecentOrders returns up to limit orders, most recently updated first.
	RecentOrders(ctx context.Context, limit int) ([]models.Order, error)

	// OrderItems returns all line items referencing orderID.
	OrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)

	// ProductsByPrefix returns products whose name matches prefix
	// case-insensitively, in index key order.
	ProductsByPrefix(ctx context.Context, prefix string) ([]models.Product, error)
}

// OutboxStorage is the outbox view used by the sync engine's push phase.
type OutboxStorage interface {
	// OutboxBatch returns up to limit pending operations ordered by createdAt
	// (ties broken by op id).
	OutboxBatch(ctx context.Context, limit int) ([]models.OutboxOp, error)

	// DeleteOutboxOps removes exactly the given operations in one transaction.
	// Called only after the batch was acknowledged by the server.
	DeleteOutboxOps(ctx context.Context, ops []models.OutboxOp) error

	// OutboxCount returns the number of pending operations.
	OutboxCount(ctx context.Context) (int, error)
}

// PullStorage is the cursor-and-apply view used by the sync engine's pull phase.
type PullStorage interface {
	// GetCursor returns the persisted cursor for collection, or "" if the
	// collection has never been pulled.
	GetCursor(ctx context.Context, collection string) (string, error)

	// ApplyPulled applies a batch of remote changes and persists the new
	// cursor in the same transaction, so a crash can never leave the cursor
	// ahead of the applied documents. Applying the same batch twice is
	// idempotent.
	ApplyPulled(ctx context.Context, collection string, changes []Change, cursor string) error
}

// JobStorage is the print job view used by the background job processor.
type JobStorage interface {
	// SaveJob creates or overwrites a job record.
	SaveJob(ctx context.Context, job *models.PrintJob) error

	// DeleteJob removes a job. Deleting an absent job is not an error.
	DeleteJob(ctx context.Context, id string) error

	// QueuedJobs returns all jobs with status queued, in unspecified order.
	QueuedJobs(ctx context.Context) ([]models.PrintJob, error)

	// CountJobsByStatus returns the number of jobs per status.
	CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}
