// Package pos implements the offline data store: the authoritative local data
// layer of the point-of-sale client. Every mutation is committed together with
// an outbox operation describing it, so the sync engine can replay local
// changes against the remote authority later.
package pos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiosklab/posbox/internal/events"
	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/store"
)

// EventChange is emitted on every successful mutation.
const EventChange = "change"

// Change event types.
const (
	ChangePut    = "put"
	ChangeCreate = "create"
	ChangeDelete = "delete"
	ChangeStatus = "status"
)

// Change is the payload of an EventChange notification.
type Change struct {
	Collection string
	Type       string
	ID         string
	Doc        models.Document    // set for put and create
	Status     models.OrderStatus // set for status
}

// OrderLine is one position of a new order.
type OrderLine struct {
	Product models.Product
	Qty     int
}

// OrderTotals carries the pre-computed totals of a new order.
type OrderTotals struct {
	Subtotal int64 // cents
}

// CreateOrderParams describes a new order.
type CreateOrderParams struct {
	Items  []OrderLine
	Note   string
	Totals OrderTotals
}

// Store is the offline data store. All methods are safe for concurrent use.
type Store struct {
	storage store.DocumentStorage
	events  *events.Bus
	cache   *docCache
	logger  *slog.Logger
	now     func() int64 // unix milliseconds, replaceable in tests
}

// New creates a store on top of the given document storage.
func New(storage store.DocumentStorage, logger *slog.Logger) *Store {
	return &Store{
		storage: storage,
		events:  events.NewBus(logger),
		cache:   newDocCache(defaultCacheSize),
		logger:  logger,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// On registers a change observer and returns an unsubscribe function.
// Handler failures are isolated and never reach the mutating caller.
func (s *Store) On(eventName string, handler events.Handler) func() {
	return s.events.On(eventName, handler)
}

// Put stamps updatedAt, writes the document and an upsert outbox entry in one
// atomic transaction, refreshes the read cache and emits a change event.
// A document without an id gets a generated one.
func (s *Store) Put(ctx context.Context, collection string, doc models.Document) (models.Document, error) {
	now := s.now()

	// Копируем документ: вход не мутируем
	stamped := make(models.Document, len(doc)+2)
	for k, v := range doc {
		stamped[k] = v
	}
	if stamped.ID() == "" {
		stamped["id"] = uuid.New().String()
	}
	stamped["updatedAt"] = now
	id := stamped.ID()

	payload, err := json.Marshal(stamped)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	op := &models.OutboxOp{
		ID:         uuid.New().String(),
		Collection: collection,
		OpType:     models.OpUpsert,
		DocID:      id,
		Payload:    payload,
		CreatedAt:  now,
	}

	if err := s.storage.SaveDocument(ctx, collection, stamped, op); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	s.cache.Set(collection, id, stamped)
	s.events.Emit(EventChange, Change{Collection: collection, Type: ChangePut, ID: id, Doc: stamped})
	return stamped, nil
}

// CreateOrder synthesizes an order id, builds the order and its line items and
// writes all of them plus one create outbox op atomically. The order starts in
// status pending.
func (s *Store) CreateOrder(ctx context.Context, params CreateOrderParams) (*models.Order, []models.OrderItem, error) {
	now := s.now()
	orderID := "o_" + uuid.New().String()

	order := &models.Order{
		ID:        orderID,
		Status:    models.OrderStatusPending,
		Note:      params.Note,
		Subtotal:  params.Totals.Subtotal,
		CreatedAt: now,
		UpdatedAt: now,
	}

	items := make([]models.OrderItem, 0, len(params.Items))
	for _, line := range params.Items {
		items = append(items, models.OrderItem{
			ID:        orderID + "_" + line.Product.ID,
			OrderID:   orderID,
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Price:     line.Product.Price,
			Qty:       line.Qty,
		})
	}

	payload, err := json.Marshal(models.CreatePayload{Order: *order, OrderItems: items})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal order payload: %w", err)
	}

	op := &models.OutboxOp{
		ID:         uuid.New().String(),
		Collection: models.CollectionOrders,
		OpType:     models.OpCreate,
		DocID:      orderID,
		Payload:    payload,
		CreatedAt:  now,
	}

	if err := s.storage.SaveOrder(ctx, order, items, op); err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.events.Emit(EventChange, Change{
		Collection: models.CollectionOrders,
		Type:       ChangeCreate,
		ID:         orderID,
		Doc:        orderDocument(order),
	})
	return order, items, nil
}

// Get returns a document, cache-first with read-through.
// Returns store.ErrNotFound if the document doesn't exist.
func (s *Store) Get(ctx context.Context, collection, id string) (models.Document, error) {
	if doc, ok := s.cache.Get(collection, id); ok {
		return doc, nil
	}

	doc, err := s.storage.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(collection, id, doc)
	return doc, nil
}

// QueryProductsByPrefix returns products whose name matches prefix
// case-insensitively, ordered by the name index.
func (s *Store) QueryProductsByPrefix(ctx context.Context, prefix string) ([]models.Product, error) {
	return s.storage.ProductsByPrefix(ctx, prefix)
}

// Delete removes the document and logs a delete outbox op atomically, evicts
// the cache entry and emits a change event.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	now := s.now()
	op := &models.OutboxOp{
		ID:         uuid.New().String(),
		Collection: collection,
		OpType:     models.OpDelete,
		DocID:      id,
		CreatedAt:  now,
	}

	if err := s.storage.DeleteDocument(ctx, collection, id, op); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	s.cache.Evict(collection, id)
	s.events.Emit(EventChange, Change{Collection: collection, Type: ChangeDelete, ID: id})
	return nil
}

// Update is a read-modify-write convenience. The read and the write run in two
// separate transactions, so concurrent writers may race and the last write
// wins; callers that need stronger guarantees must not use Update.
// A missing document is passed to mutate as {id: id}.
func (s *Store) Update(ctx context.Context, collection, id string, mutate func(models.Document) models.Document) (models.Document, error) {
	current, err := s.Get(ctx, collection, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		current = models.Document{}
	}

	base := make(models.Document, len(current)+1)
	for k, v := range current {
		base[k] = v
	}
	base["id"] = id

	return s.Put(ctx, collection, mutate(base))
}

// UpdateOrderStatus writes the new status inside a single read-write
// transaction together with an update outbox op.
// Returns store.ErrNotFound if the order is absent; nothing is logged then.
// The status value is not validated: forward-only progression is a caller
// responsibility.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, next models.OrderStatus) error {
	now := s.now()

	payload, err := json.Marshal(models.UpdatePayload{Status: next, UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal status payload: %w", err)
	}

	op := &models.OutboxOp{
		ID:         uuid.New().String(),
		Collection: models.CollectionOrders,
		OpType:     models.OpUpdate,
		DocID:      orderID,
		Payload:    payload,
		CreatedAt:  now,
	}

	if err := s.storage.UpdateOrderStatus(ctx, orderID, next, now, op); err != nil {
		return err
	}

	s.cache.Evict(models.CollectionOrders, orderID)
	s.events.Emit(EventChange, Change{
		Collection: models.CollectionOrders,
		Type:       ChangeStatus,
		ID:         orderID,
		Status:     next,
	})
	return nil
}

// GetRecentOrders returns up to limit orders, most recently updated first.
func (s *Store) GetRecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	return s.storage.RecentOrders(ctx, limit)
}

// GetOrderItems returns all line items of an order.
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return s.storage.OrderItems(ctx, orderID)
}

// CacheStats returns read cache hit/miss counters.
func (s *Store) CacheStats() (hits, misses uint64) {
	return s.cache.Stats()
}

// orderDocument renders an order as a generic document for change events.
func orderDocument(order *models.Order) models.Document {
	return models.Document{
		"id":        order.ID,
		"status":    string(order.Status),
		"note":      order.Note,
		"subtotal":  order.Subtotal,
		"createdAt": order.CreatedAt,
		"updatedAt": order.UpdatedAt,
	}
}
