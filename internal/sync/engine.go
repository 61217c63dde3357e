// Package sync implements the reconciliation engine between the local outbox
// and the remote authority: push local operations in order, pull remote
// changes per collection cursor, retry with exponential backoff.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiosklab/posbox/internal/backoff"
	"github.com/kiosklab/posbox/internal/events"
	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/store"
	"github.com/kiosklab/posbox/pkg/api"
)

// DefaultBatchSize bounds one push transmission and one pull request.
const DefaultBatchSize = 50

// Engine events.
const (
	EventPush     = "sync:push"
	EventPull     = "sync:pull"
	EventComplete = "sync:complete"
	EventError    = "sync:error"
)

// PushEvent is emitted before transmitting an outbox batch.
type PushEvent struct {
	Batch int
}

// PullEvent is emitted before fetching a pull batch.
type PullEvent struct {
	Collection string
	Cursor     string
}

// CompleteEvent is emitted after a successful pass.
type CompleteEvent struct {
	Pushed int
	Pulled int
}

// ErrorEvent is emitted when a push or pull phase fails.
type ErrorEvent struct {
	Phase      string // "push" or "pull"
	Collection string // set for pull
	Err        error
}

// Client определяет интерфейс клиента sync протокола.
// nil клиент означает локальный режим: push опустошает outbox без сетевого
// ввода-вывода ("simulate success"), pull пропускается целиком.
type Client interface {
	Push(ctx context.Context, ops []api.OutboxOperation) error
	Pull(ctx context.Context, collection, since string, limit int) (*api.PullResponse, error)
}

// Storage is the storage surface the engine needs.
type Storage interface {
	store.OutboxStorage
	store.PullStorage
}

// Result contains the counters of one sync pass.
type Result struct {
	Pushed int
	Pulled int
}

// Engine runs periodic push/pull passes. One engine instance executes at most
// one pass at a time; overlapping triggers are serialized.
type Engine struct {
	client    Client
	storage   Storage
	events    *events.Bus
	backoff   *backoff.Policy
	logger    *slog.Logger
	batchSize int

	// syncMu сериализует SyncOnce
	syncMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wakeCh  chan struct{}
}

// New creates an engine. client may be nil for local-only mode.
func New(client Client, storage Storage, logger *slog.Logger) *Engine {
	return &Engine{
		client:    client,
		storage:   storage,
		events:    events.NewBus(logger),
		backoff:   backoff.NewDefault(),
		logger:    logger,
		batchSize: DefaultBatchSize,
		wakeCh:    make(chan struct{}, 1),
	}
}

// On registers an observer for engine events.
func (e *Engine) On(eventName string, handler events.Handler) func() {
	return e.events.On(eventName, handler)
}

// Start begins the repeating sync cycle: run one pass, then schedule the next
// after max(interval, backoff delay). Pass failures are swallowed; the next
// cycle simply retries. Idempotent.
func (e *Engine) Start(interval time.Duration) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	go e.run(interval, stopCh)
}

// Stop cancels the pending cycle. An in-flight pass is not interrupted.
// Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
}

// Wake triggers an immediate out-of-band pass, used on connectivity-restored
// and visibility-restored signals. Non-blocking; multiple wakes coalesce.
func (e *Engine) Wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// PendingOps returns the number of outbox operations awaiting push.
func (e *Engine) PendingOps(ctx context.Context) (int, error) {
	return e.storage.OutboxCount(ctx)
}

func (e *Engine) run(interval time.Duration, stopCh chan struct{}) {
	for {
		if _, err := e.SyncOnce(context.Background()); err != nil {
			// Ошибка проглатывается: следующий цикл попробует снова
			e.logger.Warn("sync pass failed", "error", err)
		} else {
			e.backoff.Reset()
		}

		delay := e.backoff.Next()
		if delay < interval {
			delay = interval
		}

		select {
		case <-stopCh:
			return
		case <-time.After(delay):
		case <-e.wakeCh:
		}
	}
}

// SyncOnce runs one push-then-pull pass and emits sync:complete on success.
func (e *Engine) SyncOnce(ctx context.Context) (Result, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	var res Result

	pushed, err := e.push(ctx)
	res.Pushed = pushed
	if err != nil {
		return res, err
	}

	// Pull возможен только при настроенном endpoint
	if e.client != nil {
		pulled, err := e.pull(ctx)
		res.Pulled = pulled
		if err != nil {
			return res, err
		}
	}

	e.events.Emit(EventComplete, CompleteEvent{Pushed: res.Pushed, Pulled: res.Pulled})
	return res, nil
}

// push опустошает outbox FIFO батчами. Подтвержденный батч удаляется из
// outbox; сбой передачи прерывает фазу, неотправленные батчи остаются в
// очереди до следующего цикла (at-least-once, сервер обязан быть идемпотентным).
func (e *Engine) push(ctx context.Context) (int, error) {
	total := 0
	for {
		ops, err := e.storage.OutboxBatch(ctx, e.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to read outbox: %w", err)
		}
		if len(ops) == 0 {
			break
		}

		e.events.Emit(EventPush, PushEvent{Batch: len(ops)})

		if e.client != nil {
			if err := e.client.Push(ctx, toWireOps(ops)); err != nil {
				e.events.Emit(EventError, ErrorEvent{Phase: "push", Err: err})
				return total, fmt.Errorf("push failed: %w", err)
			}
		}

		if err := e.storage.DeleteOutboxOps(ctx, ops); err != nil {
			return total, fmt.Errorf("failed to delete pushed ops: %w", err)
		}
		total += len(ops)

		// Короткий батч означает, что outbox исчерпан
		if len(ops) < e.batchSize {
			break
		}
	}
	return total, nil
}

// pull забирает изменения по каждой коллекции в фиксированном порядке.
// Курсор двигается только после применения батча; сбой прерывает фазу, и
// следующий цикл продолжит с последнего применённого батча.
func (e *Engine) pull(ctx context.Context) (int, error) {
	total := 0
	for _, collection := range models.PullOrder {
		cursor, err := e.storage.GetCursor(ctx, collection)
		if err != nil {
			return total, fmt.Errorf("failed to get cursor: %w", err)
		}

		for {
			e.events.Emit(EventPull, PullEvent{Collection: collection, Cursor: cursor})

			resp, err := e.client.Pull(ctx, collection, cursor, e.batchSize)
			if err != nil {
				e.events.Emit(EventError, ErrorEvent{Phase: "pull", Collection: collection, Err: err})
				return total, fmt.Errorf("pull %s failed: %w", collection, err)
			}
			if len(resp.Changes) == 0 {
				break
			}

			next := resp.NextCursor
			if next == "" {
				next = cursor
			}
			if err := e.storage.ApplyPulled(ctx, collection, toStoreChanges(resp.Changes), next); err != nil {
				return total, fmt.Errorf("failed to apply pulled changes: %w", err)
			}
			cursor = next
			total += len(resp.Changes)

			if !resp.HasMore || len(resp.Changes) < e.batchSize {
				break
			}
		}
	}
	return total, nil
}

func toWireOps(ops []models.OutboxOp) []api.OutboxOperation {
	wire := make([]api.OutboxOperation, 0, len(ops))
	for _, op := range ops {
		wire = append(wire, api.OutboxOperation{
			ID:         op.ID,
			Collection: op.Collection,
			OpType:     string(op.OpType),
			DocID:      op.DocID,
			Payload:    op.Payload,
			CreatedAt:  op.CreatedAt,
		})
	}
	return wire
}

func toStoreChanges(changes []api.Change) []store.Change {
	out := make([]store.Change, 0, len(changes))
	for _, ch := range changes {
		out = append(out, store.Change{
			Type:     ch.Type,
			ID:       ch.ID,
			Document: ch.Document,
		})
	}
	return out
}
