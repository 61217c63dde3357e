// Package handlers implements the HTTP handlers of the sync server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/server/storage"
	"github.com/kiosklab/posbox/pkg/api"
)

// Pull limit bounds.
const (
	defaultPullLimit = 50
	maxPullLimit     = 500
)

// SyncStorage определяет интерфейс для работы с данными синхронизации
type SyncStorage interface {
	AppendDocument(ctx context.Context, collection, docID string, body []byte) error
	AppendDelete(ctx context.Context, collection, docID string) error
	GetDocument(ctx context.Context, collection, docID string) ([]byte, error)
	ChangesSince(ctx context.Context, collection string, since int64, limit int) ([]storage.ChangeRecord, bool, error)
}

// SyncHandler handles push and pull requests
type SyncHandler struct {
	logger  *slog.Logger
	storage SyncStorage
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, storage SyncStorage) *SyncHandler {
	return &SyncHandler{
		logger:  logger,
		storage: storage,
	}
}

// HandlePush обрабатывает POST /sync/push.
// Операции применяются по одной в порядке получения; повторная доставка
// безопасна, так как все операции идемпотентны на уровне документов.
func (h *SyncHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode push request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	for i, op := range req.Operations {
		if err := h.applyOperation(ctx, op); err != nil {
			if errors.Is(err, errBadOperation) {
				h.logger.Warn("rejected push operation", "index", i, "op_type", op.OpType, "error", err)
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.logger.Error("failed to apply operation", "index", i, "op_id", op.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	h.logger.Info("push accepted", "operations", len(req.Operations))
	writeJSON(w, http.StatusOK, api.PushResponse{Accepted: len(req.Operations)})
}

// HandlePull обрабатывает GET /sync/pull?collection=...&since=...&limit=...
func (h *SyncHandler) HandlePull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	collection := r.URL.Query().Get("collection")
	if collection == "" {
		writeError(w, http.StatusBadRequest, "collection is required")
		return
	}

	// Пустой курсор означает «с самого начала»
	var since int64
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		var err error
		since, err = strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			h.logger.Warn("invalid since parameter", "since", sinceStr, "error", err)
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
	}

	limit := defaultPullLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = min(parsed, maxPullLimit)
	}

	records, hasMore, err := h.storage.ChangesSince(ctx, collection, since, limit)
	if err != nil {
		h.logger.Error("failed to read changes", "collection", collection, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	changes := make([]api.Change, 0, len(records))
	nextCursor := since
	for _, rec := range records {
		change := api.Change{Type: rec.Type, ID: rec.DocID}
		if rec.Type != storage.ChangeTypeDelete {
			change.Document = rec.Body
		}
		changes = append(changes, change)
		nextCursor = rec.Seq
	}

	writeJSON(w, http.StatusOK, api.PullResponse{
		Changes:    changes,
		NextCursor: strconv.FormatInt(nextCursor, 10),
		HasMore:    hasMore,
	})
}

// errBadOperation marks operations the client composed incorrectly.
var errBadOperation = errors.New("bad operation")

// applyOperation применяет одну операцию outbox к состоянию сервера
func (h *SyncHandler) applyOperation(ctx context.Context, op api.OutboxOperation) error {
	if op.Collection == "" || op.DocID == "" {
		return fmt.Errorf("%w: collection and docId are required", errBadOperation)
	}

	switch models.OpType(op.OpType) {
	case models.OpUpsert:
		return h.storage.AppendDocument(ctx, op.Collection, op.DocID, op.Payload)

	case models.OpCreate:
		// create на orders раскрывается в заказ и его позиции
		if op.Collection == models.CollectionOrders {
			return h.applyOrderCreate(ctx, op)
		}
		return h.storage.AppendDocument(ctx, op.Collection, op.DocID, op.Payload)

	case models.OpUpdate:
		return h.applyUpdate(ctx, op)

	case models.OpDelete:
		return h.storage.AppendDelete(ctx, op.Collection, op.DocID)

	default:
		return fmt.Errorf("%w: unknown op type %q", errBadOperation, op.OpType)
	}
}

func (h *SyncHandler) applyOrderCreate(ctx context.Context, op api.OutboxOperation) error {
	var payload models.CreatePayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return fmt.Errorf("%w: malformed create payload: %v", errBadOperation, err)
	}

	orderBody, err := json.Marshal(payload.Order)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := h.storage.AppendDocument(ctx, models.CollectionOrders, payload.Order.ID, orderBody); err != nil {
		return err
	}

	for _, item := range payload.OrderItems {
		itemBody, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal order item: %w", err)
		}
		if err := h.storage.AppendDocument(ctx, models.CollectionOrderItems, item.ID, itemBody); err != nil {
			return err
		}
	}
	return nil
}

// applyUpdate merges the patch into the current document. An update to an
// unknown document seeds it from the patch: the client that produced the
// update had the document locally, so dropping the change would lose data.
func (h *SyncHandler) applyUpdate(ctx context.Context, op api.OutboxOperation) error {
	doc := map[string]any{"id": op.DocID}

	current, err := h.storage.GetDocument(ctx, op.Collection, op.DocID)
	if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		return err
	}
	if current != nil {
		if err := json.Unmarshal(current, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal stored document: %w", err)
		}
	}

	var patch map[string]any
	if err := json.Unmarshal(op.Payload, &patch); err != nil {
		return fmt.Errorf("%w: malformed update payload: %v", errBadOperation, err)
	}
	for k, v := range patch {
		doc[k] = v
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal merged document: %w", err)
	}
	return h.storage.AppendDocument(ctx, op.Collection, op.DocID, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
