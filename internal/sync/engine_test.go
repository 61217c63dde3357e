package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/store"
	"github.com/kiosklab/posbox/internal/store/boltdb"
	"github.com/kiosklab/posbox/pkg/api"
)

// ClientMock реализует Client через настраиваемые функции
type ClientMock struct {
	PushFunc  func(ctx context.Context, ops []api.OutboxOperation) error
	PullFunc  func(ctx context.Context, collection, since string, limit int) (*api.PullResponse, error)
	PushCalls [][]api.OutboxOperation
	PullCalls []string
}

func (m *ClientMock) Push(ctx context.Context, ops []api.OutboxOperation) error {
	m.PushCalls = append(m.PushCalls, ops)
	if m.PushFunc == nil {
		return nil
	}
	return m.PushFunc(ctx, ops)
}

func (m *ClientMock) Pull(ctx context.Context, collection, since string, limit int) (*api.PullResponse, error) {
	m.PullCalls = append(m.PullCalls, collection+"@"+since)
	if m.PullFunc == nil {
		return &api.PullResponse{}, nil
	}
	return m.PullFunc(ctx, collection, since, limit)
}

func createTestEngine(t *testing.T, client Client) (*Engine, *boltdb.Storage) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "sync_test.db")
	storage, err := boltdb.New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, storage.Close())
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(client, storage, logger), storage
}

func seedOutbox(t *testing.T, storage *boltdb.Storage, n int) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%03d", i)
		op := &models.OutboxOp{
			ID:         fmt.Sprintf("op%03d", i),
			Collection: models.CollectionProducts,
			OpType:     models.OpUpsert,
			DocID:      id,
			Payload:    json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
			CreatedAt:  int64(1000 + i),
		}
		doc := models.Document{"id": id, "name": "Item " + id}
		require.NoError(t, storage.SaveDocument(ctx, models.CollectionProducts, doc, op))
	}
}

func TestEngine_PushDrainsOutboxInBatches(t *testing.T) {
	mock := &ClientMock{}
	engine, storage := createTestEngine(t, mock)
	engine.batchSize = 10
	ctx := context.Background()

	seedOutbox(t, storage, 25)

	res, err := engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Pushed)

	// 10 + 10 + 5
	require.Len(t, mock.PushCalls, 3)
	assert.Len(t, mock.PushCalls[0], 10)
	assert.Len(t, mock.PushCalls[2], 5)

	// Порядок операций сохранён
	assert.Equal(t, "op000", mock.PushCalls[0][0].ID)
	assert.Equal(t, "op024", mock.PushCalls[2][4].ID)

	count, err := storage.OutboxCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEngine_PushFailureLeavesOutboxIntact(t *testing.T) {
	pushErr := errors.New("server unavailable")
	mock := &ClientMock{
		PushFunc: func(_ context.Context, _ []api.OutboxOperation) error {
			return pushErr
		},
	}
	engine, storage := createTestEngine(t, mock)
	ctx := context.Background()

	seedOutbox(t, storage, 3)

	var gotErr ErrorEvent
	engine.On(EventError, func(payload any) {
		gotErr = payload.(ErrorEvent)
	})

	_, err := engine.SyncOnce(ctx)
	require.ErrorIs(t, err, pushErr)
	assert.Equal(t, "push", gotErr.Phase)

	// Неподтверждённый батч остаётся в очереди до следующего цикла
	count, err := storage.OutboxCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestEngine_PushPartialFailureKeepsRemainder(t *testing.T) {
	calls := 0
	mock := &ClientMock{
		PushFunc: func(_ context.Context, _ []api.OutboxOperation) error {
			calls++
			if calls > 1 {
				return errors.New("connection dropped")
			}
			return nil
		},
	}
	engine, storage := createTestEngine(t, mock)
	engine.batchSize = 10
	ctx := context.Background()

	seedOutbox(t, storage, 25)

	res, err := engine.SyncOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 10, res.Pushed)

	count, err := storage.OutboxCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, count)
}

func TestEngine_LocalModeSimulatesSuccess(t *testing.T) {
	// nil клиент: push опустошает outbox без сети, pull пропускается
	engine, storage := createTestEngine(t, nil)
	ctx := context.Background()

	seedOutbox(t, storage, 5)

	res, err := engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Pushed)
	assert.Zero(t, res.Pulled)

	count, err := storage.OutboxCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEngine_PullAppliesChangesAndAdvancesCursor(t *testing.T) {
	mock := &ClientMock{
		PullFunc: func(_ context.Context, collection, since string, _ int) (*api.PullResponse, error) {
			if collection != models.CollectionProducts || since != "" {
				return &api.PullResponse{}, nil
			}
			return &api.PullResponse{
				Changes: []api.Change{
					{Type: "document", Document: json.RawMessage(`{"id":"p1","name":"Taco","price":350}`)},
					{Type: "document", Document: json.RawMessage(`{"id":"p2","name":"Burrito","price":900}`)},
				},
				NextCursor: "2",
				HasMore:    false,
			}, nil
		},
	}
	engine, storage := createTestEngine(t, mock)
	ctx := context.Background()

	res, err := engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pulled)

	doc, err := storage.GetDocument(ctx, models.CollectionProducts, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Taco", doc["name"])

	cursor, err := storage.GetCursor(ctx, models.CollectionProducts)
	require.NoError(t, err)
	assert.Equal(t, "2", cursor)

	// Применение pull не создаёт записей в outbox
	count, err := storage.OutboxCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEngine_PullPaginatesUntilExhausted(t *testing.T) {
	pages := map[string]*api.PullResponse{
		"": {
			Changes:    []api.Change{{Type: "document", Document: json.RawMessage(`{"id":"p1"}`)}},
			NextCursor: "1",
			HasMore:    true,
		},
		"1": {
			Changes:    []api.Change{{Type: "document", Document: json.RawMessage(`{"id":"p2"}`)}},
			NextCursor: "2",
			HasMore:    false,
		},
	}
	mock := &ClientMock{
		PullFunc: func(_ context.Context, collection, since string, _ int) (*api.PullResponse, error) {
			if collection != models.CollectionProducts {
				return &api.PullResponse{}, nil
			}
			resp, ok := pages[since]
			if !ok {
				t.Fatalf("unexpected cursor %q", since)
			}
			return resp, nil
		},
	}
	engine, storage := createTestEngine(t, mock)
	engine.batchSize = 1
	ctx := context.Background()

	res, err := engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pulled)

	cursor, err := storage.GetCursor(ctx, models.CollectionProducts)
	require.NoError(t, err)
	assert.Equal(t, "2", cursor)
}

func TestEngine_PullFailureKeepsCursor(t *testing.T) {
	pullErr := errors.New("boom")
	mock := &ClientMock{
		PullFunc: func(_ context.Context, _, _ string, _ int) (*api.PullResponse, error) {
			return nil, pullErr
		},
	}
	engine, storage := createTestEngine(t, mock)
	ctx := context.Background()

	_, err := engine.SyncOnce(ctx)
	require.ErrorIs(t, err, pullErr)

	cursor, err := storage.GetCursor(ctx, models.CollectionProducts)
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestEngine_PullDeleteChange(t *testing.T) {
	mock := &ClientMock{
		PullFunc: func(_ context.Context, collection, since string, _ int) (*api.PullResponse, error) {
			if collection != models.CollectionProducts || since != "" {
				return &api.PullResponse{}, nil
			}
			return &api.PullResponse{
				Changes: []api.Change{
					{Type: "document", Document: json.RawMessage(`{"id":"p1","name":"Taco"}`)},
					{Type: api.ChangeTypeDelete, ID: "p1"},
				},
				NextCursor: "2",
			}, nil
		},
	}
	engine, storage := createTestEngine(t, mock)
	ctx := context.Background()

	_, err := engine.SyncOnce(ctx)
	require.NoError(t, err)

	_, err = storage.GetDocument(ctx, models.CollectionProducts, "p1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEngine_EmitsCompleteEvent(t *testing.T) {
	engine, storage := createTestEngine(t, &ClientMock{})
	ctx := context.Background()

	seedOutbox(t, storage, 2)

	var got CompleteEvent
	engine.On(EventComplete, func(payload any) {
		got = payload.(CompleteEvent)
	})

	_, err := engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Pushed)
	assert.Zero(t, got.Pulled)
}

func TestEngine_PullVisitsCollectionsInOrder(t *testing.T) {
	mock := &ClientMock{}
	engine, _ := createTestEngine(t, mock)
	ctx := context.Background()

	_, err := engine.SyncOnce(ctx)
	require.NoError(t, err)

	require.Len(t, mock.PullCalls, len(models.PullOrder))
	for i, collection := range models.PullOrder {
		assert.Equal(t, collection+"@", mock.PullCalls[i])
	}
}

func TestEngine_PendingOps(t *testing.T) {
	engine, storage := createTestEngine(t, nil)
	ctx := context.Background()

	seedOutbox(t, storage, 4)

	n, err := engine.PendingOps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestEngine_StartStopIdempotent(t *testing.T) {
	engine, _ := createTestEngine(t, nil)

	engine.Start(time.Hour)
	engine.Start(time.Hour) // второй вызов игнорируется
	engine.Stop()
	engine.Stop()
}

func TestEngine_WakeTriggersPass(t *testing.T) {
	done := make(chan struct{}, 1)
	mock := &ClientMock{
		PullFunc: func(_ context.Context, collection, _ string, _ int) (*api.PullResponse, error) {
			if collection == models.PullOrder[len(models.PullOrder)-1] {
				select {
				case done <- struct{}{}:
				default:
				}
			}
			return &api.PullResponse{}, nil
		},
	}
	engine, _ := createTestEngine(t, mock)

	engine.Start(time.Hour)
	defer engine.Stop()

	// Первый проход стартует сразу
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("initial pass did not run")
	}

	engine.Wake()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not trigger a pass")
	}
}
