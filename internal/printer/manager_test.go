package printer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiosklab/posbox/internal/backoff"
	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/store/boltdb"
)

func createTestManager(t *testing.T) (*Manager, *boltdb.Storage) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "printer_test.db")
	storage, err := boltdb.New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, storage.Close())
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(storage, logger)
	m.SetOutput(io.Discard)
	return m, storage
}

func seedJob(t *testing.T, storage *boltdb.Storage, job models.PrintJob) {
	t.Helper()
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	require.NoError(t, storage.SaveJob(context.Background(), &job))
}

func TestManager_Enqueue(t *testing.T) {
	m, storage := createTestManager(t)
	m.now = func() int64 { return 5000 }
	ctx := context.Background()

	var events []JobEvent
	m.On(EventQueued, func(payload any) {
		events = append(events, payload.(JobEvent))
	})

	job, err := m.Enqueue(ctx, DestinationKitchen, ReceiptPayload{}, 2)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 2, job.Priority)
	assert.Zero(t, job.Attempts)
	assert.Equal(t, int64(5000), job.CreatedAt)
	assert.Equal(t, int64(5000), job.NextRunAt)

	queued, err := storage.QueuedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, job.ID, queued[0].ID)

	// Постановка в очередь объявляется событием
	require.Len(t, events, 1)
	assert.Equal(t, job.ID, events[0].Job.ID)
	assert.Equal(t, models.JobStatusQueued, events[0].Job.Status)
}

func TestManager_EnqueueJobFillsDefaults(t *testing.T) {
	m, _ := createTestManager(t)
	m.now = func() int64 { return 5000 }
	ctx := context.Background()

	job, err := m.EnqueueJob(ctx, &models.PrintJob{Destination: DestinationBar})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, int64(5000), job.CreatedAt)
	assert.Equal(t, int64(5000), job.NextRunAt)
}

func TestManager_EnqueueJobKeepsCallerFields(t *testing.T) {
	m, storage := createTestManager(t)
	m.now = func() int64 { return 5000 }
	ctx := context.Background()

	job, err := m.EnqueueJob(ctx, &models.PrintJob{
		ID:          "pj_custom",
		Destination: DestinationKitchen,
		Priority:    3,
		CreatedAt:   100,
		NextRunAt:   9000,
	})
	require.NoError(t, err)

	assert.Equal(t, "pj_custom", job.ID)
	assert.Equal(t, 3, job.Priority)
	assert.Equal(t, int64(100), job.CreatedAt)
	// Отложенный запуск сохраняется
	assert.Equal(t, int64(9000), job.NextRunAt)

	processed, err := m.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	queued, err := storage.QueuedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "pj_custom", queued[0].ID)
}

func TestManager_ProcessNextSelectionOrder(t *testing.T) {
	m, storage := createTestManager(t)
	m.now = func() int64 { return 1000 }
	ctx := context.Background()

	seedJob(t, storage, models.PrintJob{ID: "j_late", Destination: "custom", Priority: 0, CreatedAt: 20, NextRunAt: 0})
	seedJob(t, storage, models.PrintJob{ID: "j_low", Destination: "custom", Priority: 1, CreatedAt: 10, NextRunAt: 0})
	seedJob(t, storage, models.PrintJob{ID: "j_early", Destination: "custom", Priority: 0, CreatedAt: 5, NextRunAt: 0})

	var order []string
	m.RegisterHandler("custom", func(_ context.Context, job models.PrintJob) error {
		order = append(order, job.ID)
		return nil
	})

	for i := 0; i < 3; i++ {
		processed, err := m.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	// Приоритет первичен, время создания вторично
	assert.Equal(t, []string{"j_early", "j_late", "j_low"}, order)

	processed, err := m.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestManager_FutureJobNotEligible(t *testing.T) {
	m, storage := createTestManager(t)
	m.now = func() int64 { return 1000 }
	ctx := context.Background()

	seedJob(t, storage, models.PrintJob{ID: "j1", Destination: "custom", NextRunAt: 2000})

	processed, err := m.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	// Наступает время запуска
	m.now = func() int64 { return 2000 }
	m.RegisterHandler("custom", func(_ context.Context, _ models.PrintJob) error { return nil })

	processed, err = m.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestManager_SuccessDeletesJob(t *testing.T) {
	m, storage := createTestManager(t)
	ctx := context.Background()

	var printed []JobEvent
	m.On(EventPrinted, func(payload any) {
		printed = append(printed, payload.(JobEvent))
	})

	job, err := m.Enqueue(ctx, DestinationReceipt, ReceiptPayload{Order: models.Order{ID: "o_1"}}, 0)
	require.NoError(t, err)

	processed, err := m.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	counts, err := storage.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	require.Len(t, printed, 1)
	assert.Equal(t, job.ID, printed[0].Job.ID)
}

func TestManager_ProcessNextEmitsPrintingStatus(t *testing.T) {
	m, _ := createTestManager(t)
	ctx := context.Background()

	var statuses []JobEvent
	m.On(EventStatus, func(payload any) {
		statuses = append(statuses, payload.(JobEvent))
	})

	job, err := m.Enqueue(ctx, DestinationReceipt, ReceiptPayload{Order: models.Order{ID: "o_1"}}, 0)
	require.NoError(t, err)

	processed, err := m.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	// Переход в printing объявляется до печати
	require.Len(t, statuses, 1)
	assert.Equal(t, job.ID, statuses[0].Job.ID)
	assert.Equal(t, models.JobStatusPrinting, statuses[0].Job.Status)
}

func TestManager_FailureRequeuesWithBackoff(t *testing.T) {
	m, storage := createTestManager(t)
	m.now = func() int64 { return 10_000 }
	// Jitter выключен, чтобы проверить точное время перезапуска
	m.retry = backoff.New(time.Second, 30*time.Second, 2, 0)
	ctx := context.Background()

	m.RegisterHandler("custom", func(_ context.Context, _ models.PrintJob) error {
		return errors.New("paper jam")
	})
	seedJob(t, storage, models.PrintJob{ID: "j1", Destination: "custom"})

	var retried []JobEvent
	m.On(EventRetry, func(payload any) {
		retried = append(retried, payload.(JobEvent))
	})

	processed, err := m.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	queued, err := storage.QueuedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	job := queued[0]
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "paper jam", job.Error)
	// Первый повтор через базовую задержку 1s
	assert.Equal(t, int64(11_000), job.NextRunAt)

	require.Len(t, retried, 1)
	assert.Equal(t, "paper jam", retried[0].Err)

	// До NextRunAt задача не выполнима
	processed, err = m.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestManager_AttemptBudgetExhausted(t *testing.T) {
	m, storage := createTestManager(t)
	ctx := context.Background()

	m.RegisterHandler("custom", func(_ context.Context, _ models.PrintJob) error {
		return errors.New("offline")
	})
	// Последняя попытка из бюджета
	seedJob(t, storage, models.PrintJob{ID: "j1", Destination: "custom", Attempts: MaxAttempts - 1})

	var failed []JobEvent
	m.On(EventFailed, func(payload any) {
		failed = append(failed, payload.(JobEvent))
	})

	processed, err := m.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	counts, err := storage.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.JobStatusFailed])
	assert.Zero(t, counts[models.JobStatusQueued])

	require.Len(t, failed, 1)
	assert.Equal(t, MaxAttempts, failed[0].Job.Attempts)
	assert.Equal(t, "offline", failed[0].Job.Error)

	// Терминальная задача больше не выбирается
	processed, err = m.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestManager_UnknownDestination(t *testing.T) {
	m, storage := createTestManager(t)
	ctx := context.Background()

	seedJob(t, storage, models.PrintJob{ID: "j1", Destination: "fax"})

	processed, err := m.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	queued, err := storage.QueuedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Contains(t, queued[0].Error, "unknown print destination")
}

func TestManager_BuiltinReceiptWritesOutput(t *testing.T) {
	m, _ := createTestManager(t)
	ctx := context.Background()

	var buf bytes.Buffer
	m.SetOutput(&buf)

	_, err := m.EnqueueReceipt(ctx,
		models.Order{ID: "o_7", Subtotal: 700},
		[]models.OrderItem{{Name: "Taco", Price: 350, Qty: 2}},
	)
	require.NoError(t, err)

	processed, err := m.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	out := buf.String()
	assert.Contains(t, out, "*** FOOD TRUCK ***")
	assert.Contains(t, out, "Order o_7")
	assert.Contains(t, out, "$7.00")
}

func TestManager_StartStopIdempotent(t *testing.T) {
	m, _ := createTestManager(t)

	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}

func TestLoopDelay(t *testing.T) {
	assert.Equal(t, rearmDelay, loopDelay(true))
	// Пустая выборка: простой плюс пауза перед следующей выборкой
	assert.Equal(t, idleDelay+rearmDelay, loopDelay(false))
}

func TestRenderReceipt_Golden(t *testing.T) {
	got := RenderReceipt(ReceiptPayload{
		Order: models.Order{
			ID:        "o_42",
			Subtotal:  1000,
			CreatedAt: 1700000000000,
		},
		Items: []models.OrderItem{
			{Name: "Taco", Price: 350, Qty: 2},
			{Name: "Agua Fresca", Price: 300, Qty: 1},
		},
	})

	g := goldie.New(t)
	g.Assert(t, "receipt", []byte(got))
}

func TestRenderTicket(t *testing.T) {
	got := RenderTicket(DestinationKitchen, ReceiptPayload{
		Order: models.Order{ID: "o_42", Note: "no onions"},
		Items: []models.OrderItem{{Name: "Taco", Qty: 2}},
	})

	assert.Equal(t, "== KITCHEN ==\nOrder o_42\n 2 x Taco\nNote: no onions\n", got)
}
