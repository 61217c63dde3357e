// Package printer implements the background print job processor: a durable
// queue of receipt/kitchen/bar tickets drained one job at a time with bounded
// retries.
package printer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiosklab/posbox/internal/backoff"
	"github.com/kiosklab/posbox/internal/events"
	"github.com/kiosklab/posbox/internal/models"
	"github.com/kiosklab/posbox/internal/store"
)

// Built-in print destinations.
const (
	DestinationReceipt = "receipt"
	DestinationKitchen = "kitchen"
	DestinationBar     = "bar"
)

// MaxAttempts is the per-job attempt budget; the job turns terminally failed
// once it is exhausted.
const MaxAttempts = 5

const (
	// idleDelay - пауза цикла, когда нет выполнимых задач
	idleDelay = 400 * time.Millisecond
	// rearmDelay - пауза после обработки задачи перед следующей выборкой
	rearmDelay = 200 * time.Millisecond
)

// Manager events.
const (
	EventQueued  = "printer:queued"
	EventStatus  = "printer:status"
	EventPrinted = "printer:printed"
	EventRetry   = "printer:retry"
	EventFailed  = "printer:failed"
)

// ErrUnknownDestination is returned for a job whose destination has neither a
// registered handler nor a built-in renderer.
var ErrUnknownDestination = errors.New("unknown print destination")

// JobEvent is the payload of all printer events.
type JobEvent struct {
	Job models.PrintJob
	Err string // set for retry and failed
}

// Handler performs the actual printing for a destination.
type Handler func(ctx context.Context, job models.PrintJob) error

// Manager drains the print job queue. One job is processed at a time; a failed
// job is rescheduled with exponential backoff until its attempt budget runs
// out.
type Manager struct {
	storage store.JobStorage
	events  *events.Bus
	logger  *slog.Logger
	retry   *backoff.Policy
	out     io.Writer
	now     func() int64

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewManager creates a manager printing built-in destinations to os.Stdout.
func NewManager(storage store.JobStorage, logger *slog.Logger) *Manager {
	return &Manager{
		storage:  storage,
		events:   events.NewBus(logger),
		logger:   logger,
		retry:    backoff.NewDefault(),
		out:      os.Stdout,
		now:      func() int64 { return time.Now().UnixMilli() },
		handlers: make(map[string]Handler),
	}
}

// SetOutput redirects built-in destination output.
func (m *Manager) SetOutput(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = w
}

// RegisterHandler installs a custom handler for a destination, overriding the
// built-in renderer if any.
func (m *Manager) RegisterHandler(destination string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[destination] = h
}

// On registers an observer for printer events.
func (m *Manager) On(eventName string, handler events.Handler) func() {
	return m.events.On(eventName, handler)
}

// Enqueue persists a new job eligible for immediate processing.
// Lower priority values are processed first.
func (m *Manager) Enqueue(ctx context.Context, destination string, payload any, priority int) (*models.PrintJob, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	return m.EnqueueJob(ctx, &models.PrintJob{
		Destination: destination,
		Payload:     data,
		Priority:    priority,
	})
}

// EnqueueJob persists a caller-built job, filling defaults for missing fields:
// id, queued status, creation time and immediate eligibility. Fields the
// caller set are kept as is.
func (m *Manager) EnqueueJob(ctx context.Context, job *models.PrintJob) (*models.PrintJob, error) {
	if job.ID == "" {
		job.ID = "pj_" + uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = m.now()
	}
	if job.NextRunAt == 0 {
		job.NextRunAt = job.CreatedAt
	}

	if err := m.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue print job: %w", err)
	}

	m.logger.Debug("print job enqueued", "job_id", job.ID, "destination", job.Destination)
	m.events.Emit(EventQueued, JobEvent{Job: *job})
	return job, nil
}

// EnqueueReceipt enqueues a customer receipt for an order.
func (m *Manager) EnqueueReceipt(ctx context.Context, order models.Order, items []models.OrderItem) (*models.PrintJob, error) {
	return m.Enqueue(ctx, DestinationReceipt, ReceiptPayload{Order: order, Items: items}, 0)
}

// Start launches the processing loop. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.run(stopCh, doneCh)
}

// Stop halts the loop and waits for the in-flight job to finish. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
}

func (m *Manager) run(stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		processed := m.tick()

		select {
		case <-stopCh:
			return
		case <-time.After(loopDelay(processed)):
		}
	}
}

// loopDelay: после обработанной задачи только короткая пауза перед следующей
// выборкой; пустая выборка добавляет к ней простой.
func loopDelay(processed bool) time.Duration {
	if processed {
		return rearmDelay
	}
	return idleDelay + rearmDelay
}

// tick обрабатывает одну задачу; паника обработчика не роняет цикл
func (m *Manager) tick() (processed bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("print loop panic recovered", "panic", r)
		}
	}()

	processed, err := m.ProcessNext(context.Background())
	if err != nil {
		m.logger.Error("print pass failed", "error", err)
	}
	return processed
}

// ProcessNext picks the most urgent eligible job and runs it to one outcome:
// printed (job deleted), requeued with backoff, or terminally failed. Returns
// false when no job is eligible.
func (m *Manager) ProcessNext(ctx context.Context) (bool, error) {
	job, ok, err := m.nextEligible(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	// Статус printing фиксируется до выполнения, чтобы после сбоя процесса
	// задача была видна как прерванная
	job.Status = models.JobStatusPrinting
	if err := m.storage.SaveJob(ctx, &job); err != nil {
		return false, fmt.Errorf("failed to mark job printing: %w", err)
	}
	m.events.Emit(EventStatus, JobEvent{Job: job})

	if printErr := m.print(ctx, job); printErr != nil {
		return true, m.handleFailure(ctx, job, printErr)
	}

	if err := m.storage.DeleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("failed to delete printed job: %w", err)
	}
	m.logger.Info("print job done", "job_id", job.ID, "destination", job.Destination)
	m.events.Emit(EventPrinted, JobEvent{Job: job})
	return true, nil
}

// nextEligible returns the eligible job with the lowest (priority, createdAt).
func (m *Manager) nextEligible(ctx context.Context) (models.PrintJob, bool, error) {
	queued, err := m.storage.QueuedJobs(ctx)
	if err != nil {
		return models.PrintJob{}, false, fmt.Errorf("failed to list queued jobs: %w", err)
	}

	now := m.now()
	eligible := queued[:0]
	for _, job := range queued {
		if job.NextRunAt <= now {
			eligible = append(eligible, job)
		}
	}
	if len(eligible) == 0 {
		return models.PrintJob{}, false, nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		if eligible[i].CreatedAt != eligible[j].CreatedAt {
			return eligible[i].CreatedAt < eligible[j].CreatedAt
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible[0], true, nil
}

// handleFailure requeues the job with backoff or marks it terminally failed.
func (m *Manager) handleFailure(ctx context.Context, job models.PrintJob, printErr error) error {
	job.Attempts++
	job.Error = printErr.Error()

	if job.Attempts >= MaxAttempts {
		job.Status = models.JobStatusFailed
		if err := m.storage.SaveJob(ctx, &job); err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}
		m.logger.Error("print job failed permanently",
			"job_id", job.ID, "attempts", job.Attempts, "error", printErr)
		m.events.Emit(EventFailed, JobEvent{Job: job, Err: printErr.Error()})
		return nil
	}

	// Первый повтор через базовую задержку, дальше экспоненциально
	job.Status = models.JobStatusQueued
	job.NextRunAt = m.now() + m.retry.DelayFor(job.Attempts-1).Milliseconds()
	if err := m.storage.SaveJob(ctx, &job); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	m.logger.Warn("print job retry scheduled",
		"job_id", job.ID, "attempts", job.Attempts, "next_run_at", job.NextRunAt, "error", printErr)
	m.events.Emit(EventRetry, JobEvent{Job: job, Err: printErr.Error()})
	return nil
}

// print dispatches the job to its handler or built-in renderer.
func (m *Manager) print(ctx context.Context, job models.PrintJob) error {
	m.mu.Lock()
	handler, registered := m.handlers[job.Destination]
	out := m.out
	m.mu.Unlock()

	if registered {
		return handler(ctx, job)
	}

	switch job.Destination {
	case DestinationReceipt, DestinationKitchen, DestinationBar:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDestination, job.Destination)
	}

	var payload ReceiptPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	text := RenderReceipt(payload)
	if job.Destination != DestinationReceipt {
		text = RenderTicket(job.Destination, payload)
	}
	if _, err := io.WriteString(out, text); err != nil {
		return fmt.Errorf("failed to write to printer: %w", err)
	}
	return nil
}
