package models

import "encoding/json"

// JobStatus represents the lifecycle state of a print job.
type JobStatus string

// Print job statuses. A job is deleted on success, so there is no terminal
// "done" status; "failed" is terminal after the attempt budget is exhausted.
const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusPrinting JobStatus = "printing"
	JobStatusFailed   JobStatus = "failed"
)

// PrintJob представляет фоновую задачу печати.
// Задача выполнима, когда Status == queued и NextRunAt <= now; порядок выбора:
// (Priority по возрастанию, CreatedAt по возрастанию).
type PrintJob struct {
	ID          string          `json:"id"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      JobStatus       `json:"status"`
	Priority    int             `json:"priority"` // Priority меньше = срочнее
	Attempts    int             `json:"attempts"`
	NextRunAt   int64           `json:"nextRunAt"` // unix milliseconds
	CreatedAt   int64           `json:"createdAt"` // unix milliseconds
	Error       string          `json:"error,omitempty"`
}
