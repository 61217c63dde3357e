package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/kiosklab/posbox/internal/models"
)

// SaveJob creates or overwrites a print job record.
func (s *Storage) SaveJob(ctx context.Context, job *models.PrintJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal print job: %w", err)
	}
	return s.update(ctx, func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketPrintJobs).Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to save print job: %w", err)
		}
		return nil
	})
}

// DeleteJob removes a print job. Absent jobs are deleted silently.
func (s *Storage) DeleteJob(ctx context.Context, id string) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketPrintJobs).Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete print job: %w", err)
		}
		return nil
	})
}

// QueuedJobs returns all jobs with status queued.
func (s *Storage) QueuedJobs(ctx context.Context) ([]models.PrintJob, error) {
	var jobs []models.PrintJob
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrintJobs).ForEach(func(k, v []byte) error {
			var job models.PrintJob
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to unmarshal print job: %w", err)
			}
			if job.Status == models.JobStatusQueued {
				jobs = append(jobs, job)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get queued jobs: %w", err)
	}
	return jobs, nil
}

// CountJobsByStatus returns the number of jobs per status.
func (s *Storage) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	counts := make(map[models.JobStatus]int)
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrintJobs).ForEach(func(k, v []byte) error {
			var job models.PrintJob
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to unmarshal print job: %w", err)
			}
			counts[job.Status]++
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count print jobs: %w", err)
	}
	return counts, nil
}
