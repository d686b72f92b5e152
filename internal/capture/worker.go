package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/usage"
)

// JobStore abstracts the job queue and capture lookups the worker needs.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string, retryable bool) (bool, error)
	GetCapture(ctx context.Context, id string) (storage.Capture, error)
	DeleteUnprocessedCapture(ctx context.Context, id string) error
	LogUsage(ctx context.Context, r storage.UsageRecord) error
}

// Processor scores a persisted capture. *Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, c storage.Capture) (Result, usage.Metrics, error)
}

type processPayload struct {
	CaptureID string `json:"capture_id"`
}

// Enqueue schedules an accepted capture for background processing and
// returns the job id.
func Enqueue(ctx context.Context, store JobStore, captureID string) (string, error) {
	payload, err := json.Marshal(processPayload{CaptureID: captureID})
	if err != nil {
		return "", err
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        storage.JobProcessCapture,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing capture %s: %w", captureID, err)
	}
	return job.ID, nil
}

// Worker processes capture_process jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	processor Processor
	poll      time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms. A positive timeout bounds
// each job.
func NewWorker(store JobStore, processor Processor, pollInterval, timeout time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		processor: processor,
		poll:      pollInterval,
		timeout:   timeout,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single capture_process job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{storage.JobProcessCapture})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	captureID, err := w.processJob(ctx, job)
	if err != nil {
		retryable := isRetryable(err)
		w.logger.Warn("job failed", "job_id", job.ID, "capture_id", captureID, "retryable", retryable, "error", err)
		terminal, failErr := w.store.FailJob(ctx, job.ID, err.Error(), retryable)
		if failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
			return true, nil
		}
		if terminal && captureID != "" {
			if delErr := w.store.DeleteUnprocessedCapture(ctx, captureID); delErr != nil && !errors.Is(delErr, storage.ErrNotFound) {
				w.logger.Error("removing abandoned capture", "capture_id", captureID, "error", delErr)
			}
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var payload processPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}

	c, err := w.store.GetCapture(ctx, payload.CaptureID)
	if err != nil {
		return "", fmt.Errorf("loading capture %s: %w", payload.CaptureID, err)
	}
	if c.ProcessedAt != nil {
		return c.ID, nil
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	_, m, err := w.processor.Process(ctx, c)
	if err != nil {
		return c.ID, err
	}
	if err := usage.Record(ctx, w.store, c.WorkspaceID, c.AuthorID, usage.OpCapture, m); err != nil {
		w.logger.Error("recording usage", "capture_id", c.ID, "error", err)
	}
	return c.ID, nil
}

func isRetryable(err error) bool {
	var pErr *ProcessingError
	if errors.As(err, &pErr) {
		return pErr.Retryable
	}
	return false
}
