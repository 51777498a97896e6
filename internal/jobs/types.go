package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job ID is unknown.
var ErrJobNotFound = errors.New("job not found")

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed. Refresh jobs are not retried.
	JobStatusFailed JobStatus = "failed"
)

// RefreshJob asks for one extraction run.
type RefreshJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Trigger records who asked for the run ("api", "schedule", ...).
	Trigger string `json:"trigger,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// RunID is the pipeline run that served this job, once started.
	RunID string `json:"run_id,omitempty"`

	// DatasetRows is the number of rows published by the run.
	DatasetRows int `json:"dataset_rows"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`
}

// Publisher enqueues refresh jobs.
type Publisher interface {
	PublishRefresh(ctx context.Context, job *RefreshJob) error
	Close() error
}

// Consumer runs queued jobs one at a time.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for the in-flight job to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. It may record RunID and DatasetRows on the job.
type JobHandler func(ctx context.Context, job *RefreshJob) error

// JobStore keeps job state for the status endpoints.
type JobStore interface {
	SaveJob(ctx context.Context, job *RefreshJob) error
	GetJob(ctx context.Context, jobID string) (*RefreshJob, error)
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*RefreshJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}
