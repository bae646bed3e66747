package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
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
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// IsTerminal reports whether the job will not change any more.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ImportJob is an import accepted over HTTP and run in the background.
type ImportJob struct {
	JobID    string            `json:"jobId"`
	UserID   string            `json:"userId"`
	Filename string            `json:"filename"`
	Mode     domain.ImportMode `json:"mode"`
	Status   JobStatus         `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`

	Result *pipeline.ImportResult `json:"result,omitempty"`

	// Data is the uploaded file. It is released once the job finishes.
	Data []byte `json:"-"`
}

// Request rebuilds the import request the job was created from.
func (j *ImportJob) Request() pipeline.ImportRequest {
	return pipeline.ImportRequest{
		UserID:   j.UserID,
		Filename: j.Filename,
		Data:     j.Data,
		Mode:     j.Mode,
	}
}

// Publisher enqueues jobs.
type Publisher interface {
	// PublishImport enqueues an import job.
	PublishImport(ctx context.Context, job *ImportJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer runs queued jobs.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. It may set job.Result; a returned error marks
// the attempt as failed.
type JobHandler func(ctx context.Context, job *ImportJob) error

// JobStore keeps job state for status polling.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ImportJob) error

	// GetJob retrieves a job by ID. It returns ErrJobNotFound for unknown IDs.
	GetJob(ctx context.Context, jobID string) (*ImportJob, error)

	// ListJobs retrieves jobs matching filter, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ImportJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	UserID string
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// ImportHandler returns a JobHandler that runs each job through importer.
func ImportHandler(importer *pipeline.Importer) JobHandler {
	return func(ctx context.Context, job *ImportJob) error {
		result, err := importer.Import(ctx, job.Request())
		if err != nil {
			return err
		}
		job.Result = result
		return nil
	}
}
