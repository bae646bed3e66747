package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/expense-tracker/internal/jobs"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/google/uuid"
)

// ErrQueueClosed is returned when publishing to a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// Options configures a Queue.
type Options struct {
	BufferSize   int           // jobs held before PublishImport blocks
	Workers      int           // concurrent handlers
	MaxRetries   int           // retries per job; 0 runs each job once
	RetryBackoff time.Duration // multiplied by the retry number
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.ImportJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	opts      Options
	closed    bool
}

// NewQueue creates a new in-memory job queue.
func NewQueue(opts Options, store jobs.JobStore) *Queue {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	return &Queue{
		jobChan:   make(chan *jobs.ImportJob, opts.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		opts:      opts,
	}
}

// PublishImport implements the Publisher interface.
func (q *Queue) PublishImport(ctx context.Context, job *jobs.ImportJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	if err := q.save(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

// Start implements the Consumer interface. It launches Options.Workers
// goroutines that call handler for each job.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single attempt and schedules a retry when allowed.
func (q *Queue) processJob(ctx context.Context, job *jobs.ImportJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().Str("job_id", job.JobID).Str("user_id", job.UserID).Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	job.CompletedAt = nil
	_ = q.save(ctx, job)

	err := q.run(logger.WithContext(ctx, log), job, handler)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		job.Data = nil
		log.Info().Dur("took", completedAt.Sub(now)).Msg("Import job completed")
	case job.RetryCount < job.MaxRetries:
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		job.Error = err.Error()
		log.Warn().Err(err).Int("retry", job.RetryCount).Msg("Import job failed, retrying")

		backoff := time.Duration(job.RetryCount) * q.opts.RetryBackoff
		time.AfterFunc(backoff, func() {
			job.Status = jobs.JobStatusPending
			job.StartedAt = nil
			job.CompletedAt = nil
			if err := q.PublishImport(ctx, job); err != nil {
				job.Status = jobs.JobStatusFailed
				job.Data = nil
				_ = q.save(ctx, job)
			}
		})
	default:
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		job.Data = nil
		log.Error().Err(err).Msg("Import job failed")
	}

	_ = q.save(ctx, job)
}

// run calls handler and turns a panic into an error so one bad file cannot
// take a worker down.
func (q *Queue) run(ctx context.Context, job *jobs.ImportJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.ImportJob) error {
	if q.store == nil {
		return nil
	}
	return q.store.SaveJob(ctx, job)
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
