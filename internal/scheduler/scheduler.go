package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/metrics"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
	"github.com/galhardo1999/albumcraft-pro-sub000/internal/queue"
)

// ErrClosed is returned by Submit once Shutdown has been called.
var ErrClosed = errors.New("scheduler is shutting down")

// Runner processes one job payload.
type Runner interface {
	Run(ctx context.Context, jobID string, payload model.JobPayload) (model.JobResult, error)
}

// Notifier is told about every job that reaches a terminal status.
type Notifier interface {
	JobFinished(ctx context.Context, job model.Job)
}

// Config holds the scheduler limits.
type Config struct {
	JobConcurrency int           // jobs processed at once
	MaxAttempts    int           // failures allowed before a job is failed
	MaxQueueDepth  int           // waiting jobs accepted, 0 = unbounded
	HistoryLimit   int           // terminal jobs kept for lookup and session stats, 0 = unbounded
	NudgeInterval  time.Duration // safety-net dispatch interval used by Start
}

// Scheduler dispatches queued jobs to a runner without exceeding the job ceiling,
// and keeps retry and terminal bookkeeping.
type Scheduler struct {
	cfg      Config
	runner   Runner
	notifier Notifier
	now      func() time.Time

	mu         sync.Mutex
	queue      *queue.Queue
	processing map[string]*running
	history    []*model.Job // terminal jobs, oldest first
	index      map[string]*model.Job
	completed  int
	failed     int
	closed     bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type running struct {
	job    *model.Job
	cancel context.CancelFunc
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithNotifier registers n for terminal job events.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler. Jobs start dispatching as soon as they are submitted.
func New(cfg Config, r Runner, opts ...Option) *Scheduler {
	if cfg.JobConcurrency < 1 {
		cfg.JobConcurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cfg:        cfg,
		runner:     r,
		now:        time.Now,
		queue:      queue.New(cfg.MaxQueueDepth),
		processing: make(map[string]*running),
		index:      make(map[string]*model.Job),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs the periodic dispatch nudge until ctx is done. Dispatch is driven by
// submissions and completions; the nudge only covers missed wake-ups.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.NudgeInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.cfg.NudgeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				s.dispatchLocked()
				s.mu.Unlock()
			}
		}
	}()
}

// Submit enqueues a new job and returns its id.
func (s *Scheduler) Submit(payload model.JobPayload, priority int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}

	job := &model.Job{
		ID:          uuid.NewString(),
		Payload:     payload,
		Priority:    priority,
		Status:      model.JobStatusWaiting,
		CreatedAt:   s.now(),
		MaxAttempts: s.cfg.MaxAttempts,
	}

	if err := s.queue.Push(job); err != nil {
		metrics.JobsRejected.Inc()
		return "", fmt.Errorf("submit: %w", err)
	}
	s.index[job.ID] = job

	zlog.Logger.Info().
		Str("job_id", job.ID).
		Str("session_id", payload.SessionID).
		Int("files", len(payload.Files)).
		Int("priority", priority).
		Msg("job queued")

	s.dispatchLocked()

	return job.ID, nil
}

// dispatchLocked starts waiting jobs while slots are free. s.mu must be held.
func (s *Scheduler) dispatchLocked() {
	for !s.closed && len(s.processing) < s.cfg.JobConcurrency {
		job, ok := s.queue.Pop()
		if !ok {
			break
		}

		job.Status = model.JobStatusProcessing
		job.StartedAt = s.now()

		ctx, cancel := context.WithCancel(s.baseCtx)
		s.processing[job.ID] = &running{job: job, cancel: cancel}

		s.wg.Add(1)
		go s.run(ctx, job.ID, job.Payload)
	}

	s.updateGaugesLocked()
}

func (s *Scheduler) run(ctx context.Context, jobID string, payload model.JobPayload) {
	defer s.wg.Done()

	zlog.Logger.Info().Str("job_id", jobID).Msg("job started")

	result, err := s.runSafely(ctx, jobID, payload)
	cancelled := ctx.Err() != nil

	s.finish(jobID, result, err, cancelled)
}

// runSafely turns a runner panic into a job-level error.
func (s *Scheduler) runSafely(ctx context.Context, jobID string, payload model.JobPayload) (result model.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return s.runner.Run(ctx, jobID, payload)
}

func (s *Scheduler) finish(jobID string, result model.JobResult, err error, cancelled bool) {
	s.mu.Lock()

	r, ok := s.processing[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.processing, jobID)
	r.cancel()

	job := r.job
	var terminal bool

	switch {
	case err == nil:
		job.Status = model.JobStatusCompleted
		job.Result = &result
		terminal = true

		zlog.Logger.Info().
			Str("job_id", job.ID).
			Int("succeeded", len(result.Succeeded)).
			Int("failed", len(result.Failed)).
			Msg("job completed")

	case cancelled:
		job.Attempts++
		job.Status = model.JobStatusFailed
		job.LastError = fmt.Errorf("%w: %v", model.ErrJobCancelled, err).Error()
		terminal = true

		zlog.Logger.Warn().Str("job_id", job.ID).Msg("job cancelled")

	default:
		job.Attempts++
		job.LastError = err.Error()
		if result.AlbumID != uuid.Nil {
			job.Result = &result
		}

		if job.Attempts < job.MaxAttempts && model.IsRetryable(err) {
			job.Status = model.JobStatusWaiting
			job.StartedAt = time.Time{}
			s.queue.PushFront(job)
			metrics.JobRetries.Inc()

			zlog.Logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Int("attempt", job.Attempts).
				Int("max_attempts", job.MaxAttempts).
				Msg("job failed, requeued")
		} else {
			job.Status = model.JobStatusFailed
			terminal = true

			zlog.Logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Int("attempts", job.Attempts).
				Msg("job failed")
		}
	}

	var snapshot model.Job
	if terminal {
		snapshot = s.retireLocked(job)
	}

	s.dispatchLocked()
	s.mu.Unlock()

	if terminal && s.notifier != nil {
		s.notifier.JobFinished(context.Background(), snapshot)
	}
}

// retireLocked moves a terminal job into history and returns a copy of it.
func (s *Scheduler) retireLocked(job *model.Job) model.Job {
	job.FinishedAt = s.now()
	job.Payload.Files = nil

	if job.Status == model.JobStatusCompleted {
		s.completed++
	} else {
		s.failed++
	}
	metrics.JobsFinished.WithLabelValues(string(job.Status)).Inc()

	s.history = append(s.history, job)
	if s.cfg.HistoryLimit > 0 && len(s.history) > s.cfg.HistoryLimit {
		drop := len(s.history) - s.cfg.HistoryLimit
		for _, old := range s.history[:drop] {
			delete(s.index, old.ID)
		}
		s.history = append([]*model.Job(nil), s.history[drop:]...)
	}

	return *job
}

// Get returns a copy of the job with id, if it is still known.
func (s *Scheduler) Get(id string) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.index[id]
	if !ok {
		return model.Job{}, false
	}

	snapshot := *job
	snapshot.Payload.Files = nil

	return snapshot, true
}

// Stats returns the global queue counters.
func (s *Scheduler) Stats() model.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return model.QueueStats{
		Waiting:   s.queue.Len(),
		Active:    len(s.processing),
		Completed: s.completed,
		Failed:    s.failed,
	}
}

// StatsForSession returns counters for the jobs submitted by sessionID.
// Completed and failed counts cover the retained history only.
func (s *Scheduler) StatsForSession(sessionID string) model.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := model.QueueStats{Waiting: s.queue.Count(sessionID)}

	for _, r := range s.processing {
		if r.job.Payload.SessionID == sessionID {
			stats.Active++
		}
	}
	for _, job := range s.history {
		if job.Payload.SessionID != sessionID {
			continue
		}
		if job.Status == model.JobStatusCompleted {
			stats.Completed++
		} else {
			stats.Failed++
		}
	}
	stats.TotalJobs = stats.Waiting + stats.Active + stats.Completed + stats.Failed

	return stats
}

// CancelSession fails the waiting jobs of sessionID and cancels its running ones.
// Running jobs stop at their next cancellation check. It returns the number of jobs affected.
func (s *Scheduler) CancelSession(sessionID string) int {
	s.mu.Lock()

	removed := s.queue.RemoveSession(sessionID)
	snapshots := make([]model.Job, 0, len(removed))
	for _, job := range removed {
		job.Status = model.JobStatusFailed
		job.LastError = model.ErrJobCancelled.Error()
		snapshots = append(snapshots, s.retireLocked(job))
	}

	n := len(removed)
	for _, r := range s.processing {
		if r.job.Payload.SessionID == sessionID {
			r.cancel()
			n++
		}
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	if n > 0 {
		zlog.Logger.Info().Str("session_id", sessionID).Int("jobs", n).Msg("session cancelled")
	}
	if s.notifier != nil {
		for _, snap := range snapshots {
			s.notifier.JobFinished(context.Background(), snap)
		}
	}

	return n
}

// Shutdown stops accepting jobs and waits for running jobs to finish.
// When ctx expires first, running jobs are cancelled and Shutdown waits for them to
// return. Waiting jobs, including those requeued for a retry while draining, are left
// undispatched; their count is returned.
func (s *Scheduler) Shutdown(ctx context.Context) int {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		zlog.Logger.Warn().Msg("shutdown grace period expired, cancelling running jobs")
		s.cancel()
		<-done
	}
	s.cancel()

	s.mu.Lock()
	abandoned := s.queue.Len()
	s.mu.Unlock()

	zlog.Logger.Info().Int("abandoned", abandoned).Msg("scheduler stopped")

	return abandoned
}

func (s *Scheduler) updateGaugesLocked() {
	metrics.JobsWaiting.Set(float64(s.queue.Len()))
	metrics.JobsActive.Set(float64(len(s.processing)))
}
