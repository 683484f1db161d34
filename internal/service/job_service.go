package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/client"
	"github.com/windfall/francoflex_service/internal/errors"
)

const (
	jobKeyPrefix      = "pronunciation:job:"
	jobResultTTL      = 5 * time.Minute
	defaultJobWait    = 10 * time.Second
	defaultJobTimeout = 3 * time.Minute
)

// Job states.
const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobQueue is the list store a job result travels through.
type JobQueue interface {
	PushJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	BLPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error)
}

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, opts AnalyzeOptions) (*PipelineResult, error)
}

// JobResult is what a finished job leaves in the queue.
type JobResult struct {
	JobID  string           `json:"job_id"`
	Status string           `json:"status"`
	Result *PipelineResult  `json:"result,omitempty"`
	Error  *errors.AppError `json:"error,omitempty"`
}

// JobService runs analyses in the background and hands results back
// through Redis: the worker RPUSHes, the poller BLPOPs.
type JobService struct {
	analyzer   Analyzer
	queue      JobQueue
	wait       time.Duration
	jobTimeout time.Duration
	log        zerolog.Logger
}

// NewJobService creates a new job service.
func NewJobService(analyzer Analyzer, queue JobQueue, log zerolog.Logger) *JobService {
	return &JobService{
		analyzer:   analyzer,
		queue:      queue,
		wait:       defaultJobWait,
		jobTimeout: defaultJobTimeout,
		log:        log,
	}
}

// WithWait overrides how long Result blocks for.
func (s *JobService) WithWait(d time.Duration) *JobService {
	s.wait = d
	return s
}

// Submit validates opts, starts the analysis in the background and returns the job ID.
func (s *JobService) Submit(ctx context.Context, opts AnalyzeOptions) (string, error) {
	if s.queue == nil {
		return "", errors.New(errors.ErrUnavailable, "job queue is not configured")
	}
	if err := opts.withDefaults().validate(); err != nil {
		return "", err
	}

	jobID := uuid.New().String()
	opts.OnStage = nil

	s.log.Info().
		Str("job_id", jobID).
		Str("user_id", opts.UserID).
		Msg("Pronunciation job submitted")

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.jobTimeout)
	go func() {
		defer cancel()
		s.run(jobCtx, jobID, opts)
	}()

	return jobID, nil
}

func (s *JobService) run(ctx context.Context, jobID string, opts AnalyzeOptions) {
	out := JobResult{JobID: jobID, Status: JobStatusCompleted}

	result, err := s.analyzer.Analyze(ctx, opts)
	if err != nil {
		out.Status = JobStatusFailed
		var appErr *errors.AppError
		if !errors.As(err, &appErr) {
			appErr = errors.InternalWrap("analysis failed", err)
		}
		out.Error = appErr
	} else {
		out.Result = result
	}

	// Push with a fresh context: ctx may have expired during the analysis.
	pushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.queue.PushJSON(pushCtx, jobKeyPrefix+jobID, out, jobResultTTL); err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to push job result")
		return
	}

	s.log.Info().
		Str("job_id", jobID).
		Str("status", out.Status).
		Msg("Pronunciation job finished")
}

// Result waits for the job's result. It returns TIMEOUT when the job has not
// finished within the wait window.
func (s *JobService) Result(ctx context.Context, jobID string) (*JobResult, error) {
	if s.queue == nil {
		return nil, errors.New(errors.ErrUnavailable, "job queue is not configured")
	}
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, errors.Validation("invalid job id")
	}

	key := jobKeyPrefix + jobID
	data, err := s.queue.BLPop(ctx, s.wait, key)
	if err != nil {
		if client.IsNil(err) {
			s.log.Debug().Str("job_id", jobID).Msg("Job result not ready")
			return nil, errors.New(errors.ErrTimeout, "analysis not ready, please try again")
		}
		return nil, errors.Wrap(errors.ErrDatabase, "failed to read job result", err)
	}

	var result JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to parse job result", err)
	}

	// Put it back so the result can be read again until it expires.
	if err := s.queue.PushJSON(ctx, key, json.RawMessage(data), jobResultTTL); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to re-queue job result")
	}

	return &result, nil
}
