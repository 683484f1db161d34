package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/windfall/francoflex_service/internal/client"
	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/internal/logger"
)

type analyzerFunc func(ctx context.Context, opts AnalyzeOptions) (*PipelineResult, error)

func (f analyzerFunc) Analyze(ctx context.Context, opts AnalyzeOptions) (*PipelineResult, error) {
	return f(ctx, opts)
}

func newTestQueue(t *testing.T) (*client.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := client.NewRedisClient("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestJobServiceCompletes(t *testing.T) {
	queue, mr := newTestQueue(t)
	release := make(chan struct{})

	analyzer := analyzerFunc(func(ctx context.Context, opts AnalyzeOptions) (*PipelineResult, error) {
		<-release
		return &PipelineResult{
			Success:  true,
			Score:    88,
			Category: CategoryGood,
			Analysis: &Assessment{QualityScore: 88},
			Metadata: PipelineMetadata{TargetText: opts.TargetText},
		}, nil
	})

	svc := NewJobService(analyzer, queue, logger.NewNop()).WithWait(2 * time.Second)

	jobID, err := svc.Submit(t.Context(), AnalyzeOptions{AudioData: wavHeader, TargetText: "Bonsoir"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	close(release)

	res, err := svc.Result(t.Context(), jobID)
	if err != nil {
		t.Fatalf("Result() error: %v", err)
	}
	if res.JobID != jobID || res.Status != JobStatusCompleted {
		t.Errorf("result = %+v", res)
	}
	if res.Result == nil || res.Result.Score != 88 || res.Result.Metadata.TargetText != "Bonsoir" {
		t.Errorf("pipeline result = %+v", res.Result)
	}

	// The result stays readable and carries a TTL.
	again, err := svc.Result(t.Context(), jobID)
	if err != nil || again.Status != JobStatusCompleted {
		t.Errorf("second Result() = %+v, %v", again, err)
	}
	if ttl := mr.TTL(jobKeyPrefix + jobID); ttl <= 0 || ttl > jobResultTTL {
		t.Errorf("TTL = %v", ttl)
	}
}

func TestJobServiceFailure(t *testing.T) {
	queue, _ := newTestQueue(t)

	analyzer := analyzerFunc(func(ctx context.Context, opts AnalyzeOptions) (*PipelineResult, error) {
		return nil, errors.PipelineFailed(errors.StageScoring, errors.New(errors.ErrScoringService, "speechace api error 500"))
	})
	svc := NewJobService(analyzer, queue, logger.NewNop()).WithWait(2 * time.Second)

	jobID, err := svc.Submit(t.Context(), AnalyzeOptions{AudioData: wavHeader, TargetText: "Bonsoir"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	res, err := svc.Result(t.Context(), jobID)
	if err != nil {
		t.Fatalf("Result() error: %v", err)
	}
	if res.Status != JobStatusFailed || res.Error == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Error.Code != errors.ErrPipelineFailed || res.Error.Stage() != errors.StageScoring {
		t.Errorf("error = %+v", res.Error)
	}
}

func TestJobServiceNotReady(t *testing.T) {
	queue, _ := newTestQueue(t)
	block := make(chan struct{})
	defer close(block)

	analyzer := analyzerFunc(func(ctx context.Context, opts AnalyzeOptions) (*PipelineResult, error) {
		<-block
		return nil, context.Canceled
	})
	svc := NewJobService(analyzer, queue, logger.NewNop()).WithWait(100 * time.Millisecond)

	jobID, err := svc.Submit(t.Context(), AnalyzeOptions{AudioData: wavHeader, TargetText: "Bonsoir"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	_, err = svc.Result(t.Context(), jobID)
	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
}

func TestJobServiceValidation(t *testing.T) {
	queue, _ := newTestQueue(t)
	svc := NewJobService(analyzerFunc(func(ctx context.Context, opts AnalyzeOptions) (*PipelineResult, error) {
		t.Error("analyzer should not run")
		return nil, nil
	}), queue, logger.NewNop())

	if _, err := svc.Submit(t.Context(), AnalyzeOptions{TargetText: "Bonsoir"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Submit without audio: %v", err)
	}
	if _, err := svc.Result(t.Context(), "not-a-uuid"); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Result with bad id: %v", err)
	}
}
