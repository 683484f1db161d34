package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/client"
	"github.com/windfall/francoflex_service/internal/errors"
)

const (
	defaultAnalysisLanguage = DialectFrench
	defaultNativeLanguage   = "en"
	eventPublishTimeout     = 10 * time.Second
)

// Feedback modes recorded in the result metadata.
const (
	FeedbackModeStandard = "standard"
	FeedbackModeDetailed = "detailed"
	FeedbackModeQuick    = "quick"
	FeedbackModeNone     = "none"
)

// AudioLoader loads the audio for a run.
type AudioLoader interface {
	Fetch(ctx context.Context, src AudioSource) (*AudioAsset, error)
}

// Scorer submits audio for pronunciation scoring.
type Scorer interface {
	Score(ctx context.Context, req client.ScoreRequest) (*client.SpeechAceResult, error)
}

// EventPublisher publishes a JSON event with attributes.
type EventPublisher interface {
	Publish(ctx context.Context, data interface{}, attrs map[string]string) error
}

// StageObserver is told when the pipeline enters a stage.
type StageObserver func(stage string)

// AnalyzeOptions is one pronunciation analysis request.
type AnalyzeOptions struct {
	AudioURL         string
	AudioData        []byte
	TargetText       string
	AnalysisLanguage string
	NativeLanguage   string
	IncludeFeedback  *bool
	FeedbackTone     string
	DetailedReport   bool
	QuickFeedback    bool
	MaxTokens        int

	UserID    string
	SessionID string
	Save      bool

	OnStage StageObserver
}

func (o AnalyzeOptions) withDefaults() AnalyzeOptions {
	o.TargetText = strings.TrimSpace(o.TargetText)
	if strings.TrimSpace(o.AnalysisLanguage) == "" {
		o.AnalysisLanguage = defaultAnalysisLanguage
	}
	o.AnalysisLanguage = strings.ToLower(strings.TrimSpace(o.AnalysisLanguage))
	if strings.TrimSpace(o.NativeLanguage) == "" {
		o.NativeLanguage = defaultNativeLanguage
	}
	if o.IncludeFeedback == nil {
		include := true
		o.IncludeFeedback = &include
	}
	return o
}

func (o AnalyzeOptions) validate() error {
	if o.TargetText == "" {
		return errors.InvalidRequest("target text is required")
	}
	if o.AudioURL == "" && o.AudioData == nil {
		return errors.InvalidRequest("audio URL or audio data is required")
	}
	if o.AudioURL != "" && o.AudioData != nil {
		return errors.InvalidRequest("provide either an audio URL or audio data, not both")
	}
	if o.MaxTokens < 0 {
		return errors.InvalidRequest("max tokens must not be negative")
	}
	return nil
}

func (o AnalyzeOptions) speakerID() string {
	switch {
	case o.SessionID != "":
		return o.SessionID
	case o.UserID != "":
		return o.UserID
	default:
		return client.DefaultSpeakerID
	}
}

// PipelineMetadata describes a completed run.
type PipelineMetadata struct {
	AudioFormat      AudioFormat `json:"audioFormat"`
	AudioSize        int         `json:"audioSize"`
	AudioSizeKB      string      `json:"audio_size_kb"`
	TargetText       string      `json:"targetText"`
	AnalysisLanguage string      `json:"analysisLanguage"`
	NativeLanguage   string      `json:"nativeLanguage"`
	FeedbackMode     string      `json:"feedbackMode"`
	Diagnostics      []string    `json:"diagnostics,omitempty"`
	AnalysisID       string      `json:"analysisId,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}

// PipelineResult is the outcome of a successful analysis.
type PipelineResult struct {
	Success  bool             `json:"success"`
	Score    float64          `json:"score"`
	Category ScoreCategory    `json:"category"`
	Analysis *Assessment      `json:"analysis"`
	Feedback *FeedbackResult  `json:"feedback"`
	Metadata PipelineMetadata `json:"metadata"`
}

// AnalyzedEvent is published after a successful analysis.
type AnalyzedEvent struct {
	UserID     string        `json:"user_id"`
	Score      float64       `json:"score"`
	Category   ScoreCategory `json:"category"`
	TargetText string        `json:"target_text"`
	Language   string        `json:"language"`
	Timestamp  time.Time     `json:"timestamp"`
}

// PronunciationService runs audio through ingestion, scoring and feedback.
type PronunciationService struct {
	audio    AudioLoader
	scorer   Scorer
	composer *FeedbackComposer
	history  *AnalysisService
	events   EventPublisher
	now      func() time.Time
	log      zerolog.Logger
}

// NewPronunciationService creates a new pronunciation service.
func NewPronunciationService(
	audio AudioLoader,
	scorer Scorer,
	composer *FeedbackComposer,
	log zerolog.Logger,
) *PronunciationService {
	return &PronunciationService{
		audio:    audio,
		scorer:   scorer,
		composer: composer,
		now:      time.Now,
		log:      log,
	}
}

// WithHistory enables saving runs requested with Save.
func (s *PronunciationService) WithHistory(history *AnalysisService) *PronunciationService {
	s.history = history
	return s
}

// WithEvents enables publishing an AnalyzedEvent after each successful run.
func (s *PronunciationService) WithEvents(events EventPublisher) *PronunciationService {
	s.events = events
	return s
}

// Analyze runs the full pipeline. Stage failures are returned as
// PIPELINE_FAILED; malformed requests as INVALID_REQUEST.
func (s *PronunciationService) Analyze(ctx context.Context, opts AnalyzeOptions) (*PipelineResult, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	start := s.now()
	var diagnostics []string

	// Ingestion
	if err := s.enter(ctx, opts, errors.StageIngestion); err != nil {
		return nil, err
	}
	asset, err := s.audio.Fetch(ctx, AudioSource{URL: opts.AudioURL, Data: opts.AudioData})
	if err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, s.fail(errors.StageIngestion, err)
	}
	if asset.Format == AudioFormatUnknown {
		diagnostics = append(diagnostics, fmt.Sprintf("unrecognized audio signature %s", asset.Signature()))
	}

	// Scoring
	if err := s.enter(ctx, opts, errors.StageScoring); err != nil {
		return nil, err
	}
	assessment, err := s.scorer.Score(ctx, client.ScoreRequest{
		Audio:      asset.Data,
		FileName:   "audio." + asset.Format.Extension(),
		TargetText: opts.TargetText,
		Dialect:    opts.AnalysisLanguage,
		SpeakerID:  opts.speakerID(),
	})
	if err != nil {
		return nil, s.fail(errors.StageScoring, err)
	}

	// Feedback
	mode := FeedbackModeNone
	var feedback *FeedbackResult
	if *opts.IncludeFeedback {
		if err := s.enter(ctx, opts, errors.StageFeedback); err != nil {
			return nil, err
		}
		feedback, mode, err = s.feedback(ctx, assessment, opts)
		if err != nil {
			return nil, s.fail(errors.StageFeedback, err)
		}
	}

	result := &PipelineResult{
		Success:  true,
		Score:    assessment.QualityScore,
		Category: CategoryFor(assessment.QualityScore),
		Analysis: assessment,
		Feedback: feedback,
		Metadata: PipelineMetadata{
			AudioFormat:      asset.Format,
			AudioSize:        asset.Size(),
			AudioSizeKB:      asset.SizeKB(),
			TargetText:       opts.TargetText,
			AnalysisLanguage: opts.AnalysisLanguage,
			NativeLanguage:   opts.NativeLanguage,
			FeedbackMode:     mode,
			Diagnostics:      diagnostics,
			Timestamp:        s.now().UTC(),
		},
	}

	s.log.Info().
		Float64("score", result.Score).
		Str("category", string(result.Category)).
		Str("audio_format", string(asset.Format)).
		Str("feedback_mode", mode).
		Dur("duration", s.now().Sub(start)).
		Msg("Pronunciation analysis completed")

	if opts.Save {
		s.save(ctx, opts, result)
	}
	s.publish(ctx, opts, result)

	return result, nil
}

func (s *PronunciationService) feedback(ctx context.Context, a *Assessment, opts AnalyzeOptions) (*FeedbackResult, string, error) {
	fo := FeedbackOptions{
		TargetText:     opts.TargetText,
		Language:       opts.AnalysisLanguage,
		NativeLanguage: opts.NativeLanguage,
		Tone:           ParseFeedbackTone(opts.FeedbackTone),
		MaxTokens:      opts.MaxTokens,
	}
	switch {
	case opts.QuickFeedback:
		return s.composer.Quick(a), FeedbackModeQuick, nil
	case opts.DetailedReport:
		fb, err := s.composer.DetailedReport(ctx, a, fo)
		return fb, FeedbackModeDetailed, err
	default:
		fb, err := s.composer.Compose(ctx, a, fo)
		return fb, FeedbackModeStandard, err
	}
}

func (s *PronunciationService) enter(ctx context.Context, opts AnalyzeOptions, stage string) error {
	if err := ctx.Err(); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return s.fail(stage, errors.Wrap(errors.ErrTimeout, "analysis deadline exceeded", err))
		}
		return s.fail(stage, errors.Wrap(errors.ErrInternal, "analysis cancelled", err))
	}
	if opts.OnStage != nil {
		opts.OnStage(stage)
	}
	return nil
}

func (s *PronunciationService) fail(stage string, err error) error {
	s.log.Error().Err(err).Str("stage", stage).Msg("Pronunciation analysis failed")
	return errors.PipelineFailed(stage, err)
}

func (s *PronunciationService) save(ctx context.Context, opts AnalyzeOptions, result *PipelineResult) {
	if s.history == nil {
		result.Metadata.Diagnostics = append(result.Metadata.Diagnostics, "analysis not saved: history is not configured")
		return
	}
	content, err := json.Marshal(result)
	if err == nil {
		var record *AnalysisRecord
		record, err = s.history.Save(ctx, opts.userOrDefault(), SaveAnalysisInput{
			Type:    AnalysisTypeAnalysis,
			Level:   string(result.Category),
			Content: content,
		})
		if err == nil {
			result.Metadata.AnalysisID = record.ID
			return
		}
	}
	s.log.Warn().Err(err).Msg("Failed to save pronunciation analysis")
	result.Metadata.Diagnostics = append(result.Metadata.Diagnostics, "analysis not saved: "+err.Error())
}

func (s *PronunciationService) publish(ctx context.Context, opts AnalyzeOptions, result *PipelineResult) {
	if s.events == nil {
		return
	}
	event := AnalyzedEvent{
		UserID:     opts.userOrDefault(),
		Score:      result.Score,
		Category:   result.Category,
		TargetText: result.Metadata.TargetText,
		Language:   result.Metadata.AnalysisLanguage,
		Timestamp:  result.Metadata.Timestamp,
	}
	attrs := map[string]string{
		"event":    "pronunciation.analyzed",
		"category": string(result.Category),
	}

	// Detached from the request so a finished response does not cancel it.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	go func() {
		defer cancel()
		if err := s.events.Publish(pubCtx, event, attrs); err != nil {
			s.log.Warn().Err(err).Str("user_id", event.UserID).Msg("Failed to publish analysis event")
		}
	}()
}

func (o AnalyzeOptions) userOrDefault() string {
	if o.UserID != "" {
		return o.UserID
	}
	return client.DefaultSpeakerID
}
