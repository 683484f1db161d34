package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/windfall/francoflex_service/internal/client"
	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/internal/logger"
	"github.com/windfall/francoflex_service/internal/repository"
)

type fakeScorer struct {
	mu     sync.Mutex
	result *client.SpeechAceResult
	err    error
	calls  []client.ScoreRequest
}

func (s *fakeScorer) Score(ctx context.Context, req client.ScoreRequest) (*client.SpeechAceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type fakePublisher struct {
	events chan AnalyzedEvent
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, data interface{}, attrs map[string]string) error {
	p.events <- data.(AnalyzedEvent)
	return p.err
}

func boolPtr(b bool) *bool { return &b }

func newPipeline(scorer Scorer, gen TextGenerator) *PronunciationService {
	fetcher := newTestFetcher(1<<20, time.Second)
	composer := NewFeedbackComposer(gen, 0, logger.NewNop())
	return NewPronunciationService(fetcher, scorer, composer, logger.NewNop())
}

func wavServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(wavHeader)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestAnalyzeEndToEndBrief(t *testing.T) {
	audio := wavServer(t)

	var scoreCalls atomic.Int32
	speechAce := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoreCalls.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("text"); got != "Bonjour" {
			t.Errorf("text = %q", got)
		}
		if got := r.FormValue("user_id"); got != "session-1" {
			t.Errorf("user_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quality_score": 82, "words": [{"word": "Bonjour", "quality_score": 82}]}`))
	}))
	defer speechAce.Close()

	gen := &fakeGenerator{text: "Nice nasal vowel. Round your lips on 'jour'."}
	svc := newPipeline(client.NewSpeechAceClient("key", speechAce.URL, time.Second), gen)

	result, err := svc.Analyze(t.Context(), AnalyzeOptions{
		AudioURL:         audio.URL + "/bonjour.wav",
		TargetText:       "Bonjour",
		AnalysisLanguage: "fr-fr",
		IncludeFeedback:  boolPtr(true),
		FeedbackTone:     "brief",
		UserID:           "user-9",
		SessionID:        "session-1",
	})
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}

	if !result.Success || result.Score != 82 || result.Category != CategoryGood {
		t.Errorf("unexpected result: success=%v score=%v category=%s", result.Success, result.Score, result.Category)
	}
	if result.Feedback == nil || result.Feedback.Feedback == "" {
		t.Fatal("expected feedback text")
	}
	if gen.callCount() != 1 || gen.lastCall().MaxTokens != 100 {
		t.Errorf("expected one brief generation call, got %+v", gen.calls)
	}
	if n := scoreCalls.Load(); n != 1 {
		t.Errorf("score calls = %d", n)
	}

	md := result.Metadata
	if md.AudioFormat != AudioFormatWAV || md.AudioSize != len(wavHeader) {
		t.Errorf("metadata audio = %s/%d", md.AudioFormat, md.AudioSize)
	}
	if md.AnalysisLanguage != "fr-fr" || md.NativeLanguage != "en" || md.TargetText != "Bonjour" {
		t.Errorf("metadata = %+v", md)
	}
	if md.FeedbackMode != FeedbackModeStandard {
		t.Errorf("FeedbackMode = %s", md.FeedbackMode)
	}
	if md.Timestamp.IsZero() || md.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp = %v", md.Timestamp)
	}
	if len(md.Diagnostics) != 0 {
		t.Errorf("Diagnostics = %v", md.Diagnostics)
	}

	out, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"analysis":{"quality_score":82,"words":[{"word":"Bonjour","quality_score":82}]}`) {
		t.Errorf("analysis should be the unmodified vendor body: %s", out)
	}
}

func TestAnalyzeScoringFailureSkipsFeedback(t *testing.T) {
	speechAce := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	}))
	defer speechAce.Close()

	gen := &fakeGenerator{text: "unused"}
	svc := newPipeline(client.NewSpeechAceClient("key", speechAce.URL, time.Second), gen)

	_, err := svc.Analyze(t.Context(), AnalyzeOptions{
		AudioData:  wavHeader,
		TargetText: "Bonjour",
	})

	var appErr *errors.AppError
	if !errors.As(err, &appErr) || appErr.Code != errors.ErrPipelineFailed {
		t.Fatalf("expected PIPELINE_FAILED, got %v", err)
	}
	if appErr.Stage() != errors.StageScoring {
		t.Errorf("stage = %q", appErr.Stage())
	}
	if appErr.Details["kind"] != string(errors.ErrScoringService) {
		t.Errorf("kind = %v", appErr.Details["kind"])
	}
	if gen.callCount() != 0 {
		t.Errorf("generator called %d times after scoring failure", gen.callCount())
	}
}

func TestAnalyzeScoringFailureKeepsVendorMessage(t *testing.T) {
	speechAce := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"daily quota exceeded"}`))
	}))
	defer speechAce.Close()

	svc := newPipeline(client.NewSpeechAceClient("key", speechAce.URL, time.Second), &fakeGenerator{text: "unused"})

	_, err := svc.Analyze(t.Context(), AnalyzeOptions{
		AudioData:  wavHeader,
		TargetText: "Bonjour",
	})

	var appErr *errors.AppError
	if !errors.As(err, &appErr) || appErr.Code != errors.ErrPipelineFailed {
		t.Fatalf("expected PIPELINE_FAILED, got %v", err)
	}
	encoded, err := json.Marshal(appErr.Details)
	if err != nil {
		t.Fatalf("marshal details: %v", err)
	}
	if !strings.Contains(string(encoded), "daily quota exceeded") {
		t.Errorf("vendor message missing from details: %s", encoded)
	}
	origin, ok := appErr.Details["origin"].(map[string]interface{})
	if !ok {
		t.Fatalf("origin details missing: %v", appErr.Details)
	}
	if origin["status"] != http.StatusTooManyRequests {
		t.Errorf("origin status = %v", origin["status"])
	}
}

func TestAnalyzeFailureStages(t *testing.T) {
	good := &client.SpeechAceResult{QualityScore: 70}

	tests := []struct {
		name      string
		opts      AnalyzeOptions
		scorer    *fakeScorer
		gen       *fakeGenerator
		wantStage string
		wantKind  errors.ErrorCode
	}{
		{
			name:      "empty audio",
			opts:      AnalyzeOptions{AudioData: []byte{}, TargetText: "Salut"},
			scorer:    &fakeScorer{result: good},
			gen:       &fakeGenerator{text: "x"},
			wantStage: errors.StageIngestion,
			wantKind:  errors.ErrEmptyAudio,
		},
		{
			name:      "scoring unavailable",
			opts:      AnalyzeOptions{AudioData: wavHeader, TargetText: "Salut"},
			scorer:    &fakeScorer{err: errors.New(errors.ErrScoringServiceUnavailable, "no key")},
			gen:       &fakeGenerator{text: "x"},
			wantStage: errors.StageScoring,
			wantKind:  errors.ErrScoringServiceUnavailable,
		},
		{
			name:      "generator failure",
			opts:      AnalyzeOptions{AudioData: wavHeader, TargetText: "Salut"},
			scorer:    &fakeScorer{result: good},
			gen:       &fakeGenerator{err: stderrors.New("rate limited")},
			wantStage: errors.StageFeedback,
			wantKind:  errors.ErrFeedbackGeneration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newPipeline(tt.scorer, tt.gen).Analyze(t.Context(), tt.opts)

			var appErr *errors.AppError
			if !errors.As(err, &appErr) || appErr.Code != errors.ErrPipelineFailed {
				t.Fatalf("expected PIPELINE_FAILED, got %v", err)
			}
			if appErr.Stage() != tt.wantStage {
				t.Errorf("stage = %q, want %q", appErr.Stage(), tt.wantStage)
			}
			if appErr.Details["kind"] != string(tt.wantKind) {
				t.Errorf("kind = %v, want %s", appErr.Details["kind"], tt.wantKind)
			}
		})
	}
}

func TestAnalyzeInvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		opts AnalyzeOptions
	}{
		{"missing target text", AnalyzeOptions{AudioData: wavHeader, TargetText: "   "}},
		{"missing audio", AnalyzeOptions{TargetText: "Salut"}},
		{"both sources", AnalyzeOptions{AudioURL: "http://example.com/a.wav", AudioData: wavHeader, TargetText: "Salut"}},
		{"negative max tokens", AnalyzeOptions{AudioData: wavHeader, TargetText: "Salut", MaxTokens: -1}},
		{"unsupported scheme", AnalyzeOptions{AudioURL: "file:///etc/passwd", TargetText: "Salut"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fakeScorer{result: &client.SpeechAceResult{QualityScore: 50}}
			_, err := newPipeline(scorer, &fakeGenerator{text: "x"}).Analyze(t.Context(), tt.opts)
			if errors.CodeOf(err) != errors.ErrInvalidRequest {
				t.Errorf("expected INVALID_REQUEST, got %v", err)
			}
			if len(scorer.calls) != 0 {
				t.Error("scorer should not be called for an invalid request")
			}
		})
	}
}

func TestAnalyzeFeedbackModes(t *testing.T) {
	assessment := &client.SpeechAceResult{
		QualityScore: 91,
		Words:        []WordScore{{Word: "merci", QualityScore: 91}},
	}

	tests := []struct {
		name      string
		opts      AnalyzeOptions
		wantMode  string
		wantCalls int
		wantNil   bool
	}{
		{"quick wins over detailed", AnalyzeOptions{QuickFeedback: true, DetailedReport: true}, FeedbackModeQuick, 0, false},
		{"detailed", AnalyzeOptions{DetailedReport: true}, FeedbackModeDetailed, 1, false},
		{"standard", AnalyzeOptions{}, FeedbackModeStandard, 1, false},
		{"feedback disabled", AnalyzeOptions{IncludeFeedback: boolPtr(false), QuickFeedback: true}, FeedbackModeNone, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{text: "Très bien."}
			opts := tt.opts
			opts.AudioData = wavHeader
			opts.TargetText = "merci"

			result, err := newPipeline(&fakeScorer{result: assessment}, gen).Analyze(t.Context(), opts)
			if err != nil {
				t.Fatalf("Analyze() error: %v", err)
			}
			if result.Metadata.FeedbackMode != tt.wantMode {
				t.Errorf("mode = %s, want %s", result.Metadata.FeedbackMode, tt.wantMode)
			}
			if gen.callCount() != tt.wantCalls {
				t.Errorf("generator calls = %d, want %d", gen.callCount(), tt.wantCalls)
			}
			if (result.Feedback == nil) != tt.wantNil {
				t.Errorf("feedback = %+v", result.Feedback)
			}
			if tt.wantMode == FeedbackModeDetailed && result.Feedback.DetailedAnalysis == nil {
				t.Error("expected detailed analysis")
			}
		})
	}
}

func TestAnalyzeUnknownFormatAddsDiagnostic(t *testing.T) {
	scorer := &fakeScorer{result: &client.SpeechAceResult{QualityScore: 55}}
	result, err := newPipeline(scorer, nil).Analyze(t.Context(), AnalyzeOptions{
		AudioData:     []byte("mystery bytes"),
		TargetText:    "Salut",
		QuickFeedback: true,
	})
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if result.Metadata.AudioFormat != AudioFormatUnknown {
		t.Errorf("format = %s", result.Metadata.AudioFormat)
	}
	if len(result.Metadata.Diagnostics) != 1 || !strings.Contains(result.Metadata.Diagnostics[0], "unrecognized audio signature") {
		t.Errorf("Diagnostics = %v", result.Metadata.Diagnostics)
	}
	if scorer.calls[0].FileName != "audio.bin" {
		t.Errorf("file name = %s", scorer.calls[0].FileName)
	}
	if scorer.calls[0].SpeakerID != client.DefaultSpeakerID {
		t.Errorf("speaker = %s", scorer.calls[0].SpeakerID)
	}
}

func TestAnalyzeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	scorer := &fakeScorer{result: &client.SpeechAceResult{QualityScore: 55}}
	_, err := newPipeline(scorer, nil).Analyze(ctx, AnalyzeOptions{AudioData: wavHeader, TargetText: "Salut"})

	var appErr *errors.AppError
	if !errors.As(err, &appErr) || appErr.Code != errors.ErrPipelineFailed || appErr.Stage() != errors.StageIngestion {
		t.Fatalf("expected PIPELINE_FAILED at ingestion, got %v", err)
	}
	if len(scorer.calls) != 0 {
		t.Error("scorer should not run after cancellation")
	}
}

func TestAnalyzeReportsStages(t *testing.T) {
	var stages []string
	_, err := newPipeline(&fakeScorer{result: &client.SpeechAceResult{QualityScore: 80}}, &fakeGenerator{text: "ok"}).
		Analyze(t.Context(), AnalyzeOptions{
			AudioData:  wavHeader,
			TargetText: "Salut",
			OnStage:    func(stage string) { stages = append(stages, stage) },
		})
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	want := []string{errors.StageIngestion, errors.StageScoring, errors.StageFeedback}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Errorf("stages = %v, want %v", stages, want)
	}
}

func TestAnalyzeSavesAndPublishes(t *testing.T) {
	repo := repository.NewInMemoryAnalysisRepository()
	history := NewAnalysisService(repo, logger.NewNop())
	pub := &fakePublisher{events: make(chan AnalyzedEvent, 1), err: stderrors.New("pubsub down")}

	svc := newPipeline(&fakeScorer{result: &client.SpeechAceResult{QualityScore: 77}}, nil).
		WithHistory(history).
		WithEvents(pub)

	result, err := svc.Analyze(t.Context(), AnalyzeOptions{
		AudioData:     wavHeader,
		TargetText:    "Au revoir",
		QuickFeedback: true,
		UserID:        "user-1",
		Save:          true,
	})
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if result.Metadata.AnalysisID == "" {
		t.Fatal("expected analysis id")
	}

	records, err := history.List(t.Context(), "user-1", 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 1 || records[0].Type != AnalysisTypeAnalysis || records[0].Level != string(CategoryGood) {
		t.Fatalf("records = %+v", records)
	}

	select {
	case ev := <-pub.events:
		if ev.UserID != "user-1" || ev.Score != 77 || ev.Category != CategoryGood || ev.Language != "fr-fr" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}

func TestAnalyzeSaveWithoutHistory(t *testing.T) {
	result, err := newPipeline(&fakeScorer{result: &client.SpeechAceResult{QualityScore: 40}}, nil).
		Analyze(t.Context(), AnalyzeOptions{AudioData: wavHeader, TargetText: "Salut", QuickFeedback: true, Save: true})
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if len(result.Metadata.Diagnostics) != 1 || !strings.HasPrefix(result.Metadata.Diagnostics[0], "analysis not saved") {
		t.Errorf("Diagnostics = %v", result.Metadata.Diagnostics)
	}
}
