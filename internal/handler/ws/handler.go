package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/internal/service"
)

// MessageType constants
const (
	TypePing    = "ping"
	TypePong    = "pong"
	TypeAnalyze = "analyze"
	TypeStage   = "stage"
	TypeResult  = "result"
	TypeError   = "error"
)

// Session is the connection a message arrived on.
type Session interface {
	ID() string
	UserID() string
	// Emit queues msg for the client. It reports false once the
	// connection is gone.
	Emit(msg []byte) bool
}

// DefaultMaxInFlight is how many analyses one connection may run at once.
const DefaultMaxInFlight = 2

// Handler handles WebSocket messages.
type Handler struct {
	log         zerolog.Logger
	analyzer    service.Analyzer
	maxInFlight int

	mu       sync.Mutex
	inFlight map[string]int
}

// NewHandler creates a new WebSocket handler.
func NewHandler(log zerolog.Logger, analyzer service.Analyzer) *Handler {
	return &Handler{
		log:         log,
		analyzer:    analyzer,
		maxInFlight: DefaultMaxInFlight,
		inFlight:    make(map[string]int),
	}
}

// WithMaxInFlight sets the per-connection analysis limit.
func (h *Handler) WithMaxInFlight(n int) *Handler {
	if n > 0 {
		h.maxInFlight = n
	}
	return h
}

func (h *Handler) acquire(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight[sessionID] >= h.maxInFlight {
		return false
	}
	h.inFlight[sessionID]++
	return true
}

func (h *Handler) release(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight[sessionID] <= 1 {
		delete(h.inFlight, sessionID)
		return
	}
	h.inFlight[sessionID]--
}

// Response represents a WebSocket response.
type Response struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// AnalyzePayload starts one analysis. Audio comes either as a URL or as
// base64 in audio_base64.
type AnalyzePayload struct {
	RequestID        string `json:"request_id"`
	AudioURL         string `json:"audio_url"`
	AudioBase64      string `json:"audio_base64"`
	TargetText       string `json:"target_text"`
	AnalysisLanguage string `json:"analysis_language"`
	NativeLanguage   string `json:"native_language"`
	FeedbackTone     string `json:"feedback_tone"`
	IncludeFeedback  *bool  `json:"include_feedback"`
	Detailed         bool   `json:"detailed"`
	Quick            bool   `json:"quick"`
	MaxTokens        int    `json:"max_tokens"`
	SessionID        string `json:"session_id"`
	Save             bool   `json:"save"`
}

// StagePayload reports that the pipeline entered a stage.
type StagePayload struct {
	RequestID string `json:"request_id,omitempty"`
	Stage     string `json:"stage"`
}

// ResultPayload carries a finished analysis.
type ResultPayload struct {
	RequestID string                  `json:"request_id,omitempty"`
	Result    *service.PipelineResult `json:"result"`
}

// ErrorPayload carries a failure.
type ErrorPayload struct {
	RequestID string                 `json:"request_id,omitempty"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Handle processes one incoming message. Analyses run in the background
// and report through s until ctx is cancelled.
func (h *Handler) Handle(ctx context.Context, s Session, msgType string, payload json.RawMessage) {
	h.log.Debug().
		Str("client_id", s.ID()).
		Str("type", msgType).
		Msg("Handling WebSocket message")

	switch msgType {
	case TypePing:
		h.emit(s, TypePong, map[string]string{"message": "pong"})

	case TypeAnalyze:
		h.handleAnalyze(ctx, s, payload)

	case "":
		h.emitError(s, "", errors.InvalidRequest("malformed message"))

	default:
		h.emitError(s, "", errors.InvalidRequest("unknown message type: "+msgType))
	}
}

func (h *Handler) handleAnalyze(ctx context.Context, s Session, payload json.RawMessage) {
	var p AnalyzePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		h.emitError(s, "", errors.InvalidRequest("invalid analyze payload"))
		return
	}

	opts, err := p.options(s.UserID())
	if err != nil {
		h.emitError(s, p.RequestID, err)
		return
	}
	opts.OnStage = func(stage string) {
		h.emit(s, TypeStage, StagePayload{RequestID: p.RequestID, Stage: stage})
	}

	if !h.acquire(s.ID()) {
		h.emitError(s, p.RequestID, errors.New(errors.ErrTooMany,
			fmt.Sprintf("at most %d analyses may run at once per connection", h.maxInFlight)))
		return
	}

	go func() {
		result, err := h.analyzer.Analyze(ctx, opts)
		h.release(s.ID())
		if err != nil {
			h.emitError(s, p.RequestID, err)
			return
		}
		h.emit(s, TypeResult, ResultPayload{RequestID: p.RequestID, Result: result})
	}()
}

func (p AnalyzePayload) options(userID string) (service.AnalyzeOptions, error) {
	opts := service.AnalyzeOptions{
		AudioURL:         p.AudioURL,
		TargetText:       p.TargetText,
		AnalysisLanguage: p.AnalysisLanguage,
		NativeLanguage:   p.NativeLanguage,
		IncludeFeedback:  p.IncludeFeedback,
		FeedbackTone:     p.FeedbackTone,
		DetailedReport:   p.Detailed,
		QuickFeedback:    p.Quick,
		MaxTokens:        p.MaxTokens,
		UserID:           userID,
		SessionID:        p.SessionID,
		Save:             p.Save,
	}
	if code := service.NormalizeLanguageCode(p.NativeLanguage); code != "" {
		opts.NativeLanguage = code
	}
	if p.AudioBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(p.AudioBase64)
		if err != nil {
			return opts, errors.InvalidRequest("audio_base64 is not valid base64")
		}
		opts.AudioData = data
	}
	return opts, nil
}

func (h *Handler) emitError(s Session, requestID string, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		h.log.Error().Err(err).Str("client_id", s.ID()).Msg("Unhandled WebSocket error")
		appErr = errors.Internal("internal server error")
	}
	h.emit(s, TypeError, ErrorPayload{
		RequestID: requestID,
		Code:      string(appErr.Code),
		Message:   appErr.Message,
		Details:   appErr.Details,
	})
}

func (h *Handler) emit(s Session, msgType string, payload interface{}) {
	msg, err := json.Marshal(Response{Type: msgType, Payload: payload})
	if err != nil {
		h.log.Error().Err(err).Str("type", msgType).Msg("Failed to encode WebSocket message")
		return
	}
	if !s.Emit(msg) {
		h.log.Debug().Str("client_id", s.ID()).Str("type", msgType).Msg("Dropped message for closed connection")
	}
}
