package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/internal/middleware"
	"github.com/windfall/francoflex_service/internal/service"
	"github.com/windfall/francoflex_service/pkg/response"
)

const (
	maxJSONBodyBytes  = 1 << 20
	multipartOverhead = 1 << 20
)

// AnalyzeRequest is the JSON body of the analyze and job endpoints.
type AnalyzeRequest struct {
	AudioURL         string `json:"audio_url"`
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

// Options converts the request into pipeline options for userID.
func (r AnalyzeRequest) Options(userID string) service.AnalyzeOptions {
	native := r.NativeLanguage
	if code := service.NormalizeLanguageCode(native); code != "" {
		native = code
	}
	return service.AnalyzeOptions{
		AudioURL:         strings.TrimSpace(r.AudioURL),
		TargetText:       r.TargetText,
		AnalysisLanguage: r.AnalysisLanguage,
		NativeLanguage:   native,
		IncludeFeedback:  r.IncludeFeedback,
		FeedbackTone:     r.FeedbackTone,
		DetailedReport:   r.Detailed,
		QuickFeedback:    r.Quick,
		MaxTokens:        r.MaxTokens,
		UserID:           userID,
		SessionID:        r.SessionID,
		Save:             r.Save,
	}
}

// PronunciationHandler serves the analysis endpoints.
type PronunciationHandler struct {
	log      zerolog.Logger
	analyzer service.Analyzer
	jobs     *service.JobService
	maxBytes int64
}

// NewPronunciationHandler creates a new pronunciation handler.
func NewPronunciationHandler(log zerolog.Logger, analyzer service.Analyzer, jobs *service.JobService, maxAudioBytes int64) *PronunciationHandler {
	return &PronunciationHandler{
		log:      log,
		analyzer: analyzer,
		jobs:     jobs,
		maxBytes: maxAudioBytes,
	}
}

// Analyze handles POST /api/v1/pronunciation/analyze
func (h *PronunciationHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAnalyzeRequest(w, r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), req.Options(middleware.GetUserID(r.Context())))
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, result)
}

// AnalyzeUpload handles POST /api/v1/pronunciation/analyze/upload
//
// Request: multipart/form-data with "audio_file" plus the AnalyzeRequest
// fields as form values.
func (h *PronunciationHandler) AnalyzeUpload(w http.ResponseWriter, r *http.Request) {
	audio, req, err := h.readUpload(w, r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	opts := req.Options(middleware.GetUserID(r.Context()))
	opts.AudioURL = ""
	opts.AudioData = audio

	result, err := h.analyzer.Analyze(r.Context(), opts)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, result)
}

// SubmitJob handles POST /api/v1/pronunciation/jobs
// Response: 202 { "job_id": "...", "status": "pending" }
func (h *PronunciationHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAnalyzeRequest(w, r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	jobID, err := h.jobs.Submit(r.Context(), req.Options(middleware.GetUserID(r.Context())))
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.Accepted(w, map[string]string{
		"job_id": jobID,
		"status": "pending",
	})
}

// GetJob handles GET /api/v1/pronunciation/jobs/{jobID}
// It blocks for up to the job wait window; 504 when the job is still running.
func (h *PronunciationHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	result, err := h.jobs.Result(r.Context(), jobID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	if result.Status == service.JobStatusFailed && result.Error != nil {
		details := map[string]interface{}{"job_id": result.JobID}
		for k, v := range result.Error.Details {
			details[k] = v
		}
		h.handleError(w, errors.New(result.Error.Code, result.Error.Message).WithDetails(details))
		return
	}

	response.JSON(w, http.StatusOK, result)
}

func decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request) (AnalyzeRequest, error) {
	var req AnalyzeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if bodyTooLarge(err) {
			return req, errors.New(errors.ErrPayloadTooLarge, "request body too large")
		}
		return req, errors.InvalidRequest("invalid JSON body")
	}
	return req, nil
}

func (h *PronunciationHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, AnalyzeRequest, error) {
	var req AnalyzeRequest

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxBytes + multipartOverhead); err != nil {
		if bodyTooLarge(err) {
			return nil, req, errors.New(errors.ErrPayloadTooLarge, "upload too large")
		}
		return nil, req, errors.InvalidRequest("failed to parse multipart form")
	}

	file, _, err := r.FormFile("audio_file")
	if err != nil {
		return nil, req, errors.InvalidRequest("audio_file is required")
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		return nil, req, errors.InvalidRequest("failed to read audio file")
	}

	req = AnalyzeRequest{
		TargetText:       r.FormValue("target_text"),
		AnalysisLanguage: r.FormValue("analysis_language"),
		NativeLanguage:   r.FormValue("native_language"),
		FeedbackTone:     r.FormValue("feedback_tone"),
		SessionID:        r.FormValue("session_id"),
	}
	if req.IncludeFeedback, err = formBoolPtr(r, "include_feedback"); err != nil {
		return nil, req, err
	}
	for name, dst := range map[string]*bool{"detailed": &req.Detailed, "quick": &req.Quick, "save": &req.Save} {
		v, err := formBoolPtr(r, name)
		if err != nil {
			return nil, req, err
		}
		if v != nil {
			*dst = *v
		}
	}
	if s := r.FormValue("max_tokens"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, req, errors.InvalidRequest("max_tokens must be an integer")
		}
		req.MaxTokens = n
	}

	return audio, req, nil
}

func formBoolPtr(r *http.Request, name string) (*bool, error) {
	s := r.FormValue(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, errors.InvalidRequest(fmt.Sprintf("%s must be true or false", name))
	}
	return &v, nil
}

func (h *PronunciationHandler) handleError(w http.ResponseWriter, err error) {
	writeError(w, h.log, err)
}
