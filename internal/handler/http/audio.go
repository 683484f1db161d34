package http

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/internal/middleware"
	"github.com/windfall/francoflex_service/internal/service"
	"github.com/windfall/francoflex_service/pkg/response"
)

// AudioHandler stores learner recordings.
type AudioHandler struct {
	log      zerolog.Logger
	uploads  *service.UploadService
	maxBytes int64
}

// NewAudioHandler creates a new audio handler.
func NewAudioHandler(log zerolog.Logger, uploads *service.UploadService, maxAudioBytes int64) *AudioHandler {
	return &AudioHandler{
		log:      log,
		uploads:  uploads,
		maxBytes: maxAudioBytes,
	}
}

// Upload handles POST /api/v1/audio/upload
//
// Request: multipart/form-data with "audio_file" and optional "session_id"
// Response: { "audio_url": "...", "filename": "..." }
func (h *AudioHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxBytes + multipartOverhead); err != nil {
		if bodyTooLarge(err) {
			h.handleError(w, errors.New(errors.ErrPayloadTooLarge, "upload too large"))
			return
		}
		h.handleError(w, errors.InvalidRequest("failed to parse multipart form"))
		return
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		h.handleError(w, errors.InvalidRequest("audio_file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.handleError(w, errors.InvalidRequest("failed to read audio file"))
		return
	}

	result, err := h.uploads.Upload(r.Context(), service.UploadInput{
		UserID:    middleware.GetUserID(r.Context()),
		SessionID: r.FormValue("session_id"),
		FileName:  header.Filename,
		Data:      data,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.Created(w, result)
}

func (h *AudioHandler) handleError(w http.ResponseWriter, err error) {
	writeError(w, h.log, err)
}
