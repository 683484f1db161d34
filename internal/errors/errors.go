package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes.
type ErrorCode string

const (
	// General errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrTimeout      ErrorCode = "TIMEOUT"
	ErrUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrTooMany      ErrorCode = "TOO_MANY_REQUESTS"

	// Pipeline errors
	ErrInvalidRequest            ErrorCode = "INVALID_REQUEST"
	ErrDownloadTimeout           ErrorCode = "DOWNLOAD_TIMEOUT"
	ErrAudioNotFound             ErrorCode = "AUDIO_NOT_FOUND"
	ErrAudioDownload             ErrorCode = "AUDIO_DOWNLOAD_FAILED"
	ErrPayloadTooLarge           ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrEmptyAudio                ErrorCode = "EMPTY_AUDIO"
	ErrScoringServiceUnavailable ErrorCode = "SCORING_SERVICE_UNAVAILABLE"
	ErrScoringService            ErrorCode = "SCORING_SERVICE_ERROR"
	ErrFeedbackGeneration        ErrorCode = "FEEDBACK_GENERATION_ERROR"
	ErrPipelineFailed            ErrorCode = "PIPELINE_FAILED"

	// Service-specific errors
	ErrStorageService ErrorCode = "STORAGE_SERVICE_ERROR"
	ErrDatabase       ErrorCode = "DATABASE_ERROR"
)

// Pipeline stage names carried in PIPELINE_FAILED details.
const (
	StageIngestion = "ingestion"
	StageScoring   = "scoring"
	StageFeedback  = "feedback"
)

// AppError represents an application error with code and metadata.
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// Stage returns the pipeline stage recorded on a PIPELINE_FAILED error.
func (e *AppError) Stage() string {
	if e.Details == nil {
		return ""
	}
	stage, _ := e.Details["stage"].(string)
	return stage
}

// HTTPStatus returns the HTTP status code for the error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrValidation, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound, ErrAudioNotFound:
		return http.StatusNotFound
	case ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrTooMany:
		return http.StatusTooManyRequests
	case ErrEmptyAudio:
		return http.StatusUnprocessableEntity
	case ErrTimeout, ErrDownloadTimeout:
		return http.StatusGatewayTimeout
	case ErrScoringServiceUnavailable, ErrUnavailable:
		return http.StatusServiceUnavailable
	case ErrScoringService, ErrFeedbackGeneration, ErrAudioDownload, ErrStorageService:
		return http.StatusBadGateway
	case ErrPipelineFailed:
		return pipelineStatus(e)
	default:
		return http.StatusInternalServerError
	}
}

// pipelineStatus maps a wrapped pipeline failure to the status of its origin.
func pipelineStatus(e *AppError) int {
	var origin *AppError
	if stderrors.As(e.Err, &origin) && origin.Code != ErrPipelineFailed {
		return origin.HTTPStatus()
	}
	if e.Stage() == StageIngestion {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// As is re-exported so callers do not need both errors packages.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Common error constructors
func Internal(message string) *AppError {
	return New(ErrInternal, message)
}

func InternalWrap(message string, err error) *AppError {
	return Wrap(ErrInternal, message, err)
}

func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

func InvalidRequest(message string) *AppError {
	return New(ErrInvalidRequest, message)
}

func NotFound(resource string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource))
}

func Unauthorized(message string) *AppError {
	return New(ErrUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrForbidden, message)
}

// PipelineFailed wraps a stage failure into the single error type returned by the pipeline.
func PipelineFailed(stage string, err error) *AppError {
	kind := CodeOf(err)
	detail := err.Error()
	details := map[string]interface{}{
		"stage": stage,
		"kind":  string(kind),
	}
	var origin *AppError
	if stderrors.As(err, &origin) {
		detail = origin.Message
		// Vendor status and body live on the origin.
		if len(origin.Details) > 0 {
			details["origin"] = origin.Details
		}
	}
	details["detail"] = detail
	return Wrap(ErrPipelineFailed, fmt.Sprintf("pronunciation analysis failed at %s: %s", stage, detail), err).
		WithDetails(details)
}
