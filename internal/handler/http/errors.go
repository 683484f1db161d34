package http

import (
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/pkg/response"
)

// writeError renders err in the response envelope. Errors that are not
// AppErrors are logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		log.Error().Err(err).Msg("Unhandled error")
		response.InternalError(w, "internal server error")
		return
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", string(appErr.Code)).Msg("Request failed")
	}
	response.Error(w, status, &response.ErrorBody{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// bodyTooLarge reports whether err came from an http.MaxBytesReader limit.
func bodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return stderrors.As(err, &maxErr)
}
