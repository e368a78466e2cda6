package router

import (
	"errors"
	"net/http"

	"github.com/compozy/kbchat/engine/core"
	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/uc"
)

// Error codes
const (
	ErrInternalCode       = "internal_error"
	ErrBadRequestCode     = "invalid_input"
	ErrNotFoundCode       = "not_found"
	ErrAlreadyRunningCode = "already_running"
)

// Error messages
const (
	ErrMsgAppStateNotInitialized = "application state not initialized"
	ErrMsgInvalidBody            = "request body is not valid JSON"
)

var kindStatus = map[knowledge.ErrorKind]int{
	knowledge.KindInsufficientContent: http.StatusUnprocessableEntity,
	knowledge.KindUnsupportedFormat:   http.StatusUnsupportedMediaType,
	knowledge.KindExtraction:          http.StatusUnprocessableEntity,
	knowledge.KindDownload:            http.StatusBadGateway,
	knowledge.KindEmbedding:           http.StatusBadGateway,
	knowledge.KindVectorStore:         http.StatusServiceUnavailable,
	knowledge.KindGeneration:          http.StatusBadGateway,
	knowledge.KindConfiguration:       http.StatusServiceUnavailable,
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case isValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, knowledge.ErrSourceNotFound):
		// a missing blob is reported as not found rather than a gateway failure
		return http.StatusNotFound
	}
	if status, ok := kindStatus[knowledge.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// CodeFor returns the machine-readable problem code for err.
func CodeFor(err error) string {
	switch {
	case isValidation(err):
		return ErrBadRequestCode
	case errors.Is(err, ingest.ErrAlreadyRunning):
		return ErrAlreadyRunningCode
	case errors.Is(err, knowledge.ErrSourceNotFound):
		return ErrNotFoundCode
	}
	if kind := knowledge.KindOf(err); kind != knowledge.KindUnknown {
		return string(kind)
	}
	return ErrInternalCode
}

// ProblemFromError builds the problem document for err. Internal errors keep
// their detail out of the response.
func ProblemFromError(err error) *core.Problem {
	status := StatusFor(err)
	detail := http.StatusText(status)
	if err != nil && status != http.StatusInternalServerError {
		detail = err.Error()
	}
	return &core.Problem{
		Status: status,
		Title:  http.StatusText(status),
		Detail: detail,
		Extras: map[string]any{"code": CodeFor(err)},
	}
}

func isValidation(err error) bool {
	return errors.Is(err, uc.ErrInvalidInput) ||
		errors.Is(err, uc.ErrQueryMissing) ||
		errors.Is(err, uc.ErrIDMissing) ||
		errors.Is(err, uc.ErrLocationMissing)
}
