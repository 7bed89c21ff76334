package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/twpayne/go-geosample"
)

// A statusError is an error with an associated HTTP status code and a
// message safe to show to clients.
type statusError struct {
	code    int
	message string
	err     error
}

func (e *statusError) Error() string {
	if e.err == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.err)
}

func (e *statusError) Unwrap() error {
	return e.err
}

func newStatusError(code int, message string, err error) *statusError {
	return &statusError{
		code:    code,
		message: message,
		err:     err,
	}
}

func notFoundError(id string) *statusError {
	return newStatusError(http.StatusNotFound, fmt.Sprintf("raster %s not found", id), nil)
}

// classifyError maps err to a statusError.
func classifyError(err error) *statusError {
	var statusErr *statusError
	var unknownCRSError *geosample.UnknownCRSError
	var projectionError *geosample.ProjectionError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &statusErr):
		return statusErr
	case errors.As(err, &maxBytesError):
		return newStatusError(http.StatusRequestEntityTooLarge, "request too large", err)
	case errors.As(err, &unknownCRSError):
		return newStatusError(http.StatusBadRequest, "unknown CRS", err)
	case errors.Is(err, geosample.ErrFormat),
		errors.Is(err, geosample.ErrEmptyRaster),
		errors.Is(err, geosample.ErrDegenerateTransform):
		return newStatusError(http.StatusUnprocessableEntity, "unreadable file", err)
	case errors.Is(err, geosample.ErrAllMissing):
		return newStatusError(http.StatusNotFound, "all values missing", err)
	case errors.As(err, &projectionError):
		return newStatusError(http.StatusUnprocessableEntity, "projection failed", err)
	case errors.Is(err, geosample.ErrPointSyntax):
		return newStatusError(http.StatusBadRequest, "invalid points", err)
	default:
		return newStatusError(http.StatusInternalServerError, "internal error", err)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeError writes err to w as JSON and returns its status code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) int {
	statusErr := classifyError(err)
	if statusErr.code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "url", r.URL.String(), "status", statusErr.code, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "url", r.URL.String(), "status", statusErr.code, "error", err)
	}
	response := errorResponse{
		Error: statusErr.message,
	}
	if statusErr.err != nil && statusErr.code < http.StatusInternalServerError {
		response.Detail = statusErr.err.Error()
	}
	writeJSON(w, statusErr.code, response)
	return statusErr.code
}

// writeJSON writes value to w as JSON with status code. If value cannot be
// encoded then a 500 is written instead.
func writeJSON(w http.ResponseWriter, code int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(data, '\n'))
}
