package httperrors

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/lowc1012/bucket-limiter/internal/log"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type HttpError struct {
	statusCode  int
	userMessage string
	details     []interface{}
	err         error
}

func New(statusCode int, userMessage string, internalError error) HttpError {
	return HttpError{
		statusCode:  statusCode,
		userMessage: userMessage,
		err:         internalError,
	}
}

func (e HttpError) Error() string {
	return e.err.Error()
}

func (e HttpError) Unwrap() error {
	return e.err
}

func (e HttpError) StatusCode() int {
	return e.statusCode
}

func (e HttpError) WriteError(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.statusCode)
	data := map[string]interface{}{
		"errorCode":    http.StatusText(e.statusCode),
		"errorMessage": e.userMessage,
		"details":      e.details,
	}
	return json.NewEncoder(w).Encode(data)
}

func (e *HttpError) WithDetails(details ...interface{}) {
	e.details = details
}

// Write sends e to w. Server side failures are logged with their cause, a body that
// cannot be written only leaves a log entry.
func Write(w http.ResponseWriter, e HttpError) {
	if e.statusCode >= http.StatusInternalServerError {
		log.Logger().Error(e.userMessage, zap.Error(e.err))
	}
	if err := e.WriteError(w); err != nil {
		log.Logger().Error("Failed to write error to HTTP request", zap.Error(err))
	}
}
