package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/minutes/pkg/binder"
	"github.com/dmitrymomot/minutes/pkg/logger"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// ErrorInfo is the classified form of an error.
type ErrorInfo struct {
	Status int
	Body   ErrorBody
}

// Classify maps err to a status code and client-facing body. Binding and
// validation failures become 400, HTTPError keeps its code, anything else
// is a generic 500 that does not leak the underlying message.
func Classify(err error) ErrorInfo {
	var verr binder.ValidationError
	if errors.As(err, &verr) {
		return ErrorInfo{
			Status: http.StatusBadRequest,
			Body:   ErrorBody{Error: verr.Error(), Fields: verr},
		}
	}
	if errors.Is(err, binder.ErrInvalidRequest) {
		return ErrorInfo{Status: http.StatusBadRequest, Body: ErrorBody{Error: "invalid request body"}}
	}

	var herr HTTPError
	if errors.As(err, &herr) {
		return ErrorInfo{Status: herr.Code, Body: ErrorBody{Error: herr.Key}}
	}

	return ErrorInfo{
		Status: http.StatusInternalServerError,
		Body:   ErrorBody{Error: ErrInternal.Key},
	}
}

// WriteError renders err the way the error handler does, without logging.
// Middleware that rejects a request before a handler runs uses it.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, Classify(err))
}

func writeError(w http.ResponseWriter, info ErrorInfo) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(info.Status)
	_ = json.NewEncoder(w).Encode(info.Body)
}

// NewErrorHandler logs each failure (warn for 4xx, error for 5xx) and writes
// the classified JSON body.
func NewErrorHandler(log *slog.Logger) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx Context, err error) {
		info := Classify(err)

		level := slog.LevelError
		if info.Status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		r := ctx.Request()
		log.LogAttrs(r.Context(), level, "request failed",
			logger.Error(err),
			slog.Int("status", info.Status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("http"),
		)

		writeError(ctx.ResponseWriter(), info)
	}
}
