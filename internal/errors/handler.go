package errors

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

// Problem types for routing failures
const (
	TypeNotFound         = "/errors/not-found"
	TypeMethodNotAllowed = "/errors/method-not-allowed"
)

// TraceIDFunc extracts the trace id of a request context
type TraceIDFunc func(ctx context.Context) string

// ErrorHandler renders errors as RFC 7807 problem details
type ErrorHandler struct {
	logger  *slog.Logger
	traceID TraceIDFunc
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, traceID TraceIDFunc) *ErrorHandler {
	if traceID == nil {
		traceID = func(context.Context) string { return "" }
	}
	return &ErrorHandler{
		logger:  logger.With(slog.String("component", "error_handler")),
		traceID: traceID,
	}
}

// HandleError maps err to a problem and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	problem := MapLicenseError(err, h.traceID(r.Context()), r.URL.Path)
	h.log(r, problem.Status, err)
	render.Render(w, r, problem)
}

// NotFound returns a standard 404 problem
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(http.StatusNotFound, TypeNotFound, "Not Found",
		"The requested resource was not found", r.URL.Path).
		WithExtension("trace_id", h.traceID(r.Context()))
	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 problem
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(http.StatusMethodNotAllowed, TypeMethodNotAllowed, "Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method), r.URL.Path).
		WithExtension("trace_id", h.traceID(r.Context()))
	render.Render(w, r, problem)
}

func (h *ErrorHandler) log(r *http.Request, status int, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.Int("status", status),
		slog.String("error_code", string(KindOf(err))),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
}
