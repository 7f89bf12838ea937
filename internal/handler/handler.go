// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cgpacalc/cgpacalc/internal/middleware"
	"github.com/cgpacalc/cgpacalc/internal/render"
)

// errorPage is the copy shown for a status code.
type errorPage struct {
	title   string
	message string
}

var errorPages = map[int]errorPage{
	http.StatusBadRequest:            {"Bad Request", "The request could not be understood by the server."},
	http.StatusForbidden:             {"Forbidden", "CSRF verification failed. Request aborted."},
	http.StatusNotFound:              {"Not Found", "The requested resource was not found on this server."},
	http.StatusMethodNotAllowed:      {"Method Not Allowed", "This page does not accept that request method."},
	http.StatusRequestEntityTooLarge: {"Request Entity Too Large", "The submitted form is too large."},
	http.StatusTooManyRequests:       {"Too Many Requests", "Too many login attempts. Please wait a moment and try again."},
	http.StatusInternalServerError:   {"Server Error", "Something went wrong on our side. Please try again later."},
}

// Handler renders the shared error pages.
type Handler struct {
	renderer render.Renderer
	logger   *slog.Logger
}

// New creates a new Handler instance.
func New(renderer render.Renderer, logger *slog.Logger) *Handler {
	return &Handler{
		renderer: renderer,
		logger:   logger,
	}
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.Error(w, r, http.StatusNotFound)
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.Error(w, r, http.StatusMethodNotAllowed)
}

// Error renders the HTML error page for status. It satisfies
// middleware.ErrorPageFunc and falls back to plain text when the
// template cannot be rendered.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request, status int) {
	page, ok := errorPages[status]
	if !ok {
		page = errorPage{title: http.StatusText(status)}
	}

	err := h.renderer.Render(w, r, status, render.PageError, render.Context{
		"status":  status,
		"title":   page.title,
		"message": page.message,
	})
	if err != nil {
		h.logger.Error("failed to render error page",
			slog.Int("status", status),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.PlainError(w, r, status)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
