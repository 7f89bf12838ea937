package handler

import (
	"log/slog"
	"net/http"

	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/middleware"
	"github.com/cgpacalc/cgpacalc/internal/render"
)

// PageHandler serves the calculator page.
type PageHandler struct {
	renderer render.Renderer
	clock    clock.Clock
	logger   *slog.Logger
}

// NewPageHandler creates a new PageHandler.
func NewPageHandler(renderer render.Renderer, clk clock.Clock, logger *slog.Logger) *PageHandler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &PageHandler{
		renderer: renderer,
		clock:    clk,
		logger:   logger,
	}
}

// CGPACalculator renders the calculator with the current time as
// "timestamp" (fractional Unix seconds). Any method is accepted.
//
// ANY /
func (h *PageHandler) CGPACalculator(w http.ResponseWriter, r *http.Request) {
	ts := clock.UnixSeconds(h.clock.Now())

	err := h.renderer.Render(w, r, http.StatusOK, render.PageCalculator, render.Context{
		"timestamp": ts,
	})
	if err != nil {
		h.logger.Error("failed to render page",
			slog.String("template", render.PageCalculator),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
