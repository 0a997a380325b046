package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// ResultHandler serves analysis results.
type ResultHandler struct {
	results domain.AnalyzeResultStore
	cache   domain.ResultCache
	logger  *slog.Logger
}

// NewResultHandler creates a ResultHandler.
func NewResultHandler(results domain.AnalyzeResultStore, logger *slog.Logger) *ResultHandler {
	return &ResultHandler{results: results, logger: logger}
}

// WithCache serves single-result lookups from cache before the store.
func (h *ResultHandler) WithCache(c domain.ResultCache) *ResultHandler {
	h.cache = c
	return h
}

// ListResults answers GET /api/results?recommended=true&limit=&offset=.
func (h *ResultHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	recommended := r.URL.Query().Get("recommended")
	onlyRecommended := recommended == "true" || recommended == "1"

	results, err := h.results.List(r.Context(), onlyRecommended, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list results failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []domain.AnalyzeResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// GetResult answers GET /api/results/{app_id}/{currency}/{name...}.
func (h *ResultHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.cache != nil {
		if res, err := h.cache.Get(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
	}

	res, err := h.results.Get(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no result for "+id.Key())
	case err != nil:
		h.logger.ErrorContext(r.Context(), "get result failed",
			slog.String("item", id.Key()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get result")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}
