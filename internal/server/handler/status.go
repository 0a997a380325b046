package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// StatusHandler reports the process mode and recent batch runs.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	runs      domain.ImportRunStore
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. runs may be nil.
func NewStatusHandler(mode string, startedAt time.Time, runs domain.ImportRunStore, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, runs: runs, logger: logger}
}

type runView struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Retryable  int       `json:"retryable"`
}

// GetStatus answers GET /api/status?runs=N.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if h.runs != nil {
		limit := 10
		if n, err := strconv.Atoi(r.URL.Query().Get("runs")); err == nil && n > 0 {
			limit = min(n, 100)
		}
		runs, err := h.runs.ListRecent(r.Context(), limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list import runs failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list import runs")
			return
		}
		views := make([]runView, 0, len(runs))
		for _, run := range runs {
			views = append(views, runView(run))
		}
		body["recent_runs"] = views
	}

	writeJSON(w, http.StatusOK, body)
}
