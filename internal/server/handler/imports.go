package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
	"github.com/alanyoungcy/steamtradebot/internal/importer"
)

// ItemImporter runs one import cycle.
type ItemImporter interface {
	Import(ctx context.Context, id domain.ItemIdentity) importer.Outcome
	InFlight(id domain.ItemIdentity) bool
}

// BatchTrigger requests a scheduler batch.
type BatchTrigger interface {
	Trigger() bool
}

// ImportHandler serves on-demand imports.
type ImportHandler struct {
	importer ItemImporter
	trigger  BatchTrigger
	logger   *slog.Logger
}

// NewImportHandler creates an ImportHandler. trigger may be nil when no
// scheduler runs in this process.
func NewImportHandler(imp ItemImporter, trigger BatchTrigger, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{importer: imp, trigger: trigger, logger: logger}
}

type outcomeView struct {
	Identity  domain.ItemIdentity   `json:"identity"`
	Stage     string                `json:"stage"`
	Kind      string                `json:"kind"`
	Error     string                `json:"error,omitempty"`
	Retryable bool                  `json:"retryable"`
	Skipped   int                   `json:"skipped_rows"`
	Result    *domain.AnalyzeResult `json:"result,omitempty"`
}

func viewOf(o importer.Outcome) outcomeView {
	v := outcomeView{
		Identity:  o.Identity,
		Stage:     o.Stage.String(),
		Kind:      o.Kind.String(),
		Retryable: o.Retryable,
		Skipped:   o.Skipped,
		Result:    o.Result,
	}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return v
}

// statusFor maps an outcome to a response code.
func statusFor(o importer.Outcome) int {
	switch o.Kind {
	case importer.KindNone:
		return http.StatusOK
	case importer.KindTransient, importer.KindCancelled:
		return http.StatusServiceUnavailable
	case importer.KindPermanent, importer.KindMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ImportItem answers POST /api/import with a JSON identity body. The cycle
// runs within the request; a concurrent cycle for the same item is waited
// for first.
func (h *ImportHandler) ImportItem(w http.ResponseWriter, r *http.Request) {
	var id domain.ItemIdentity
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if id.AppID <= 0 || id.MarketHashName == "" || id.Currency <= 0 {
		writeError(w, http.StatusBadRequest, "app_id, market_hash_name and currency are required")
		return
	}

	if h.importer.InFlight(id) {
		h.logger.InfoContext(r.Context(), "import already in flight, queueing",
			slog.String("item", id.Key()),
		)
	}

	out := h.importer.Import(r.Context(), id)
	code := statusFor(out)
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, code, viewOf(out))
}

// TriggerBatch answers POST /api/batch.
func (h *ImportHandler) TriggerBatch(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusNotImplemented, "scheduler is not running in this mode")
		return
	}
	if !h.trigger.Trigger() {
		writeError(w, http.StatusConflict, "a batch is already pending")
		return
	}
	h.logger.InfoContext(r.Context(), "batch trigger requested")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
