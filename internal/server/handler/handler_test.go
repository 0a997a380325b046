package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
	"github.com/alanyoungcy/steamtradebot/internal/importer"
)

var redline = domain.ItemIdentity{AppID: 730, MarketHashName: "AK-47 | Redline (Field-Tested)", Currency: domain.CurrencyUSD}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memResults struct {
	rows    map[domain.ItemIdentity]domain.AnalyzeResult
	lastRec bool
	lastOpt domain.ListOpts
	err     error
}

func (m *memResults) Get(_ context.Context, id domain.ItemIdentity) (domain.AnalyzeResult, error) {
	if m.err != nil {
		return domain.AnalyzeResult{}, m.err
	}
	r, ok := m.rows[id]
	if !ok {
		return domain.AnalyzeResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memResults) Upsert(context.Context, domain.AnalyzeResult) error { return nil }

func (m *memResults) List(_ context.Context, rec bool, opts domain.ListOpts) ([]domain.AnalyzeResult, error) {
	m.lastRec, m.lastOpt = rec, opts
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.AnalyzeResult
	for _, r := range m.rows {
		if !rec || r.Recommended {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubImporter struct {
	out importer.Outcome
	got domain.ItemIdentity
}

func (s *stubImporter) Import(_ context.Context, id domain.ItemIdentity) importer.Outcome {
	s.got = id
	out := s.out
	out.Identity = id
	return out
}

func (s *stubImporter) InFlight(domain.ItemIdentity) bool { return false }

type stubTrigger struct{ accept bool }

func (s stubTrigger) Trigger() bool { return s.accept }

func routes(rh *ResultHandler, ih *ImportHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/results", rh.ListResults)
	mux.HandleFunc("GET /api/results/{app_id}/{currency}/{name...}", rh.GetResult)
	if ih != nil {
		mux.HandleFunc("POST /api/import", ih.ImportItem)
		mux.HandleFunc("POST /api/batch", ih.TriggerBatch)
	}
	return mux
}

func TestGetResult(t *testing.T) {
	store := &memResults{rows: map[domain.ItemIdentity]domain.AnalyzeResult{
		redline: {Identity: redline, SellsLastDay: 9, Recommended: true},
	}}
	mux := routes(NewResultHandler(store, discardLogger()), nil)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"found", "/api/results/730/1/AK-47%20%7C%20Redline%20%28Field-Tested%29", http.StatusOK},
		{"other currency", "/api/results/730/3/AK-47%20%7C%20Redline%20%28Field-Tested%29", http.StatusNotFound},
		{"bad app id", "/api/results/abc/1/x", http.StatusBadRequest},
		{"bad currency", "/api/results/730/0/x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tests[0].path, nil))
	var got domain.AnalyzeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, redline, got.Identity)
	assert.Equal(t, 9, got.SellsLastDay)
}

func TestListResults(t *testing.T) {
	other := redline
	other.Currency = domain.CurrencyEUR
	store := &memResults{rows: map[domain.ItemIdentity]domain.AnalyzeResult{
		redline: {Identity: redline, Recommended: true},
		other:   {Identity: other},
	}}
	mux := routes(NewResultHandler(store, discardLogger()), nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results?recommended=true&limit=9999&offset=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []domain.AnalyzeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)
	assert.True(t, store.lastRec)
	assert.Equal(t, domain.ListOpts{Limit: maxLimit, Offset: 2}, store.lastOpt)

	store.err = errors.New("db down")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestImportItem(t *testing.T) {
	tests := []struct {
		name string
		out  importer.Outcome
		code int
	}{
		{"done", importer.Outcome{Stage: importer.StageDone, Kind: importer.KindNone, Result: &domain.AnalyzeResult{}}, http.StatusOK},
		{"transient", importer.Outcome{Stage: importer.StageFetching, Kind: importer.KindTransient, Err: errors.New("429")}, http.StatusServiceUnavailable},
		{"malformed", importer.Outcome{Stage: importer.StageParsing, Kind: importer.KindMalformed, Err: errors.New("bad")}, http.StatusBadGateway},
		{"persistence", importer.Outcome{Stage: importer.StagePersistingResult, Kind: importer.KindPersistence, Err: errors.New("db")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp := &stubImporter{out: tt.out}
			mux := routes(NewResultHandler(&memResults{}, discardLogger()), NewImportHandler(imp, nil, discardLogger()))

			body := `{"app_id":730,"market_hash_name":"AK-47 | Redline (Field-Tested)","currency":1}`
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(body)))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, redline, imp.got)

			var view map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
			assert.Equal(t, tt.out.Stage.String(), view["stage"])
		})
	}
}

func TestImportItem_BadBody(t *testing.T) {
	mux := routes(NewResultHandler(&memResults{}, discardLogger()), NewImportHandler(&stubImporter{}, nil, discardLogger()))

	for _, body := range []string{"not json", `{"app_id":730,"currency":1}`} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestTriggerBatch(t *testing.T) {
	tests := []struct {
		name    string
		trigger BatchTrigger
		code    int
	}{
		{"accepted", stubTrigger{accept: true}, http.StatusAccepted},
		{"pending", stubTrigger{accept: false}, http.StatusConflict},
		{"no scheduler", nil, http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := routes(NewResultHandler(&memResults{}, discardLogger()), NewImportHandler(&stubImporter{}, tt.trigger, discardLogger()))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batch", nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

type memRuns struct{ runs []domain.ImportRun }

func (m *memRuns) Record(context.Context, domain.ImportRun) (int64, error) { return 0, nil }

func (m *memRuns) ListRecent(_ context.Context, limit int) ([]domain.ImportRun, error) {
	return m.runs[:min(limit, len(m.runs))], nil
}

func TestGetStatus(t *testing.T) {
	runs := &memRuns{runs: []domain.ImportRun{{ID: 2, Total: 4, Succeeded: 3, Failed: 1}, {ID: 1}}}
	h := NewStatusHandler("full", time.Now().Add(-time.Minute), runs, discardLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status?runs=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Mode   string    `json:"mode"`
		Uptime int64     `json:"uptime_seconds"`
		Runs   []runView `json:"recent_runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "full", body.Mode)
	assert.GreaterOrEqual(t, body.Uptime, int64(59))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, int64(2), body.Runs[0].ID)
	assert.Equal(t, 3, body.Runs[0].Succeeded)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
	}, discardLogger())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, discardLogger())
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
