// Package handler holds the HTTP handlers of the steambot API.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit and offset. Defaults: limit=50 (max 500),
// offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := defaultLimit
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, maxLimit)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// parseIdentity builds an identity from the {app_id}, {currency} and
// {name...} path values.
func parseIdentity(r *http.Request) (domain.ItemIdentity, error) {
	appID, err := strconv.ParseInt(r.PathValue("app_id"), 10, 64)
	if err != nil || appID <= 0 {
		return domain.ItemIdentity{}, fmt.Errorf("invalid app_id %q", r.PathValue("app_id"))
	}
	cur, err := strconv.Atoi(r.PathValue("currency"))
	if err != nil || cur <= 0 {
		return domain.ItemIdentity{}, fmt.Errorf("invalid currency %q", r.PathValue("currency"))
	}
	name := r.PathValue("name")
	if name == "" {
		return domain.ItemIdentity{}, fmt.Errorf("market_hash_name is required")
	}
	return domain.ItemIdentity{AppID: appID, MarketHashName: name, Currency: domain.Currency(cur)}, nil
}
