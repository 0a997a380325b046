package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// SellHistoryStore implements domain.SellHistoryStore using PostgreSQL. Every
// capture is a new row; rows are never updated.
type SellHistoryStore struct {
	pool *pgxpool.Pool
}

// NewSellHistoryStore creates a SellHistoryStore backed by the given pool.
func NewSellHistoryStore(pool *pgxpool.Pool) *SellHistoryStore {
	return &SellHistoryStore{pool: pool}
}

// Append stores a capture with its parsed entries as JSONB.
func (s *SellHistoryStore) Append(ctx context.Context, rec domain.SellHistoryRecord) error {
	entries := rec.Entries
	if entries == nil {
		entries = []domain.SellEntry{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("postgres: marshal sell entries: %w", err)
	}

	const query = `
		INSERT INTO market_item_sell_history (
			app_id, market_hash_name, currency, captured_at, history, entries
		) VALUES ($1, $2, $3, $4, $5, $6)`

	id := rec.Identity
	if _, err := s.pool.Exec(ctx, query,
		id.AppID, id.MarketHashName, int(id.Currency), rec.Timestamp, rec.History, payload,
	); err != nil {
		return fmt.Errorf("postgres: append sell history %s: %w", id.Key(), err)
	}
	return nil
}

// LatestWindow returns the entries at or after since, ascending by
// timestamp, price and quantity. Steam revises recent rows between captures,
// so each timestamp is taken only from the newest capture that holds it.
func (s *SellHistoryStore) LatestWindow(ctx context.Context, id domain.ItemIdentity, since time.Time) ([]domain.SellEntry, error) {
	const query = `
		WITH e AS (
			SELECT
				h.captured_at,
				(x->>'ts')::timestamptz         AS ts,
				(x->'price'->>'amount')::bigint AS amount,
				(x->>'qty')::integer            AS qty
			FROM market_item_sell_history h
			CROSS JOIN LATERAL jsonb_array_elements(h.entries) AS x
			WHERE h.app_id = $1
			  AND h.market_hash_name = $2
			  AND h.currency = $3
			  AND h.captured_at >= $4
			  AND (x->>'ts')::timestamptz >= $4
		),
		newest AS (
			SELECT ts, MAX(captured_at) AS captured_at
			FROM e
			GROUP BY ts
		)
		SELECT DISTINCT e.ts, e.amount, e.qty
		FROM e
		JOIN newest USING (ts, captured_at)
		ORDER BY e.ts, e.amount, e.qty`

	rows, err := s.pool.Query(ctx, query, id.AppID, id.MarketHashName, int(id.Currency), since)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest window %s: %w", id.Key(), err)
	}
	defer rows.Close()

	var entries []domain.SellEntry
	for rows.Next() {
		var (
			ts     time.Time
			amount int64
			qty    int
		)
		if err := rows.Scan(&ts, &amount, &qty); err != nil {
			return nil, fmt.Errorf("postgres: scan sell entry: %w", err)
		}
		entries = append(entries, domain.SellEntry{
			Timestamp: ts.UTC(),
			Price:     domain.NewMoney(amount, id.Currency),
			Quantity:  qty,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: latest window rows: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.SellHistoryStore = (*SellHistoryStore)(nil)
