package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// AnalyzeResultStore implements domain.AnalyzeResultStore using PostgreSQL.
// The primary key (app_id, market_hash_name, currency) keeps exactly one row
// per identity.
type AnalyzeResultStore struct {
	pool *pgxpool.Pool
}

// NewAnalyzeResultStore creates an AnalyzeResultStore backed by the given pool.
func NewAnalyzeResultStore(pool *pgxpool.Pool) *AnalyzeResultStore {
	return &AnalyzeResultStore{pool: pool}
}

const analyzeResultCols = `app_id, market_hash_name, currency, computed_at,
	sells_last_day, sells_last_week, sells_last_month, recommended,
	deviation, sell_order, sell_order_no_fee`

// Upsert replaces the identity's current result.
func (s *AnalyzeResultStore) Upsert(ctx context.Context, res domain.AnalyzeResult) error {
	const query = `
		INSERT INTO sell_history_analyze_result (` + analyzeResultCols + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (app_id, market_hash_name, currency) DO UPDATE SET
			computed_at       = EXCLUDED.computed_at,
			sells_last_day    = EXCLUDED.sells_last_day,
			sells_last_week   = EXCLUDED.sells_last_week,
			sells_last_month  = EXCLUDED.sells_last_month,
			recommended       = EXCLUDED.recommended,
			deviation         = EXCLUDED.deviation,
			sell_order        = EXCLUDED.sell_order,
			sell_order_no_fee = EXCLUDED.sell_order_no_fee,
			updated_at        = NOW()`

	id := res.Identity
	_, err := s.pool.Exec(ctx, query,
		id.AppID, id.MarketHashName, int(id.Currency), res.Timestamp,
		res.SellsLastDay, res.SellsLastWeek, res.SellsLastMonth, res.Recommended,
		res.Deviation, minorAmount(res.SellOrder), minorAmount(res.SellOrderNoFee),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert analyze result %s: %w", id.Key(), err)
	}
	return nil
}

func scanAnalyzeResult(row pgx.Row) (domain.AnalyzeResult, error) {
	var (
		res             domain.AnalyzeResult
		currency        int
		sell, sellNoFee *int64
	)
	if err := row.Scan(
		&res.Identity.AppID, &res.Identity.MarketHashName, &currency, &res.Timestamp,
		&res.SellsLastDay, &res.SellsLastWeek, &res.SellsLastMonth, &res.Recommended,
		&res.Deviation, &sell, &sellNoFee,
	); err != nil {
		return domain.AnalyzeResult{}, err
	}
	res.Identity.Currency = domain.Currency(currency)
	res.Timestamp = res.Timestamp.UTC()
	res.SellOrder = moneyOf(sell, res.Identity.Currency)
	res.SellOrderNoFee = moneyOf(sellNoFee, res.Identity.Currency)
	return res, nil
}

// Get returns the identity's current result or domain.ErrNotFound.
func (s *AnalyzeResultStore) Get(ctx context.Context, id domain.ItemIdentity) (domain.AnalyzeResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+analyzeResultCols+` FROM sell_history_analyze_result
		 WHERE app_id = $1 AND market_hash_name = $2 AND currency = $3`,
		id.AppID, id.MarketHashName, int(id.Currency))
	res, err := scanAnalyzeResult(row)
	if err != nil {
		if isNoRows(err) {
			return domain.AnalyzeResult{}, domain.ErrNotFound
		}
		return domain.AnalyzeResult{}, fmt.Errorf("postgres: get analyze result %s: %w", id.Key(), err)
	}
	return res, nil
}

// List returns current results, newest first.
func (s *AnalyzeResultStore) List(ctx context.Context, recommendedOnly bool, opts domain.ListOpts) ([]domain.AnalyzeResult, error) {
	query := `SELECT ` + analyzeResultCols + ` FROM sell_history_analyze_result`
	if recommendedOnly {
		query += ` WHERE recommended`
	}
	query, args := paged(query, nil, opts, "computed_at",
		"computed_at DESC, app_id, market_hash_name, currency", recommendedOnly)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list analyze results: %w", err)
	}
	defer rows.Close()

	var results []domain.AnalyzeResult
	for rows.Next() {
		res, err := scanAnalyzeResult(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan analyze result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list analyze results rows: %w", err)
	}
	return results, nil
}

// Compile-time interface check.
var _ domain.AnalyzeResultStore = (*AnalyzeResultStore)(nil)
