package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// MarketItemStore implements domain.MarketItemStore using PostgreSQL.
type MarketItemStore struct {
	pool *pgxpool.Pool
}

// NewMarketItemStore creates a MarketItemStore backed by the given pool.
func NewMarketItemStore(pool *pgxpool.Pool) *MarketItemStore {
	return &MarketItemStore{pool: pool}
}

const marketItemCols = `app_id, market_hash_name, market_fee,
	market_marketable_restriction, market_tradable_restriction, commodity`

// Upsert inserts or updates a catalogue entry.
func (s *MarketItemStore) Upsert(ctx context.Context, item domain.MarketItem) error {
	const query = `
		INSERT INTO market_items (` + marketItemCols + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (app_id, market_hash_name) DO UPDATE SET
			market_fee                    = EXCLUDED.market_fee,
			market_marketable_restriction = EXCLUDED.market_marketable_restriction,
			market_tradable_restriction   = EXCLUDED.market_tradable_restriction,
			commodity                     = EXCLUDED.commodity,
			updated_at                    = NOW()`

	var fee decimal.NullDecimal
	if item.MarketFee != nil {
		fee = decimal.NewNullDecimal(*item.MarketFee)
	}

	_, err := s.pool.Exec(ctx, query,
		item.AppID, item.MarketHashName, fee,
		item.MarketableRestriction, item.TradableRestriction, item.Commodity,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market item %d/%s: %w", item.AppID, item.MarketHashName, err)
	}
	return nil
}

func scanMarketItem(row pgx.Row) (domain.MarketItem, error) {
	var item domain.MarketItem
	var fee decimal.NullDecimal
	if err := row.Scan(
		&item.AppID, &item.MarketHashName, &fee,
		&item.MarketableRestriction, &item.TradableRestriction, &item.Commodity,
	); err != nil {
		return domain.MarketItem{}, err
	}
	if fee.Valid {
		item.MarketFee = &fee.Decimal
	}
	return item, nil
}

// Get returns the catalogue entry for an item.
func (s *MarketItemStore) Get(ctx context.Context, appID int64, marketHashName string) (domain.MarketItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketItemCols+` FROM market_items WHERE app_id = $1 AND market_hash_name = $2`,
		appID, marketHashName)
	item, err := scanMarketItem(row)
	if err != nil {
		if isNoRows(err) {
			return domain.MarketItem{}, domain.ErrNotFound
		}
		return domain.MarketItem{}, fmt.Errorf("postgres: get market item %d/%s: %w", appID, marketHashName, err)
	}
	return item, nil
}

// List returns catalogue entries ordered by app and name.
func (s *MarketItemStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketItem, error) {
	query, args := paged(`SELECT `+marketItemCols+` FROM market_items`, nil, opts,
		"updated_at", "app_id, market_hash_name", false)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market items: %w", err)
	}
	defer rows.Close()

	var items []domain.MarketItem
	for rows.Next() {
		item, err := scanMarketItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list market items rows: %w", err)
	}
	return items, nil
}

// Compile-time interface check.
var _ domain.MarketItemStore = (*MarketItemStore)(nil)
