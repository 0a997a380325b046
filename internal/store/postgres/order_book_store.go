package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// OrderBookStore implements domain.OrderBookStore using PostgreSQL.
type OrderBookStore struct {
	pool *pgxpool.Pool
}

// NewOrderBookStore creates an OrderBookStore backed by the given pool.
func NewOrderBookStore(pool *pgxpool.Pool) *OrderBookStore {
	return &OrderBookStore{pool: pool}
}

// Append stores one order-book capture.
func (s *OrderBookStore) Append(ctx context.Context, snap domain.OrderBookSnapshot) error {
	const query = `
		INSERT INTO market_item_orders (
			app_id, market_hash_name, currency, captured_at, dump,
			buy_count, buy_order, sell_count, sell_order, sell_order_no_fee
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	id := snap.Identity
	_, err := s.pool.Exec(ctx, query,
		id.AppID, id.MarketHashName, int(id.Currency), snap.Timestamp, snap.Dump,
		snap.BuyCount, minorAmount(snap.BuyOrder),
		snap.SellCount, minorAmount(snap.SellOrder), minorAmount(snap.SellOrderNoFee),
	)
	if err != nil {
		return fmt.Errorf("postgres: append order book %s: %w", id.Key(), err)
	}
	return nil
}

// Latest returns the most recent capture for the identity.
func (s *OrderBookStore) Latest(ctx context.Context, id domain.ItemIdentity) (domain.OrderBookSnapshot, error) {
	const query = `
		SELECT captured_at, dump, buy_count, buy_order, sell_count, sell_order, sell_order_no_fee
		FROM market_item_orders
		WHERE app_id = $1 AND market_hash_name = $2 AND currency = $3
		ORDER BY captured_at DESC, id DESC
		LIMIT 1`

	snap := domain.OrderBookSnapshot{Identity: id}
	var buy, sell, sellNoFee *int64
	err := s.pool.QueryRow(ctx, query, id.AppID, id.MarketHashName, int(id.Currency)).Scan(
		&snap.Timestamp, &snap.Dump, &snap.BuyCount, &buy, &snap.SellCount, &sell, &sellNoFee,
	)
	if err != nil {
		if isNoRows(err) {
			return domain.OrderBookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderBookSnapshot{}, fmt.Errorf("postgres: latest order book %s: %w", id.Key(), err)
	}

	snap.Timestamp = snap.Timestamp.UTC()
	snap.BuyOrder = moneyOf(buy, id.Currency)
	snap.SellOrder = moneyOf(sell, id.Currency)
	snap.SellOrderNoFee = moneyOf(sellNoFee, id.Currency)
	return snap, nil
}

// Compile-time interface check.
var _ domain.OrderBookStore = (*OrderBookStore)(nil)
