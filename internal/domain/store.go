package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketItemStore persists the catalogue of tracked items.
type MarketItemStore interface {
	Upsert(ctx context.Context, item MarketItem) error
	Get(ctx context.Context, appID int64, marketHashName string) (MarketItem, error)
	List(ctx context.Context, opts ListOpts) ([]MarketItem, error)
}

// SellHistoryStore persists sale-history captures. Append never mutates an
// existing record.
type SellHistoryStore interface {
	Append(ctx context.Context, rec SellHistoryRecord) error
	// LatestWindow returns the distinct entries with Timestamp >= since,
	// ascending. Each timestamp comes from the newest record that holds it.
	LatestWindow(ctx context.Context, id ItemIdentity, since time.Time) ([]SellEntry, error)
}

// OrderBookStore persists order-book captures.
type OrderBookStore interface {
	Append(ctx context.Context, snap OrderBookSnapshot) error
	Latest(ctx context.Context, id ItemIdentity) (OrderBookSnapshot, error)
}

// AnalyzeResultStore keeps the single current result per identity.
type AnalyzeResultStore interface {
	Get(ctx context.Context, id ItemIdentity) (AnalyzeResult, error)
	Upsert(ctx context.Context, res AnalyzeResult) error
	List(ctx context.Context, recommendedOnly bool, opts ListOpts) ([]AnalyzeResult, error)
}

// ImportRunStore records scheduler batches.
type ImportRunStore interface {
	Record(ctx context.Context, run ImportRun) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]ImportRun, error)
}
