package domain

import "context"

// MarketplaceClient supplies raw dumps for an item. Failures are
// *FetchError values.
type MarketplaceClient interface {
	FetchSellHistory(ctx context.Context, id ItemIdentity) (string, error)
	FetchOrderBook(ctx context.Context, id ItemIdentity) (string, error)
}

// Dump kinds, used for archive paths and metrics labels.
const (
	DumpSellHistory = "sell_history"
	DumpOrderBook   = "order_book"
)
