package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NeverTradable is the tradable-restriction value Steam uses for items that
// can never leave the owner's inventory.
const NeverTradable = -1

// ItemIdentity identifies one tradable listing: an item of an application
// priced in one wallet currency.
type ItemIdentity struct {
	AppID          int64    `json:"app_id"`
	MarketHashName string   `json:"market_hash_name"`
	Currency       Currency `json:"currency"`
}

// Key renders the identity as a stable string for locks and cache keys.
func (id ItemIdentity) Key() string {
	return fmt.Sprintf("%d:%s:%d", id.AppID, id.MarketHashName, id.Currency)
}

func (id ItemIdentity) String() string { return id.Key() }

// MarketItem is the catalogue entry for a tradable item, independent of
// currency.
type MarketItem struct {
	AppID                 int64
	MarketHashName        string
	MarketFee             *decimal.Decimal
	MarketableRestriction *int
	TradableRestriction   *int
	Commodity             bool
}

// IsTradable is false only for the never-tradable sentinel.
func (m MarketItem) IsTradable() bool {
	return m.TradableRestriction == nil || *m.TradableRestriction != NeverTradable
}

// Identity pairs the item with a currency.
func (m MarketItem) Identity(currency Currency) ItemIdentity {
	return ItemIdentity{AppID: m.AppID, MarketHashName: m.MarketHashName, Currency: currency}
}
