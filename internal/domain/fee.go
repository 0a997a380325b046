package domain

import "github.com/shopspring/decimal"

// SteamFee models the two fees Steam adds on top of what the seller receives:
// the Steam transaction fee and the game publisher fee. Each is floored to a
// whole minor unit with a minimum of one.
type SteamFee struct {
	SteamRate     decimal.Decimal
	PublisherRate decimal.Decimal
}

// DefaultSteamFee is the fee schedule used when an item carries no override.
var DefaultSteamFee = SteamFee{
	SteamRate:     decimal.RequireFromString("0.05"),
	PublisherRate: decimal.RequireFromString("0.10"),
}

// FeeFor returns the fee schedule for an item, honouring its publisher fee
// override when present.
func FeeFor(item *MarketItem) SteamFee {
	fee := DefaultSteamFee
	if item != nil && item.MarketFee != nil {
		fee.PublisherRate = *item.MarketFee
	}
	return fee
}

// BuyerPays returns the listing price a buyer sees when the seller wants to
// receive the given amount.
func (f SteamFee) BuyerPays(received Money) Money {
	r := decimal.NewFromInt(received.Amount)
	steam := feePart(r, f.SteamRate)
	publisher := int64(0)
	if f.PublisherRate.IsPositive() {
		publisher = feePart(r, f.PublisherRate)
	}
	return Money{Amount: received.Amount + steam + publisher, Currency: received.Currency}
}

// SellerReceives returns the largest amount a seller can receive for a
// listing the buyer pays at most paid for.
func (f SteamFee) SellerReceives(paid Money) Money {
	if paid.Amount <= 0 {
		return Money{Currency: paid.Currency}
	}

	total := decimal.NewFromInt(1).Add(f.SteamRate).Add(f.PublisherRate)
	guess := decimal.NewFromInt(paid.Amount).Div(total).Floor().IntPart()
	if guess < 0 {
		guess = 0
	}

	out := Money{Amount: guess, Currency: paid.Currency}
	for f.BuyerPays(Money{Amount: out.Amount + 1, Currency: out.Currency}).Amount <= paid.Amount {
		out.Amount++
	}
	for out.Amount > 0 && f.BuyerPays(out).Amount > paid.Amount {
		out.Amount--
	}
	return out
}

func feePart(amount, rate decimal.Decimal) int64 {
	fee := amount.Mul(rate).Floor().IntPart()
	if fee < 1 {
		return 1
	}
	return fee
}
