package dump

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

func TestParseOrderBook_Graphs(t *testing.T) {
	raw := `{
		"success": 1,
		"buy_order_graph": [[1.10, 4, "4 buy orders at $1.10 or higher"], [1.05, 9, ""], [0.98, 21, ""]],
		"sell_order_graph": [[1.20, 2, ""], [1.25, 7, ""], [1.40, 15, ""]]
	}`

	got, err := ParseOrderBook(raw, domain.CurrencyUSD)
	require.NoError(t, err)

	require.NotNil(t, got.BuyOrder)
	require.NotNil(t, got.SellOrder)
	assert.Equal(t, int64(110), got.BuyOrder.Amount)
	assert.Equal(t, int64(120), got.SellOrder.Amount)
	assert.Equal(t, 21, *got.BuyCount)
	assert.Equal(t, 15, *got.SellCount)
	assert.Zero(t, got.Skipped)
}

func TestParseOrderBook_ExplicitFieldsWin(t *testing.T) {
	raw := `{
		"highest_buy_order": "111",
		"lowest_sell_order": "119",
		"buy_order_count": "1,024",
		"sell_order_count": 33,
		"buy_order_graph": [[1.10, 4, ""]],
		"sell_order_graph": [[1.20, 2, ""]]
	}`

	got, err := ParseOrderBook(raw, domain.CurrencyEUR)
	require.NoError(t, err)
	assert.Equal(t, domain.NewMoney(111, domain.CurrencyEUR), *got.BuyOrder)
	assert.Equal(t, domain.NewMoney(119, domain.CurrencyEUR), *got.SellOrder)
	assert.Equal(t, 1024, *got.BuyCount)
	assert.Equal(t, 33, *got.SellCount)
}

func TestParseOrderBook_OneSidedAndBadLevels(t *testing.T) {
	raw := `{
		"sell_order_graph": [[1.20, 2, ""], ["x", 3, ""], [0, 4, ""], [1.30], 7],
		"lowest_sell_order": null
	}`

	got, err := ParseOrderBook(raw, domain.CurrencyUSD)
	require.NoError(t, err)
	assert.Nil(t, got.BuyOrder)
	assert.Nil(t, got.BuyCount)
	require.NotNil(t, got.SellOrder)
	assert.Equal(t, int64(120), got.SellOrder.Amount)
	assert.Equal(t, 4, got.Skipped)
}

func TestParseOrderBook_EmptySides(t *testing.T) {
	got, err := ParseOrderBook(`{"buy_order_graph": [], "sell_order_graph": null}`, domain.CurrencyUSD)
	require.NoError(t, err)
	assert.Nil(t, got.BuyOrder)
	assert.Nil(t, got.SellOrder)
	require.NotNil(t, got.BuyCount)
	assert.Zero(t, *got.BuyCount)
}

func TestParseOrderBook_StructuralFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"array", `[[1.2, 3, ""]]`},
		{"not json", `{"buy_order_graph": [`},
		{"no graphs", `{"success": 1}`},
		{"graph not array", `{"buy_order_graph": "none"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOrderBook(tt.raw, domain.CurrencyUSD)
			var perr *domain.ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, domain.DumpOrderBook, perr.Dump)
		})
	}
}

func TestOrderBook_Snapshot(t *testing.T) {
	id := domain.ItemIdentity{AppID: 730, MarketHashName: "AK-47 | Redline (Field-Tested)", Currency: domain.CurrencyUSD}
	sell := domain.NewMoney(115, domain.CurrencyUSD)
	book := OrderBook{SellOrder: &sell}

	snap := book.Snapshot(id, captured, "{}", domain.DefaultSteamFee)
	assert.Equal(t, id, snap.Identity)
	assert.Equal(t, captured, snap.Timestamp)
	require.NotNil(t, snap.SellOrderNoFee)
	assert.Equal(t, int64(100), snap.SellOrderNoFee.Amount)
	assert.Nil(t, snap.BuyOrder)
}
