package dump

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// OrderBook is a decoded order-book histogram.
type OrderBook struct {
	BuyOrder  *domain.Money
	BuyCount  *int
	SellOrder *domain.Money
	SellCount *int
	Skipped   int
}

// ParseOrderBook decodes Steam's itemordershistogram payload. The object must
// carry at least one of buy_order_graph or sell_order_graph; graph groups are
// [price, cumulative_quantity, label]. The explicit highest_buy_order and
// lowest_sell_order fields (minor units) win over the graphs when present.
func ParseOrderBook(raw string, currency domain.Currency) (OrderBook, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return OrderBook{}, malformed(domain.DumpOrderBook, "empty payload")
	}
	if s[0] != '{' {
		return OrderBook{}, malformed(domain.DumpOrderBook, "expected a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return OrderBook{}, malformed(domain.DumpOrderBook, "invalid JSON object")
	}
	buyGraph, hasBuy := fields["buy_order_graph"]
	sellGraph, hasSell := fields["sell_order_graph"]
	if !hasBuy && !hasSell {
		return OrderBook{}, malformed(domain.DumpOrderBook, "no order graphs")
	}

	var out OrderBook

	if hasBuy {
		side, err := decodeGraph(buyGraph, currency)
		if err != nil {
			return OrderBook{}, err
		}
		out.Skipped += side.skipped
		out.BuyOrder = side.best(func(a, b int64) bool { return a > b })
		out.BuyCount = side.total()
	}
	if hasSell {
		side, err := decodeGraph(sellGraph, currency)
		if err != nil {
			return OrderBook{}, err
		}
		out.Skipped += side.skipped
		out.SellOrder = side.best(func(a, b int64) bool { return a < b })
		out.SellCount = side.total()
	}

	if m, ok := minorField(fields["highest_buy_order"], currency); ok {
		out.BuyOrder = &m
	}
	if m, ok := minorField(fields["lowest_sell_order"], currency); ok {
		out.SellOrder = &m
	}
	if n, ok := countField(fields["buy_order_count"]); ok {
		out.BuyCount = &n
	}
	if n, ok := countField(fields["sell_order_count"]); ok {
		out.SellCount = &n
	}

	return out, nil
}

// Snapshot turns the decoded book into a domain snapshot, computing the
// amount a seller would receive at the best sell order under fee.
func (b OrderBook) Snapshot(id domain.ItemIdentity, capturedAt time.Time, raw string, fee domain.SteamFee) domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{
		Identity:  id,
		Timestamp: capturedAt,
		Dump:      raw,
		BuyCount:  b.BuyCount,
		BuyOrder:  b.BuyOrder,
		SellCount: b.SellCount,
		SellOrder: b.SellOrder,
	}
	if b.SellOrder != nil {
		snap.SellOrderNoFee = domain.MoneyPtr(fee.SellerReceives(*b.SellOrder))
	}
	return snap
}

type graphSide struct {
	levels  []graphLevel
	skipped int
}

type graphLevel struct {
	price      domain.Money
	cumulative int
}

func decodeGraph(raw json.RawMessage, currency domain.Currency) (graphSide, error) {
	var groups []json.RawMessage
	if string(raw) == "null" {
		return graphSide{}, nil
	}
	if err := json.Unmarshal(raw, &groups); err != nil {
		return graphSide{}, malformed(domain.DumpOrderBook, "order graph is not an array")
	}

	var side graphSide
	for _, g := range groups {
		var f []json.RawMessage
		if err := json.Unmarshal(g, &f); err != nil || len(f) < 2 {
			side.skipped++
			continue
		}
		price, ok := decodeDecimal(f[0])
		if !ok || !price.IsPositive() {
			side.skipped++
			continue
		}
		qty, ok := decodeCount(f[1])
		if !ok || qty < 0 {
			side.skipped++
			continue
		}
		side.levels = append(side.levels, graphLevel{
			price:      domain.MoneyFromMajor(price, currency),
			cumulative: qty,
		})
	}
	return side, nil
}

func (s graphSide) best(better func(a, b int64) bool) *domain.Money {
	if len(s.levels) == 0 {
		return nil
	}
	best := s.levels[0].price
	for _, l := range s.levels[1:] {
		if better(l.price.Amount, best.Amount) {
			best = l.price
		}
	}
	return &best
}

// total is the deepest cumulative quantity on the side.
func (s graphSide) total() *int {
	n := 0
	for _, l := range s.levels {
		if l.cumulative > n {
			n = l.cumulative
		}
	}
	return &n
}

func minorField(raw json.RawMessage, currency domain.Currency) (domain.Money, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Money{}, false
	}
	n, ok := decodeCount(raw)
	if !ok || n <= 0 {
		return domain.Money{}, false
	}
	return domain.NewMoney(int64(n), currency), true
}

func countField(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	n, ok := decodeCount(raw)
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}
