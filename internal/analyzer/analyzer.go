// Package analyzer turns an item's sale history and current order book into
// the recommendation statistics stored per item identity.
package analyzer

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
)

// deviationPlaces is the precision deviation ratios are rounded to.
const deviationPlaces = 6

// Config holds the recommendation thresholds.
type Config struct {
	// MinDailySales is the liquidity floor; SellsLastDay must exceed it.
	MinDailySales int
	// MinDeviation and MaxDeviation bound the acceptable deviation band,
	// inclusive.
	MinDeviation float64
	MaxDeviation float64
	// ReferenceSize is how many of the most recent entries feed the reference
	// price.
	ReferenceSize int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MinDailySales: 5,
		MinDeviation:  -0.15,
		MaxDeviation:  0.15,
		ReferenceSize: 20,
	}
}

// Input is everything one analysis needs. Entries must be ascending; Item and
// Book may be nil.
type Input struct {
	Identity domain.ItemIdentity
	Item     *domain.MarketItem
	Entries  []domain.SellEntry
	Now      time.Time
	Book     *domain.OrderBookSnapshot
}

// Analyzer computes AnalyzeResults. It holds no state beyond its thresholds.
type Analyzer struct {
	cfg Config
}

// New creates an Analyzer. A non-positive ReferenceSize falls back to the
// default.
func New(cfg Config) *Analyzer {
	if cfg.ReferenceSize <= 0 {
		cfg.ReferenceSize = DefaultConfig().ReferenceSize
	}
	return &Analyzer{cfg: cfg}
}

// Config returns the thresholds in use.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze computes the result for in. It is a pure function of in and the
// analyzer's thresholds.
func (a *Analyzer) Analyze(in Input) domain.AnalyzeResult {
	entries := Dedup(in.Entries)
	day, week, month := Counts(entries, in.Now)

	res := domain.AnalyzeResult{
		Identity:       in.Identity,
		Timestamp:      in.Now,
		SellsLastDay:   day,
		SellsLastWeek:  week,
		SellsLastMonth: month,
	}

	var current *domain.Money
	if in.Book != nil {
		if in.Book.SellOrder != nil {
			res.SellOrder = domain.MoneyPtr(*in.Book.SellOrder)
		}
		switch {
		case in.Book.SellOrderNoFee != nil:
			res.SellOrderNoFee = domain.MoneyPtr(*in.Book.SellOrderNoFee)
		case in.Book.SellOrder != nil:
			res.SellOrderNoFee = domain.MoneyPtr(domain.FeeFor(in.Item).SellerReceives(*in.Book.SellOrder))
		}
		current = res.SellOrderNoFee
	}

	if ref, ok := ReferencePrice(entries, in.Now, a.cfg.ReferenceSize); ok && current != nil {
		res.Deviation = deviation(*current, ref)
	}

	res.Recommended = a.recommend(res, in.Item)
	return res
}

func (a *Analyzer) recommend(res domain.AnalyzeResult, item *domain.MarketItem) bool {
	if item != nil && !item.IsTradable() {
		return false
	}
	if res.SellsLastDay <= a.cfg.MinDailySales {
		return false
	}
	if res.Deviation != nil {
		d := *res.Deviation
		if d < a.cfg.MinDeviation || d > a.cfg.MaxDeviation {
			return false
		}
	}
	return true
}

type entryKey struct {
	unix     int64
	amount   int64
	currency domain.Currency
	qty      int
}

// Dedup drops entries identical in timestamp, price and quantity, keeping the
// first. The order of the remaining entries is preserved.
func Dedup(entries []domain.SellEntry) []domain.SellEntry {
	seen := make(map[entryKey]struct{}, len(entries))
	out := make([]domain.SellEntry, 0, len(entries))
	for _, e := range entries {
		k := entryKey{
			unix:     e.Timestamp.UnixNano(),
			amount:   e.Price.Amount,
			currency: e.Price.Currency,
			qty:      e.Quantity,
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Counts sums entry quantities in the half-open windows [now-d, now) for a
// day, a week and a month.
func Counts(entries []domain.SellEntry, now time.Time) (day, week, month int) {
	dayStart := now.Add(-Day)
	weekStart := now.Add(-Week)
	monthStart := now.Add(-Month)

	for _, e := range entries {
		ts := e.Timestamp
		if !ts.Before(now) || ts.Before(monthStart) {
			continue
		}
		month += e.Quantity
		if !ts.Before(weekStart) {
			week += e.Quantity
		}
		if !ts.Before(dayStart) {
			day += e.Quantity
		}
	}
	return day, week, month
}

// ReferencePrice is the median price of the last size entries strictly before
// now. ok is false when there are none.
func ReferencePrice(entries []domain.SellEntry, now time.Time, size int) (domain.Money, bool) {
	end := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Timestamp.Before(now)
	})
	if end == 0 {
		return domain.Money{}, false
	}
	start := end - size
	if start < 0 {
		start = 0
	}

	window := entries[start:end]
	prices := make([]int64, len(window))
	for i, e := range window {
		prices[i] = e.Price.Amount
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

	currency := window[0].Price.Currency
	n := len(prices)
	if n%2 == 1 {
		return domain.NewMoney(prices[n/2], currency), true
	}
	// Even count: mean of the middle pair, rounded half away from zero.
	mid := decimal.NewFromInt(prices[n/2-1]).Add(decimal.NewFromInt(prices[n/2])).Div(decimal.NewFromInt(2))
	return domain.NewMoney(mid.Round(0).IntPart(), currency), true
}

func deviation(current, reference domain.Money) *float64 {
	if reference.Amount == 0 {
		return nil
	}
	diff := current.Sub(reference)
	ratio := decimal.NewFromInt(diff.Amount).
		DivRound(decimal.NewFromInt(reference.Amount), deviationPlaces+2).
		Round(deviationPlaces)
	f, _ := ratio.Float64()
	return &f
}
