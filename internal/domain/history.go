package domain

import "time"

// SellEntry is one row of a sale history: the units sold at a price during
// the hour (or day) starting at Timestamp.
type SellEntry struct {
	Timestamp time.Time `json:"ts"`
	Price     Money     `json:"price"`
	Quantity  int       `json:"qty"`
}

// Before orders entries by timestamp, then price, then quantity.
func (e SellEntry) Before(o SellEntry) bool {
	if !e.Timestamp.Equal(o.Timestamp) {
		return e.Timestamp.Before(o.Timestamp)
	}
	if e.Price.Amount != o.Price.Amount {
		return e.Price.Amount < o.Price.Amount
	}
	return e.Quantity < o.Quantity
}

// SellHistoryRecord is one captured sale-history dump. Records are immutable;
// each capture appends a new one.
type SellHistoryRecord struct {
	Identity  ItemIdentity
	Timestamp time.Time
	History   string
	Entries   []SellEntry
}

// OrderBookSnapshot is the live order book at capture time.
type OrderBookSnapshot struct {
	Identity       ItemIdentity
	Timestamp      time.Time
	Dump           string
	BuyCount       *int
	BuyOrder       *Money
	SellCount      *int
	SellOrder      *Money
	SellOrderNoFee *Money
}

// AnalyzeResult is the current derived statistics for an identity. Exactly one
// exists per identity; a new computation replaces the old one.
type AnalyzeResult struct {
	Identity       ItemIdentity `json:"identity"`
	Timestamp      time.Time    `json:"timestamp"`
	SellsLastDay   int          `json:"sells_last_day"`
	SellsLastWeek  int          `json:"sells_last_week"`
	SellsLastMonth int          `json:"sells_last_month"`
	Recommended    bool         `json:"recommended"`
	Deviation      *float64     `json:"deviation"`
	SellOrder      *Money       `json:"sell_order"`
	SellOrderNoFee *Money       `json:"sell_order_no_fee"`
}

// ImportRun records one scheduler batch.
type ImportRun struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Succeeded  int
	Failed     int
	Retryable  int
}
