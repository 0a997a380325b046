// Package dump decodes the raw textual payloads the Steam Community Market
// serves for an item (sale history and order-book histogram) into typed
// records. Decoding is best effort: rows that cannot be read are skipped and
// counted, and only a payload whose overall shape is unrecognizable fails.
package dump

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// SellHistory is a decoded sale-history dump.
type SellHistory struct {
	// Entries are ascending by timestamp, then price, then quantity.
	Entries []domain.SellEntry
	// Skipped counts groups that could not be decoded.
	Skipped int
}

// steamHourLayout is the date part of a Steam history group, e.g.
// "Jul 02 2014 01" from "Jul 02 2014 01: +0".
const steamHourLayout = "Jan 02 2006 15"

// pageMarker precedes the history array in a listing page.
const pageMarker = "var line1="

// ParseSellHistory decodes a sale-history dump captured at captured. Prices
// are tagged with currency. Accepted shapes are a bare JSON array of
// [when, price, quantity] groups, Steam's pricehistory envelope
// ({"success":true,"prices":[...]}) and a listing page embedding
// "var line1=[...];".
//
// The when field is either a Steam date string or a number of days before
// captured.
func ParseSellHistory(raw string, currency domain.Currency, captured time.Time) (SellHistory, error) {
	body, err := sellHistoryArray(raw)
	if err != nil {
		return SellHistory{}, err
	}

	var groups []json.RawMessage
	if err := json.Unmarshal(body, &groups); err != nil {
		return SellHistory{}, malformed(domain.DumpSellHistory, "expected a JSON array of groups")
	}

	out := SellHistory{Entries: make([]domain.SellEntry, 0, len(groups))}
	for _, g := range groups {
		entry, ok := decodeSellGroup(g, currency, captured)
		if !ok {
			out.Skipped++
			continue
		}
		out.Entries = append(out.Entries, entry)
	}

	sort.SliceStable(out.Entries, func(i, j int) bool {
		return out.Entries[i].Before(out.Entries[j])
	})
	return out, nil
}

// sellHistoryArray locates the JSON array of groups inside raw.
func sellHistoryArray(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, malformed(domain.DumpSellHistory, "empty payload")
	}

	switch {
	case s[0] == '[':
		return []byte(s), nil

	case s[0] == '{':
		var envelope struct {
			Prices json.RawMessage `json:"prices"`
		}
		if err := json.Unmarshal([]byte(s), &envelope); err != nil {
			return nil, malformed(domain.DumpSellHistory, "invalid JSON object")
		}
		prices := bytes.TrimSpace(envelope.Prices)
		if len(prices) == 0 || prices[0] != '[' {
			return nil, malformed(domain.DumpSellHistory, "object has no prices array")
		}
		return prices, nil

	case strings.Contains(s, pageMarker):
		start := strings.Index(s, pageMarker) + len(pageMarker)
		rest := s[start:]
		end := strings.Index(rest, "];")
		if end < 0 {
			return nil, malformed(domain.DumpSellHistory, "unterminated "+pageMarker+" array")
		}
		return []byte(strings.TrimSpace(rest[:end+1])), nil
	}

	return nil, malformed(domain.DumpSellHistory, "missing group delimiter")
}

func decodeSellGroup(g json.RawMessage, currency domain.Currency, captured time.Time) (domain.SellEntry, bool) {
	var fields []json.RawMessage
	if err := json.Unmarshal(g, &fields); err != nil || len(fields) < 3 {
		return domain.SellEntry{}, false
	}

	ts, ok := decodeWhen(fields[0], captured)
	if !ok {
		return domain.SellEntry{}, false
	}
	price, ok := decodeDecimal(fields[1])
	if !ok || price.IsNegative() {
		return domain.SellEntry{}, false
	}
	qty, ok := decodeCount(fields[2])
	if !ok || qty <= 0 {
		return domain.SellEntry{}, false
	}

	return domain.SellEntry{
		Timestamp: ts,
		Price:     domain.MoneyFromMajor(price, currency),
		Quantity:  qty,
	}, true
}

// decodeWhen reads either a Steam date string ("Jul 02 2014 01: +0") or a
// number of days before captured. Offsets count back from the start of the
// capture's UTC day, so every capture taken that day yields the same
// timestamp for a row.
func decodeWhen(f json.RawMessage, captured time.Time) (time.Time, bool) {
	if s, ok := jsonString(f); ok {
		return parseSteamTime(s)
	}

	var days json.Number
	if err := json.Unmarshal(f, &days); err != nil {
		return time.Time{}, false
	}
	n, err := days.Int64()
	if err != nil || n < 0 {
		return time.Time{}, false
	}
	day := captured.UTC().Truncate(24 * time.Hour)
	return day.Add(-time.Duration(n) * 24 * time.Hour), true
}

func parseSteamTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	date, offset, found := strings.Cut(s, ":")
	if !found {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	}

	t, err := time.ParseInLocation(steamHourLayout, strings.TrimSpace(date), time.UTC)
	if err != nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	}

	offset = strings.TrimSpace(offset)
	if offset != "" {
		hours, err := strconv.Atoi(strings.TrimPrefix(offset, "+"))
		if err != nil {
			return time.Time{}, false
		}
		t = t.Add(-time.Duration(hours) * time.Hour)
	}
	return t, true
}

func decodeDecimal(f json.RawMessage) (decimal.Decimal, bool) {
	s, ok := jsonString(f)
	if !ok {
		var n json.Number
		if err := json.Unmarshal(f, &n); err != nil {
			return decimal.Decimal{}, false
		}
		s = n.String()
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// decodeCount reads an integer given as a number or as a string that may
// carry thousands separators ("1,234").
func decodeCount(f json.RawMessage) (int, bool) {
	s, ok := jsonString(f)
	if !ok {
		var n json.Number
		if err := json.Unmarshal(f, &n); err != nil {
			return 0, false
		}
		s = n.String()
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func jsonString(f json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(f, &s); err != nil {
		return "", false
	}
	return s, true
}

func malformed(dump, reason string) *domain.ParseError {
	return &domain.ParseError{Dump: dump, Reason: reason}
}
