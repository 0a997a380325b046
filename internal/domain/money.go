package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is Steam's numeric wallet currency code.
type Currency int

const (
	CurrencyUSD Currency = 1
	CurrencyGBP Currency = 2
	CurrencyEUR Currency = 3
	CurrencyCHF Currency = 4
	CurrencyRUB Currency = 5
)

// minorUnitExp is the number of decimal places Steam prices carry for every
// wallet currency it reports dumps in.
const minorUnitExp = 2

// Money is an amount in minor units (cents, kopecks) tagged with its currency.
type Money struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// NewMoney builds a Money from a minor-unit amount.
func NewMoney(amount int64, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// MoneyFromMajor converts a major-unit decimal (e.g. 12.34) to minor units,
// rounding half away from zero.
func MoneyFromMajor(major decimal.Decimal, currency Currency) Money {
	return Money{
		Amount:   major.Shift(minorUnitExp).Round(0).IntPart(),
		Currency: currency,
	}
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -minorUnitExp)
}

// Sub returns m - o. It panics when the currencies differ.
func (m Money) Sub(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}
}

// Add returns m + o. It panics when the currencies differ.
func (m Money) Add(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}
}

// Cmp compares two amounts of the same currency, returning -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	m.mustMatch(o)
	switch {
	case m.Amount < o.Amount:
		return -1
	case m.Amount > o.Amount:
		return 1
	default:
		return 0
	}
}

func (m Money) String() string {
	return fmt.Sprintf("%s (currency %d)", m.Decimal().StringFixed(minorUnitExp), m.Currency)
}

func (m Money) mustMatch(o Money) {
	if m.Currency != o.Currency {
		panic(fmt.Sprintf("domain: currency mismatch: %d vs %d", m.Currency, o.Currency))
	}
}

// MoneyPtr is a convenience for optional money fields.
func MoneyPtr(m Money) *Money { return &m }
