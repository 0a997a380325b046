package postgres

import (
	"fmt"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// paged appends the time filter, ordering and LIMIT/OFFSET clauses for opts
// to query. timeCol is the column Since/Until apply to; where reports whether
// query already has a WHERE clause.
func paged(query string, args []any, opts domain.ListOpts, timeCol, orderBy string, where bool) (string, []any) {
	argIdx := len(args) + 1
	clause := func(cond string) {
		if where {
			query += " AND " + cond
		} else {
			query += " WHERE " + cond
			where = true
		}
	}

	if opts.Since != nil {
		clause(fmt.Sprintf("%s >= $%d", timeCol, argIdx))
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		clause(fmt.Sprintf("%s <= $%d", timeCol, argIdx))
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + orderBy

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// minorAmount unpacks an optional money value into its nullable column.
func minorAmount(m *domain.Money) *int64 {
	if m == nil {
		return nil
	}
	v := m.Amount
	return &v
}

// moneyOf rebuilds an optional money value from a nullable column.
func moneyOf(amount *int64, currency domain.Currency) *domain.Money {
	if amount == nil {
		return nil
	}
	return domain.MoneyPtr(domain.NewMoney(*amount, currency))
}
