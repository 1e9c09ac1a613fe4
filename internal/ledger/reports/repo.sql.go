package reports

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs the read-only aggregate queries behind the reports.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AccountActivity aggregates posted journal lines per posting account.
// from and until bound the entry date inclusively; either may be nil.
func (r *Repository) AccountActivity(ctx context.Context, from, until *time.Time) ([]AccountActivity, error) {
	query, args := accountActivityQuery(from, until)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountActivity
	for rows.Next() {
		var a AccountActivity
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Category, &a.Normal, &a.Trust, &a.Debit, &a.Credit); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// accountActivityQuery filters the date bounds inside the joined line
// set, not on the outer join, so every postable account survives with
// zero sums when it has no activity in range.
func accountActivityQuery(from, until *time.Time) (string, []any) {
	lines := `SELECT jl.account_id, jl.debit, jl.credit
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.entry_id`
	args := []any{}
	var conds []string
	if from != nil {
		args = append(args, *from)
		conds = append(conds, `je.date >= $`+strconv.Itoa(len(args)))
	}
	if until != nil {
		args = append(args, *until)
		conds = append(conds, `je.date <= $`+strconv.Itoa(len(args)))
	}
	if len(conds) > 0 {
		lines += `
WHERE ` + strings.Join(conds, ` AND `)
	}
	query := `SELECT a.id, a.code, a.name, a.category, a.normal_balance, a.trust,
COALESCE(SUM(lines.debit),0), COALESCE(SUM(lines.credit),0)
FROM accounts a
LEFT JOIN (` + lines + `) lines ON lines.account_id = a.id
WHERE a.postable
GROUP BY a.id, a.code, a.name, a.category, a.normal_balance, a.trust
ORDER BY a.code`
	return query, args
}

// OpenItems nets posted activity on accounts under the given code prefix by
// counterparty and posting date. For debit-normal items (receivables) the
// open amount is debit minus credit per day; payables invert. Zero and
// settled days drop out in the HAVING clause.
func (r *Repository) OpenItems(ctx context.Context, codePrefix string, asOf time.Time, debitSide bool) ([]OpenItem, error) {
	expr := `SUM(jl.debit) - SUM(jl.credit)`
	if !debitSide {
		expr = `SUM(jl.credit) - SUM(jl.debit)`
	}
	query := `SELECT a.id, a.name, je.date, ` + expr + `
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.entry_id
JOIN accounts a ON a.id = jl.account_id
WHERE a.code LIKE $1 || '%' AND je.date <= $2
GROUP BY a.id, a.name, je.date
HAVING ` + expr + ` <> 0
ORDER BY je.date`
	rows, err := r.pool.Query(ctx, query, codePrefix, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OpenItem
	for rows.Next() {
		var item OpenItem
		if err := rows.Scan(&item.PartyID, &item.PartyName, &item.Date, &item.Amount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
