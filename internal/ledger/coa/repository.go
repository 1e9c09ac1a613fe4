package coa

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Repository persists chart of accounts rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const accountColumns = `id, code, name, description, level, kind, category, normal_balance, postable, trust, parent_id, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Description, &a.Level, &a.Kind, &a.Category, &a.NormalBalance, &a.Postable, &a.Trust, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// List returns the full chart ordered by code.
func (r *Repository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Description, &a.Level, &a.Kind, &a.Category, &a.NormalBalance, &a.Postable, &a.Trust, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetByID fetches one account.
func (r *Repository) GetByID(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

// GetByCode resolves an account by its hierarchical code.
func (r *Repository) GetByCode(ctx context.Context, code string) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
}

// Insert stores a new account and returns it with generated fields.
func (r *Repository) Insert(ctx context.Context, a Account) (Account, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO accounts (code, name, description, level, kind, category, normal_balance, postable, trust, parent_id, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,TRUE) RETURNING id, created_at, updated_at`,
		a.Code, a.Name, a.Description, a.Level, a.Kind, a.Category, a.NormalBalance, a.Postable, a.Trust, a.ParentID)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	a.IsActive = true
	return a, nil
}

// UpdateDetails changes name/description only; structure is immutable here.
func (r *Repository) UpdateDetails(ctx context.Context, id int64, name, description string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE accounts SET name=$2, description=$3, updated_at=NOW() WHERE id=$1`, id, name, description)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

// SetParent re-homes an account. Cycle safety is the service's concern.
func (r *Repository) SetParent(ctx context.Context, id int64, parentID *int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE accounts SET parent_id=$2, updated_at=NOW() WHERE id=$1`, id, parentID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

// Deactivate soft-disables an account. Accounts are never deleted.
func (r *Repository) Deactivate(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE accounts SET is_active=FALSE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrAccountNotFound
	}
	return nil
}

// SumPostedLines aggregates posted journal lines per account, optionally
// bounded by an inclusive as-of date. Only posted entries count.
func (r *Repository) SumPostedLines(ctx context.Context, accountIDs []int64, until *time.Time) (map[int64]LineTotals, error) {
	if len(accountIDs) == 0 {
		return map[int64]LineTotals{}, nil
	}
	query := `SELECT jl.account_id, COALESCE(SUM(jl.debit),0), COALESCE(SUM(jl.credit),0)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.entry_id
WHERE jl.account_id = ANY($1)`
	args := []any{accountIDs}
	if until != nil {
		query += ` AND je.date <= $2`
		args = append(args, *until)
	}
	query += ` GROUP BY jl.account_id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	totals := make(map[int64]LineTotals, len(accountIDs))
	for rows.Next() {
		var id int64
		var t LineTotals
		if err := rows.Scan(&id, &t.Debit, &t.Credit); err != nil {
			return nil, err
		}
		totals[id] = t
	}
	return totals, rows.Err()
}

// HasPostedLines reports whether any journal line references the account.
func (r *Repository) HasPostedLines(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_lines WHERE account_id=$1)`, id).Scan(&exists)
	return exists, err
}
