package operations

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Repository persists financial operation requests.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const operationColumns = `id, ref, type, status, amount, debit_account_id, credit_account_id, source_voucher_id,
property_id, unit_id, reason, requested_by, requested_at, approved_by, approved_at,
rejected_by, rejected_at, reject_reason, posted_by, posted_at, voucher_id, created_at, updated_at`

func scanOperation(row pgx.Row) (Operation, error) {
	var op Operation
	err := row.Scan(&op.ID, &op.Ref, &op.Type, &op.Status, &op.Amount, &op.DebitAccountID, &op.CreditAccountID,
		&op.SourceVoucherID, &op.PropertyID, &op.UnitID, &op.Reason, &op.RequestedBy, &op.RequestedAt,
		&op.ApprovedBy, &op.ApprovedAt, &op.RejectedBy, &op.RejectedAt, &op.RejectReason,
		&op.PostedBy, &op.PostedAt, &op.VoucherID, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Operation{}, shared.ErrOperationNotFound
		}
		return Operation{}, err
	}
	return op, nil
}

// Insert stores a new REQUESTED operation.
func (r *Repository) Insert(ctx context.Context, op Operation) (Operation, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO financial_operations
(ref, type, status, amount, debit_account_id, credit_account_id, source_voucher_id, property_id, unit_id, reason, requested_by, requested_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id, created_at, updated_at`,
		op.Ref, op.Type, op.Status, op.Amount, op.DebitAccountID, op.CreditAccountID,
		op.SourceVoucherID, op.PropertyID, op.UnitID, op.Reason, op.RequestedBy, op.RequestedAt)
	if err := row.Scan(&op.ID, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Get fetches one operation.
func (r *Repository) Get(ctx context.Context, id int64) (Operation, error) {
	return scanOperation(r.pool.QueryRow(ctx, `SELECT `+operationColumns+` FROM financial_operations WHERE id=$1`, id))
}

// List returns operations matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM financial_operations WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status=$` + strconv.Itoa(len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += ` AND type=$` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY id DESC`
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Approve flips REQUESTED to APPROVED with compare-and-set semantics.
func (r *Repository) Approve(ctx context.Context, id, actorID int64, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE financial_operations
SET status=$2, approved_by=$3, approved_at=$4, updated_at=NOW()
WHERE id=$1 AND status=$5`, id, StatusApproved, actorID, at, StatusRequested)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrOperationNotFound
	}
	return nil
}

// Reject flips REQUESTED to REJECTED with the stated reason.
func (r *Repository) Reject(ctx context.Context, id, actorID int64, reason string, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE financial_operations
SET status=$2, rejected_by=$3, rejected_at=$4, reject_reason=$5, updated_at=NOW()
WHERE id=$1 AND status=$6`, id, StatusRejected, actorID, at, reason, StatusRequested)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrOperationNotFound
	}
	return nil
}

// BeginPost reserves an APPROVED operation for posting. The
// compare-and-set loses for every caller but one, so concurrent posts
// cannot both reach the voucher mint.
func (r *Repository) BeginPost(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE financial_operations
SET status=$2, updated_at=NOW()
WHERE id=$1 AND status=$3`, id, StatusPosting, StatusApproved)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrOperationNotFound
	}
	return nil
}

// ReleasePost returns a reserved operation to APPROVED after a failed mint.
func (r *Repository) ReleasePost(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE financial_operations
SET status=$2, updated_at=NOW()
WHERE id=$1 AND status=$3`, id, StatusApproved, StatusPosting)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrOperationNotFound
	}
	return nil
}

// MarkPosted records the produced voucher and flips POSTING to POSTED.
func (r *Repository) MarkPosted(ctx context.Context, id, actorID, voucherID int64, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE financial_operations
SET status=$2, posted_by=$3, posted_at=$4, voucher_id=$5, updated_at=NOW()
WHERE id=$1 AND status=$6 AND voucher_id IS NULL`, id, StatusPosted, actorID, at, voucherID, StatusPosting)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrOperationNotFound
	}
	return nil
}
