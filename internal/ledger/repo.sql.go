package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/coa"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Repository persists vouchers and journal entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside a ledger
// transaction. Every lifecycle step runs through WithTx.
type TxRepository interface {
	GuardQueries

	GetAccountsByIDs(ctx context.Context, ids []int64) (map[int64]coa.Account, error)
	InsertVoucher(ctx context.Context, v Voucher) (Voucher, error)
	ReplaceLines(ctx context.Context, voucherID int64, lines []VoucherLine) ([]VoucherLine, error)
	GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error)
	GetLines(ctx context.Context, voucherID int64) ([]VoucherLine, error)
	UpdateVoucherDraft(ctx context.Context, v Voucher) error
	AdvanceStatus(ctx context.Context, id int64, from, to VoucherStatus, actorID int64, at time.Time) error
	MarkPosted(ctx context.Context, id int64, entryID int64, actorID int64, at, postingDate time.Time) error
	MarkReversed(ctx context.Context, id, reversalID int64) error
	InsertJournalEntry(ctx context.Context, date time.Time, sourceRef uuid.UUID, memo string, postedBy int64) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []VoucherLine) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn inside a serializable transaction. All multi-step
// voucher operations go through here; the idempotency re-read inside the
// transaction is what makes concurrent posts safe.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const voucherColumns = `id, ref, number, type, status, date, method, account_id, amount, reference, narration,
property_id, unit_id, payee_type, payee_id, deal_id, attachments, allow_cash_lines,
prepared_by, submitted_by, submitted_at, approved_by, approved_at, posted_by, posted_at, posting_date,
journal_entry_id, reversal_of_id, reversed_by_id, created_at, updated_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.Ref, &v.Number, &v.Type, &v.Status, &v.Date, &v.Method, &v.AccountID, &v.Amount,
		&v.Reference, &v.Narration, &v.PropertyID, &v.UnitID, &v.PayeeType, &v.PayeeID, &v.DealID, &v.Attachments,
		&v.AllowCashLines, &v.PreparedBy, &v.SubmittedBy, &v.SubmittedAt, &v.ApprovedBy, &v.ApprovedAt,
		&v.PostedBy, &v.PostedAt, &v.PostingDate, &v.JournalEntryID, &v.ReversalOfID, &v.ReversedByID,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, shared.ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	return v, nil
}

func (r *txRepository) GetAccountsByIDs(ctx context.Context, ids []int64) (map[int64]coa.Account, error) {
	if len(ids) == 0 {
		return map[int64]coa.Account{}, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, code, name, description, level, kind, category, normal_balance, postable, trust, parent_id, is_active, created_at, updated_at
FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := make(map[int64]coa.Account, len(ids))
	for rows.Next() {
		var a coa.Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Description, &a.Level, &a.Kind, &a.Category, &a.NormalBalance, &a.Postable, &a.Trust, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := accounts[id]; !ok {
			return nil, shared.ErrAccountNotFound
		}
	}
	return accounts, nil
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO vouchers (ref, number, type, status, date, method, account_id, amount, reference, narration,
property_id, unit_id, payee_type, payee_id, deal_id, attachments, allow_cash_lines, prepared_by, reversal_of_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
RETURNING id, created_at, updated_at`,
		v.Ref, v.Number, v.Type, v.Status, v.Date, v.Method, v.AccountID, v.Amount, v.Reference, v.Narration,
		v.PropertyID, v.UnitID, v.PayeeType, v.PayeeID, v.DealID, v.Attachments, v.AllowCashLines, v.PreparedBy, v.ReversalOfID)
	if err := row.Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_vouchers_number" {
			return Voucher{}, shared.ErrNumberConflict
		}
		return Voucher{}, err
	}
	return v, nil
}

// ReplaceLines deletes and recreates voucher lines. Lines share the
// voucher's lifecycle while it is a draft.
func (r *txRepository) ReplaceLines(ctx context.Context, voucherID int64, lines []VoucherLine) ([]VoucherLine, error) {
	if _, err := r.tx.Exec(ctx, `DELETE FROM voucher_lines WHERE voucher_id=$1`, voucherID); err != nil {
		return nil, err
	}
	out := make([]VoucherLine, 0, len(lines))
	for _, line := range lines {
		line.VoucherID = voucherID
		err := r.tx.QueryRow(ctx, `INSERT INTO voucher_lines (voucher_id, account_id, debit, credit, origin, description, property_id, unit_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			voucherID, line.AccountID, line.Debit, line.Credit, line.Origin, line.Description, line.PropertyID, line.UnitID).Scan(&line.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error) {
	return scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) GetLines(ctx context.Context, voucherID int64) ([]VoucherLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, voucher_id, account_id, debit, credit, origin, description, property_id, unit_id
FROM voucher_lines WHERE voucher_id=$1 ORDER BY id`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func scanLines(rows pgx.Rows) ([]VoucherLine, error) {
	var lines []VoucherLine
	for rows.Next() {
		var l VoucherLine
		if err := rows.Scan(&l.ID, &l.VoucherID, &l.AccountID, &l.Debit, &l.Credit, &l.Origin, &l.Description, &l.PropertyID, &l.UnitID); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepository) UpdateVoucherDraft(ctx context.Context, v Voucher) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE vouchers SET date=$2, method=$3, account_id=$4, amount=$5, reference=$6, narration=$7,
property_id=$8, unit_id=$9, payee_type=$10, payee_id=$11, deal_id=$12, attachments=$13, allow_cash_lines=$14, updated_at=NOW()
WHERE id=$1 AND status='DRAFT'`,
		v.ID, v.Date, v.Method, v.AccountID, v.Amount, v.Reference, v.Narration,
		v.PropertyID, v.UnitID, v.PayeeType, v.PayeeID, v.DealID, v.Attachments, v.AllowCashLines)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NewTransition("voucher %d is not a draft", v.ID)
	}
	return nil
}

// AdvanceStatus moves a voucher forward with a compare-and-set on the
// current status, recording the actor column matching the target state.
func (r *txRepository) AdvanceStatus(ctx context.Context, id int64, from, to VoucherStatus, actorID int64, at time.Time) error {
	var query string
	switch to {
	case StatusSubmitted:
		query = `UPDATE vouchers SET status=$2, submitted_by=$3, submitted_at=$4, updated_at=NOW() WHERE id=$1 AND status=$5`
	case StatusApproved:
		query = `UPDATE vouchers SET status=$2, approved_by=$3, approved_at=$4, updated_at=NOW() WHERE id=$1 AND status=$5`
	default:
		return shared.NewIntegrity(shared.CodeStateTransition, "unsupported status advance to %s", to)
	}
	cmd, err := r.tx.Exec(ctx, query, id, to, actorID, at, from)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NewTransition("voucher %d is not in status %s", id, from)
	}
	return nil
}

func (r *txRepository) MarkPosted(ctx context.Context, id int64, entryID int64, actorID int64, at, postingDate time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE vouchers SET status='POSTED', journal_entry_id=$2, posted_by=$3, posted_at=$4, posting_date=$5, updated_at=NOW()
WHERE id=$1 AND status='APPROVED' AND journal_entry_id IS NULL`, id, entryID, actorID, at, postingDate)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NewSafety(shared.CodeAlreadyPosted, "voucher %d was posted concurrently", id)
	}
	return nil
}

func (r *txRepository) MarkReversed(ctx context.Context, id, reversalID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE vouchers SET status='REVERSED', reversed_by_id=$2, updated_at=NOW()
WHERE id=$1 AND status='POSTED'`, id, reversalID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NewTransition("voucher %d is not posted", id)
	}
	return nil
}

// InsertJournalEntry appends to the immutable journal. The unique
// source_ref index makes double-posting impossible at the database level.
func (r *txRepository) InsertJournalEntry(ctx context.Context, date time.Time, sourceRef uuid.UUID, memo string, postedBy int64) (JournalEntry, error) {
	var entry JournalEntry
	entry.Date = date
	entry.SourceRef = sourceRef
	entry.Memo = memo
	entry.PostedBy = postedBy
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (date, source_ref, memo, posted_by)
VALUES ($1,$2,$3,$4) RETURNING id, number, posted_at, created_at`, date, sourceRef, memo, postedBy).
		Scan(&entry.ID, &entry.Number, &entry.PostedAt, &entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_journal_entries_source_ref" {
			return JournalEntry{}, shared.ErrSourceConflict
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []VoucherLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit, property_id, unit_id)
VALUES ($1,$2,$3,$4,$5,$6)`, entryID, line.AccountID, line.Debit, line.Credit, line.PropertyID, line.UnitID); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) AccountPostedTotals(ctx context.Context, accountID int64, until *time.Time) (coa.LineTotals, error) {
	query := `SELECT COALESCE(SUM(jl.debit),0), COALESCE(SUM(jl.credit),0)
FROM journal_lines jl JOIN journal_entries je ON je.id = jl.entry_id
WHERE jl.account_id=$1`
	args := []any{accountID}
	if until != nil {
		query += ` AND je.date <= $2`
		args = append(args, *until)
	}
	var totals coa.LineTotals
	if err := r.tx.QueryRow(ctx, query, args...).Scan(&totals.Debit, &totals.Credit); err != nil {
		return coa.LineTotals{}, err
	}
	return totals, nil
}

func (r *txRepository) CashPaidOnDay(ctx context.Context, accountID int64, day time.Time, excludeVoucherID int64) (decimal.Decimal, error) {
	var paid decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount),0) FROM vouchers
WHERE type='CPV' AND status='POSTED' AND account_id=$1 AND posting_date::date=$2::date AND id<>$3`,
		accountID, day, excludeVoucherID).Scan(&paid)
	if err != nil {
		return decimal.Zero, err
	}
	return paid, nil
}

func (r *txRepository) ReferenceExists(ctx context.Context, vtype VoucherType, method PaymentMethod, reference string, excludeID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vouchers
WHERE type=$1 AND method=$2 AND reference=$3 AND status<>'DRAFT' AND id<>$4)`,
		vtype, method, reference, excludeID).Scan(&exists)
	return exists, err
}

func (r *txRepository) UnitBelongsToProperty(ctx context.Context, unitID, propertyID int64) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM units WHERE id=$1 AND property_id=$2)`, unitID, propertyID).Scan(&ok)
	return ok, err
}

// GetVoucher loads a voucher with its lines outside any transaction.
func (r *Repository) GetVoucher(ctx context.Context, id int64) (Voucher, error) {
	v, err := scanVoucher(r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1`, id))
	if err != nil {
		return Voucher{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, voucher_id, account_id, debit, credit, origin, description, property_id, unit_id
FROM voucher_lines WHERE voucher_id=$1 ORDER BY id`, id)
	if err != nil {
		return Voucher{}, err
	}
	defer rows.Close()
	v.Lines, err = scanLines(rows)
	if err != nil {
		return Voucher{}, err
	}
	return v, nil
}

// ListVouchers returns vouchers matching the filter, newest first.
func (r *Repository) ListVouchers(ctx context.Context, filter ListFilter) ([]Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status=$` + itoa(len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += ` AND type=$` + itoa(len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += ` ORDER BY id DESC LIMIT $` + itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vouchers []Voucher
	for rows.Next() {
		var v Voucher
		if err := rows.Scan(&v.ID, &v.Ref, &v.Number, &v.Type, &v.Status, &v.Date, &v.Method, &v.AccountID, &v.Amount,
			&v.Reference, &v.Narration, &v.PropertyID, &v.UnitID, &v.PayeeType, &v.PayeeID, &v.DealID, &v.Attachments,
			&v.AllowCashLines, &v.PreparedBy, &v.SubmittedBy, &v.SubmittedAt, &v.ApprovedBy, &v.ApprovedAt,
			&v.PostedBy, &v.PostedAt, &v.PostingDate, &v.JournalEntryID, &v.ReversalOfID, &v.ReversedByID,
			&v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

// GetJournalEntry loads an immutable entry with its lines.
func (r *Repository) GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error) {
	var entry JournalEntry
	err := r.pool.QueryRow(ctx, `SELECT id, number, date, source_ref, memo, posted_by, posted_at, created_at
FROM journal_entries WHERE id=$1`, id).
		Scan(&entry.ID, &entry.Number, &entry.Date, &entry.SourceRef, &entry.Memo, &entry.PostedBy, &entry.PostedAt, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, property_id, unit_id
FROM journal_lines WHERE entry_id=$1 ORDER BY id`, id)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.Debit, &l.Credit, &l.PropertyID, &l.UnitID); err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, l)
	}
	return entry, rows.Err()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
