package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/coa"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// GuardQueries is the slice of transactional reads the safety guard
// needs. All checks run inside the posting transaction so a concurrent
// post cannot slip between a read and the write.
type GuardQueries interface {
	AccountPostedTotals(ctx context.Context, accountID int64, until *time.Time) (coa.LineTotals, error)
	CashPaidOnDay(ctx context.Context, accountID int64, day time.Time, excludeVoucherID int64) (decimal.Decimal, error)
	ReferenceExists(ctx context.Context, vtype VoucherType, method PaymentMethod, reference string, excludeID int64) (bool, error)
	UnitBelongsToProperty(ctx context.Context, unitID, propertyID int64) (bool, error)
}

// Guard bundles the stateless accounting-safety checks run at post time.
type Guard struct {
	// CashDailyLimit caps cumulative same-day CPV payments per cash
	// account. Zero disables the check.
	CashDailyLimit decimal.Decimal
	// BackdateWindow is how far in the past a posting date may lie.
	BackdateWindow time.Duration
	now            func() time.Time
}

// NewGuard constructs a Guard with the given policy knobs.
func NewGuard(cashDailyLimit decimal.Decimal, backdateWindow time.Duration) *Guard {
	if backdateWindow <= 0 {
		backdateWindow = 365 * 24 * time.Hour
	}
	return &Guard{CashDailyLimit: cashDailyLimit, BackdateWindow: backdateWindow, now: time.Now}
}

// WithNow overrides the clock for testing.
func (g *Guard) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// EnsurePostable runs every safety check in order and returns the first
// violation. The caller aborts its transaction on error, so no partial
// side effects survive.
func (g *Guard) EnsurePostable(ctx context.Context, q GuardQueries, v Voucher, accounts map[int64]coa.Account, postingDate time.Time) error {
	if err := g.CheckIdempotency(v); err != nil {
		return err
	}
	if err := g.CheckPostingDate(postingDate); err != nil {
		return err
	}
	if err := g.CheckDuplicateReference(ctx, q, v); err != nil {
		return err
	}
	if err := g.CheckTrustUsage(v, accounts); err != nil {
		return err
	}
	if err := g.CheckPropertyLinkage(ctx, q, v); err != nil {
		return err
	}
	return g.CheckBalances(ctx, q, v, accounts, postingDate)
}

// CheckIdempotency refuses to post a voucher twice and blocks reversed
// vouchers permanently.
func (g *Guard) CheckIdempotency(v Voucher) error {
	if v.Status == StatusPosted && v.JournalEntryID != nil {
		return shared.NewSafety(shared.CodeAlreadyPosted, "voucher %s is already posted to journal entry %d", v.Number, *v.JournalEntryID)
	}
	if v.Status == StatusReversed {
		return shared.NewSafety(shared.CodeAlreadyPosted, "voucher %s is reversed and can never be posted again", v.Number)
	}
	return nil
}

// CheckPostingDate keeps postings inside the allowed window: never in
// the future, never older than the backdate window.
func (g *Guard) CheckPostingDate(date time.Time) error {
	now := g.now()
	if date.After(now.Add(24 * time.Hour)) {
		return shared.NewSafety(shared.CodePeriodWindow, "posting date %s lies in the future", date.Format("2006-01-02"))
	}
	if date.Before(now.Add(-g.BackdateWindow)) {
		return shared.NewSafety(shared.CodePeriodWindow, "posting date %s is older than the allowed backdating window", date.Format("2006-01-02"))
	}
	return nil
}

// CheckBalances prevents cash/bank accounts from going negative and
// enforces the daily cumulative cash payment limit.
func (g *Guard) CheckBalances(ctx context.Context, q GuardQueries, v Voucher, accounts map[int64]coa.Account, postingDate time.Time) error {
	for _, line := range v.Lines {
		if !line.Credit.IsPositive() {
			continue
		}
		account, ok := accounts[line.AccountID]
		if !ok || !account.IsCashOrBank() {
			continue
		}
		if account.Trust {
			// Trust balances are reconciled by the escrow report;
			// overdraft protection applies to operating funds only.
			continue
		}
		totals, err := q.AccountPostedTotals(ctx, line.AccountID, nil)
		if err != nil {
			return err
		}
		remaining := totals.Debit.Sub(totals.Credit).Sub(line.Credit)
		if remaining.IsNegative() && !shared.IsZeroish(remaining) {
			return shared.NewSafety(shared.CodeInsufficientFunds, "account %s would go negative by %s", account.Code, remaining.Abs().StringFixed(2))
		}
	}
	if v.Type == TypeCPV && g.CashDailyLimit.IsPositive() {
		paid, err := q.CashPaidOnDay(ctx, v.AccountID, postingDate, v.ID)
		if err != nil {
			return err
		}
		if paid.Add(v.Amount).Cmp(g.CashDailyLimit) > 0 {
			return shared.NewSafety(shared.CodeCashLimit, "daily cash payment limit %s exceeded: %s already paid, %s requested",
				g.CashDailyLimit.StringFixed(2), paid.StringFixed(2), v.Amount.StringFixed(2))
		}
	}
	return nil
}

// CheckDuplicateReference requires cheque/transfer references to be
// unique among non-draft vouchers of the same type and method.
func (g *Guard) CheckDuplicateReference(ctx context.Context, q GuardQueries, v Voucher) error {
	if !v.Method.RequiresReference() {
		return nil
	}
	if v.Type != TypeBPV && v.Type != TypeBRV {
		return nil
	}
	if v.Reference == "" {
		return shared.NewSafety(shared.CodeDuplicateReference, "%s %s payments require a reference number", v.Type, v.Method)
	}
	exists, err := q.ReferenceExists(ctx, v.Type, v.Method, v.Reference, v.ID)
	if err != nil {
		return err
	}
	if exists {
		return shared.NewSafety(shared.CodeDuplicateReference, "reference %q is already used by another %s %s voucher", v.Reference, v.Type, v.Method)
	}
	return nil
}

// CheckTrustUsage keeps client money segregated: a trust account never
// counterparts an expense or revenue account in the same voucher.
func (g *Guard) CheckTrustUsage(v Voucher, accounts map[int64]coa.Account) error {
	var trust *coa.Account
	var expense, revenue *coa.Account
	for _, line := range v.Lines {
		account, ok := accounts[line.AccountID]
		if !ok {
			continue
		}
		switch {
		case account.Trust:
			a := account
			trust = &a
		case account.Category == coa.CategoryExpense:
			a := account
			expense = &a
		case account.Category == coa.CategoryRevenue:
			a := account
			revenue = &a
		}
	}
	if trust == nil {
		return nil
	}
	if expense != nil {
		return shared.NewSafety(shared.CodeTrustUsage, "trust account %s cannot fund expense account %s", trust.Code, expense.Code)
	}
	if revenue != nil {
		return shared.NewSafety(shared.CodeTrustUsage, "trust account %s cannot counterpart revenue account %s; route through a receivable", trust.Code, revenue.Code)
	}
	return nil
}

// CheckPropertyLinkage requires a property on non-JV vouchers and, when
// a unit is given, that it belongs to the stated property.
func (g *Guard) CheckPropertyLinkage(ctx context.Context, q GuardQueries, v Voucher) error {
	if v.Type == TypeJV {
		return nil
	}
	propertyID := v.PropertyID
	if propertyID == nil {
		for _, line := range v.Lines {
			if line.PropertyID != nil {
				propertyID = line.PropertyID
				break
			}
		}
	}
	if propertyID == nil {
		return shared.NewSafety(shared.CodePropertyLinkage, "%s vouchers must reference a property at voucher or line level", v.Type)
	}
	checkUnit := func(unitID, propID *int64) error {
		if unitID == nil {
			return nil
		}
		if propID == nil {
			propID = propertyID
		}
		ok, err := q.UnitBelongsToProperty(ctx, *unitID, *propID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.NewSafety(shared.CodePropertyLinkage, "unit %d does not belong to property %d", *unitID, *propID)
		}
		return nil
	}
	if err := checkUnit(v.UnitID, v.PropertyID); err != nil {
		return err
	}
	for _, line := range v.Lines {
		if err := checkUnit(line.UnitID, line.PropertyID); err != nil {
			return err
		}
	}
	return nil
}
