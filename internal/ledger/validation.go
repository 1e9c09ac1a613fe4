package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/coa"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Validator enforces per-type structural and semantic voucher rules
// before anything is persisted. It is stateless; account data comes in
// resolved from the enclosing transaction.
type Validator struct{}

// BuildLines validates the user lines for the voucher type, appends the
// balancing system line for cash/bank vouchers, and computes the voucher
// amount. Nothing is persisted here; validation always precedes writes.
func (Validator) BuildLines(in CreateInput, primary coa.Account, accounts map[int64]coa.Account) ([]VoucherLine, decimal.Decimal, error) {
	if !in.Type.Valid() {
		return nil, decimal.Zero, shared.NewValidation(shared.CodeVoucherTypeRule, "unknown voucher type %q", in.Type)
	}
	if !in.Method.Valid() {
		return nil, decimal.Zero, shared.NewValidation(shared.CodeVoucherTypeRule, "unknown payment method %q", in.Method)
	}
	if in.Date.IsZero() {
		return nil, decimal.Zero, shared.NewValidation(shared.CodeVoucherTypeRule, "voucher date is required")
	}
	if len(in.Lines) == 0 {
		return nil, decimal.Zero, shared.NewValidation(shared.CodeVoucherTypeRule, "%s requires at least one line", in.Type)
	}
	if in.Type == TypeJV && len(in.Lines) < 2 {
		return nil, decimal.Zero, shared.NewValidation(shared.CodeVoucherTypeRule, "JV requires >=2 lines")
	}
	if in.Method.RequiresReference() && in.Reference == "" {
		return nil, decimal.Zero, shared.NewValidation(shared.CodeVoucherTypeRule, "%s payments require a reference number", in.Method)
	}

	userDebit, userCredit := decimal.Zero, decimal.Zero
	lines := make([]VoucherLine, 0, len(in.Lines)+1)
	for idx, line := range in.Lines {
		account, ok := accounts[line.AccountID]
		if !ok {
			return nil, decimal.Zero, shared.ErrAccountNotFound
		}
		if err := coa.EnsurePostable(account); err != nil {
			return nil, decimal.Zero, err
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return nil, decimal.Zero, shared.NewValidation(shared.CodeLineSidedness, "line %d carries a negative amount", idx+1)
		}
		debitSet := line.Debit.IsPositive()
		creditSet := line.Credit.IsPositive()
		if debitSet == creditSet {
			return nil, decimal.Zero, shared.NewValidation(shared.CodeLineSidedness, "line %d must have exactly one of debit or credit > 0", idx+1)
		}
		if err := checkLineForType(in, idx, line, account); err != nil {
			return nil, decimal.Zero, err
		}
		userDebit = userDebit.Add(line.Debit)
		userCredit = userCredit.Add(line.Credit)
		lines = append(lines, VoucherLine{
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Origin:      OriginUser,
			Description: line.Description,
			PropertyID:  line.PropertyID,
			UnitID:      line.UnitID,
		})
	}

	if err := validateRevenuePosting(in, accounts); err != nil {
		return nil, decimal.Zero, err
	}

	var amount decimal.Decimal
	switch {
	case in.Type.IsPayment():
		if err := checkPrimary(in.Type, primary); err != nil {
			return nil, decimal.Zero, err
		}
		if userCredit.IsPositive() {
			return nil, decimal.Zero, shared.NewValidation(shared.CodeVoucherTypeRule, "%s user lines must all be debits; the system line is the sole credit", in.Type)
		}
		amount = userDebit
		lines = append(lines, systemLine(primary.ID, decimal.Zero, amount))
	case in.Type.IsReceipt():
		if err := checkPrimary(in.Type, primary); err != nil {
			return nil, decimal.Zero, err
		}
		if userDebit.IsPositive() {
			return nil, decimal.Zero, shared.NewValidation(shared.CodeVoucherTypeRule, "%s user lines must all be credits; the system line is the sole debit", in.Type)
		}
		amount = userCredit
		lines = append(lines, systemLine(primary.ID, amount, decimal.Zero))
	default: // JV balances itself
		if !shared.WithinTolerance(userDebit, userCredit) {
			return nil, decimal.Zero, shared.NewValidation(shared.CodeUnbalanced, "JV debits %s and credits %s must balance", userDebit.StringFixed(2), userCredit.StringFixed(2))
		}
		amount = userDebit
	}

	if !amount.IsPositive() || shared.IsZeroish(amount) {
		return nil, decimal.Zero, shared.NewValidation(shared.CodeZeroAmount, "voucher amount must be greater than zero")
	}

	totalDebit, totalCredit := decimal.Zero, decimal.Zero
	for _, line := range lines {
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	if !shared.WithinTolerance(totalDebit, totalCredit) {
		return nil, decimal.Zero, shared.NewIntegrity(shared.CodeUnbalanced, "finalized lines do not balance: %s vs %s", totalDebit.StringFixed(2), totalCredit.StringFixed(2))
	}
	return lines, amount, nil
}

func systemLine(accountID int64, debit, credit decimal.Decimal) VoucherLine {
	return VoucherLine{
		AccountID:   accountID,
		Debit:       debit,
		Credit:      credit,
		Origin:      OriginSystem,
		Description: "Auto-generated balancing line",
	}
}

func checkPrimary(t VoucherType, primary coa.Account) error {
	if err := coa.EnsurePostable(primary); err != nil {
		return err
	}
	switch t {
	case TypeBPV, TypeBRV:
		// Trust-flagged asset accounts are escrow bank accounts.
		if !primary.IsBank() && !primary.IsTrustAsset() {
			return shared.NewValidation(shared.CodeVoucherTypeRule, "%s primary account %s must be a bank account", t, primary.Code)
		}
	case TypeCPV, TypeCRV:
		if !primary.IsCash() {
			return shared.NewValidation(shared.CodeVoucherTypeRule, "%s primary account %s must be a cash account", t, primary.Code)
		}
	}
	return nil
}

// checkLineForType applies the per-type sidedness and account-nature rules.
func checkLineForType(in CreateInput, idx int, line LineInput, account coa.Account) error {
	switch {
	case in.Type.IsPayment():
		if line.Credit.IsPositive() {
			return shared.NewValidation(shared.CodeVoucherTypeRule, "line %d: %s lines must be debit entries", idx+1, in.Type)
		}
		if account.Category != coa.CategoryExpense && account.Category != coa.CategoryLiability {
			return shared.NewValidation(shared.CodeVoucherTypeRule, "line %d: %s may only debit expense or liability accounts, got %s %s", idx+1, in.Type, account.Category, account.Code)
		}
	case in.Type.IsReceipt():
		if line.Debit.IsPositive() {
			return shared.NewValidation(shared.CodeVoucherTypeRule, "line %d: %s lines must be credit entries", idx+1, in.Type)
		}
		allowed := account.Category == coa.CategoryRevenue ||
			(account.Category == coa.CategoryAsset && account.IsReceivable()) ||
			(account.Category == coa.CategoryLiability && (account.IsAdvance() || account.IsTrustLiability()))
		if !allowed {
			return shared.NewValidation(shared.CodeVoucherTypeRule, "line %d: %s may only credit revenue, receivable, or advance accounts, got %s %s", idx+1, in.Type, account.Category, account.Code)
		}
	default: // JV
		if account.IsCashOrBank() && !in.AllowCashLines {
			return shared.NewValidation(shared.CodeVoucherTypeRule, "line %d: JV touching cash/bank account %s requires elevated approval", idx+1, account.Code)
		}
	}
	return nil
}

// validateRevenuePosting keeps revenue recognition off liquid accounts:
// a JV may never pair a cash/bank movement directly with a revenue
// credit, and trust-held funds never convert straight into revenue.
// Receipts clear revenue through the receivable chain instead.
func validateRevenuePosting(in CreateInput, accounts map[int64]coa.Account) error {
	revenueCredited := false
	cashDebited := false
	trustTouched := false
	for _, line := range in.Lines {
		account, ok := accounts[line.AccountID]
		if !ok {
			continue
		}
		if account.Category == coa.CategoryRevenue && line.Credit.IsPositive() {
			revenueCredited = true
		}
		if account.IsCashOrBank() && line.Debit.IsPositive() {
			cashDebited = true
		}
		if account.Trust {
			trustTouched = true
		}
	}
	if !revenueCredited {
		return nil
	}
	if in.Type == TypeJV && cashDebited {
		return shared.NewValidation(shared.CodeRevenuePosting, "revenue must flow through a receivable account, not directly from cash/bank")
	}
	if trustTouched {
		return shared.NewValidation(shared.CodeRevenuePosting, "trust funds cannot be recognised as revenue directly")
	}
	return nil
}
