package coa

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category enumerates the five account natures.
type Category string

const (
	CategoryAsset     Category = "ASSET"
	CategoryLiability Category = "LIABILITY"
	CategoryEquity    Category = "EQUITY"
	CategoryRevenue   Category = "REVENUE"
	CategoryExpense   Category = "EXPENSE"
)

// NormalBalance marks the side on which an account grows.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// Kind distinguishes aggregation-only nodes from leaf posting accounts.
type Kind string

const (
	KindHeader  Kind = "HEADER"
	KindControl Kind = "CONTROL"
	KindPosting Kind = "POSTING"
)

// MaxLevel is the depth of the chart; only level-5 POSTING accounts
// may receive journal lines.
const MaxLevel = 5

// Code prefixes used for cash/bank/trust classification. The chart is
// prefix-encoded: a child code always extends its parent code.
const (
	PrefixCash           = "1111"
	PrefixBank           = "1112"
	PrefixReceivable     = "112"
	PrefixTrustAsset     = "13"
	PrefixPayable        = "21"
	PrefixAdvance        = "212"
	PrefixTrustLiability = "23"
)

// Account is a node in the chart of accounts.
type Account struct {
	ID            int64
	Code          string
	Name          string
	Description   string
	Level         int16
	Kind          Kind
	Category      Category
	NormalBalance NormalBalance
	Postable      bool
	Trust         bool
	ParentID      *int64
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DefaultNormalBalance returns the conventional side for the category.
func (c Category) DefaultNormalBalance() NormalBalance {
	switch c {
	case CategoryAsset, CategoryExpense:
		return NormalDebit
	default:
		return NormalCredit
	}
}

// IsCash reports whether the account belongs to the cash-in-hand range.
func (a Account) IsCash() bool { return strings.HasPrefix(a.Code, PrefixCash) }

// IsBank reports whether the account belongs to the bank range.
func (a Account) IsBank() bool { return strings.HasPrefix(a.Code, PrefixBank) }

// IsCashOrBank reports whether the account holds liquid operating funds.
func (a Account) IsCashOrBank() bool { return a.IsCash() || a.IsBank() }

// IsReceivable reports whether the account sits under receivables.
func (a Account) IsReceivable() bool { return strings.HasPrefix(a.Code, PrefixReceivable) }

// IsAdvance reports whether the account records tenant/buyer advances.
func (a Account) IsAdvance() bool { return strings.HasPrefix(a.Code, PrefixAdvance) }

// IsPayable reports whether the account sits under current liabilities.
func (a Account) IsPayable() bool {
	return strings.HasPrefix(a.Code, PrefixPayable) && !strings.HasPrefix(a.Code, PrefixTrustLiability)
}

// IsTrustAsset reports whether the account holds client money.
func (a Account) IsTrustAsset() bool { return a.Trust && a.Category == CategoryAsset }

// IsTrustLiability reports whether the account owes client money back.
func (a Account) IsTrustLiability() bool { return a.Trust && a.Category == CategoryLiability }

// BalanceSummary carries raw totals plus the signed balance.
type BalanceSummary struct {
	Debit   decimal.Decimal
	Credit  decimal.Decimal
	Balance decimal.Decimal
}

// SignedBalance applies the normal-balance convention to raw totals.
func SignedBalance(n NormalBalance, debit, credit decimal.Decimal) decimal.Decimal {
	if n == NormalDebit {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// LineTotals aggregates posted journal lines for one account.
type LineTotals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}
