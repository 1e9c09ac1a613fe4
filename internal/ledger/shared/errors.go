package shared

import (
	"errors"
	"fmt"
)

// Kind classifies ledger failures for callers and HTTP mapping.
type Kind string

const (
	KindValidation      Kind = "VALIDATION_ERROR"
	KindStateTransition Kind = "STATE_TRANSITION_ERROR"
	KindSafety          Kind = "SAFETY_VIOLATION"
	KindNotFound        Kind = "NOT_FOUND_ERROR"
	KindIntegrity       Kind = "INTEGRITY_ERROR"
)

// Stable violation codes surfaced to API clients.
const (
	CodeUnbalanced         = "UNBALANCED_VIOLATION"
	CodeLineSidedness      = "LINE_SIDEDNESS_VIOLATION"
	CodeZeroAmount         = "ZERO_AMOUNT_VIOLATION"
	CodeVoucherTypeRule    = "VOUCHER_TYPE_VIOLATION"
	CodeRevenuePosting     = "REVENUE_POSTING_VIOLATION"
	CodePostingBlocked     = "POSTING_BLOCKED_VIOLATION"
	CodeAlreadyPosted      = "ALREADY_POSTED_VIOLATION"
	CodePeriodWindow       = "PERIOD_VIOLATION"
	CodeInsufficientFunds  = "BALANCE_VIOLATION"
	CodeCashLimit          = "CASH_LIMIT_VIOLATION"
	CodeDuplicateReference = "DUPLICATE_REFERENCE_VIOLATION"
	CodeTrustUsage         = "TRUST_USAGE_VIOLATION"
	CodePropertyLinkage    = "PROPERTY_LINK_VIOLATION"
	CodeAttachmentRequired = "ATTACHMENT_REQUIRED_VIOLATION"
	CodeStateTransition    = "STATE_TRANSITION_ERROR"
	CodeSystemLine         = "SYSTEM_LINE_ERROR"
)

// Violation is the user-facing ledger error: a stable code plus a message
// sufficient to fix the input without reading server logs.
type Violation struct {
	Kind    Kind
	Code    string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// NewValidation builds a structural/type-rule violation.
func NewValidation(code, format string, args ...any) *Violation {
	return &Violation{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewSafety builds an accounting-safety violation.
func NewSafety(code, format string, args ...any) *Violation {
	return &Violation{Kind: KindSafety, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewTransition builds a wrong-status error.
func NewTransition(format string, args ...any) *Violation {
	return &Violation{Kind: KindStateTransition, Code: CodeStateTransition, Message: fmt.Sprintf(format, args...)}
}

// NewIntegrity flags a broken internal invariant. These indicate bugs.
func NewIntegrity(code, format string, args ...any) *Violation {
	return &Violation{Kind: KindIntegrity, Code: code, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or empty when err is not a Violation.
func KindOf(err error) Kind {
	var v *Violation
	if errors.As(err, &v) {
		return v.Kind
	}
	switch {
	case errors.Is(err, ErrVoucherNotFound),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrOperationNotFound):
		return KindNotFound
	}
	return ""
}

var (
	// ErrVoucherNotFound indicates an unknown voucher id.
	ErrVoucherNotFound = errors.New("ledger: voucher not found")
	// ErrAccountNotFound indicates an unknown account id or code.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrJournalNotFound indicates a missing journal entry.
	ErrJournalNotFound = errors.New("ledger: journal entry not found")
	// ErrOperationNotFound indicates an unknown financial operation.
	ErrOperationNotFound = errors.New("ledger: financial operation not found")
	// ErrSourceConflict indicates the journal source link already exists.
	ErrSourceConflict = errors.New("ledger: journal source link conflict")
	// ErrNumberConflict indicates a voucher number collision.
	ErrNumberConflict = errors.New("ledger: voucher number conflict")
	// ErrAccountCycle indicates a re-parent would create a cycle.
	ErrAccountCycle = errors.New("ledger: account move would create a cycle")
)
