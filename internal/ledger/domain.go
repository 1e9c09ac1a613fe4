package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VoucherType enumerates the five voucher families.
type VoucherType string

const (
	// TypeBPV is a bank payment voucher.
	TypeBPV VoucherType = "BPV"
	// TypeBRV is a bank receipt voucher.
	TypeBRV VoucherType = "BRV"
	// TypeCPV is a cash payment voucher.
	TypeCPV VoucherType = "CPV"
	// TypeCRV is a cash receipt voucher.
	TypeCRV VoucherType = "CRV"
	// TypeJV is a user-balanced journal voucher.
	TypeJV VoucherType = "JV"
)

// IsPayment reports whether money leaves the primary account.
func (t VoucherType) IsPayment() bool { return t == TypeBPV || t == TypeCPV }

// IsReceipt reports whether money enters the primary account.
func (t VoucherType) IsReceipt() bool { return t == TypeBRV || t == TypeCRV }

// RequiresSystemLine reports whether the engine balances the voucher with
// an auto-generated line on the primary account.
func (t VoucherType) RequiresSystemLine() bool { return t != TypeJV }

// Valid reports whether t is a known voucher type.
func (t VoucherType) Valid() bool {
	switch t {
	case TypeBPV, TypeBRV, TypeCPV, TypeCRV, TypeJV:
		return true
	}
	return false
}

// VoucherStatus enumerates lifecycle states. Transitions only advance:
// DRAFT -> SUBMITTED -> APPROVED -> POSTED -> REVERSED.
type VoucherStatus string

const (
	StatusDraft     VoucherStatus = "DRAFT"
	StatusSubmitted VoucherStatus = "SUBMITTED"
	StatusApproved  VoucherStatus = "APPROVED"
	StatusPosted    VoucherStatus = "POSTED"
	StatusReversed  VoucherStatus = "REVERSED"
)

// PaymentMethod enumerates settlement channels.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodCheque   PaymentMethod = "CHEQUE"
	MethodTransfer PaymentMethod = "TRANSFER"
	MethodOnline   PaymentMethod = "ONLINE"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCheque, MethodTransfer, MethodOnline:
		return true
	}
	return false
}

// RequiresReference reports whether a unique external reference is
// mandatory for the method.
func (m PaymentMethod) RequiresReference() bool {
	return m == MethodCheque || m == MethodTransfer
}

// LineOrigin tags who produced a voucher line. The balancing system line
// is identified by this tag, never by matching description text.
type LineOrigin string

const (
	OriginUser   LineOrigin = "USER"
	OriginSystem LineOrigin = "SYSTEM"
)

// VoucherLine is one leg of a proposed double entry. Exactly one of
// Debit/Credit is positive.
type VoucherLine struct {
	ID          int64           `json:"id"`
	VoucherID   int64           `json:"voucherId"`
	AccountID   int64           `json:"accountId"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Origin      LineOrigin      `json:"origin"`
	Description string          `json:"description"`
	PropertyID  *int64          `json:"propertyId,omitempty"`
	UnitID      *int64          `json:"unitId,omitempty"`
}

// Voucher is a proposed transaction prior to the immutable journal.
type Voucher struct {
	ID             int64           `json:"id"`
	Ref            uuid.UUID       `json:"ref"`
	Number         string          `json:"number"`
	Type           VoucherType     `json:"type"`
	Status         VoucherStatus   `json:"status"`
	Date           time.Time       `json:"date"`
	Method         PaymentMethod   `json:"method"`
	AccountID      int64           `json:"accountId"`
	Amount         decimal.Decimal `json:"amount"`
	Reference      string          `json:"reference,omitempty"`
	Narration      string          `json:"narration,omitempty"`
	PropertyID     *int64          `json:"propertyId,omitempty"`
	UnitID         *int64          `json:"unitId,omitempty"`
	PayeeType      *string         `json:"payeeType,omitempty"`
	PayeeID        *int64          `json:"payeeId,omitempty"`
	DealID         *int64          `json:"dealId,omitempty"`
	Attachments    []string        `json:"attachments"`
	AllowCashLines bool            `json:"allowCashLines"`
	PreparedBy     int64           `json:"preparedBy"`
	SubmittedBy    *int64          `json:"submittedBy,omitempty"`
	SubmittedAt    *time.Time      `json:"submittedAt,omitempty"`
	ApprovedBy     *int64          `json:"approvedBy,omitempty"`
	ApprovedAt     *time.Time      `json:"approvedAt,omitempty"`
	PostedBy       *int64          `json:"postedBy,omitempty"`
	PostedAt       *time.Time      `json:"postedAt,omitempty"`
	PostingDate    *time.Time      `json:"postingDate,omitempty"`
	JournalEntryID *int64          `json:"journalEntryId,omitempty"`
	ReversalOfID   *int64          `json:"reversalOfId,omitempty"`
	ReversedByID   *int64          `json:"reversedById,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Lines          []VoucherLine   `json:"lines,omitempty"`
}

// SystemLineCount returns the number of system-origin lines. Exactly one
// is expected on cash/bank vouchers, zero on JVs.
func (v Voucher) SystemLineCount() int {
	count := 0
	for _, line := range v.Lines {
		if line.Origin == OriginSystem {
			count++
		}
	}
	return count
}

// UserLines returns the caller-supplied lines only.
func (v Voucher) UserLines() []VoucherLine {
	out := make([]VoucherLine, 0, len(v.Lines))
	for _, line := range v.Lines {
		if line.Origin == OriginUser {
			out = append(out, line)
		}
	}
	return out
}

// JournalEntry is the append-only system of record for balances. Entries
// are never updated or deleted after creation.
type JournalEntry struct {
	ID        int64         `json:"id"`
	Number    int64         `json:"number"`
	Date      time.Time     `json:"date"`
	SourceRef uuid.UUID     `json:"sourceRef"`
	Memo      string        `json:"memo"`
	PostedBy  int64         `json:"postedBy"`
	PostedAt  time.Time     `json:"postedAt"`
	CreatedAt time.Time     `json:"createdAt"`
	Lines     []JournalLine `json:"lines,omitempty"`
}

// JournalLine mirrors one finalized voucher line.
type JournalLine struct {
	ID         int64           `json:"id"`
	EntryID    int64           `json:"entryId"`
	AccountID  int64           `json:"accountId"`
	Debit      decimal.Decimal `json:"debit"`
	Credit     decimal.Decimal `json:"credit"`
	PropertyID *int64          `json:"propertyId,omitempty"`
	UnitID     *int64          `json:"unitId,omitempty"`
}

// LineInput is a caller-supplied voucher line.
type LineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	PropertyID  *int64
	UnitID      *int64
}

// CreateInput groups the fields accepted when drafting a voucher.
type CreateInput struct {
	Type           VoucherType
	Date           time.Time
	Method         PaymentMethod
	AccountID      int64
	Reference      string
	Narration      string
	PropertyID     *int64
	UnitID         *int64
	PayeeType      *string
	PayeeID        *int64
	DealID         *int64
	Attachments    []string
	AllowCashLines bool
	PreparedBy     int64
	Lines          []LineInput
}

// ListFilter scopes voucher listings.
type ListFilter struct {
	Status VoucherStatus
	Type   VoucherType
	Limit  int
	Offset int
}
