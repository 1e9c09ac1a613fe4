package operations

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported financial operations. Each one is an
// additive request that, once posted, mints a brand-new voucher; no
// existing voucher or journal entry is ever mutated.
type Type string

const (
	TypeRefund   Type = "REFUND"
	TypeTransfer Type = "TRANSFER"
	TypeMerge    Type = "MERGE"
)

// Valid reports whether the operation type is known.
func (t Type) Valid() bool {
	switch t {
	case TypeRefund, TypeTransfer, TypeMerge:
		return true
	}
	return false
}

// Status is the operation request state. POSTING is a short-lived
// reservation taken while the voucher is minted; it guarantees that
// concurrent post attempts produce at most one voucher.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusApproved  Status = "APPROVED"
	StatusPosting   Status = "POSTING"
	StatusPosted    Status = "POSTED"
	StatusRejected  Status = "REJECTED"
)

// Operation is a refund, transfer, or merge request. The debit/credit
// account pair describes the journal movement the posted voucher will
// carry: value leaves the credited account and enters the debited one.
type Operation struct {
	ID              int64
	Ref             uuid.UUID
	Type            Type
	Status          Status
	Amount          decimal.Decimal
	DebitAccountID  int64
	CreditAccountID int64
	SourceVoucherID *int64
	PropertyID      *int64
	UnitID          *int64
	Reason          string
	RequestedBy     int64
	RequestedAt     time.Time
	ApprovedBy      *int64
	ApprovedAt      *time.Time
	RejectedBy      *int64
	RejectedAt      *time.Time
	RejectReason    string
	PostedBy        *int64
	PostedAt        *time.Time
	VoucherID       *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RequestInput carries a new operation request.
type RequestInput struct {
	Type            Type
	Amount          decimal.Decimal
	DebitAccountID  int64
	CreditAccountID int64
	SourceVoucherID *int64
	PropertyID      *int64
	UnitID          *int64
	Reason          string
	IdempotencyKey  string
	RequestedBy     int64
}

// ListFilter scopes operation listings.
type ListFilter struct {
	Status Status
	Type   Type
	Limit  int
	Offset int
}
