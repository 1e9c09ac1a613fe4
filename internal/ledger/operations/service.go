package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	appshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

const idempotencyModule = "ledger.operations"

// RepositoryPort abstracts operation persistence.
type RepositoryPort interface {
	Insert(ctx context.Context, op Operation) (Operation, error)
	Get(ctx context.Context, id int64) (Operation, error)
	List(ctx context.Context, filter ListFilter) ([]Operation, error)
	Approve(ctx context.Context, id, actorID int64, at time.Time) error
	Reject(ctx context.Context, id, actorID int64, reason string, at time.Time) error
	BeginPost(ctx context.Context, id int64) error
	ReleasePost(ctx context.Context, id int64) error
	MarkPosted(ctx context.Context, id, actorID, voucherID int64, at time.Time) error
}

// VoucherPort is the slice of the voucher lifecycle an operation drives
// when it posts: mint a journal voucher and walk it to POSTED.
type VoucherPort interface {
	Get(ctx context.Context, id int64) (ledger.Voucher, error)
	Create(ctx context.Context, in ledger.CreateInput) (ledger.Voucher, error)
	Submit(ctx context.Context, id, actorID int64) (ledger.Voucher, error)
	Approve(ctx context.Context, id, approverID int64) (ledger.Voucher, error)
	Post(ctx context.Context, id, posterID int64, postingDate *time.Time) (ledger.Voucher, error)
}

// IdempotencyPort deduplicates operation requests by client key.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort records operation events.
type AuditPort interface {
	Record(ctx context.Context, log appshared.AuditLog) error
}

// Service manages the refund/transfer/merge request lifecycle. Every
// posted operation produces a new journal voucher; rejected requests
// leave no ledger trace at all.
type Service struct {
	repo     RepositoryPort
	vouchers VoucherPort
	idem     IdempotencyPort
	audit    AuditPort
	now      func() time.Time
	newRef   func() uuid.UUID
}

// NewService constructs the operations service.
func NewService(repo RepositoryPort, vouchers VoucherPort, idem IdempotencyPort, audit AuditPort) *Service {
	return &Service{
		repo:     repo,
		vouchers: vouchers,
		idem:     idem,
		audit:    audit,
		now:      time.Now,
		newRef:   uuid.New,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get loads one operation.
func (s *Service) Get(ctx context.Context, id int64) (Operation, error) {
	return s.repo.Get(ctx, id)
}

// List returns operations matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Operation, error) {
	return s.repo.List(ctx, filter)
}

// Request files a new operation in REQUESTED state.
func (s *Service) Request(ctx context.Context, in RequestInput) (Operation, error) {
	if err := s.validateRequest(ctx, in); err != nil {
		return Operation{}, err
	}
	if s.idem != nil && in.IdempotencyKey != "" {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, appshared.ErrIdempotencyConflict) {
				return Operation{}, shared.NewSafety(shared.CodeDuplicateReference, "operation request %q was already filed", in.IdempotencyKey)
			}
			return Operation{}, err
		}
	}
	op := Operation{
		Ref:             s.newRef(),
		Type:            in.Type,
		Status:          StatusRequested,
		Amount:          in.Amount,
		DebitAccountID:  in.DebitAccountID,
		CreditAccountID: in.CreditAccountID,
		SourceVoucherID: in.SourceVoucherID,
		PropertyID:      in.PropertyID,
		UnitID:          in.UnitID,
		Reason:          in.Reason,
		RequestedBy:     in.RequestedBy,
		RequestedAt:     s.now(),
	}
	created, err := s.repo.Insert(ctx, op)
	if err != nil {
		if s.idem != nil && in.IdempotencyKey != "" {
			_ = s.idem.Delete(ctx, in.IdempotencyKey)
		}
		return Operation{}, err
	}
	s.record(ctx, in.RequestedBy, "operation.request", created, nil)
	return created, nil
}

func (s *Service) validateRequest(ctx context.Context, in RequestInput) error {
	if !in.Type.Valid() {
		return shared.NewValidation(shared.CodeVoucherTypeRule, "unknown operation type %q", in.Type)
	}
	if in.RequestedBy <= 0 {
		return shared.NewValidation(shared.CodeVoucherTypeRule, "requester identity is required")
	}
	if !in.Amount.IsPositive() {
		return shared.NewValidation(shared.CodeZeroAmount, "operation amount must be positive")
	}
	if in.DebitAccountID <= 0 || in.CreditAccountID <= 0 {
		return shared.NewValidation(shared.CodeVoucherTypeRule, "debit and credit accounts are required")
	}
	if in.DebitAccountID == in.CreditAccountID {
		return shared.NewValidation(shared.CodeVoucherTypeRule, "debit and credit accounts must differ")
	}
	if in.Reason == "" {
		return shared.NewValidation(shared.CodeVoucherTypeRule, "a reason is required for %s operations", in.Type)
	}
	if in.Type == TypeRefund && in.SourceVoucherID == nil {
		return shared.NewValidation(shared.CodeVoucherTypeRule, "refunds must reference the voucher being refunded")
	}
	if in.SourceVoucherID != nil {
		source, err := s.vouchers.Get(ctx, *in.SourceVoucherID)
		if err != nil {
			return err
		}
		if source.Status != ledger.StatusPosted {
			return shared.NewValidation(shared.CodeVoucherTypeRule, "source voucher %s is %s; only posted vouchers can back an operation", source.Number, source.Status)
		}
	}
	return nil
}

// Approve moves a REQUESTED operation to APPROVED.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (Operation, error) {
	if actorID <= 0 {
		return Operation{}, shared.NewValidation(shared.CodeVoucherTypeRule, "approver identity is required")
	}
	op, err := s.repo.Get(ctx, id)
	if err != nil {
		return Operation{}, err
	}
	if op.Status != StatusRequested {
		return Operation{}, shared.NewTransition("operation %d is %s, expected %s", id, op.Status, StatusRequested)
	}
	at := s.now()
	if err := s.repo.Approve(ctx, id, actorID, at); err != nil {
		if errors.Is(err, shared.ErrOperationNotFound) {
			return Operation{}, shared.NewTransition("operation %d changed state concurrently", id)
		}
		return Operation{}, err
	}
	op.Status = StatusApproved
	op.ApprovedBy = &actorID
	op.ApprovedAt = &at
	s.record(ctx, actorID, "operation.approve", op, nil)
	return op, nil
}

// Reject moves a REQUESTED operation to REJECTED. Rejected operations
// are terminal and produce no voucher.
func (s *Service) Reject(ctx context.Context, id, actorID int64, reason string) (Operation, error) {
	if actorID <= 0 {
		return Operation{}, shared.NewValidation(shared.CodeVoucherTypeRule, "approver identity is required")
	}
	if reason == "" {
		return Operation{}, shared.NewValidation(shared.CodeVoucherTypeRule, "a rejection reason is required")
	}
	op, err := s.repo.Get(ctx, id)
	if err != nil {
		return Operation{}, err
	}
	if op.Status != StatusRequested {
		return Operation{}, shared.NewTransition("operation %d is %s, expected %s", id, op.Status, StatusRequested)
	}
	at := s.now()
	if err := s.repo.Reject(ctx, id, actorID, reason, at); err != nil {
		if errors.Is(err, shared.ErrOperationNotFound) {
			return Operation{}, shared.NewTransition("operation %d changed state concurrently", id)
		}
		return Operation{}, err
	}
	op.Status = StatusRejected
	op.RejectedBy = &actorID
	op.RejectedAt = &at
	op.RejectReason = reason
	s.record(ctx, actorID, "operation.reject", op, map[string]any{"reason": reason})
	return op, nil
}

// Post executes an APPROVED operation: it reserves the request, mints a
// journal voucher with the operation's debit/credit movement, walks it
// through the voucher lifecycle to POSTED, and links it back. The
// reservation is a compare-and-set to POSTING, so of two concurrent
// posts only one reaches the mint. The voucher carries every safety
// check; a guard rejection releases the reservation and leaves the
// operation APPROVED for a corrected retry.
func (s *Service) Post(ctx context.Context, id, actorID int64) (Operation, error) {
	if actorID <= 0 {
		return Operation{}, shared.NewValidation(shared.CodeVoucherTypeRule, "poster identity is required")
	}
	op, err := s.repo.Get(ctx, id)
	if err != nil {
		return Operation{}, err
	}
	if op.Status != StatusApproved {
		return Operation{}, shared.NewTransition("operation %d is %s, expected %s", id, op.Status, StatusApproved)
	}
	if err := s.repo.BeginPost(ctx, id); err != nil {
		if errors.Is(err, shared.ErrOperationNotFound) {
			return Operation{}, shared.NewTransition("operation %d changed state concurrently", id)
		}
		return Operation{}, err
	}
	voucher, err := s.mintVoucher(ctx, op, actorID)
	if err != nil {
		_ = s.repo.ReleasePost(ctx, id)
		return Operation{}, err
	}
	at := s.now()
	if err := s.repo.MarkPosted(ctx, id, actorID, voucher.ID, at); err != nil {
		if errors.Is(err, shared.ErrOperationNotFound) {
			return Operation{}, shared.NewTransition("operation %d changed state concurrently", id)
		}
		return Operation{}, err
	}
	op.Status = StatusPosted
	op.PostedBy = &actorID
	op.PostedAt = &at
	op.VoucherID = &voucher.ID
	s.record(ctx, actorID, "operation.post", op, map[string]any{"voucher_id": voucher.ID})
	return op, nil
}

func (s *Service) mintVoucher(ctx context.Context, op Operation, actorID int64) (ledger.Voucher, error) {
	narration := fmt.Sprintf("%s: %s", op.Type, op.Reason)
	if op.SourceVoucherID != nil {
		narration = fmt.Sprintf("%s (source voucher %d)", narration, *op.SourceVoucherID)
	}
	// Refunds and transfers legitimately move operating cash.
	in := ledger.CreateInput{
		Type:           ledger.TypeJV,
		Date:           s.now(),
		Method:         ledger.MethodTransfer,
		Reference:      op.Ref.String(),
		Narration:      narration,
		PropertyID:     op.PropertyID,
		UnitID:         op.UnitID,
		AllowCashLines: true,
		PreparedBy:     actorID,
		Lines: []ledger.LineInput{
			{AccountID: op.DebitAccountID, Debit: op.Amount, Description: narration, PropertyID: op.PropertyID, UnitID: op.UnitID},
			{AccountID: op.CreditAccountID, Credit: op.Amount, Description: narration, PropertyID: op.PropertyID, UnitID: op.UnitID},
		},
	}
	voucher, err := s.vouchers.Create(ctx, in)
	if err != nil {
		return ledger.Voucher{}, err
	}
	if _, err := s.vouchers.Submit(ctx, voucher.ID, actorID); err != nil {
		return ledger.Voucher{}, err
	}
	if _, err := s.vouchers.Approve(ctx, voucher.ID, actorID); err != nil {
		return ledger.Voucher{}, err
	}
	return s.vouchers.Post(ctx, voucher.ID, actorID, nil)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, op Operation, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["type"] = string(op.Type)
	meta["status"] = string(op.Status)
	meta["amount"] = op.Amount.StringFixed(2)
	_ = s.audit.Record(ctx, appshared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "financial_operation",
		EntityID: fmt.Sprintf("%d", op.ID),
		Meta:     meta,
		At:       s.now(),
	})
}
