package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/ledger/coa"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	appshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVoucher(ctx context.Context, id int64) (Voucher, error)
	ListVouchers(ctx context.Context, filter ListFilter) ([]Voucher, error)
	GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log appshared.AuditLog) error
}

// CacheBumper invalidates cached reports after a posting.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// Service drives the voucher lifecycle: create, update, submit, approve,
// post, reverse. Posting is the single irreversible write boundary.
type Service struct {
	repo      RepositoryPort
	validator Validator
	guard     *Guard
	audit     AuditPort
	cache     CacheBumper
	now       func() time.Time
	newRef    func() uuid.UUID
}

// NewService constructs the voucher lifecycle service.
func NewService(repo RepositoryPort, guard *Guard, audit AuditPort, cache CacheBumper) *Service {
	return &Service{
		repo:   repo,
		guard:  guard,
		audit:  audit,
		cache:  cache,
		now:    time.Now,
		newRef: uuid.New,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		if s.guard != nil {
			s.guard.WithNow(now)
		}
	}
}

// Get loads a voucher with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Voucher, error) {
	return s.repo.GetVoucher(ctx, id)
}

// List returns vouchers matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Voucher, error) {
	return s.repo.ListVouchers(ctx, filter)
}

// GetJournalEntry loads an immutable journal entry.
func (s *Service) GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.GetJournalEntry(ctx, id)
}

// Create validates the request, appends the balancing system line for
// cash/bank vouchers, and persists the voucher as a draft.
func (s *Service) Create(ctx context.Context, in CreateInput) (Voucher, error) {
	if in.PreparedBy <= 0 {
		return Voucher{}, shared.NewValidation(shared.CodeVoucherTypeRule, "preparer identity is required")
	}
	if in.Type.RequiresSystemLine() && in.AccountID <= 0 {
		return Voucher{}, shared.NewValidation(shared.CodeVoucherTypeRule, "%s requires a primary cash/bank account", in.Type)
	}
	var created Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, primary, err := s.resolveAccounts(ctx, tx, in)
		if err != nil {
			return err
		}
		lines, amount, err := s.validator.BuildLines(in, primary, accounts)
		if err != nil {
			return err
		}
		voucher := Voucher{
			Ref:            s.newRef(),
			Type:           in.Type,
			Status:         StatusDraft,
			Date:           in.Date,
			Method:         in.Method,
			AccountID:      in.AccountID,
			Amount:         amount,
			Reference:      in.Reference,
			Narration:      in.Narration,
			PropertyID:     in.PropertyID,
			UnitID:         in.UnitID,
			PayeeType:      in.PayeeType,
			PayeeID:        in.PayeeID,
			DealID:         in.DealID,
			Attachments:    in.Attachments,
			AllowCashLines: in.AllowCashLines,
			PreparedBy:     in.PreparedBy,
		}
		inserted, err := s.insertWithNumber(ctx, tx, voucher)
		if err != nil {
			return err
		}
		inserted.Lines, err = tx.ReplaceLines(ctx, inserted.ID, lines)
		if err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.record(ctx, in.PreparedBy, "voucher.create", created, map[string]any{
		"type":   created.Type,
		"amount": created.Amount.StringFixed(2),
	})
	return created, nil
}

// Update re-runs the full create-time pipeline on a draft.
func (s *Service) Update(ctx context.Context, id int64, in CreateInput) (Voucher, error) {
	var updated Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetVoucherForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return shared.NewTransition("voucher %s is %s; only drafts can be updated", current.Number, current.Status)
		}
		if in.Type != current.Type {
			return shared.NewValidation(shared.CodeVoucherTypeRule, "voucher type cannot change after creation")
		}
		accounts, primary, err := s.resolveAccounts(ctx, tx, in)
		if err != nil {
			return err
		}
		lines, amount, err := s.validator.BuildLines(in, primary, accounts)
		if err != nil {
			return err
		}
		current.Date = in.Date
		current.Method = in.Method
		current.AccountID = in.AccountID
		current.Amount = amount
		current.Reference = in.Reference
		current.Narration = in.Narration
		current.PropertyID = in.PropertyID
		current.UnitID = in.UnitID
		current.PayeeType = in.PayeeType
		current.PayeeID = in.PayeeID
		current.DealID = in.DealID
		current.Attachments = in.Attachments
		current.AllowCashLines = in.AllowCashLines
		if err := tx.UpdateVoucherDraft(ctx, current); err != nil {
			return err
		}
		current.Lines, err = tx.ReplaceLines(ctx, current.ID, lines)
		if err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	return updated, nil
}

// Submit moves a draft forward. Non-JV vouchers must carry at least one
// attachment; structure freezes until the voucher returns to draft.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (Voucher, error) {
	return s.advance(ctx, id, actorID, StatusDraft, StatusSubmitted, "voucher.submit", func(v Voucher) error {
		if v.Type != TypeJV && len(v.Attachments) == 0 {
			return shared.NewValidation(shared.CodeAttachmentRequired, "%s vouchers require at least one attachment before submission", v.Type)
		}
		return nil
	})
}

// Approve moves a submitted voucher to approved. No structural mutation
// happens here; authorization is the caller's concern.
func (s *Service) Approve(ctx context.Context, id, approverID int64) (Voucher, error) {
	return s.advance(ctx, id, approverID, StatusSubmitted, StatusApproved, "voucher.approve", nil)
}

func (s *Service) advance(ctx context.Context, id, actorID int64, from, to VoucherStatus, action string, precheck func(Voucher) error) (Voucher, error) {
	if actorID <= 0 {
		return Voucher{}, shared.NewValidation(shared.CodeVoucherTypeRule, "actor identity is required")
	}
	var result Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetVoucherForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != from {
			return shared.NewTransition("voucher %s is %s, expected %s", current.Number, current.Status, from)
		}
		if precheck != nil {
			if err := precheck(current); err != nil {
				return err
			}
		}
		at := s.now()
		if err := tx.AdvanceStatus(ctx, id, from, to, actorID, at); err != nil {
			return err
		}
		current.Status = to
		switch to {
		case StatusSubmitted:
			current.SubmittedBy = &actorID
			current.SubmittedAt = &at
		case StatusApproved:
			current.ApprovedBy = &actorID
			current.ApprovedAt = &at
		}
		result = current
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.record(ctx, actorID, action, result, nil)
	return result, nil
}

// Post converts an approved voucher into an immutable journal entry and
// flips the voucher to POSTED, all inside one serializable transaction.
func (s *Service) Post(ctx context.Context, id, posterID int64, postingDate *time.Time) (Voucher, error) {
	if posterID <= 0 {
		return Voucher{}, shared.NewValidation(shared.CodeVoucherTypeRule, "poster identity is required")
	}
	var posted Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetVoucherForUpdate(ctx, id)
		if err != nil {
			return err
		}
		current.Lines, err = tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		// Idempotency first: posting a posted or reversed voucher is a
		// safety violation, not a plain transition error.
		if err := s.guard.CheckIdempotency(current); err != nil {
			return err
		}
		if current.Status != StatusApproved {
			return shared.NewTransition("voucher %s is %s, expected %s", current.Number, current.Status, StatusApproved)
		}
		if err := checkSystemLines(current); err != nil {
			return err
		}
		date := current.Date
		if postingDate != nil {
			date = *postingDate
		}
		accounts, err := tx.GetAccountsByIDs(ctx, lineAccountIDs(current.Lines))
		if err != nil {
			return err
		}
		if err := s.guard.EnsurePostable(ctx, tx, current, accounts, date); err != nil {
			return err
		}
		entry, err := tx.InsertJournalEntry(ctx, date, current.Ref, fmt.Sprintf("Voucher %s", current.Number), posterID)
		if err != nil {
			if errors.Is(err, shared.ErrSourceConflict) {
				return shared.NewSafety(shared.CodeAlreadyPosted, "voucher %s is already posted", current.Number)
			}
			return err
		}
		if err := tx.InsertJournalLines(ctx, entry.ID, current.Lines); err != nil {
			return err
		}
		at := s.now()
		if err := tx.MarkPosted(ctx, id, entry.ID, posterID, at, date); err != nil {
			return err
		}
		current.Status = StatusPosted
		current.JournalEntryID = &entry.ID
		current.PostedBy = &posterID
		current.PostedAt = &at
		current.PostingDate = &date
		posted = current
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.record(ctx, posterID, "voucher.post", posted, map[string]any{
		"journal_entry_id": *posted.JournalEntryID,
	})
	s.bump(ctx)
	return posted, nil
}

// Reverse synthesizes and immediately posts a mirror voucher with every
// line's debit/credit swapped. The original journal entry is untouched.
func (s *Service) Reverse(ctx context.Context, id, reverserID int64, date time.Time) (Voucher, error) {
	if reverserID <= 0 {
		return Voucher{}, shared.NewValidation(shared.CodeVoucherTypeRule, "reverser identity is required")
	}
	if date.IsZero() {
		date = s.now()
	}
	var reversal Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetVoucherForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if original.Status != StatusPosted {
			return shared.NewTransition("voucher %s is %s; only posted vouchers can be reversed", original.Number, original.Status)
		}
		if original.ReversedByID != nil {
			return shared.NewSafety(shared.CodeAlreadyPosted, "voucher %s is already reversed by voucher %d", original.Number, *original.ReversedByID)
		}
		originalLines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		if err := s.guard.CheckPostingDate(date); err != nil {
			return err
		}
		mirror := Voucher{
			Ref:            s.newRef(),
			Type:           original.Type,
			Status:         StatusApproved,
			Date:           date,
			Method:         original.Method,
			AccountID:      original.AccountID,
			Amount:         original.Amount,
			Narration:      fmt.Sprintf("Reversal of %s", original.Number),
			PropertyID:     original.PropertyID,
			UnitID:         original.UnitID,
			PayeeType:      original.PayeeType,
			PayeeID:        original.PayeeID,
			DealID:         original.DealID,
			Attachments:    original.Attachments,
			AllowCashLines: true,
			PreparedBy:     reverserID,
			ReversalOfID:   &original.ID,
		}
		inserted, err := s.insertWithNumber(ctx, tx, mirror)
		if err != nil {
			return err
		}
		inserted.Lines, err = tx.ReplaceLines(ctx, inserted.ID, swapLines(originalLines))
		if err != nil {
			return err
		}
		entry, err := tx.InsertJournalEntry(ctx, date, inserted.Ref, inserted.Narration, reverserID)
		if err != nil {
			return err
		}
		if err := tx.InsertJournalLines(ctx, entry.ID, inserted.Lines); err != nil {
			return err
		}
		at := s.now()
		if err := tx.MarkPosted(ctx, inserted.ID, entry.ID, reverserID, at, date); err != nil {
			return err
		}
		if err := tx.MarkReversed(ctx, original.ID, inserted.ID); err != nil {
			return err
		}
		inserted.Status = StatusPosted
		inserted.JournalEntryID = &entry.ID
		inserted.PostedBy = &reverserID
		inserted.PostedAt = &at
		inserted.PostingDate = &date
		reversal = inserted
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.record(ctx, reverserID, "voucher.reverse", reversal, map[string]any{
		"reversal_of": id,
	})
	s.bump(ctx)
	return reversal, nil
}

func (s *Service) resolveAccounts(ctx context.Context, tx TxRepository, in CreateInput) (map[int64]coa.Account, coa.Account, error) {
	ids := lineAccountIDsFromInput(in.Lines)
	if in.AccountID > 0 {
		ids = append(ids, in.AccountID)
	}
	accounts, err := tx.GetAccountsByIDs(ctx, ids)
	if err != nil {
		return nil, coa.Account{}, err
	}
	var primary coa.Account
	if in.AccountID > 0 {
		primary = accounts[in.AccountID]
	}
	return accounts, primary, nil
}

// insertWithNumber retries number generation on the rare collision.
func (s *Service) insertWithNumber(ctx context.Context, tx TxRepository, v Voucher) (Voucher, error) {
	for attempt := 0; attempt < 3; attempt++ {
		v.Number = voucherNumber(v.Type, v.Date)
		inserted, err := tx.InsertVoucher(ctx, v)
		if err == nil {
			return inserted, nil
		}
		if !errors.Is(err, shared.ErrNumberConflict) {
			return Voucher{}, err
		}
	}
	return Voucher{}, shared.ErrNumberConflict
}

// checkSystemLines verifies the internal system-line invariant. A wrong
// count here is a bug, never a user error.
func checkSystemLines(v Voucher) error {
	count := v.SystemLineCount()
	if v.Type.RequiresSystemLine() && count != 1 {
		return shared.NewIntegrity(shared.CodeSystemLine, "%s voucher %s carries %d system lines, expected exactly 1", v.Type, v.Number, count)
	}
	if !v.Type.RequiresSystemLine() && count != 0 {
		return shared.NewIntegrity(shared.CodeSystemLine, "JV voucher %s carries %d system lines, expected none", v.Number, count)
	}
	return nil
}

func swapLines(lines []VoucherLine) []VoucherLine {
	out := make([]VoucherLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, VoucherLine{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Origin:      line.Origin,
			Description: line.Description,
			PropertyID:  line.PropertyID,
			UnitID:      line.UnitID,
		})
	}
	return out
}

func lineAccountIDs(lines []VoucherLine) []int64 {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if !seen[line.AccountID] {
			seen[line.AccountID] = true
			ids = append(ids, line.AccountID)
		}
	}
	return ids
}

func lineAccountIDsFromInput(lines []LineInput) []int64 {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if !seen[line.AccountID] {
			seen[line.AccountID] = true
			ids = append(ids, line.AccountID)
		}
	}
	return ids
}

func (s *Service) record(ctx context.Context, actorID int64, action string, v Voucher, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = v.Number
	meta["status"] = string(v.Status)
	_ = s.audit.Record(ctx, appshared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "voucher",
		EntityID: fmt.Sprintf("%d", v.ID),
		Meta:     meta,
		At:       s.now(),
	})
}

func (s *Service) bump(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Bump(ctx)
}
