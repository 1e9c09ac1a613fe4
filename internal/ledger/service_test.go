package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/coa"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	appshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// memRepo is an in-memory RepositoryPort + TxRepository good enough to
// drive the full lifecycle without Postgres. It does not roll back, so
// tests only rely on it after successful transactions.
type memRepo struct {
	accounts      map[int64]coa.Account
	vouchers      map[int64]Voucher
	lines         map[int64][]VoucherLine
	entries       map[int64]JournalEntry
	entryLines    map[int64][]VoucherLine
	seededTotals  map[int64]coa.LineTotals
	sources       map[uuid.UUID]bool
	nextVoucherID int64
	nextEntryID   int64
	refExists     bool
	unitMatches   bool
}

func newMemRepo(accounts map[int64]coa.Account) *memRepo {
	return &memRepo{
		accounts:     accounts,
		vouchers:     map[int64]Voucher{},
		lines:        map[int64][]VoucherLine{},
		entries:      map[int64]JournalEntry{},
		entryLines:   map[int64][]VoucherLine{},
		seededTotals: map[int64]coa.LineTotals{},
		sources:      map[uuid.UUID]bool{},
		unitMatches:  true,
	}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memRepo) GetVoucher(_ context.Context, id int64) (Voucher, error) {
	v, ok := m.vouchers[id]
	if !ok {
		return Voucher{}, shared.ErrVoucherNotFound
	}
	v.Lines = m.lines[id]
	return v, nil
}

func (m *memRepo) ListVouchers(_ context.Context, filter ListFilter) ([]Voucher, error) {
	out := []Voucher{}
	for _, v := range m.vouchers {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.Type != "" && v.Type != filter.Type {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *memRepo) GetJournalEntry(_ context.Context, id int64) (JournalEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return JournalEntry{}, shared.ErrJournalNotFound
	}
	return e, nil
}

func (m *memRepo) GetAccountsByIDs(_ context.Context, ids []int64) (map[int64]coa.Account, error) {
	out := make(map[int64]coa.Account, len(ids))
	for _, id := range ids {
		if acc, ok := m.accounts[id]; ok {
			out[id] = acc
		}
	}
	return out, nil
}

func (m *memRepo) InsertVoucher(_ context.Context, v Voucher) (Voucher, error) {
	for _, existing := range m.vouchers {
		if existing.Number == v.Number {
			return Voucher{}, shared.ErrNumberConflict
		}
	}
	m.nextVoucherID++
	v.ID = m.nextVoucherID
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	m.vouchers[v.ID] = v
	return v, nil
}

func (m *memRepo) ReplaceLines(_ context.Context, voucherID int64, lines []VoucherLine) ([]VoucherLine, error) {
	stored := make([]VoucherLine, 0, len(lines))
	for i, line := range lines {
		line.ID = voucherID*100 + int64(i)
		line.VoucherID = voucherID
		stored = append(stored, line)
	}
	m.lines[voucherID] = stored
	return stored, nil
}

func (m *memRepo) GetVoucherForUpdate(_ context.Context, id int64) (Voucher, error) {
	v, ok := m.vouchers[id]
	if !ok {
		return Voucher{}, shared.ErrVoucherNotFound
	}
	return v, nil
}

func (m *memRepo) GetLines(_ context.Context, voucherID int64) ([]VoucherLine, error) {
	return m.lines[voucherID], nil
}

func (m *memRepo) UpdateVoucherDraft(_ context.Context, v Voucher) error {
	if _, ok := m.vouchers[v.ID]; !ok {
		return shared.ErrVoucherNotFound
	}
	m.vouchers[v.ID] = v
	return nil
}

func (m *memRepo) AdvanceStatus(_ context.Context, id int64, from, to VoucherStatus, actorID int64, at time.Time) error {
	v, ok := m.vouchers[id]
	if !ok || v.Status != from {
		return shared.ErrVoucherNotFound
	}
	v.Status = to
	switch to {
	case StatusSubmitted:
		v.SubmittedBy = &actorID
		v.SubmittedAt = &at
	case StatusApproved:
		v.ApprovedBy = &actorID
		v.ApprovedAt = &at
	}
	m.vouchers[id] = v
	return nil
}

func (m *memRepo) MarkPosted(_ context.Context, id, entryID, actorID int64, at, postingDate time.Time) error {
	v, ok := m.vouchers[id]
	if !ok {
		return shared.ErrVoucherNotFound
	}
	v.Status = StatusPosted
	v.JournalEntryID = &entryID
	v.PostedBy = &actorID
	v.PostedAt = &at
	v.PostingDate = &postingDate
	m.vouchers[id] = v
	return nil
}

func (m *memRepo) MarkReversed(_ context.Context, id, reversalID int64) error {
	v, ok := m.vouchers[id]
	if !ok {
		return shared.ErrVoucherNotFound
	}
	v.Status = StatusReversed
	v.ReversedByID = &reversalID
	m.vouchers[id] = v
	return nil
}

func (m *memRepo) InsertJournalEntry(_ context.Context, date time.Time, sourceRef uuid.UUID, memo string, postedBy int64) (JournalEntry, error) {
	if m.sources[sourceRef] {
		return JournalEntry{}, shared.ErrSourceConflict
	}
	m.sources[sourceRef] = true
	m.nextEntryID++
	entry := JournalEntry{
		ID:        m.nextEntryID,
		Number:    m.nextEntryID,
		Date:      date,
		SourceRef: sourceRef,
		Memo:      memo,
		PostedBy:  postedBy,
		PostedAt:  time.Now(),
	}
	m.entries[entry.ID] = entry
	return entry, nil
}

func (m *memRepo) InsertJournalLines(_ context.Context, entryID int64, lines []VoucherLine) error {
	m.entryLines[entryID] = lines
	return nil
}

func (m *memRepo) AccountPostedTotals(_ context.Context, accountID int64, _ *time.Time) (coa.LineTotals, error) {
	totals := m.seededTotals[accountID]
	for _, lines := range m.entryLines {
		for _, line := range lines {
			if line.AccountID != accountID {
				continue
			}
			totals.Debit = totals.Debit.Add(line.Debit)
			totals.Credit = totals.Credit.Add(line.Credit)
		}
	}
	return totals, nil
}

func (m *memRepo) CashPaidOnDay(_ context.Context, _ int64, _ time.Time, _ int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *memRepo) ReferenceExists(_ context.Context, _ VoucherType, _ PaymentMethod, _ string, _ int64) (bool, error) {
	return m.refExists, nil
}

func (m *memRepo) UnitBelongsToProperty(_ context.Context, _, _ int64) (bool, error) {
	return m.unitMatches, nil
}

type recordingAudit struct {
	actions []string
}

func (r *recordingAudit) Record(_ context.Context, log appshared.AuditLog) error {
	r.actions = append(r.actions, log.Action)
	return nil
}

type countingBumper struct {
	bumps int
}

func (c *countingBumper) Bump(_ context.Context) error {
	c.bumps++
	return nil
}

func newLifecycleService(repo *memRepo) (*Service, *recordingAudit, *countingBumper) {
	guard := NewGuard(money(500000), 365*24*time.Hour)
	audit := &recordingAudit{}
	bumper := &countingBumper{}
	svc := NewService(repo, guard, audit, bumper)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) })
	return svc, audit, bumper
}

func draftBPV(t *testing.T, svc *Service) Voucher {
	t.Helper()
	propertyID := int64(11)
	created, err := svc.Create(context.Background(), CreateInput{
		Type:        TypeBPV,
		Date:        time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Method:      MethodTransfer,
		AccountID:   2,
		Reference:   "TRX-7781",
		PropertyID:  &propertyID,
		Attachments: []string{"invoice-7781.pdf"},
		PreparedBy:  101,
		Lines: []LineInput{
			{AccountID: 9, Debit: money(4200), Description: "Maintenance contractor"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return created
}

func TestLifecycleCreateToPost(t *testing.T) {
	repo := newMemRepo(fixtureAccounts())
	repo.seededTotals[2] = coa.LineTotals{Debit: money(10000)}
	svc, audit, bumper := newLifecycleService(repo)
	ctx := context.Background()

	created := draftBPV(t, svc)
	if created.Status != StatusDraft {
		t.Fatalf("expected DRAFT, got %s", created.Status)
	}
	if created.SystemLineCount() != 1 {
		t.Fatalf("expected exactly one system line, got %d", created.SystemLineCount())
	}
	if !created.Amount.Equal(money(4200)) {
		t.Fatalf("expected amount 4200, got %s", created.Amount)
	}

	if _, err := svc.Submit(ctx, created.ID, 102); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Approve(ctx, created.ID, 103); err != nil {
		t.Fatalf("approve: %v", err)
	}
	posted, err := svc.Post(ctx, created.ID, 104, nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted.Status != StatusPosted || posted.JournalEntryID == nil {
		t.Fatalf("expected posted voucher with journal link, got %+v", posted)
	}

	entryLines := repo.entryLines[*posted.JournalEntryID]
	if len(entryLines) != 2 {
		t.Fatalf("expected 2 journal lines, got %d", len(entryLines))
	}
	debit, credit := money(0), money(0)
	for _, line := range entryLines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		t.Fatalf("journal entry is unbalanced: %s vs %s", debit, credit)
	}
	if bumper.bumps != 1 {
		t.Fatalf("expected one cache bump after posting, got %d", bumper.bumps)
	}
	want := []string{"voucher.create", "voucher.submit", "voucher.approve", "voucher.post"}
	if len(audit.actions) != len(want) {
		t.Fatalf("expected %d audit records, got %v", len(want), audit.actions)
	}
	for i, action := range want {
		if audit.actions[i] != action {
			t.Fatalf("audit action %d: expected %s, got %s", i, action, audit.actions[i])
		}
	}
}

func TestPostTwiceIsSafetyViolation(t *testing.T) {
	repo := newMemRepo(fixtureAccounts())
	repo.seededTotals[2] = coa.LineTotals{Debit: money(10000)}
	svc, _, _ := newLifecycleService(repo)
	ctx := context.Background()

	created := draftBPV(t, svc)
	if _, err := svc.Submit(ctx, created.ID, 102); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Approve(ctx, created.ID, 103); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.Post(ctx, created.ID, 104, nil); err != nil {
		t.Fatalf("first post: %v", err)
	}
	_, err := svc.Post(ctx, created.ID, 104, nil)
	expectSafetyCode(t, err, shared.CodeAlreadyPosted)
}

func TestSubmitRequiresAttachment(t *testing.T) {
	repo := newMemRepo(fixtureAccounts())
	svc, _, _ := newLifecycleService(repo)
	ctx := context.Background()

	propertyID := int64(11)
	created, err := svc.Create(ctx, CreateInput{
		Type:       TypeCPV,
		Date:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Method:     MethodCash,
		AccountID:  1,
		PropertyID: &propertyID,
		PreparedBy: 101,
		Lines: []LineInput{
			{AccountID: 9, Debit: money(150)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.Submit(ctx, created.ID, 102)
	if code := violationCode(t, err); code != shared.CodeAttachmentRequired {
		t.Fatalf("expected %s, got %s", shared.CodeAttachmentRequired, code)
	}
}

func TestUpdateRejectsNonDraft(t *testing.T) {
	repo := newMemRepo(fixtureAccounts())
	svc, _, _ := newLifecycleService(repo)
	ctx := context.Background()

	created := draftBPV(t, svc)
	if _, err := svc.Submit(ctx, created.ID, 102); err != nil {
		t.Fatalf("submit: %v", err)
	}
	propertyID := int64(11)
	_, err := svc.Update(ctx, created.ID, CreateInput{
		Type:        TypeBPV,
		Date:        time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		Method:      MethodTransfer,
		AccountID:   2,
		Reference:   "TRX-7782",
		PropertyID:  &propertyID,
		Attachments: []string{"invoice.pdf"},
		PreparedBy:  101,
		Lines:       []LineInput{{AccountID: 9, Debit: money(100)}},
	})
	if kind := shared.KindOf(err); kind != shared.KindStateTransition {
		t.Fatalf("expected state transition error, got %v", err)
	}
}

func TestReverseSwapsLinesAndLocksOriginal(t *testing.T) {
	repo := newMemRepo(fixtureAccounts())
	repo.seededTotals[2] = coa.LineTotals{Debit: money(10000)}
	svc, _, bumper := newLifecycleService(repo)
	ctx := context.Background()

	created := draftBPV(t, svc)
	if _, err := svc.Submit(ctx, created.ID, 102); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Approve(ctx, created.ID, 103); err != nil {
		t.Fatalf("approve: %v", err)
	}
	posted, err := svc.Post(ctx, created.ID, 104, nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	reversal, err := svc.Reverse(ctx, posted.ID, 105, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversal.Status != StatusPosted {
		t.Fatalf("reversal must post immediately, got %s", reversal.Status)
	}
	if reversal.ReversalOfID == nil || *reversal.ReversalOfID != posted.ID {
		t.Fatalf("reversal must link back to the original, got %+v", reversal.ReversalOfID)
	}

	original, err := svc.Get(ctx, posted.ID)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if original.Status != StatusReversed {
		t.Fatalf("expected original REVERSED, got %s", original.Status)
	}
	if original.ReversedByID == nil || *original.ReversedByID != reversal.ID {
		t.Fatalf("original must link to the reversal, got %+v", original.ReversedByID)
	}

	originalLines := repo.lines[posted.ID]
	reversalLines := repo.lines[reversal.ID]
	if len(originalLines) != len(reversalLines) {
		t.Fatalf("line counts differ: %d vs %d", len(originalLines), len(reversalLines))
	}
	for i := range originalLines {
		if !originalLines[i].Debit.Equal(reversalLines[i].Credit) || !originalLines[i].Credit.Equal(reversalLines[i].Debit) {
			t.Fatalf("line %d not mirrored: %+v vs %+v", i, originalLines[i], reversalLines[i])
		}
	}
	if bumper.bumps != 2 {
		t.Fatalf("expected cache bumps for post and reverse, got %d", bumper.bumps)
	}

	_, err = svc.Reverse(ctx, posted.ID, 105, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))
	if kind := shared.KindOf(err); kind != shared.KindStateTransition {
		t.Fatalf("expected transition error on double reverse, got %v", err)
	}
}
