package operations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	appshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

type stubOpRepo struct {
	mu     sync.Mutex
	ops    map[int64]Operation
	nextID int64
}

func newStubOpRepo() *stubOpRepo {
	return &stubOpRepo{ops: map[int64]Operation{}}
}

func (s *stubOpRepo) Insert(_ context.Context, op Operation) (Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	op.ID = s.nextID
	op.CreatedAt = time.Now()
	op.UpdatedAt = op.CreatedAt
	s.ops[op.ID] = op
	return op, nil
}

func (s *stubOpRepo) Get(_ context.Context, id int64) (Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return Operation{}, shared.ErrOperationNotFound
	}
	return op, nil
}

func (s *stubOpRepo) List(_ context.Context, _ ListFilter) ([]Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Operation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op)
	}
	return out, nil
}

func (s *stubOpRepo) Approve(_ context.Context, id, actorID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok || op.Status != StatusRequested {
		return shared.ErrOperationNotFound
	}
	op.Status = StatusApproved
	op.ApprovedBy = &actorID
	op.ApprovedAt = &at
	s.ops[id] = op
	return nil
}

func (s *stubOpRepo) Reject(_ context.Context, id, actorID int64, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok || op.Status != StatusRequested {
		return shared.ErrOperationNotFound
	}
	op.Status = StatusRejected
	op.RejectedBy = &actorID
	op.RejectedAt = &at
	op.RejectReason = reason
	s.ops[id] = op
	return nil
}

func (s *stubOpRepo) BeginPost(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok || op.Status != StatusApproved {
		return shared.ErrOperationNotFound
	}
	op.Status = StatusPosting
	s.ops[id] = op
	return nil
}

func (s *stubOpRepo) ReleasePost(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok || op.Status != StatusPosting {
		return shared.ErrOperationNotFound
	}
	op.Status = StatusApproved
	s.ops[id] = op
	return nil
}

func (s *stubOpRepo) MarkPosted(_ context.Context, id, actorID, voucherID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok || op.Status != StatusPosting || op.VoucherID != nil {
		return shared.ErrOperationNotFound
	}
	op.Status = StatusPosted
	op.PostedBy = &actorID
	op.PostedAt = &at
	op.VoucherID = &voucherID
	s.ops[id] = op
	return nil
}

// stubVouchers walks the lifecycle in memory and records each step.
type stubVouchers struct {
	vouchers map[int64]ledger.Voucher
	nextID   int64
	steps    []string
	postErr  error
}

func newStubVouchers() *stubVouchers {
	return &stubVouchers{vouchers: map[int64]ledger.Voucher{}}
}

func (s *stubVouchers) Get(_ context.Context, id int64) (ledger.Voucher, error) {
	v, ok := s.vouchers[id]
	if !ok {
		return ledger.Voucher{}, shared.ErrVoucherNotFound
	}
	return v, nil
}

func (s *stubVouchers) Create(_ context.Context, in ledger.CreateInput) (ledger.Voucher, error) {
	s.nextID++
	v := ledger.Voucher{
		ID:             s.nextID,
		Type:           in.Type,
		Status:         ledger.StatusDraft,
		Date:           in.Date,
		Method:         in.Method,
		Reference:      in.Reference,
		Narration:      in.Narration,
		AllowCashLines: in.AllowCashLines,
		Amount:         in.Lines[0].Debit,
	}
	s.vouchers[v.ID] = v
	s.steps = append(s.steps, "create")
	return v, nil
}

func (s *stubVouchers) Submit(_ context.Context, id, _ int64) (ledger.Voucher, error) {
	v := s.vouchers[id]
	v.Status = ledger.StatusSubmitted
	s.vouchers[id] = v
	s.steps = append(s.steps, "submit")
	return v, nil
}

func (s *stubVouchers) Approve(_ context.Context, id, _ int64) (ledger.Voucher, error) {
	v := s.vouchers[id]
	v.Status = ledger.StatusApproved
	s.vouchers[id] = v
	s.steps = append(s.steps, "approve")
	return v, nil
}

func (s *stubVouchers) Post(_ context.Context, id, _ int64, _ *time.Time) (ledger.Voucher, error) {
	if s.postErr != nil {
		return ledger.Voucher{}, s.postErr
	}
	v := s.vouchers[id]
	v.Status = ledger.StatusPosted
	s.vouchers[id] = v
	s.steps = append(s.steps, "post")
	return v, nil
}

type stubIdem struct {
	keys     map[string]bool
	conflict bool
	deleted  []string
}

func (s *stubIdem) CheckAndInsert(_ context.Context, key, _ string) error {
	if s.conflict {
		return appshared.ErrIdempotencyConflict
	}
	if s.keys == nil {
		s.keys = map[string]bool{}
	}
	s.keys[key] = true
	return nil
}

func (s *stubIdem) Delete(_ context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return nil
}

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func validRequest() RequestInput {
	return RequestInput{
		Type:            TypeTransfer,
		Amount:          money(2500),
		DebitAccountID:  11,
		CreditAccountID: 12,
		Reason:          "move security deposit to escrow",
		RequestedBy:     301,
		IdempotencyKey:  "op-abc-1",
	}
}

func newOpsService(repo *stubOpRepo, vouchers *stubVouchers, idem *stubIdem) *Service {
	svc := NewService(repo, vouchers, idem, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) })
	return svc
}

func TestRequestCreatesRequestedOperation(t *testing.T) {
	repo := newStubOpRepo()
	svc := newOpsService(repo, newStubVouchers(), &stubIdem{})

	op, err := svc.Request(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if op.Status != StatusRequested {
		t.Fatalf("expected REQUESTED, got %s", op.Status)
	}
	if op.ID == 0 || op.Ref == uuid.Nil {
		t.Fatalf("expected persisted operation with reference, got %+v", op)
	}
}

func TestRequestValidation(t *testing.T) {
	svc := newOpsService(newStubOpRepo(), newStubVouchers(), &stubIdem{})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*RequestInput)
	}{
		{"unknown type", func(in *RequestInput) { in.Type = "PAYOUT" }},
		{"zero amount", func(in *RequestInput) { in.Amount = decimal.Zero }},
		{"negative amount", func(in *RequestInput) { in.Amount = money(-5) }},
		{"same accounts", func(in *RequestInput) { in.CreditAccountID = in.DebitAccountID }},
		{"missing reason", func(in *RequestInput) { in.Reason = "" }},
		{"missing requester", func(in *RequestInput) { in.RequestedBy = 0 }},
		{"refund without source", func(in *RequestInput) { in.Type = TypeRefund; in.SourceVoucherID = nil }},
	}
	for _, tc := range cases {
		in := validRequest()
		tc.mutate(&in)
		if _, err := svc.Request(ctx, in); shared.KindOf(err) != shared.KindValidation {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestRequestRefundRequiresPostedSource(t *testing.T) {
	vouchers := newStubVouchers()
	vouchers.vouchers[77] = ledger.Voucher{ID: 77, Number: "BRV-20260301-AB12CD", Status: ledger.StatusApproved}
	svc := newOpsService(newStubOpRepo(), vouchers, &stubIdem{})

	in := validRequest()
	in.Type = TypeRefund
	source := int64(77)
	in.SourceVoucherID = &source
	_, err := svc.Request(context.Background(), in)
	if shared.KindOf(err) != shared.KindValidation {
		t.Fatalf("expected validation error for unposted source, got %v", err)
	}
}

func TestRequestDuplicateIdempotencyKey(t *testing.T) {
	svc := newOpsService(newStubOpRepo(), newStubVouchers(), &stubIdem{conflict: true})

	_, err := svc.Request(context.Background(), validRequest())
	if shared.KindOf(err) != shared.KindSafety {
		t.Fatalf("expected safety violation on duplicate key, got %v", err)
	}
}

func TestApproveThenPostMintsVoucher(t *testing.T) {
	repo := newStubOpRepo()
	vouchers := newStubVouchers()
	svc := newOpsService(repo, vouchers, &stubIdem{})
	ctx := context.Background()

	op, err := svc.Request(ctx, validRequest())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Approve(ctx, op.ID, 302); err != nil {
		t.Fatalf("approve: %v", err)
	}
	posted, err := svc.Post(ctx, op.ID, 303)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted.Status != StatusPosted || posted.VoucherID == nil {
		t.Fatalf("expected POSTED with voucher link, got %+v", posted)
	}

	want := []string{"create", "submit", "approve", "post"}
	if len(vouchers.steps) != len(want) {
		t.Fatalf("expected lifecycle %v, got %v", want, vouchers.steps)
	}
	for i := range want {
		if vouchers.steps[i] != want[i] {
			t.Fatalf("lifecycle step %d: expected %s, got %s", i, want[i], vouchers.steps[i])
		}
	}
	minted := vouchers.vouchers[*posted.VoucherID]
	if minted.Type != ledger.TypeJV || !minted.AllowCashLines {
		t.Fatalf("operations must post as cash-elevated journal vouchers, got %+v", minted)
	}
	if minted.Reference != posted.Ref.String() {
		t.Fatalf("voucher reference must carry the operation ref, got %q", minted.Reference)
	}
}

func TestPostRequiresApprovedStatus(t *testing.T) {
	repo := newStubOpRepo()
	svc := newOpsService(repo, newStubVouchers(), &stubIdem{})
	ctx := context.Background()

	op, err := svc.Request(ctx, validRequest())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_, err = svc.Post(ctx, op.ID, 303)
	if shared.KindOf(err) != shared.KindStateTransition {
		t.Fatalf("expected transition error, got %v", err)
	}
}

func TestPostLeavesOperationApprovedOnGuardFailure(t *testing.T) {
	repo := newStubOpRepo()
	vouchers := newStubVouchers()
	vouchers.postErr = shared.NewSafety(shared.CodeInsufficientFunds, "account would go negative")
	svc := newOpsService(repo, vouchers, &stubIdem{})
	ctx := context.Background()

	op, err := svc.Request(ctx, validRequest())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Approve(ctx, op.ID, 302); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.Post(ctx, op.ID, 303); shared.KindOf(err) != shared.KindSafety {
		t.Fatalf("expected safety violation, got %v", err)
	}

	current, err := svc.Get(ctx, op.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Status != StatusApproved {
		t.Fatalf("a failed post must leave the operation APPROVED for retry, got %s", current.Status)
	}
}

// gatedOpRepo holds Get until both posters have read, so each observes
// the same APPROVED snapshot before either advances.
type gatedOpRepo struct {
	*stubOpRepo
	gate sync.WaitGroup
}

func (g *gatedOpRepo) Get(ctx context.Context, id int64) (Operation, error) {
	op, err := g.stubOpRepo.Get(ctx, id)
	g.gate.Done()
	g.gate.Wait()
	return op, err
}

func TestConcurrentPostsMintASingleVoucher(t *testing.T) {
	repo := newStubOpRepo()
	gated := &gatedOpRepo{stubOpRepo: repo}
	gated.gate.Add(2)
	vouchers := newStubVouchers()
	svc := NewService(gated, vouchers, &stubIdem{}, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) })
	ctx := context.Background()

	in := validRequest()
	seeded, err := repo.Insert(ctx, Operation{
		Ref:             uuid.New(),
		Type:            in.Type,
		Status:          StatusApproved,
		Amount:          in.Amount,
		DebitAccountID:  in.DebitAccountID,
		CreditAccountID: in.CreditAccountID,
		Reason:          in.Reason,
		RequestedBy:     in.RequestedBy,
		RequestedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.Post(ctx, seeded.ID, 303)
			errs <- err
		}()
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			wins++
			continue
		}
		if shared.KindOf(err) != shared.KindStateTransition {
			t.Fatalf("losing post must fail with a transition error, got %v", err)
		}
		losses++
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one post to win, got %d wins and %d losses", wins, losses)
	}
	if len(vouchers.vouchers) != 1 {
		t.Fatalf("expected a single minted voucher, got %d", len(vouchers.vouchers))
	}
	final, err := repo.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusPosted || final.VoucherID == nil {
		t.Fatalf("expected POSTED with voucher link, got %+v", final)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	repo := newStubOpRepo()
	svc := newOpsService(repo, newStubVouchers(), &stubIdem{})
	ctx := context.Background()

	op, err := svc.Request(ctx, validRequest())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	rejected, err := svc.Reject(ctx, op.ID, 302, "duplicate of operation 12")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected || rejected.RejectReason == "" {
		t.Fatalf("expected REJECTED with reason, got %+v", rejected)
	}
	if _, err := svc.Approve(ctx, op.ID, 302); shared.KindOf(err) != shared.KindStateTransition {
		t.Fatalf("expected transition error after rejection, got %v", err)
	}
}
