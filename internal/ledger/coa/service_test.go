package coa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

type stubRepo struct {
	accounts []Account
	totals   map[int64]LineTotals
	inserted *Account
	parentOf map[int64]*int64
}

func (s *stubRepo) List(_ context.Context) ([]Account, error) { return s.accounts, nil }

func (s *stubRepo) GetByID(_ context.Context, id int64) (Account, error) {
	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return Account{}, shared.ErrAccountNotFound
}

func (s *stubRepo) GetByCode(_ context.Context, code string) (Account, error) {
	for _, a := range s.accounts {
		if a.Code == code {
			return a, nil
		}
	}
	return Account{}, shared.ErrAccountNotFound
}

func (s *stubRepo) Insert(_ context.Context, a Account) (Account, error) {
	a.ID = int64(len(s.accounts) + 1)
	s.inserted = &a
	return a, nil
}

func (s *stubRepo) UpdateDetails(_ context.Context, _ int64, _, _ string) error { return nil }

func (s *stubRepo) SetParent(_ context.Context, id int64, parentID *int64) error {
	if s.parentOf == nil {
		s.parentOf = map[int64]*int64{}
	}
	s.parentOf[id] = parentID
	return nil
}

func (s *stubRepo) Deactivate(_ context.Context, _ int64) error { return nil }

func (s *stubRepo) SumPostedLines(_ context.Context, accountIDs []int64, _ *time.Time) (map[int64]LineTotals, error) {
	out := map[int64]LineTotals{}
	for _, id := range accountIDs {
		if t, ok := s.totals[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func ptr(v int64) *int64 { return &v }

// chartFixture builds a small asset branch:
//
//	1 Assets (L1)
//	└── 11 Current (L2)
//	    └── 111 Liquid (L3)
//	        └── 1111 Cash (L4)
//	            ├── 11111 Main cash (L5, posting)
//	            └── 11112 Site cash (L5, posting)
func chartFixture() []Account {
	return []Account{
		{ID: 1, Code: "1", Name: "Assets", Level: 1, Kind: KindHeader, Category: CategoryAsset, NormalBalance: NormalDebit, IsActive: true},
		{ID: 2, Code: "11", Name: "Current Assets", Level: 2, Kind: KindHeader, Category: CategoryAsset, NormalBalance: NormalDebit, ParentID: ptr(1), IsActive: true},
		{ID: 3, Code: "111", Name: "Liquid Assets", Level: 3, Kind: KindControl, Category: CategoryAsset, NormalBalance: NormalDebit, ParentID: ptr(2), IsActive: true},
		{ID: 4, Code: "1111", Name: "Cash", Level: 4, Kind: KindControl, Category: CategoryAsset, NormalBalance: NormalDebit, ParentID: ptr(3), IsActive: true},
		{ID: 5, Code: "11111", Name: "Main Cash", Level: 5, Kind: KindPosting, Category: CategoryAsset, NormalBalance: NormalDebit, Postable: true, ParentID: ptr(4), IsActive: true},
		{ID: 6, Code: "11112", Name: "Site Cash", Level: 5, Kind: KindPosting, Category: CategoryAsset, NormalBalance: NormalDebit, Postable: true, ParentID: ptr(4), IsActive: true},
	}
}

func TestBalanceAsOfAggregatesDescendants(t *testing.T) {
	repo := &stubRepo{
		accounts: chartFixture(),
		totals: map[int64]LineTotals{
			5: {Debit: decimal.NewFromInt(900), Credit: decimal.NewFromInt(200)},
			6: {Debit: decimal.NewFromInt(300), Credit: decimal.NewFromInt(100)},
		},
	}
	svc := NewService(repo)

	summary, err := svc.BalanceAsOf(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Debit.Equal(decimal.NewFromInt(1200)) || !summary.Credit.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected 1200/300 aggregate, got %s/%s", summary.Debit, summary.Credit)
	}
	if !summary.Balance.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected signed balance 900, got %s", summary.Balance)
	}
}

func TestBalanceAsOfLeafReadsOwnLines(t *testing.T) {
	repo := &stubRepo{
		accounts: chartFixture(),
		totals: map[int64]LineTotals{
			5: {Debit: decimal.NewFromInt(900), Credit: decimal.NewFromInt(200)},
			6: {Debit: decimal.NewFromInt(300), Credit: decimal.NewFromInt(100)},
		},
	}
	svc := NewService(repo)

	summary, err := svc.BalanceAsOf(context.Background(), 6, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Balance.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected 200, got %s", summary.Balance)
	}
}

func TestBalanceAsOfUnknownAccount(t *testing.T) {
	svc := NewService(&stubRepo{accounts: chartFixture()})
	_, err := svc.BalanceAsOf(context.Background(), 999, nil)
	if !errors.Is(err, shared.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestCreateDerivesLevelAndCategory(t *testing.T) {
	repo := &stubRepo{accounts: chartFixture()}
	svc := NewService(repo)

	created, err := svc.Create(context.Background(), CreateInput{
		Code:     "11113",
		Name:     "Petty Cash",
		Kind:     KindPosting,
		Category: CategoryExpense, // ignored: category follows the parent
		ParentID: ptr(4),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Level != 5 || created.Category != CategoryAsset || !created.Postable {
		t.Fatalf("expected level-5 postable asset, got %+v", created)
	}
	if created.NormalBalance != NormalDebit {
		t.Fatalf("expected debit normal balance, got %s", created.NormalBalance)
	}
}

func TestCreateRejectsPostingAboveMaxLevel(t *testing.T) {
	svc := NewService(&stubRepo{accounts: chartFixture()})
	_, err := svc.Create(context.Background(), CreateInput{
		Code:     "1112",
		Name:     "Bank",
		Kind:     KindPosting,
		ParentID: ptr(3),
	})
	var v *shared.Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected violation, got %v", err)
	}
}

func TestCreateRejectsChildOfPostingAccount(t *testing.T) {
	svc := NewService(&stubRepo{accounts: chartFixture()})
	_, err := svc.Create(context.Background(), CreateInput{
		Code:     "111111",
		Name:     "Sub Cash",
		Kind:     KindPosting,
		ParentID: ptr(5),
	})
	var v *shared.Violation
	if !errors.As(err, &v) || v.Code != shared.CodePostingBlocked {
		t.Fatalf("expected %s, got %v", shared.CodePostingBlocked, err)
	}
}

func TestCreateRejectsCodeOutsideParentPrefix(t *testing.T) {
	svc := NewService(&stubRepo{accounts: chartFixture()})
	_, err := svc.Create(context.Background(), CreateInput{
		Code:     "21111",
		Name:     "Stray",
		Kind:     KindPosting,
		ParentID: ptr(4),
	})
	var v *shared.Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected violation, got %v", err)
	}
}

func TestMoveDetectsCycle(t *testing.T) {
	svc := NewService(&stubRepo{accounts: chartFixture()})
	// Re-parenting Current Assets under its own descendant Cash.
	err := svc.Move(context.Background(), 2, ptr(4))
	if !errors.Is(err, shared.ErrAccountCycle) {
		t.Fatalf("expected ErrAccountCycle, got %v", err)
	}
}

func TestMoveRejectsSelfParent(t *testing.T) {
	svc := NewService(&stubRepo{accounts: chartFixture()})
	err := svc.Move(context.Background(), 3, ptr(3))
	if !errors.Is(err, shared.ErrAccountCycle) {
		t.Fatalf("expected ErrAccountCycle, got %v", err)
	}
}

func TestMoveAllowsValidReparent(t *testing.T) {
	repo := &stubRepo{accounts: chartFixture()}
	svc := NewService(repo)
	if err := svc.Move(context.Background(), 6, ptr(4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parent, ok := repo.parentOf[6]; !ok || parent == nil || *parent != 4 {
		t.Fatalf("expected parent 4 persisted, got %v", repo.parentOf[6])
	}
}

func TestEnsurePostable(t *testing.T) {
	chart := chartFixture()
	if err := EnsurePostable(chart[4]); err != nil {
		t.Fatalf("level-5 posting account must be postable, got %v", err)
	}
	if err := EnsurePostable(chart[0]); err == nil {
		t.Fatal("header account must not be postable")
	}
	inactive := chart[4]
	inactive.IsActive = false
	if err := EnsurePostable(inactive); err == nil {
		t.Fatal("deactivated account must not be postable")
	}
}
