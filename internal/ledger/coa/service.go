package coa

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Repo abstracts persistence for the account tree service.
type Repo interface {
	List(ctx context.Context) ([]Account, error)
	GetByID(ctx context.Context, id int64) (Account, error)
	GetByCode(ctx context.Context, code string) (Account, error)
	Insert(ctx context.Context, a Account) (Account, error)
	UpdateDetails(ctx context.Context, id int64, name, description string) error
	SetParent(ctx context.Context, id int64, parentID *int64) error
	Deactivate(ctx context.Context, id int64) error
	SumPostedLines(ctx context.Context, accountIDs []int64, until *time.Time) (map[int64]LineTotals, error)
}

// Service is the account tree: resolution, postability, and recursive
// balance aggregation over header/control accounts.
type Service struct {
	repo Repo
}

// NewService constructs the account tree service.
func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

// tree is a per-query arena over the chart. Children are derived here,
// never stored, so a stale index cannot survive a structural change.
type tree struct {
	byID     map[int64]Account
	children map[int64][]int64
}

func buildTree(accounts []Account) *tree {
	t := &tree{
		byID:     make(map[int64]Account, len(accounts)),
		children: make(map[int64][]int64, len(accounts)),
	}
	for _, a := range accounts {
		t.byID[a.ID] = a
	}
	for _, a := range accounts {
		if a.ParentID != nil {
			t.children[*a.ParentID] = append(t.children[*a.ParentID], a.ID)
		}
	}
	return t
}

// postableDescendants collects the postable leaves under id, including
// id itself when it is a posting account.
func (t *tree) postableDescendants(id int64) []int64 {
	var out []int64
	var walk func(int64)
	seen := make(map[int64]bool)
	walk = func(cur int64) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		acc, ok := t.byID[cur]
		if !ok {
			return
		}
		if acc.Postable {
			out = append(out, cur)
		}
		for _, child := range t.children[cur] {
			walk(child)
		}
	}
	walk(id)
	return out
}

// isAncestor walks parents from candidate looking for ancestorID.
func (t *tree) isAncestor(ancestorID, candidate int64) bool {
	cur := candidate
	for i := 0; i < len(t.byID)+1; i++ {
		acc, ok := t.byID[cur]
		if !ok || acc.ParentID == nil {
			return false
		}
		if *acc.ParentID == ancestorID {
			return true
		}
		cur = *acc.ParentID
	}
	return false
}

// Resolve fetches an account by its hierarchical code.
func (s *Service) Resolve(ctx context.Context, code string) (Account, error) {
	return s.repo.GetByCode(ctx, code)
}

// Get fetches an account by id.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns the full chart ordered by code.
func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

// IsPostable reports whether the account may receive journal lines.
func (s *Service) IsPostable(ctx context.Context, id int64) (bool, error) {
	acc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return acc.Postable && acc.IsActive, nil
}

// EnsurePostable returns a PostingBlocked violation for header, control,
// or deactivated accounts.
func EnsurePostable(acc Account) error {
	if !acc.IsActive {
		return shared.NewValidation(shared.CodePostingBlocked, "account %s (%s) is deactivated", acc.Code, acc.Name)
	}
	if !acc.Postable || acc.Kind != KindPosting || acc.Level != MaxLevel {
		return shared.NewValidation(shared.CodePostingBlocked, "account %s (%s) is aggregation-only; post to a level-%d posting account", acc.Code, acc.Name, MaxLevel)
	}
	return nil
}

// BalanceAsOf computes debit/credit totals and the signed balance.
// Posting accounts read their own journal lines; header/control accounts
// aggregate every postable descendant.
func (s *Service) BalanceAsOf(ctx context.Context, id int64, until *time.Time) (BalanceSummary, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return BalanceSummary{}, err
	}
	t := buildTree(accounts)
	acc, ok := t.byID[id]
	if !ok {
		return BalanceSummary{}, shared.ErrAccountNotFound
	}
	leaves := t.postableDescendants(id)
	totals, err := s.repo.SumPostedLines(ctx, leaves, until)
	if err != nil {
		return BalanceSummary{}, err
	}
	debit, credit := decimal.Zero, decimal.Zero
	for _, leaf := range leaves {
		if sum, ok := totals[leaf]; ok {
			debit = debit.Add(sum.Debit)
			credit = credit.Add(sum.Credit)
		}
	}
	return BalanceSummary{
		Debit:   debit,
		Credit:  credit,
		Balance: SignedBalance(acc.NormalBalance, debit, credit),
	}, nil
}

// CreateInput carries the fields needed to add a chart node.
type CreateInput struct {
	Code        string
	Name        string
	Description string
	Kind        Kind
	Category    Category
	ParentID    *int64
	Trust       bool
}

// Create validates placement rules and inserts the account. Level is
// derived from the parent, never supplied by the caller.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if in.Code == "" || in.Name == "" {
		return Account{}, shared.NewValidation(shared.CodeVoucherTypeRule, "account code and name are required")
	}
	var level int16 = 1
	category := in.Category
	if in.ParentID != nil {
		parent, err := s.repo.GetByID(ctx, *in.ParentID)
		if err != nil {
			return Account{}, err
		}
		if parent.Postable {
			return Account{}, shared.NewValidation(shared.CodePostingBlocked, "posting account %s cannot have children", parent.Code)
		}
		if !strings.HasPrefix(in.Code, parent.Code) {
			return Account{}, shared.NewValidation(shared.CodeVoucherTypeRule, "code %s must extend parent code %s", in.Code, parent.Code)
		}
		level = parent.Level + 1
		category = parent.Category
	}
	if level > MaxLevel {
		return Account{}, shared.NewValidation(shared.CodeVoucherTypeRule, "chart depth is capped at %d levels", MaxLevel)
	}
	if in.Kind == KindPosting && level != MaxLevel {
		return Account{}, shared.NewValidation(shared.CodeVoucherTypeRule, "posting accounts live at level %d, got %d", MaxLevel, level)
	}
	if in.Kind != KindPosting && level == MaxLevel {
		return Account{}, shared.NewValidation(shared.CodeVoucherTypeRule, "level-%d accounts must be posting accounts", MaxLevel)
	}
	account := Account{
		Code:          in.Code,
		Name:          in.Name,
		Description:   in.Description,
		Level:         level,
		Kind:          in.Kind,
		Category:      category,
		NormalBalance: category.DefaultNormalBalance(),
		Postable:      in.Kind == KindPosting && level == MaxLevel,
		Trust:         in.Trust,
		ParentID:      in.ParentID,
	}
	return s.repo.Insert(ctx, account)
}

// Move re-parents an account after an explicit ancestor-walk cycle check.
func (s *Service) Move(ctx context.Context, id int64, newParentID *int64) error {
	if newParentID != nil {
		if *newParentID == id {
			return shared.ErrAccountCycle
		}
		accounts, err := s.repo.List(ctx)
		if err != nil {
			return err
		}
		t := buildTree(accounts)
		if _, ok := t.byID[id]; !ok {
			return shared.ErrAccountNotFound
		}
		if _, ok := t.byID[*newParentID]; !ok {
			return shared.ErrAccountNotFound
		}
		if t.isAncestor(id, *newParentID) {
			return shared.ErrAccountCycle
		}
	}
	return s.repo.SetParent(ctx, id, newParentID)
}

// Rename updates name and description.
func (s *Service) Rename(ctx context.Context, id int64, name, description string) error {
	if name == "" {
		return shared.NewValidation(shared.CodeVoucherTypeRule, "account name is required")
	}
	return s.repo.UpdateDetails(ctx, id, name, description)
}

// Deactivate soft-disables the account; history stays intact.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.Deactivate(ctx, id)
}
