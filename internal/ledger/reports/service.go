package reports

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/ledger/coa"
)

// RepositoryPort is the query surface the report service needs.
type RepositoryPort interface {
	AccountActivity(ctx context.Context, from, until *time.Time) ([]AccountActivity, error)
	OpenItems(ctx context.Context, codePrefix string, asOf time.Time, debitSide bool) ([]OpenItem, error)
}

// Service coordinates report query execution with the cache layer. A
// singleflight group collapses concurrent rebuilds of the same report.
type Service struct {
	repo  RepositoryPort
	cache *Cache
	sf    singleflight.Group
	now   func() time.Time
}

// NewService wires a RepositoryPort with a Cache helper.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache, now: time.Now}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) defaultAsOf(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return s.now().UTC().Truncate(24 * time.Hour)
	}
	return asOf
}

func (s *Service) cached(ctx context.Context, keyBase string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	key, err := s.cache.BuildKey(ctx, keyBase)
	if err != nil {
		return err
	}
	_, err, _ = s.sf.Do(key, func() (interface{}, error) {
		return nil, s.cache.FetchJSON(ctx, key, dest, loader)
	})
	return err
}

// TrialBalance builds the grouped trial balance as of the given date.
func (s *Service) TrialBalance(ctx context.Context, asOf time.Time) (TrialBalance, error) {
	asOf = s.defaultAsOf(asOf)
	var tb TrialBalance
	err := s.cached(ctx, keyReport("tb", asOf.Format("2006-01-02")), &tb, func(ctx context.Context) (interface{}, error) {
		activity, err := s.repo.AccountActivity(ctx, nil, &asOf)
		if err != nil {
			return nil, err
		}
		return BuildTrialBalance(activity), nil
	})
	return tb, err
}

// BalanceSheet builds the classified balance sheet as of the given date.
func (s *Service) BalanceSheet(ctx context.Context, asOf time.Time) (BalanceSheet, error) {
	asOf = s.defaultAsOf(asOf)
	var bs BalanceSheet
	err := s.cached(ctx, keyReport("bs", asOf.Format("2006-01-02")), &bs, func(ctx context.Context) (interface{}, error) {
		activity, err := s.repo.AccountActivity(ctx, nil, &asOf)
		if err != nil {
			return nil, err
		}
		return BuildBalanceSheet(activity), nil
	})
	return bs, err
}

// ProfitAndLoss builds the income statement over [from, to].
func (s *Service) ProfitAndLoss(ctx context.Context, from, to time.Time) (ProfitAndLoss, error) {
	to = s.defaultAsOf(to)
	if from.IsZero() {
		from = time.Date(to.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	var pl ProfitAndLoss
	err := s.cached(ctx, keyReport("pl", from.Format("2006-01-02"), to.Format("2006-01-02")), &pl, func(ctx context.Context) (interface{}, error) {
		activity, err := s.repo.AccountActivity(ctx, &from, &to)
		if err != nil {
			return nil, err
		}
		return BuildProfitAndLoss(activity), nil
	})
	return pl, err
}

// Escrow builds the trust reconciliation report as of the given date.
func (s *Service) Escrow(ctx context.Context, asOf time.Time) (EscrowReport, error) {
	asOf = s.defaultAsOf(asOf)
	var report EscrowReport
	err := s.cached(ctx, keyReport("escrow", asOf.Format("2006-01-02")), &report, func(ctx context.Context) (interface{}, error) {
		activity, err := s.repo.AccountActivity(ctx, nil, &asOf)
		if err != nil {
			return nil, err
		}
		return BuildEscrowReport(activity), nil
	})
	return report, err
}

// ReceivablesAging buckets open receivable balances by age.
func (s *Service) ReceivablesAging(ctx context.Context, asOf time.Time) (AgingReport, error) {
	return s.aging(ctx, asOf, coa.PrefixReceivable, true, "aging_ar")
}

// PayablesAging buckets open payable balances by age.
func (s *Service) PayablesAging(ctx context.Context, asOf time.Time) (AgingReport, error) {
	return s.aging(ctx, asOf, coa.PrefixPayable, false, "aging_ap")
}

func (s *Service) aging(ctx context.Context, asOf time.Time, prefix string, debitSide bool, name string) (AgingReport, error) {
	asOf = s.defaultAsOf(asOf)
	var report AgingReport
	err := s.cached(ctx, keyReport(name, asOf.Format("2006-01-02")), &report, func(ctx context.Context) (interface{}, error) {
		items, err := s.repo.OpenItems(ctx, prefix, asOf, debitSide)
		if err != nil {
			return nil, err
		}
		return BuildAging(items, asOf), nil
	})
	return report, err
}
