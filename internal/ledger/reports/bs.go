package reports

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/coa"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceSheetSection holds the accounts of one code range, such as
// current assets or trust liabilities.
type BalanceSheetSection struct {
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    decimal.Decimal       `json:"total"`
}

// BalanceSheetGroup is a top-level classification with its code-range
// sections in presentation order. Empty sections are omitted.
type BalanceSheetGroup struct {
	Label    string                `json:"label"`
	Sections []BalanceSheetSection `json:"sections"`
	Total    decimal.Decimal       `json:"total"`
}

// BalanceSheet is the structured response for the balance sheet report.
// Revenue and expense activity folds into the current-year profit line
// on the equity side so the statement balances without a formal
// year-end close.
type BalanceSheet struct {
	Assets                    BalanceSheetGroup `json:"assets"`
	Liabilities               BalanceSheetGroup `json:"liabilities"`
	Equity                    BalanceSheetGroup `json:"equity"`
	CurrentYearProfit         decimal.Decimal   `json:"currentYearProfit"`
	TotalLiabilitiesAndEquity decimal.Decimal   `json:"totalLiabilitiesAndEquity"`
	Balanced                  bool              `json:"balanced"`
}

// Section labels follow the chart's code ranges: 11 current assets,
// 12 fixed assets, 13 trust assets; 21 current liabilities, 23 trust
// liabilities; 31 capital, 32 retained earnings.
var (
	assetSections     = []string{"Current Assets", "Fixed Assets", "Trust Assets", "Other Assets"}
	liabilitySections = []string{"Current Liabilities", "Trust Liabilities", "Other Liabilities"}
	equitySections    = []string{"Capital", "Retained Earnings", "Other Equity"}
)

func assetSection(code string) string {
	switch {
	case strings.HasPrefix(code, "11"):
		return "Current Assets"
	case strings.HasPrefix(code, "12"):
		return "Fixed Assets"
	case strings.HasPrefix(code, "13"):
		return "Trust Assets"
	}
	return "Other Assets"
}

func liabilitySection(code string) string {
	switch {
	case strings.HasPrefix(code, "21"):
		return "Current Liabilities"
	case strings.HasPrefix(code, "23"):
		return "Trust Liabilities"
	}
	return "Other Liabilities"
}

func equitySection(code string) string {
	switch {
	case strings.HasPrefix(code, "31"):
		return "Capital"
	case strings.HasPrefix(code, "32"):
		return "Retained Earnings"
	}
	return "Other Equity"
}

type groupBuilder struct {
	label    string
	order    []string
	sections map[string]*BalanceSheetSection
}

func newGroupBuilder(label string, order []string) *groupBuilder {
	return &groupBuilder{label: label, order: order, sections: map[string]*BalanceSheetSection{}}
}

func (b *groupBuilder) add(section string, row BalanceSheetAccount) {
	s, ok := b.sections[section]
	if !ok {
		s = &BalanceSheetSection{Label: section}
		b.sections[section] = s
	}
	s.Accounts = append(s.Accounts, row)
	s.Total = s.Total.Add(row.Balance)
}

func (b *groupBuilder) build() BalanceSheetGroup {
	group := BalanceSheetGroup{Label: b.label}
	for _, label := range b.order {
		s, ok := b.sections[label]
		if !ok {
			continue
		}
		sort.Slice(s.Accounts, func(i, j int) bool { return s.Accounts[i].Code < s.Accounts[j].Code })
		group.Sections = append(group.Sections, *s)
		group.Total = group.Total.Add(s.Total)
	}
	return group
}

// BuildBalanceSheet classifies balances into assets, liabilities, and
// equity, partitioned into the chart's code ranges. Revenue and expense
// activity collapses into the current-year profit line.
func BuildBalanceSheet(accounts []AccountActivity) BalanceSheet {
	assets := newGroupBuilder("Assets", assetSections)
	liabilities := newGroupBuilder("Liabilities", liabilitySections)
	equity := newGroupBuilder("Equity", equitySections)
	profit := decimal.Zero

	for _, acc := range accounts {
		balance := acc.Closing()
		if balance.IsZero() {
			continue
		}
		row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: balance}
		switch acc.Category {
		case coa.CategoryAsset:
			assets.add(assetSection(acc.Code), row)
		case coa.CategoryLiability:
			liabilities.add(liabilitySection(acc.Code), row)
		case coa.CategoryEquity:
			equity.add(equitySection(acc.Code), row)
		case coa.CategoryRevenue:
			profit = profit.Add(balance)
		case coa.CategoryExpense:
			profit = profit.Sub(balance)
		}
	}

	assetGroup := assets.build()
	liabilityGroup := liabilities.build()
	equityGroup := equity.build()
	total := liabilityGroup.Total.Add(equityGroup.Total).Add(profit)
	return BalanceSheet{
		Assets:                    assetGroup,
		Liabilities:               liabilityGroup,
		Equity:                    equityGroup,
		CurrentYearProfit:         profit,
		TotalLiabilitiesAndEquity: total,
		Balanced:                  shared.WithinTolerance(assetGroup.Total, total),
	}
}
