package reports

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/coa"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// EscrowAccount is one trust account's held or owed position.
type EscrowAccount struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// EscrowReport compares client funds held in trust asset accounts against
// the matching trust liability obligations. The two sides must agree to the
// cent; anything else is a segregation breach worth surfacing loudly.
type EscrowReport struct {
	Held       []EscrowAccount `json:"held"`
	Owed       []EscrowAccount `json:"owed"`
	TotalHeld  decimal.Decimal `json:"totalHeld"`
	TotalOwed  decimal.Decimal `json:"totalOwed"`
	Difference decimal.Decimal `json:"difference"`
	Reconciled bool            `json:"reconciled"`
	Violations []string        `json:"violations"`
}

// BuildEscrowReport splits trust accounts into held (asset) and owed
// (liability) sides and flags every mismatch.
func BuildEscrowReport(accounts []AccountActivity) EscrowReport {
	report := EscrowReport{Violations: []string{}}
	for _, acc := range accounts {
		if !acc.Trust {
			continue
		}
		balance := acc.Closing()
		row := EscrowAccount{Code: acc.Code, Name: acc.Name, Balance: balance}
		if acc.Normal == coa.NormalDebit {
			report.Held = append(report.Held, row)
			report.TotalHeld = report.TotalHeld.Add(balance)
			if balance.IsNegative() && !shared.IsZeroish(balance) {
				report.Violations = append(report.Violations,
					fmt.Sprintf("trust account %s (%s) is overdrawn by %s", acc.Code, acc.Name, balance.Abs().StringFixed(2)))
			}
		} else {
			report.Owed = append(report.Owed, row)
			report.TotalOwed = report.TotalOwed.Add(balance)
		}
	}

	sort.Slice(report.Held, func(i, j int) bool { return report.Held[i].Code < report.Held[j].Code })
	sort.Slice(report.Owed, func(i, j int) bool { return report.Owed[i].Code < report.Owed[j].Code })

	report.Difference = report.TotalHeld.Sub(report.TotalOwed)
	report.Reconciled = shared.WithinTolerance(report.TotalHeld, report.TotalOwed)
	if !report.Reconciled {
		if report.Difference.IsPositive() {
			report.Violations = append(report.Violations,
				fmt.Sprintf("trust funds held %s exceed client obligations %s by %s: unallocated client money",
					report.TotalHeld.StringFixed(2), report.TotalOwed.StringFixed(2), report.Difference.StringFixed(2)))
		} else {
			report.Violations = append(report.Violations,
				fmt.Sprintf("client obligations %s exceed trust funds held %s by %s: client money shortfall",
					report.TotalOwed.StringFixed(2), report.TotalHeld.StringFixed(2), report.Difference.Abs().StringFixed(2)))
		}
	}
	return report
}
