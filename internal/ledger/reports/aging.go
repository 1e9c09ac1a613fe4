package reports

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpenItem is an unsettled receivable or payable balance attributed to a
// counterparty, dated by the posting that created it.
type OpenItem struct {
	PartyID   int64
	PartyName string
	Date      time.Time
	Amount    decimal.Decimal
}

// AgingBucket summarises open amounts inside one age band.
type AgingBucket struct {
	Bucket string          `json:"bucket"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// AgingReport carries the four standard bands plus the grand total.
type AgingReport struct {
	AsOf    time.Time       `json:"asOf"`
	Buckets []AgingBucket   `json:"buckets"`
	Total   decimal.Decimal `json:"total"`
}

var agingBands = []struct {
	label string
	min   int
	max   int
}{
	{"0-30", 0, 30},
	{"31-60", 31, 60},
	{"61-90", 61, 90},
	{"91+", 91, 1 << 30},
}

// BuildAging distributes open items into 0-30/31-60/61-90/91+ day bands by
// age relative to asOf. Items dated after asOf count as current.
func BuildAging(items []OpenItem, asOf time.Time) AgingReport {
	report := AgingReport{AsOf: asOf, Buckets: make([]AgingBucket, len(agingBands))}
	for i, band := range agingBands {
		report.Buckets[i] = AgingBucket{Bucket: band.label}
	}
	for _, item := range items {
		if item.Amount.IsZero() {
			continue
		}
		age := int(asOf.Sub(item.Date).Hours() / 24)
		if age < 0 {
			age = 0
		}
		for i, band := range agingBands {
			if age >= band.min && age <= band.max {
				report.Buckets[i].Amount = report.Buckets[i].Amount.Add(item.Amount)
				report.Buckets[i].Count++
				break
			}
		}
		report.Total = report.Total.Add(item.Amount)
	}
	return report
}
