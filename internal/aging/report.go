// Package aging buckets outstanding receivables by days overdue.
package aging

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
)

// Bucket names in report order.
const (
	BucketCurrent = "current"
	Bucket1to30   = "1-30"
	Bucket31to60  = "31-60"
	Bucket61to90  = "61-90"
	BucketOver90  = "90+"
)

// BucketOrder lists every bucket a report carries, even when empty.
var BucketOrder = []string{BucketCurrent, Bucket1to30, Bucket31to60, Bucket61to90, BucketOver90}

// Entry is one invoice inside a bucket.
type Entry struct {
	InvoiceID   int64           `json:"invoice_id"`
	Number      string          `json:"invoice_number"`
	ClientID    int64           `json:"client_id"`
	ProjectID   int64           `json:"project_id"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	DaysOverdue int             `json:"days_overdue"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// Bucket aggregates the invoices of one day range.
type Bucket struct {
	Name       string                     `json:"bucket"`
	Count      int                        `json:"count"`
	Total      decimal.Decimal            `json:"total"`
	ByCurrency map[string]decimal.Decimal `json:"by_currency"`
	Invoices   []Entry                    `json:"invoices"`
}

// Report is an aging snapshot at AsOf.
type Report struct {
	AsOf             time.Time                  `json:"as_of"`
	ClientID         *int64                     `json:"client_id,omitempty"`
	Buckets          []Bucket                   `json:"buckets"`
	InvoiceCount     int                        `json:"invoice_count"`
	TotalOutstanding decimal.Decimal            `json:"total_outstanding"`
	ByCurrency       map[string]decimal.Decimal `json:"by_currency"`
}

// Bucket returns the named bucket, or a zero bucket when absent.
func (r Report) Bucket(name string) Bucket {
	for _, b := range r.Buckets {
		if b.Name == name {
			return b
		}
	}
	return Bucket{Name: name, Total: decimal.Zero}
}

// BucketFor maps days overdue onto a bucket name. Zero or negative is current.
func BucketFor(daysOverdue int) string {
	switch {
	case daysOverdue <= 0:
		return BucketCurrent
	case daysOverdue <= 30:
		return Bucket1to30
	case daysOverdue <= 60:
		return Bucket31to60
	case daysOverdue <= 90:
		return Bucket61to90
	default:
		return BucketOver90
	}
}

// Build buckets open invoices at asOf. Invoices that are not open or owe
// nothing are ignored; an invoice without a due date counts as current.
func Build(invoices []ledger.Invoice, asOf time.Time) Report {
	asOf = ledger.DateOnly(asOf)
	index := make(map[string]int, len(BucketOrder))
	report := Report{
		AsOf:             asOf,
		Buckets:          make([]Bucket, len(BucketOrder)),
		TotalOutstanding: decimal.Zero,
		ByCurrency:       map[string]decimal.Decimal{},
	}
	for i, name := range BucketOrder {
		index[name] = i
		report.Buckets[i] = Bucket{
			Name:       name,
			Total:      decimal.Zero,
			ByCurrency: map[string]decimal.Decimal{},
			Invoices:   []Entry{},
		}
	}

	for _, inv := range invoices {
		outstanding := inv.Outstanding()
		if !inv.IsOpen() || !outstanding.IsPositive() {
			continue
		}
		days := inv.DaysOverdue(asOf)
		b := &report.Buckets[index[BucketFor(days)]]
		b.Count++
		b.Total = b.Total.Add(outstanding)
		b.ByCurrency[inv.Currency] = b.ByCurrency[inv.Currency].Add(outstanding)
		b.Invoices = append(b.Invoices, Entry{
			InvoiceID:   inv.ID,
			Number:      inv.Number,
			ClientID:    inv.ClientID,
			ProjectID:   inv.ProjectID,
			Currency:    inv.Currency,
			Status:      string(inv.EffectiveStatus(asOf)),
			DueDate:     inv.DueDate,
			DaysOverdue: max(days, 0),
			Outstanding: outstanding,
		})
		report.InvoiceCount++
		report.TotalOutstanding = report.TotalOutstanding.Add(outstanding)
		report.ByCurrency[inv.Currency] = report.ByCurrency[inv.Currency].Add(outstanding)
	}
	return report
}
