package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates persisted invoice states.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusSent      InvoiceStatus = "sent"
	StatusViewed    InvoiceStatus = "viewed"
	StatusPartial   InvoiceStatus = "partial"
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusCancelled InvoiceStatus = "cancelled"
)

// InvoiceType distinguishes deposits from regular invoices.
type InvoiceType string

const (
	TypeStandard InvoiceType = "standard"
	TypeDeposit  InvoiceType = "deposit"
)

// LateFeeType selects how a late fee is computed.
type LateFeeType string

const (
	LateFeeFlat       LateFeeType = "flat"
	LateFeePercentage LateFeeType = "percentage"
)

// LineItem is a single billable row on an invoice.
type LineItem struct {
	ID             int64           `json:"id"`
	InvoiceID      int64           `json:"invoice_id"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Amount         decimal.Decimal `json:"amount"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountRate   decimal.Decimal `json:"discount_rate"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	SortOrder      int             `json:"sort_order"`
}

// LineTemplate is the line shape stored on recurring and scheduled templates
// and accepted when creating invoices.
type LineTemplate struct {
	Description  string          `json:"description" validate:"required,max=500"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
}

// Invoice is the central ledger entity.
type Invoice struct {
	ID                int64           `json:"id"`
	Number            string          `json:"invoice_number"`
	ProjectID         int64           `json:"project_id"`
	ClientID          int64           `json:"client_id"`
	Currency          string          `json:"currency"`
	Type              InvoiceType     `json:"invoice_type"`
	DepositPercentage decimal.Decimal `json:"deposit_percentage"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	TaxTotal          decimal.Decimal `json:"tax_total"`
	DiscountTotal     decimal.Decimal `json:"discount_total"`
	AmountTotal       decimal.Decimal `json:"amount_total"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	Status            InvoiceStatus   `json:"status"`
	IssuedDate        *time.Time      `json:"issued_date,omitempty"`
	DueDate           *time.Time      `json:"due_date,omitempty"`
	PaidDate          *time.Time      `json:"paid_date,omitempty"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	PaymentReference  string          `json:"payment_reference,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	Terms             string          `json:"terms,omitempty"`
	LateFeeRate       decimal.Decimal `json:"late_fee_rate"`
	LateFeeType       LateFeeType     `json:"late_fee_type,omitempty"`
	LateFeeAmount     decimal.Decimal `json:"late_fee_amount"`
	LateFeeAppliedAt  *time.Time      `json:"late_fee_applied_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Lines             []LineItem      `json:"line_items"`
}

// Outstanding returns AmountTotal minus AmountPaid. Credits are not included.
func (inv Invoice) Outstanding() decimal.Decimal {
	return inv.AmountTotal.Sub(inv.AmountPaid)
}

// Payment is an append-only record of money received.
type Payment struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"payment_method"`
	Reference   string          `json:"payment_reference,omitempty"`
	PaymentDate time.Time       `json:"payment_date"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Credit links part of a deposit invoice's paid amount to a final invoice.
type Credit struct {
	ID               int64           `json:"id"`
	InvoiceID        int64           `json:"invoice_id"`
	DepositInvoiceID int64           `json:"deposit_invoice_id"`
	Amount           decimal.Decimal `json:"amount"`
	AppliedAt        time.Time       `json:"applied_at"`
	AppliedBy        string          `json:"applied_by"`
}

// Frequency of a recurring invoice pattern.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// RecurringInvoice is a generation pattern.
type RecurringInvoice struct {
	ID                 int64          `json:"id"`
	ProjectID          int64          `json:"project_id"`
	ClientID           int64          `json:"client_id"`
	Currency           string         `json:"currency"`
	Frequency          Frequency      `json:"frequency"`
	DayOfMonth         int            `json:"day_of_month,omitempty"`
	DayOfWeek          time.Weekday   `json:"day_of_week"`
	Lines              []LineTemplate `json:"line_items"`
	PaymentTermsDays   int            `json:"payment_terms_days"`
	Notes              string         `json:"notes,omitempty"`
	Terms              string         `json:"terms,omitempty"`
	StartDate          time.Time      `json:"start_date"`
	EndDate            *time.Time     `json:"end_date,omitempty"`
	NextGenerationDate time.Time      `json:"next_generation_date"`
	LastGeneratedAt    *time.Time     `json:"last_generated_at,omitempty"`
	IsActive           bool           `json:"is_active"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TriggerType selects what fires a scheduled invoice.
type TriggerType string

const (
	TriggerDate              TriggerType = "date"
	TriggerMilestoneComplete TriggerType = "milestone_complete"
)

// ScheduleStatus enumerates scheduled invoice states.
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleGenerated ScheduleStatus = "generated"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// ScheduledInvoice is a one-shot pending generation.
type ScheduledInvoice struct {
	ID                 int64           `json:"id"`
	ProjectID          int64           `json:"project_id"`
	ClientID           int64           `json:"client_id"`
	Currency           string          `json:"currency"`
	TriggerType        TriggerType     `json:"trigger_type"`
	ScheduledDate      *time.Time      `json:"scheduled_date,omitempty"`
	MilestoneID        *int64          `json:"trigger_milestone_id,omitempty"`
	InvoiceType        InvoiceType     `json:"invoice_type"`
	DepositPercentage  decimal.Decimal `json:"deposit_percentage"`
	Lines              []LineTemplate  `json:"line_items"`
	PaymentTermsDays   int             `json:"payment_terms_days"`
	Notes              string          `json:"notes,omitempty"`
	Status             ScheduleStatus  `json:"status"`
	GeneratedInvoiceID *int64          `json:"generated_invoice_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ReminderType identifies a dunning step.
type ReminderType string

const (
	ReminderUpcoming  ReminderType = "upcoming"
	ReminderDue       ReminderType = "due"
	ReminderOverdue3  ReminderType = "overdue_3"
	ReminderOverdue7  ReminderType = "overdue_7"
	ReminderOverdue14 ReminderType = "overdue_14"
	ReminderOverdue30 ReminderType = "overdue_30"
)

// ReminderStatus enumerates reminder row states.
type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderSent    ReminderStatus = "sent"
	ReminderSkipped ReminderStatus = "skipped"
	ReminderFailed  ReminderStatus = "failed"
)

// Reminder is one dunning row for an invoice.
type Reminder struct {
	ID            int64          `json:"id"`
	InvoiceID     int64          `json:"invoice_id"`
	Type          ReminderType   `json:"reminder_type"`
	ScheduledDate time.Time      `json:"scheduled_date"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
	Status        ReminderStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewInvoice carries the fields required to insert an invoice.
type NewInvoice struct {
	Prefix            string
	ProjectID         int64
	ClientID          int64
	Currency          string
	Type              InvoiceType
	DepositPercentage decimal.Decimal
	Status            InvoiceStatus
	IssuedDate        *time.Time
	DueDate           *time.Time
	Notes             string
	Terms             string
	LateFeeRate       decimal.Decimal
	LateFeeType       LateFeeType
	Lines             []LineItem
	Totals            Totals
}

// Price computes Lines and Totals from template lines.
func (n *NewInvoice) Price(tmpl []LineTemplate) {
	n.Lines, n.Totals = PriceLines(n.Type, n.DepositPercentage, n.Currency, tmpl)
}

// InvoiceFilter narrows invoice listings. Status matches the effective status
// at AsOf, so "overdue" selects open invoices past their due date.
type InvoiceFilter struct {
	ClientID  *int64
	ProjectID *int64
	Status    InvoiceStatus
	AsOf      time.Time
	Limit     int
}
