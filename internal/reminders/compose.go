package reminders

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
)

// Contact is the billing recipient of a client.
type Contact struct {
	Name  string
	Email string
}

// Message is a composed reminder email.
type Message struct {
	To      string
	Subject string
	Body    string
}

type messageData struct {
	Contact     Contact
	Number      string
	Currency    string
	AmountDue   string
	DueDate     string
	DaysOverdue int
}

var subjects = map[ledger.ReminderType]*template.Template{
	ledger.ReminderUpcoming:  template.Must(template.New("upcoming").Parse(`Invoice {{.Number}} is due on {{.DueDate}}`)),
	ledger.ReminderDue:       template.Must(template.New("due").Parse(`Invoice {{.Number}} is due today`)),
	ledger.ReminderOverdue3:  template.Must(template.New("overdue").Parse(`Invoice {{.Number}} is {{.DaysOverdue}} days overdue`)),
	ledger.ReminderOverdue7:  template.Must(template.New("overdue").Parse(`Invoice {{.Number}} is {{.DaysOverdue}} days overdue`)),
	ledger.ReminderOverdue14: template.Must(template.New("overdue").Parse(`Invoice {{.Number}} is {{.DaysOverdue}} days overdue`)),
	ledger.ReminderOverdue30: template.Must(template.New("final").Parse(`Final notice: invoice {{.Number}} is {{.DaysOverdue}} days overdue`)),
}

var body = template.Must(template.New("body").Parse(`Hello {{if .Contact.Name}}{{.Contact.Name}}{{else}}there{{end}},

{{if gt .DaysOverdue 0}}Our records show that invoice {{.Number}} was due on {{.DueDate}} and is now {{.DaysOverdue}} days overdue.{{else}}This is a reminder that invoice {{.Number}} is due on {{.DueDate}}.{{end}}

Amount due: {{.AmountDue}} {{.Currency}}

If you have already sent payment, please disregard this message.
`))

// Compose renders the reminder email for an invoice. amountDue is the
// outstanding balance after credits.
func Compose(inv ledger.Invoice, r ledger.Reminder, contact Contact, amountDue decimal.Decimal) (Message, error) {
	subj, ok := subjects[r.Type]
	if !ok {
		return Message{}, fmt.Errorf("reminders: unknown reminder type %q", r.Type)
	}
	if contact.Email == "" {
		return Message{}, fmt.Errorf("reminders: client %d has no billing email", inv.ClientID)
	}
	data := messageData{
		Contact:   contact,
		Number:    inv.Number,
		Currency:  inv.Currency,
		AmountDue: amountDue.StringFixed(2),
	}
	if inv.DueDate != nil {
		data.DueDate = inv.DueDate.Format("January 2, 2006")
		data.DaysOverdue = max(0, ledger.DaysBetween(*inv.DueDate, r.ScheduledDate))
	}

	var subject, text bytes.Buffer
	if err := subj.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("reminders: subject: %w", err)
	}
	if err := body.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("reminders: body: %w", err)
	}
	return Message{To: contact.Email, Subject: subject.String(), Body: text.String()}, nil
}
