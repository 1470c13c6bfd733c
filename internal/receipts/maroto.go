package receipts

import (
	"context"
	"fmt"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var (
	colorPrimary = &props.Color{Red: 33, Green: 37, Blue: 41}
	colorMuted   = &props.Color{Red: 108, Green: 117, Blue: 125}
)

// MarotoRenderer builds receipts in process with Maroto.
type MarotoRenderer struct {
	Issuer string
}

// NewMarotoRenderer constructs a renderer printing issuer in the header.
func NewMarotoRenderer(issuer string) *MarotoRenderer {
	return &MarotoRenderer{Issuer: issuer}
}

// Render implements Renderer.
func (r *MarotoRenderer) Render(_ context.Context, doc Document) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A5).
		WithLeftMargin(12).WithRightMargin(12).
		WithTopMargin(12).WithBottomMargin(12).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Payment receipt "+doc.Number, true).
		WithAuthor(r.Issuer, true).
		Build()

	m := maroto.New(cfg)
	m.AddRows(r.header(doc))
	m.AddRows(line.NewRow(2, props.Line{Color: colorPrimary, Thickness: 0.4}))
	for _, fr := range detailRows(doc) {
		m.AddRows(fr)
	}
	m.AddRows(line.NewRow(2, props.Line{Color: colorMuted, Thickness: 0.2}))
	m.AddRows(amountRow("Amount received", mustFormat(doc.Currency, doc.Amount), true))
	m.AddRows(amountRow("Balance due", mustFormat(doc.Currency, doc.BalanceDue), false))

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("maroto: generate: %w", err)
	}
	return out.GetBytes(), nil
}

func (r *MarotoRenderer) header(doc Document) core.Row {
	return row.New(16).Add(
		col.New(7).Add(
			text.New(r.Issuer, props.Text{Style: fontstyle.Bold, Size: 12, Color: colorPrimary, Top: 1}),
			text.New("Payment receipt", props.Text{Size: 8, Color: colorMuted, Top: 8}),
		),
		col.New(5).Add(
			text.New(doc.Number, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Top: 1}),
			text.New("Issued "+doc.IssuedAt.Format("2 Jan 2006"), props.Text{Size: 8, Align: align.Right, Color: colorMuted, Top: 8}),
		),
	)
}

func detailRows(doc Document) []core.Row {
	fields := [][2]string{
		{"Invoice", doc.InvoiceNumber},
		{"Payment date", doc.PaymentDate},
		{"Method", doc.PaymentMethod},
		{"Reference", doc.Reference},
	}
	rows := make([]core.Row, 0, len(fields))
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		rows = append(rows, row.New(6).Add(
			col.New(4).Add(text.New(f[0], props.Text{Size: 8, Color: colorMuted})),
			col.New(8).Add(text.New(f[1], props.Text{Size: 9})),
		))
	}
	return rows
}

func amountRow(label, value string, strong bool) core.Row {
	style := fontstyle.Normal
	if strong {
		style = fontstyle.Bold
	}
	return row.New(7).Add(
		col.New(6).Add(text.New(label, props.Text{Size: 9, Style: style})),
		col.New(6).Add(text.New(value, props.Text{Size: 9, Style: style, Align: align.Right})),
	)
}
