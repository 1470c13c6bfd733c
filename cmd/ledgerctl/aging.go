package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nobhad/no-bhad-codes-sub015/internal/aging"
)

func newAgingCmd(rt *runtime) *cobra.Command {
	var (
		clientID int64
		asJSON   bool
		detail   bool
	)
	cmd := &cobra.Command{
		Use:   "aging",
		Short: "Print the receivables aging report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, pool, err := rt.openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			var scope *int64
			if clientID > 0 {
				scope = &clientID
			}
			report, err := aging.NewService(store, nil, rt.logger).Report(ctx, rt.asOf, scope)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return writeReport(cmd.OutOrStdout(), report, detail)
		},
	}
	cmd.Flags().Int64Var(&clientID, "client", 0, "limit the report to one client id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&detail, "detail", false, "list the invoices in each bucket")
	return cmd
}

func writeReport(w io.Writer, report aging.Report, detail bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Aging as of %s\n", report.AsOf.Format(time.DateOnly))
	fmt.Fprintln(tw, "BUCKET\tCOUNT\tTOTAL")
	for _, b := range report.Buckets {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Name, b.Count, b.Total.StringFixed(2))
		if !detail {
			continue
		}
		for _, e := range b.Invoices {
			fmt.Fprintf(tw, "  %s\tclient %d\t%s %s\t%d days\n", e.Number, e.ClientID, e.Outstanding.StringFixed(2), e.Currency, e.DaysOverdue)
		}
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%s\n", report.InvoiceCount, report.TotalOutstanding.StringFixed(2))

	currencies := make([]string, 0, len(report.ByCurrency))
	for c := range report.ByCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		fmt.Fprintf(tw, "  %s\t\t%s\n", c, report.ByCurrency[c].StringFixed(2))
	}
	return tw.Flush()
}
