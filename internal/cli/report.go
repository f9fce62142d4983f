package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"assetcore/internal/report"
)

func renderReport(t table.Writer, rep report.Report) {
	when := "never"
	if rep.GeneratedAt != nil {
		when = rep.GeneratedAt.Format(time.RFC3339)
	}
	t.SetTitle(fmt.Sprintf("Coverage at %s: %d assets, %d unmatched", when, rep.TotalAssets, rep.UnmatchedCount))
	t.AppendHeader(append(table.Row{"Unmatched row"}, headerRow(rep.UnmatchedColumns)...))
	for _, a := range rep.UnmatchedAssets {
		row := table.Row{a.ID}
		for _, c := range rep.UnmatchedColumns {
			row = append(row, cell(a.Values[c]))
		}
		t.AppendRow(row)
	}
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Generate and read coverage report snapshots"}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Snapshot current coverage to the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			rep, info, err := app.Service.GenerateReport(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.message(struct {
				Key    string        `json:"key"`
				Report report.Report `json:"report"`
			}{info.Key, rep}, "wrote %s (%d assets, %d unmatched)", info.Key, rep.TotalAssets, rep.UnmatchedCount)
		},
	}

	latest := &cobra.Command{
		Use:   "latest",
		Short: "Show the newest report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			rep, err := app.Service.LatestReport(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.emit(rep, func(t table.Writer) { renderReport(t, rep) })
		},
	}

	show := &cobra.Command{
		Use:   "show <key>",
		Short: "Show one stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			rep, err := app.Service.LoadReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.out.emit(rep, func(t table.Writer) { renderReport(t, rep) })
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			infos, err := app.Service.ListReports(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.emit(infos, func(t table.Writer) {
				t.AppendHeader(table.Row{"Key", "Size", "Modified"})
				for _, i := range infos {
					t.AppendRow(table.Row{i.Key, i.Size, i.LastModified.Format(time.RFC3339)})
				}
			})
		},
	}

	var expiry time.Duration
	url := &cobra.Command{
		Use:   "url <key>",
		Short: "Print a time-limited download URL for a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			u, err := app.Service.ReportURL(cmd.Context(), args[0], expiry)
			if err != nil {
				return err
			}
			return app.out.message(map[string]string{"key": args[0], "url": u}, "%s", u)
		},
	}
	url.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "URL lifetime")

	cmd.AddCommand(generate, latest, show, list, url)
	return cmd
}
