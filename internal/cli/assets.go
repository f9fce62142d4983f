package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"assetcore/internal/ingest"
	"assetcore/pkg/domain"
)

func parseID(field, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ValidationError{Field: field, Message: fmt.Sprintf("%q is not a positive integer", s)}
	}
	return id, nil
}

// readSheet decodes the CSV at path; "-" reads stdin.
func readSheet(cmd *cobra.Command, path string) (ingest.Sheet, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return ingest.Sheet{}, err
		}
		defer f.Close()
		r = f
	}
	sheet, err := ingest.ReadCSV(r)
	if err != nil {
		return ingest.Sheet{}, fmt.Errorf("read %s: %w", path, err)
	}
	return sheet, nil
}

func warnSheet(app *App, path string, sheet ingest.Sheet) {
	for _, w := range sheet.Warnings {
		app.Logger.Warn("csv row repaired", "file", path, "row", w.Row, "warning", w.Message)
	}
}

// splitPair parses "left=right".
func splitPair(field, s string) (string, string, error) {
	left, right, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", domain.ValidationError{Field: field, Message: fmt.Sprintf("%q is not of the form a=b", s)}
	}
	return strings.TrimSpace(left), strings.TrimSpace(right), nil
}

func newSourceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "source", Short: "Manage asset sources"}

	add := &cobra.Command{
		Use:     "add <name> <file.csv>",
		Short:   "Register a CSV file as a source",
		Example: "  assetctl source add cmdb ./cmdb.csv",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			sheet, err := readSheet(cmd, args[1])
			if err != nil {
				return err
			}
			warnSheet(app, args[1], sheet)
			src, err := app.Service.RegisterSource(cmd.Context(), sheet.SourceInput(args[0]))
			if err != nil {
				return err
			}
			return app.out.message(src, "registered source %d (%s) with %d rows", src.ID, src.Name, len(sheet.Rows))
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			sources, err := app.Service.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.emit(sources, func(t table.Writer) {
				t.AppendHeader(table.Row{"ID", "Name", "Columns", "Created"})
				for _, s := range sources {
					t.AppendRow(table.Row{s.ID, s.Name, strings.Join(s.Columns, ", "), s.CreatedAt.Format("2006-01-02 15:04")})
				}
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a source with its rows and mappings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			id, err := parseID("id", args[0])
			if err != nil {
				return err
			}
			if err := app.Service.RemoveSource(cmd.Context(), id); err != nil {
				return err
			}
			return app.out.message(map[string]int64{"removed": id}, "removed source %d", id)
		},
	}

	var maps []string
	mapCmd := &cobra.Command{
		Use:     "map <id>",
		Short:   "Replace the column mappings of a source",
		Example: "  assetctl source map 1 --map Host=hostname --map Owner=owner",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			id, err := parseID("id", args[0])
			if err != nil {
				return err
			}
			pairs := make([]ingest.ColumnPair, 0, len(maps))
			for _, m := range maps {
				src, unified, err := splitPair("map", m)
				if err != nil {
					return err
				}
				pairs = append(pairs, ingest.ColumnPair{SourceCol: src, UnifiedCol: unified})
			}
			saved, err := app.Service.SaveMappings(cmd.Context(), id, pairs)
			if err != nil {
				return err
			}
			return app.out.emit(saved, func(t table.Writer) {
				t.AppendHeader(table.Row{"Source column", "Unified column"})
				for _, m := range saved {
					t.AppendRow(table.Row{m.SourceCol, m.UnifiedCol})
				}
			})
		},
	}
	mapCmd.Flags().StringArrayVar(&maps, "map", nil, "source_col=unified_col (repeatable; empty unified_col unmaps)")

	cmd.AddCommand(add, list, rm, mapCmd)
	return cmd
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schema <column>...",
		Short:   "Declare the ordered columns of the unified schema",
		Example: "  assetctl schema hostname ip owner",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			cols, err := app.Service.DeclareSchema(cmd.Context(), args)
			if err != nil {
				return err
			}
			return app.out.emit(cols, func(t table.Writer) {
				t.AppendHeader(table.Row{"Position", "Column"})
				for _, c := range cols {
					t.AppendRow(table.Row{c.Position, c.Column})
				}
			})
		},
	}
	return cmd
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild unified assets from every source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			res, err := app.Service.Rebuild(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.message(res, "rebuilt %d assets from %d rows of %d sources (%d without a key)",
				res.Assets, res.Rows, res.Sources, res.Unkeyed)
		},
	}
}

func newAssetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "List unified assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			assets, err := app.Service.ListAssets(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.emit(assets, func(t table.Writer) {
				var cols []string
				seen := map[string]bool{}
				for _, a := range assets {
					for _, k := range sortedKeys(a.Fields) {
						if !seen[k] {
							seen[k] = true
							cols = append(cols, k)
						}
					}
				}
				t.AppendHeader(append(table.Row{"ID", "Name"}, append(headerRow(cols), "Sources")...))
				for _, a := range assets {
					name := ""
					if a.CanonicalName != nil {
						name = *a.CanonicalName
					}
					row := table.Row{a.ID, name}
					for _, c := range cols {
						row = append(row, cell(a.Fields[c]))
					}
					t.AppendRow(append(row, joinInts(a.SourceIDs)))
				}
			})
		},
	}
}
