package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"assetcore/internal/ingest"
	"assetcore/pkg/domain"
)

func mappingPairs(specs []string) ([]domain.MappingPair, error) {
	if specs == nil {
		return nil, nil
	}
	pairs := make([]domain.MappingPair, 0, len(specs))
	for _, s := range specs {
		header, field, err := splitPair("map", s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, domain.MappingPair{RawHeader: header, AssetField: field})
	}
	return pairs, nil
}

func renderPairs(t table.Writer, pairs []domain.MappingPair) {
	t.AppendHeader(table.Row{"Raw header", "Asset field"})
	for _, p := range pairs {
		t.AppendRow(table.Row{p.RawHeader, p.AssetField})
	}
}

func newRawCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "raw", Short: "Manage imported raw tables"}

	var importMaps []string
	imp := &cobra.Command{
		Use:   "import <title> <file.csv>",
		Short: "Import a CSV file as a raw table",
		Long: `Import a CSV file as a raw table. Without --map every header feeds the
pool field of the same name.`,
		Example: "  assetctl raw import inventory ./hosts.csv --map Host=hostname --map OS=os",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			var pairs []domain.MappingPair
			if cmd.Flags().Changed("map") {
				if pairs, err = mappingPairs(importMaps); err != nil {
					return err
				}
			}
			sheet, err := readSheet(cmd, args[1])
			if err != nil {
				return err
			}
			warnSheet(app, args[1], sheet)
			tbl, err := app.Service.ImportRaw(cmd.Context(), sheet.RawImport(args[0], pairs))
			if err != nil {
				return err
			}
			return app.out.message(tbl, "imported raw table %d (%s) with %d rows", tbl.ID, tbl.Title, len(sheet.Rows))
		},
	}
	imp.Flags().StringArrayVar(&importMaps, "map", nil, "raw_header=asset_field (repeatable)")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List raw tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			tables, err := app.Service.ListRaw(cmd.Context(), all)
			if err != nil {
				return err
			}
			return app.out.emit(tables, func(t table.Writer) {
				t.AppendHeader(table.Row{"ID", "Title", "Headers", "Archived"})
				for _, tb := range tables {
					t.AppendRow(table.Row{tb.ID, tb.Title, len(tb.Headers), tb.Archived})
				}
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include archived tables")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a raw table with its rows and active mapping",
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
			detail, err := app.Service.GetRaw(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.out.emit(detail, func(t table.Writer) {
				t.SetTitle(fmt.Sprintf("%s (%d rows)", detail.Table.Title, len(detail.Rows)))
				t.AppendHeader(append(table.Row{"Row key"}, headerRow(detail.Table.Headers)...))
				for _, r := range detail.Rows {
					row := table.Row{r.RowKey}
					for _, h := range detail.Table.Headers {
						row = append(row, cell(r.Data[h]))
					}
					t.AppendRow(row)
				}
			})
		},
	}

	var maps []string
	mapCmd := &cobra.Command{
		Use:   "map <id>",
		Short: "Replace the active mapping of a raw table",
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
			pairs, err := mappingPairs(maps)
			if err != nil {
				return err
			}
			if pairs == nil {
				pairs = []domain.MappingPair{}
			}
			saved, err := app.Service.ReplaceMapping(cmd.Context(), id, pairs)
			if err != nil {
				return err
			}
			return app.out.emit(saved, func(t table.Writer) { renderPairs(t, saved) })
		},
	}
	mapCmd.Flags().StringArrayVar(&maps, "map", nil, "raw_header=asset_field (repeatable)")

	var sets []string
	edit := &cobra.Command{
		Use:     "edit <id> <row-key>",
		Short:   "Merge cell values into a raw row",
		Example: "  assetctl raw edit 1 3f2c... --set OS=linux",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			id, err := parseID("id", args[0])
			if err != nil {
				return err
			}
			data := make(map[string]any, len(sets))
			for _, s := range sets {
				k, v, err := splitPair("set", s)
				if err != nil {
					return err
				}
				data[k] = v
			}
			row, err := app.Service.EditRow(cmd.Context(), id, args[1], data)
			if err != nil {
				return err
			}
			return app.out.emit(row, func(t table.Writer) {
				t.AppendHeader(table.Row{"Column", "Value"})
				for _, k := range sortedKeys(row.Data) {
					t.AppendRow(table.Row{k, cell(row.Data[k])})
				}
			})
		},
	}
	edit.Flags().StringArrayVar(&sets, "set", nil, "header=value (repeatable)")

	archive := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a raw table and drop its rows from the pool",
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
			tbl, err := app.Service.ArchiveRaw(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.out.message(tbl, "archived raw table %d (%s)", tbl.ID, tbl.Title)
		},
	}

	cmd.AddCommand(imp, list, show, mapCmd, edit, archive)
	return cmd
}

func newFieldCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "field", Short: "Manage asset pool fields"}

	var in ingest.FieldInput
	declare := &cobra.Command{
		Use:   "declare <field>",
		Short: "Declare or update a pool field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			in.Field = args[0]
			fs, err := app.Service.DeclareField(cmd.Context(), in)
			if err != nil {
				return err
			}
			return app.out.message(fs, "field %s editable=%t manual=%t", fs.Field, fs.Editable, fs.Manual)
		},
	}
	declare.Flags().BoolVar(&in.Editable, "editable", true, "allow cell overrides")
	declare.Flags().BoolVar(&in.Manual, "manual", false, "field was declared by hand")

	list := &cobra.Command{
		Use:   "list",
		Short: "List pool fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			fields, err := app.Service.ListFields(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.emit(fields, func(t table.Writer) {
				t.AppendHeader(table.Row{"Field", "Editable", "Manual"})
				for _, f := range fields {
					t.AppendRow(table.Row{f.Field, f.Editable, f.Manual})
				}
			})
		},
	}

	cmd.AddCommand(declare, list)
	return cmd
}

func newCellCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cell", Short: "Override single pool cells"}

	set := &cobra.Command{
		Use:     "set <row-id> <field> <value>",
		Short:   "Set an explicit value for one pool cell",
		Example: "  assetctl cell set 1:3f2c... owner ops",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ov, err := app.Service.SetCell(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return app.out.message(ov, "set %s on %s", ov.Field, ov.RowID)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <row-id> <field>",
		Short: "Remove a cell override",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := app.Service.ClearCell(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return app.out.message(map[string]string{"row_id": args[0], "field": args[1]}, "cleared %s on %s", args[1], args[0])
		},
	}

	cmd.AddCommand(set, clearCmd)
	return cmd
}

func newPoolCmd() *cobra.Command {
	var stats bool
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Show the projected asset pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			proj, err := app.Service.Project(cmd.Context())
			if err != nil {
				return err
			}
			if stats {
				return app.out.emit(proj.FieldStats, func(t table.Writer) {
					t.AppendHeader(table.Row{"Field", "Non-empty"})
					for _, s := range proj.FieldStats {
						t.AppendRow(table.Row{s.Field, s.Count})
					}
				})
			}
			return app.out.emit(proj, func(t table.Writer) {
				t.AppendHeader(append(table.Row{"Row", "Table"}, headerRow(proj.Columns)...))
				for _, r := range proj.Rows {
					row := table.Row{r.ID.String(), r.Table}
					for _, c := range proj.Columns {
						row = append(row, cell(r.Values[c]))
					}
					t.AppendRow(row)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&stats, "stats", false, "show per-field value counts instead of rows")
	return cmd
}
