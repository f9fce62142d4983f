package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"assetcore/internal/manipulator"
	"assetcore/internal/rules"
	"assetcore/internal/selector"
	"assetcore/pkg/domain"
)

// definitionFlags collects a rule tree either as raw JSON (--definition,
// "@path" reads a file) or as flat --rule field:operator:value clauses.
type definitionFlags struct {
	raw     string
	clauses []string
	mode    string
}

func (d *definitionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.raw, "definition", "", `rule tree as JSON, or @file`)
	cmd.Flags().StringArrayVar(&d.clauses, "rule", nil, "field:operator:value clause (repeatable)")
	cmd.Flags().StringVar(&d.mode, "mode", string(rules.ModeAll), "how --rule clauses combine (all|any)")
	cmd.MarkFlagsMutuallyExclusive("definition", "rule")
}

func (d *definitionFlags) build() (json.RawMessage, error) {
	if d.raw != "" {
		raw := d.raw
		if path, ok := strings.CutPrefix(raw, "@"); ok {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			raw = string(b)
		}
		if !json.Valid([]byte(raw)) {
			return nil, domain.ValidationError{Field: "definition", Message: "not valid JSON"}
		}
		return json.RawMessage(raw), nil
	}
	if len(d.clauses) == 0 {
		return nil, nil
	}
	group := rules.Group{Mode: rules.ParseMode(d.mode)}
	for _, c := range d.clauses {
		parts := strings.SplitN(c, ":", 3)
		if len(parts) != 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, domain.ValidationError{Field: "rule", Message: fmt.Sprintf("%q is not of the form field:operator:value", c)}
		}
		group.Children = append(group.Children, rules.Rule{
			Field:    strings.TrimSpace(parts[0]),
			Operator: rules.ParseOperator(parts[1]),
			Value:    parts[2],
		})
	}
	return json.Marshal(group)
}

func renderEffects(app *App, verb string, m domain.Manipulator, eff manipulator.Effects) error {
	return app.out.message(struct {
		Manipulator domain.Manipulator  `json:"manipulator"`
		Effects     manipulator.Effects `json:"effects"`
	}{m, eff}, "%s manipulator %d: %d matched, %d inserted, %d updated, %d removed",
		verb, m.ID, eff.Matched, eff.Inserted, eff.Updated, eff.Removed)
}

func newManipulatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "manipulator",
		Aliases: []string{"manip"},
		Short:   "Manage rules that assign field values to matching pool rows",
	}

	var in manipulator.Input
	var def definitionFlags
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a manipulator and apply it",
		Example: `  assetctl manipulator create --title prod --field tier --value gold --rule env:equals:prod`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if in.Definition, err = def.build(); err != nil {
				return err
			}
			m, eff, err := app.Service.CreateManipulator(cmd.Context(), in)
			if err != nil {
				return err
			}
			return renderEffects(app, "created", m, eff)
		},
	}
	create.Flags().StringVar(&in.Title, "title", "", "display title")
	create.Flags().StringVar(&in.FieldName, "field", "", "pool field to assign")
	create.Flags().StringVar(&in.FieldValue, "value", "", "value to assign")
	def.register(create)

	var upd manipulator.Input
	var updDef definitionFlags
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a manipulator and re-apply it",
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
			if upd.Definition, err = updDef.build(); err != nil {
				return err
			}
			m, eff, err := app.Service.UpdateManipulator(cmd.Context(), id, upd)
			if err != nil {
				return err
			}
			return renderEffects(app, "updated", m, eff)
		},
	}
	update.Flags().StringVar(&upd.Title, "title", "", "display title")
	update.Flags().StringVar(&upd.FieldName, "field", "", "pool field to assign")
	update.Flags().StringVar(&upd.FieldValue, "value", "", "value to assign")
	updDef.register(update)

	list := &cobra.Command{
		Use:   "list",
		Short: "List manipulators with their live match counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			views, err := app.Service.ListManipulators(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.emit(views, func(t table.Writer) {
				t.AppendHeader(table.Row{"ID", "Title", "Field", "Value", "Assets", "Managed"})
				for _, v := range views {
					t.AppendRow(table.Row{v.ID, v.Title, v.FieldName, v.FieldValue, v.AssetCount, len(v.ManagedRowIDs)})
				}
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one manipulator",
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
			v, err := app.Service.GetManipulator(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.out.emit(v, func(t table.Writer) {
				t.AppendRows([]table.Row{
					{"ID", v.ID},
					{"Title", v.Title},
					{"Field", v.FieldName},
					{"Value", v.FieldValue},
					{"Definition", string(v.Definition)},
					{"Assets", v.AssetCount},
					{"Managed rows", strings.Join(v.ManagedRowIDs, "\n")},
				})
			})
		},
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a manipulator and the values it manages",
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
			if err := app.Service.DeleteManipulator(cmd.Context(), id); err != nil {
				return err
			}
			return app.out.message(map[string]int64{"removed": id}, "removed manipulator %d", id)
		},
	}

	apply := &cobra.Command{
		Use:   "apply",
		Short: "Re-apply every manipulator against the current pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			eff, err := app.Service.ApplyManipulators(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.message(eff, "applied: %d matched, %d inserted, %d updated, %d removed",
				eff.Matched, eff.Inserted, eff.Updated, eff.Removed)
		},
	}

	cmd.AddCommand(create, update, list, show, rm, apply)
	return cmd
}

func newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "Manage asset groups"}

	var title string
	create := &cobra.Command{
		Use:   "create <slug>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			g, err := app.Service.CreateGroup(cmd.Context(), args[0], title)
			if err != nil {
				return err
			}
			return app.out.message(g, "created group %s", g.Slug)
		},
	}
	create.Flags().StringVar(&title, "title", "", "display title (defaults to the slug)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			groups, err := app.Service.ListGroups(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.emit(groups, func(t table.Writer) {
				t.AppendHeader(table.Row{"ID", "Slug", "Title"})
				for _, g := range groups {
					t.AppendRow(table.Row{g.ID, g.Slug, g.Title})
				}
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <slug>",
		Short: "Show a group's selectors and match counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ov, err := app.Service.GroupOverview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.out.emit(ov, func(t table.Writer) {
				t.SetTitle(fmt.Sprintf("%s: %d assets", ov.Group.Title, ov.AssetCount))
				t.AppendHeader(table.Row{"ID", "Selector", "Assets", "Definition"})
				for _, s := range ov.Selectors {
					t.AppendRow(table.Row{s.ID, s.Name, s.AssetCount, string(s.Definition)})
				}
			})
		},
	}

	cmd.AddCommand(create, list, show)
	return cmd
}

func newSelectorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "selector", Short: "Manage group selectors"}

	var name string
	var def definitionFlags
	add := &cobra.Command{
		Use:     "add <group-slug>",
		Short:   "Add a selector to a group",
		Example: `  assetctl selector add web --name "web hosts" --rule hostname:regex:^web`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			raw, err := def.build()
			if err != nil {
				return err
			}
			sel, err := app.Service.CreateSelector(cmd.Context(), args[0], selector.Input{Name: name, Definition: raw})
			if err != nil {
				return err
			}
			return app.out.message(sel, "added selector %d to %s", sel.ID, sel.GroupSlug)
		},
	}
	add.Flags().StringVar(&name, "name", "", "selector name")
	def.register(add)

	var updName string
	var updDef definitionFlags
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a selector",
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
			raw, err := updDef.build()
			if err != nil {
				return err
			}
			sel, err := app.Service.UpdateSelector(cmd.Context(), id, selector.Input{Name: updName, Definition: raw})
			if err != nil {
				return err
			}
			return app.out.message(sel, "updated selector %d", sel.ID)
		},
	}
	update.Flags().StringVar(&updName, "name", "", "selector name")
	updDef.register(update)

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a selector",
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
			if err := app.Service.DeleteSelector(cmd.Context(), id); err != nil {
				return err
			}
			return app.out.message(map[string]int64{"removed": id}, "removed selector %d", id)
		},
	}

	cmd.AddCommand(add, update, rm)
	return cmd
}

func newCoverageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "Show how many pool rows each group covers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			cov, err := app.Service.Coverage(cmd.Context())
			if err != nil {
				return err
			}
			return app.out.emit(cov, func(t table.Writer) {
				t.SetTitle(fmt.Sprintf("%d assets, %d unmatched", cov.TotalAssets, cov.UnmatchedCount))
				t.AppendHeader(table.Row{"Group", "Title", "Assets"})
				for _, g := range cov.Groups {
					t.AppendRow(table.Row{g.Slug, g.Title, g.AssetCount})
				}
			})
		},
	}
}
