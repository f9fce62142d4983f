package pool

import (
	"bytes"
	"context"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"assetcore/internal/infra/persistence/memory"
	"assetcore/internal/rules"
	"assetcore/pkg/domain"
	"assetcore/testutil"
)

func mustInsert(t *testing.T, repo domain.Repository, table domain.Table, v any) int64 {
	t.Helper()
	id, err := domain.InsertEntity(context.Background(), repo, table, v)
	if err != nil {
		t.Fatalf("insert %s: %v", table, err)
	}
	return id
}

func seedTable(t *testing.T, repo domain.Repository, title string, pairs []domain.MappingPair, rows ...map[string]any) int64 {
	t.Helper()
	tableID := mustInsert(t, repo, domain.TableRawTables, domain.RawTable{Title: title})
	for i, data := range rows {
		mustInsert(t, repo, domain.TableRawRows, domain.RawRow{TableID: tableID, RowKey: "", RowIndex: i, Data: data})
	}
	mustInsert(t, repo, domain.TableRawMappings, domain.RawMapping{TableID: tableID, Pairs: pairs})
	return tableID
}

func TestProjectFillsFirstNonEmptyPair(t *testing.T) {
	repo := memory.NewStore()
	seedTable(t, repo, "inventory",
		[]domain.MappingPair{
			{RawHeader: "Host", AssetField: "hostname"},
			{RawHeader: "FQDN", AssetField: "hostname"},
			{RawHeader: "OS", AssetField: "os"},
		},
		map[string]any{"Host": "", "FQDN": "a.example", "OS": "linux"},
		map[string]any{"Host": "b", "FQDN": "b.example"},
	)
	proj, err := NewProjector(repo, testutil.NewTestLogger(t)).Project(context.Background())
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(proj.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(proj.Rows))
	}
	first := proj.Rows[0]
	if first.ID.String() != "1:0" || first.Table != "inventory" {
		t.Fatalf("unexpected row id %q", first.ID)
	}
	if first.Values["hostname"] != "a.example" || first.Values["os"] != "linux" {
		t.Fatalf("unexpected first row %#v", first.Values)
	}
	second := proj.Rows[1].Values
	if second["hostname"] != "b" || second["os"] != "" {
		t.Fatalf("mapped fields should default to empty string: %#v", second)
	}
}

func TestProjectOverrideWinsRegardlessOfMappingOrder(t *testing.T) {
	for _, pairs := range [][]domain.MappingPair{
		{{RawHeader: "A", AssetField: "owner"}, {RawHeader: "B", AssetField: "owner"}},
		{{RawHeader: "B", AssetField: "owner"}, {RawHeader: "A", AssetField: "owner"}},
	} {
		repo := memory.NewStore()
		tableID := seedTable(t, repo, "t", pairs, map[string]any{"A": "alice", "B": "bob"})
		rowID := domain.NewRowID(tableID, "", 0).String()
		mustInsert(t, repo, domain.TablePoolCells, domain.CellOverride{RowID: rowID, Field: "owner", Value: "carol"})

		proj, err := NewProjector(repo, nil).Project(context.Background())
		if err != nil {
			t.Fatalf("project: %v", err)
		}
		if got := proj.Rows[0].Values["owner"]; got != "carol" {
			t.Fatalf("override should win, got %v", got)
		}
	}
}

func TestProjectManualFieldsAndColumnVisibility(t *testing.T) {
	repo := memory.NewStore()
	seedTable(t, repo, "t",
		[]domain.MappingPair{
			{RawHeader: "Host", AssetField: "hostname"},
			{RawHeader: "Serial", AssetField: "serial"},
			{RawHeader: "Rack", AssetField: "rack"},
		},
		map[string]any{"Host": "a", "Serial": ""},
	)
	mustInsert(t, repo, domain.TablePoolFields, domain.FieldSetting{Field: "notes", Manual: true, Editable: true})
	mustInsert(t, repo, domain.TablePoolFields, domain.FieldSetting{Field: "rack", Editable: true})
	mustInsert(t, repo, domain.TablePoolFields, domain.FieldSetting{Field: "ghost"})

	proj, err := NewProjector(repo, nil).Project(context.Background())
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if v, ok := proj.Rows[0].Values["notes"]; !ok || v != "" {
		t.Fatalf("manual field should be present and empty, got %#v", proj.Rows[0].Values)
	}
	wantColumns := []string{"hostname", "rack", "notes"}
	if !reflect.DeepEqual(proj.Columns, wantColumns) {
		t.Fatalf("columns = %v, want %v", proj.Columns, wantColumns)
	}
	wantStats := []FieldStat{
		{Field: "hostname", Count: 1},
		{Field: "serial", Count: 0},
		{Field: "rack", Count: 0},
		{Field: "notes", Count: 0},
		{Field: "ghost", Count: 0},
	}
	if !reflect.DeepEqual(proj.FieldStats, wantStats) {
		t.Fatalf("field stats = %v, want %v", proj.FieldStats, wantStats)
	}
	if len(proj.FieldSettings) != 3 {
		t.Fatalf("expected settings passed through, got %d", len(proj.FieldSettings))
	}
}

func TestProjectSkipsMissingAndArchivedTables(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	repo := memory.NewStore()
	live := seedTable(t, repo, "live", []domain.MappingPair{{RawHeader: "h", AssetField: "host"}}, map[string]any{"h": "x"})
	archived := seedTable(t, repo, "old", []domain.MappingPair{{RawHeader: "h", AssetField: "legacy"}}, map[string]any{"h": "y"})
	if _, err := repo.Update(context.Background(), domain.TableRawTables, archived, domain.Record{"archived": true}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	mustInsert(t, repo, domain.TableRawRows, domain.RawRow{TableID: 99, RowKey: "orphan", Data: map[string]any{"h": "z"}})

	proj, err := NewProjector(repo, logger).Project(context.Background())
	if err != nil {
		t.Fatalf("project must not fail on orphan rows: %v", err)
	}
	if len(proj.Rows) != 1 || proj.Rows[0].TableID != live {
		t.Fatalf("expected only the live row, got %#v", proj.Rows)
	}
	for _, s := range proj.FieldStats {
		if s.Field == "legacy" {
			t.Fatalf("archived table mapping should not contribute fields")
		}
	}
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "missing table") {
		t.Fatalf("expected integrity warning, got %s", buf.String())
	}
}

func TestProjectUsesLatestMapping(t *testing.T) {
	repo := memory.NewStore()
	tableID := seedTable(t, repo, "t", []domain.MappingPair{{RawHeader: "a", AssetField: "old"}}, map[string]any{"a": "1", "b": "2"})
	mustInsert(t, repo, domain.TableRawMappings, domain.RawMapping{TableID: tableID, Pairs: []domain.MappingPair{{RawHeader: "b", AssetField: "new"}}})

	proj, err := NewProjector(repo, nil).Project(context.Background())
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	vals := proj.Rows[0].Values
	if _, ok := vals["old"]; ok || vals["new"] != "2" {
		t.Fatalf("expected latest mapping only, got %#v", vals)
	}
}

func TestRowSatisfiesRuleRow(t *testing.T) {
	var _ rules.Row = Row{}
	r := Row{Values: map[string]any{"os": "Linux"}}
	e := rules.NewEvaluator(nil)
	if !e.Evaluate(rules.Rule{Field: "os", Operator: rules.OpEquals, Value: "linux"}, r) {
		t.Fatalf("pool row should evaluate through rules.Row")
	}
}
