package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"assetcore/internal/ingest"
	"assetcore/internal/manipulator"
	"assetcore/internal/observability"
	"assetcore/internal/rules"
	"assetcore/internal/selector"
	"assetcore/pkg/domain"
	logtest "assetcore/testutil"
)

func ruleDef(t *testing.T, field string, op rules.Operator, value string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(rules.Group{Mode: rules.ModeAll, Children: []rules.Node{
		rules.Rule{Field: field, Operator: op, Value: value},
	}})
	if err != nil {
		t.Fatalf("marshal rule: %v", err)
	}
	return raw
}

func newTestService(t *testing.T) (*Service, *observability.Recorder) {
	t.Helper()
	rec := observability.NewRecorder()
	svc := NewService(NewMemoryStore(), WithLogger(logtest.NewTestLogger(t)), WithRecorder(rec))
	return svc, rec
}

func TestServiceEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t)

	table, err := svc.ImportRaw(ctx, ingest.RawImport{
		Title:   "inventory",
		Headers: []string{"Host", "Env"},
		Rows: []map[string]any{
			{"Host": "web-01", "Env": "prod"},
			{"Host": "web-02", "Env": "dev"},
			{"Host": "db-01", "Env": "prod"},
		},
		Pairs: []domain.MappingPair{{RawHeader: "Host", AssetField: "hostname"}, {RawHeader: "Env", AssetField: "env"}},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	m, fx, err := svc.CreateManipulator(ctx, manipulator.Input{
		Title: "prod tier", FieldName: "tier", FieldValue: "gold",
		Definition: ruleDef(t, "env", rules.OpEquals, "prod"),
	})
	if err != nil {
		t.Fatalf("create manipulator: %v", err)
	}
	if fx.Matched != 2 || len(m.ManagedRowIDs) != 2 {
		t.Fatalf("unexpected effects %+v managed %v", fx, m.ManagedRowIDs)
	}

	if _, err := svc.CreateGroup(ctx, "", "Web"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := svc.CreateSelector(ctx, "web", selector.Input{Name: "web hosts", Definition: ruleDef(t, "hostname", rules.OpRegex, "^web")}); err != nil {
		t.Fatalf("create selector: %v", err)
	}
	cov, err := svc.Coverage(ctx)
	if err != nil {
		t.Fatalf("coverage: %v", err)
	}
	if cov.TotalAssets != 3 || cov.UnmatchedCount != 1 {
		t.Fatalf("unexpected coverage %+v", cov)
	}

	rep, info, err := svc.GenerateReport(ctx)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if rep.UnmatchedAssets[0].Values["tier"] != "gold" || info.Key == "" {
		t.Fatalf("report should carry manipulated values: %+v", rep.UnmatchedAssets)
	}
	latest, err := svc.LatestReport(ctx)
	if err != nil || latest.GeneratedAt == nil {
		t.Fatalf("latest: %+v (%v)", latest, err)
	}

	if _, err := svc.ArchiveRaw(ctx, table.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	proj, err := svc.Project(ctx)
	if err != nil || len(proj.Rows) != 0 {
		t.Fatalf("archived rows should leave the pool: %v (%v)", proj.Rows, err)
	}

	gauge := `
# HELP assetcore_unmatched_assets Pool rows no group covered in the last coverage calculation.
# TYPE assetcore_unmatched_assets gauge
assetcore_unmatched_assets 1
`
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(gauge), "assetcore_unmatched_assets"); err != nil {
		t.Fatalf("unmatched gauge: %v", err)
	}
}

func TestServiceRecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	svc, rec := newTestService(t)

	if _, err := svc.CreateGroup(ctx, "", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.GroupOverview(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	expected := `
# HELP assetcore_operations_total Engine operations by outcome.
# TYPE assetcore_operations_total counter
assetcore_operations_total{operation="group.create",status="validation"} 1
assetcore_operations_total{operation="group.overview",status="not_found"} 1
assetcore_operations_total{operation="rebuild",status="ok"} 1
`
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "assetcore_operations_total"); err != nil {
		t.Fatalf("operation counters: %v", err)
	}
}

func TestServiceUnifiesSources(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	a, err := svc.RegisterSource(ctx, ingest.SourceInput{Name: "cmdb", Columns: []string{"Host", "Owner"},
		Rows: []map[string]any{{"Host": "web-server-01", "Owner": ""}}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	b, err := svc.RegisterSource(ctx, ingest.SourceInput{Name: "scan", Columns: []string{"hostname", "owner"},
		Rows: []map[string]any{{"hostname": "web-server-02", "owner": "ops"}}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.SaveMappings(ctx, a.ID, []ingest.ColumnPair{{SourceCol: "Host", UnifiedCol: "hostname"}, {SourceCol: "Owner", UnifiedCol: "owner"}}); err != nil {
		t.Fatalf("mappings: %v", err)
	}
	if _, err := svc.DeclareSchema(ctx, []string{"hostname", "owner"}); err != nil {
		t.Fatalf("schema: %v", err)
	}
	res, err := svc.Rebuild(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if res.Assets != 1 {
		t.Fatalf("expected one merged asset, got %+v", res)
	}
	assets, err := svc.ListAssets(ctx)
	if err != nil || len(assets) != 1 {
		t.Fatalf("list assets: %v (%v)", assets, err)
	}
	if assets[0].Fields["owner"] != "ops" || len(assets[0].SourceIDs) != 2 || assets[0].SourceIDs[1] != b.ID {
		t.Fatalf("unexpected asset %+v", assets[0])
	}
}
