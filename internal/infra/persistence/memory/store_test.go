package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"assetcore/pkg/domain"
)

func TestInsertAllocatesMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for want := int64(1); want <= 3; want++ {
		id, err := s.Insert(ctx, domain.TableGroups, domain.Record{"slug": "g", "id": 99})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if id != want {
			t.Fatalf("expected id %d, got %d", want, id)
		}
	}
	if ok, err := s.Remove(ctx, domain.TableGroups, 3); err != nil || !ok {
		t.Fatalf("remove: ok=%v err=%v", ok, err)
	}
	id, err := s.Insert(ctx, domain.TableGroups, domain.Record{"slug": "h"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 4 {
		t.Fatalf("sequence must not reuse removed ids, got %d", id)
	}
}

func TestSetKeepsIDsAndNeverRewindsSequence(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for i := 0; i < 5; i++ {
		if _, err := s.Insert(ctx, domain.TableUnifiedAssets, domain.Record{"n": i}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	err := s.Set(ctx, domain.TableUnifiedAssets, domain.TableData{Rows: []domain.Record{
		{"n": "a"},
		{"id": 2, "n": "b"},
	}})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	data, err := s.Get(ctx, domain.TableUnifiedAssets)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(data.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(data.Rows))
	}
	if got := data.Rows[0].ID(); got != 6 {
		t.Fatalf("fresh row should get id 6, got %d", got)
	}
	if got := data.Rows[1].ID(); got != 2 {
		t.Fatalf("existing id should be kept, got %d", got)
	}
	if data.Meta.Seq != 6 {
		t.Fatalf("expected seq 6, got %d", data.Meta.Seq)
	}
}

func TestUpdateMergesAndKeepsID(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id, _ := s.Insert(ctx, domain.TablePoolCells, domain.Record{"row_id": "1:a", "field": "os", "value": "linux"})
	ok, err := s.Update(ctx, domain.TablePoolCells, id, domain.Record{"id": 42, "value": "bsd"})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	data, _ := s.Get(ctx, domain.TablePoolCells)
	row := data.Rows[0]
	if row.ID() != id || row["value"] != "bsd" || row["field"] != "os" {
		t.Fatalf("unexpected row after update: %#v", row)
	}
	if ok, err := s.Update(ctx, domain.TablePoolCells, 999, domain.Record{"value": "x"}); err != nil || ok {
		t.Fatalf("missing row update should report false, got ok=%v err=%v", ok, err)
	}
	if ok, err := s.Remove(ctx, domain.TablePoolCells, 999); err != nil || ok {
		t.Fatalf("missing row remove should report false, got ok=%v err=%v", ok, err)
	}
}

func TestGetReturnsDeepCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	fields := map[string]any{"os": "linux", "tags": []any{"a"}}
	if _, err := s.Insert(ctx, domain.TableUnifiedAssets, domain.Record{"fields": fields}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	fields["os"] = "mutated by caller"

	data, _ := s.Get(ctx, domain.TableUnifiedAssets)
	got := data.Rows[0]["fields"].(map[string]any)
	if got["os"] != "linux" {
		t.Fatalf("store aliased caller map: %v", got["os"])
	}
	got["os"] = "mutated by reader"
	got["tags"].([]any)[0] = "z"

	again, _ := s.Get(ctx, domain.TableUnifiedAssets)
	inner := again.Rows[0]["fields"].(map[string]any)
	if inner["os"] != "linux" || inner["tags"].([]any)[0] != "a" {
		t.Fatalf("reader mutation leaked into store: %#v", inner)
	}
}

func TestGetUnknownTableIsEmpty(t *testing.T) {
	data, err := NewStore().Get(context.Background(), domain.TableRawRows)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data.Rows == nil || len(data.Rows) != 0 {
		t.Fatalf("expected empty non-nil rows, got %#v", data.Rows)
	}
}

func TestCommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if _, err := s.Insert(ctx, domain.TableGroups, domain.Record{"slug": "ok"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	boom := errors.New("disk full")
	var commits int
	s.SetCommitHook(func(context.Context, domain.Table, domain.TableData) error {
		commits++
		return boom
	})
	if _, err := s.Insert(ctx, domain.TableGroups, domain.Record{"slug": "lost"}); !errors.Is(err, boom) {
		t.Fatalf("expected commit error, got %v", err)
	}
	s.SetCommitHook(nil)
	data, _ := s.Get(ctx, domain.TableGroups)
	if len(data.Rows) != 1 || data.Meta.Seq != 1 {
		t.Fatalf("failed commit should leave table untouched, got %d rows seq %d", len(data.Rows), data.Meta.Seq)
	}
	if commits != 1 {
		t.Fatalf("expected one commit attempt, got %d", commits)
	}
}

func TestCommitHookSkippedWhenNothingChanges(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	var commits int
	s.SetCommitHook(func(context.Context, domain.Table, domain.TableData) error {
		commits++
		return nil
	})
	if ok, _ := s.Remove(ctx, domain.TableGroups, 1); ok {
		t.Fatalf("remove on empty table should report false")
	}
	if commits != 0 {
		t.Fatalf("no-op remove must not commit, got %d commits", commits)
	}
}

func TestMetaUpdatedAtUsesClock(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return fixed })
	_, _ = s.Insert(ctx, domain.TableGroups, domain.Record{"slug": "a"})
	data, _ := s.Get(ctx, domain.TableGroups)
	if !data.Meta.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected updated_at %v, got %v", fixed, data.Meta.UpdatedAt)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_, _ = s.Insert(ctx, domain.TableGroups, domain.Record{"slug": "a"})
	_, _ = s.Insert(ctx, domain.TableGroups, domain.Record{"slug": "b"})
	_, _ = s.Remove(ctx, domain.TableGroups, 2)

	other := NewStore()
	other.ImportState(s.ExportState())
	id, err := other.Insert(ctx, domain.TableGroups, domain.Record{"slug": "c"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 3 {
		t.Fatalf("imported sequence should continue at 3, got %d", id)
	}
	if names := other.TableNames(); len(names) != 1 || names[0] != domain.TableGroups {
		t.Fatalf("unexpected table names %v", names)
	}
}

func TestConcurrentInsertsAllocateDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	const workers = 16
	ids := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Insert(ctx, domain.TablePoolCells, domain.Record{"value": "x"})
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[int64]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d ids, got %d", workers, len(seen))
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStore().Insert(ctx, domain.TableGroups, domain.Record{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
