// Package memory provides an in-memory implementation of the table
// repository used for tests and ephemeral environments. The durable
// backends embed it and persist each table through a commit hook.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"assetcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the repository contract.
var _ domain.Repository = (*Store)(nil)

// CommitFunc receives the full content of a table after a mutation, while
// the table is still locked. Returning an error rolls the mutation back.
type CommitFunc func(ctx context.Context, name domain.Table, data domain.TableData) error

type table struct {
	mu   sync.Mutex
	rows []domain.Record
	meta domain.Meta
}

// Store keeps every table in process memory. Each table is serialised by
// its own mutex, so writers to different tables never block each other and
// writers to the same table never interleave.
type Store struct {
	mu     sync.RWMutex
	tables map[domain.Table]*table
	nowFn  func() time.Time
	commit CommitFunc
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		tables: make(map[domain.Table]*table),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetCommitHook installs fn as the post-mutation hook.
func (s *Store) SetCommitHook(fn CommitFunc) {
	s.mu.Lock()
	s.commit = fn
	s.mu.Unlock()
}

// SetNowFunc overrides the clock used for table metadata.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

func (s *Store) tableFor(name domain.Table, create bool) *table {
	s.mu.RLock()
	t, ok := s.tables[name]
	s.mu.RUnlock()
	if ok || !create {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.tables[name]; ok {
		return t
	}
	t = &table{}
	s.tables[name] = t
	return t
}

func (s *Store) hooks() (CommitFunc, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commit, s.nowFn()
}

// Get returns a deep copy of the table; unknown tables are empty.
func (s *Store) Get(ctx context.Context, name domain.Table) (domain.TableData, error) {
	if err := ctx.Err(); err != nil {
		return domain.TableData{}, err
	}
	t := s.tableFor(name, false)
	if t == nil {
		return domain.TableData{Rows: []domain.Record{}}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(), nil
}

// Set replaces the whole table, keeping ids already present on rows and
// allocating fresh ones for the rest. The sequence never moves backwards.
func (s *Store) Set(ctx context.Context, name domain.Table, data domain.TableData) error {
	rows := make([]domain.Record, 0, len(data.Rows))
	for _, r := range data.Rows {
		rec, err := normalise(r)
		if err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
		rows = append(rows, rec)
	}
	return s.mutate(ctx, name, func(t *table) error {
		for _, rec := range rows {
			id := rec.ID()
			if id <= 0 {
				t.meta.Seq++
				id = t.meta.Seq
			} else if id > t.meta.Seq {
				t.meta.Seq = id
			}
			rec["id"] = id
		}
		t.rows = rows
		return nil
	})
}

// Insert appends row with a freshly allocated id.
func (s *Store) Insert(ctx context.Context, name domain.Table, row domain.Record) (int64, error) {
	rec, err := normalise(row)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", name, err)
	}
	var id int64
	err = s.mutate(ctx, name, func(t *table) error {
		t.meta.Seq++
		id = t.meta.Seq
		rec["id"] = id
		t.rows = append(t.rows, rec)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update merges patch into the row with id. The id itself is immutable.
func (s *Store) Update(ctx context.Context, name domain.Table, id int64, patch domain.Record) (bool, error) {
	fields, err := normalise(patch)
	if err != nil {
		return false, fmt.Errorf("update %s/%d: %w", name, id, err)
	}
	delete(fields, "id")
	found := false
	err = s.mutate(ctx, name, func(t *table) error {
		idx := t.indexOf(id)
		if idx < 0 {
			return errNoChange
		}
		found = true
		for k, v := range fields {
			t.rows[idx][k] = v
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Remove deletes the row with id.
func (s *Store) Remove(ctx context.Context, name domain.Table, id int64) (bool, error) {
	found := false
	err := s.mutate(ctx, name, func(t *table) error {
		idx := t.indexOf(id)
		if idx < 0 {
			return errNoChange
		}
		found = true
		t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// errNoChange aborts a mutation that found nothing to change.
var errNoChange = errors.New("no change")

func (s *Store) mutate(ctx context.Context, name domain.Table, fn func(t *table) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	commit, now := s.hooks()
	t := s.tableFor(name, true)
	t.mu.Lock()
	defer t.mu.Unlock()

	var before domain.TableData
	if commit != nil {
		before = t.snapshot()
	}
	if err := fn(t); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		if commit != nil {
			t.restore(before)
		}
		return err
	}
	t.meta.UpdatedAt = now
	if commit == nil {
		return nil
	}
	if err := commit(ctx, name, t.snapshot()); err != nil {
		t.restore(before)
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

func (t *table) indexOf(id int64) int {
	for i, r := range t.rows {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

func (t *table) snapshot() domain.TableData {
	rows := make([]domain.Record, len(t.rows))
	for i, r := range t.rows {
		rows[i] = cloneRecord(r)
	}
	return domain.TableData{Rows: rows, Meta: t.meta}
}

func (t *table) restore(data domain.TableData) {
	t.rows = data.Rows
	t.meta = data.Meta
}

// ExportState returns a deep copy of every table.
func (s *Store) ExportState() map[domain.Table]domain.TableData {
	s.mu.RLock()
	names := make([]domain.Table, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	s.mu.RUnlock()

	out := make(map[domain.Table]domain.TableData, len(names))
	for _, name := range names {
		t := s.tableFor(name, false)
		t.mu.Lock()
		out[name] = t.snapshot()
		t.mu.Unlock()
	}
	return out
}

// ImportState replaces the store contents without invoking the commit hook.
func (s *Store) ImportState(state map[domain.Table]domain.TableData) {
	tables := make(map[domain.Table]*table, len(state))
	for name, data := range state {
		t := &table{meta: data.Meta}
		for _, r := range data.Rows {
			rec := cloneRecord(r)
			if id := rec.ID(); id > t.meta.Seq {
				t.meta.Seq = id
			}
			t.rows = append(t.rows, rec)
		}
		tables[name] = t
	}
	s.mu.Lock()
	s.tables = tables
	s.mu.Unlock()
}

// TableNames lists the tables currently held, sorted.
func (s *Store) TableNames() []domain.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Table, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// normalise converts a caller record into its JSON shape so that every
// backend stores identical value types and the caller keeps no aliases.
func normalise(r domain.Record) (domain.Record, error) {
	if r == nil {
		return domain.Record{}, nil
	}
	return domain.EncodeRecord(map[string]any(r))
}

func cloneRecord(r domain.Record) domain.Record {
	out := make(domain.Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = cloneValue(el)
		}
		return out
	case domain.Record:
		return cloneRecord(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = cloneValue(el)
		}
		return out
	default:
		return v
	}
}
