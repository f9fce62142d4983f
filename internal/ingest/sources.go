package ingest

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"assetcore/pkg/domain"
)

// SourceInput describes one uploaded source table. Columns carries the
// header order; rows keep every key they are given.
type SourceInput struct {
	Name    string
	Columns []string
	Rows    []map[string]any
}

// RegisterSource stores a source and its rows.
func (s *Service) RegisterSource(ctx context.Context, in SourceInput) (domain.Source, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Source{}, domain.Required("name")
	}
	src := domain.Source{Name: name, Columns: trimAll(in.Columns), CreatedAt: s.now()}
	id, err := domain.InsertEntity(ctx, s.repo, domain.TableSources, src)
	if err != nil {
		return domain.Source{}, fmt.Errorf("insert source: %w", err)
	}
	src.ID = id
	for i, data := range in.Rows {
		row := domain.SourceRow{SourceID: id, RowIndex: i, Data: data}
		if _, err := domain.InsertEntity(ctx, s.repo, domain.TableSourceRows, row); err != nil {
			return domain.Source{}, fmt.Errorf("insert source row %d: %w", i, err)
		}
	}
	s.logger.InfoContext(ctx, "source registered", "source_id", id, "name", name, "rows", len(in.Rows))
	return src, nil
}

// SourceInput turns a decoded CSV document into a source registration.
func (sh Sheet) SourceInput(name string) SourceInput {
	return SourceInput{Name: name, Columns: sh.Headers, Rows: sh.Records()}
}

// ListSources returns every source in id order.
func (s *Service) ListSources(ctx context.Context) ([]domain.Source, error) {
	return domain.Load[domain.Source](ctx, s.repo, domain.TableSources)
}

func (s *Service) source(ctx context.Context, id int64) (domain.Source, error) {
	sources, err := s.ListSources(ctx)
	if err != nil {
		return domain.Source{}, err
	}
	for _, src := range sources {
		if src.ID == id {
			return src, nil
		}
	}
	return domain.Source{}, domain.NotFoundError{Entity: "source", ID: idString(id)}
}

// RemoveSource deletes a source together with its rows and mappings.
func (s *Service) RemoveSource(ctx context.Context, id int64) error {
	ok, err := s.repo.Remove(ctx, domain.TableSources, id)
	if err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	if !ok {
		return domain.NotFoundError{Entity: "source", ID: idString(id)}
	}
	bySource := func(rec domain.Record) bool { return domain.AsInt64(rec["source_id"]) == id }
	rows, err := s.removeWhere(ctx, domain.TableSourceRows, bySource)
	if err != nil {
		return err
	}
	if _, err := s.removeWhere(ctx, domain.TableMappings, bySource); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "source removed", "source_id", id, "rows", rows)
	return nil
}

// ColumnPair maps one source column to a unified column.
type ColumnPair struct {
	SourceCol  string `json:"source_col"`
	UnifiedCol string `json:"unified_col"`
}

// SaveMappings replaces the column mappings of a source. Pairs with a blank
// unified column are dropped, which unmaps the source column.
func (s *Service) SaveMappings(ctx context.Context, sourceID int64, pairs []ColumnPair) ([]domain.ColumnMapping, error) {
	if _, err := s.source(ctx, sourceID); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(pairs))
	var next []domain.ColumnMapping
	for _, p := range pairs {
		col, unified := strings.TrimSpace(p.SourceCol), strings.TrimSpace(p.UnifiedCol)
		if col == "" {
			return nil, domain.Required("source_col")
		}
		if seen[col] {
			return nil, domain.ValidationError{Field: "source_col", Message: fmt.Sprintf("%q mapped twice", col)}
		}
		seen[col] = true
		if unified == "" {
			continue
		}
		next = append(next, domain.ColumnMapping{SourceID: sourceID, SourceCol: col, UnifiedCol: unified})
	}

	data, err := s.repo.Get(ctx, domain.TableMappings)
	if err != nil {
		return nil, fmt.Errorf("get mappings: %w", err)
	}
	rows := slices.DeleteFunc(data.Rows, func(rec domain.Record) bool {
		return domain.AsInt64(rec["source_id"]) == sourceID
	})
	for _, m := range next {
		rec, err := domain.EncodeRecord(m)
		if err != nil {
			return nil, err
		}
		delete(rec, "id")
		rows = append(rows, rec)
	}
	data.Rows = rows
	if err := s.repo.Set(ctx, domain.TableMappings, data); err != nil {
		return nil, fmt.Errorf("set mappings: %w", err)
	}
	return s.Mappings(ctx, sourceID)
}

// Mappings returns the column mappings of one source.
func (s *Service) Mappings(ctx context.Context, sourceID int64) ([]domain.ColumnMapping, error) {
	all, err := domain.Load[domain.ColumnMapping](ctx, s.repo, domain.TableMappings)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ColumnMapping, 0, len(all))
	for _, m := range all {
		if m.SourceID == sourceID {
			out = append(out, m)
		}
	}
	return out, nil
}

// DeclareSchema replaces the unified schema with columns in order.
func (s *Service) DeclareSchema(ctx context.Context, columns []string) ([]domain.SchemaColumn, error) {
	seen := make(map[string]bool, len(columns))
	data := domain.TableData{Rows: []domain.Record{}}
	for i, c := range trimAll(columns) {
		if c == "" {
			return nil, domain.Required("column")
		}
		if seen[c] {
			return nil, domain.ValidationError{Field: "column", Message: fmt.Sprintf("%q declared twice", c)}
		}
		seen[c] = true
		rec, err := domain.EncodeRecord(domain.SchemaColumn{Column: c, Position: i})
		if err != nil {
			return nil, err
		}
		delete(rec, "id")
		data.Rows = append(data.Rows, rec)
	}
	if err := s.repo.Set(ctx, domain.TableSchema, data); err != nil {
		return nil, fmt.Errorf("set schema: %w", err)
	}
	return domain.Load[domain.SchemaColumn](ctx, s.repo, domain.TableSchema)
}
