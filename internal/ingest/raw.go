package ingest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"assetcore/internal/pool"
	"assetcore/pkg/domain"
)

// RawImport is one spreadsheet-derived document. A nil Pairs maps every
// header onto a pool field of the same name.
type RawImport struct {
	Title   string
	Headers []string
	Rows    []map[string]any
	Pairs   []domain.MappingPair
}

// RawDetail is a raw table with its rows and active mapping.
type RawDetail struct {
	Table   domain.RawTable      `json:"table"`
	Rows    []domain.RawRow      `json:"rows"`
	Mapping []domain.MappingPair `json:"mapping"`
}

// ImportRaw stores a raw table, its rows under fresh keys and the initial
// mapping.
func (s *Service) ImportRaw(ctx context.Context, in RawImport) (domain.RawTable, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.RawTable{}, domain.Required("title")
	}
	headers := trimAll(in.Headers)
	pairs := in.Pairs
	if pairs == nil {
		for _, h := range headers {
			if h != "" {
				pairs = append(pairs, domain.MappingPair{RawHeader: h, AssetField: h})
			}
		}
	}
	pairs, err := cleanPairs(headers, pairs)
	if err != nil {
		return domain.RawTable{}, err
	}

	table := domain.RawTable{Title: title, Headers: headers, CreatedAt: s.now()}
	id, err := domain.InsertEntity(ctx, s.repo, domain.TableRawTables, table)
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("insert raw table: %w", err)
	}
	table.ID = id
	for i, data := range in.Rows {
		row := domain.RawRow{TableID: id, RowKey: s.newKey(), RowIndex: i, Data: data}
		if _, err := domain.InsertEntity(ctx, s.repo, domain.TableRawRows, row); err != nil {
			return domain.RawTable{}, fmt.Errorf("insert raw row %d: %w", i, err)
		}
	}
	if _, err := domain.InsertEntity(ctx, s.repo, domain.TableRawMappings, domain.RawMapping{TableID: id, Pairs: pairs}); err != nil {
		return domain.RawTable{}, fmt.Errorf("insert raw mapping: %w", err)
	}
	s.logger.InfoContext(ctx, "raw table imported", "table_id", id, "title", title, "rows", len(in.Rows))
	return table, nil
}

// RawImport turns a decoded CSV document into a raw table import.
func (sh Sheet) RawImport(title string, pairs []domain.MappingPair) RawImport {
	return RawImport{Title: title, Headers: sh.Headers, Rows: sh.Records(), Pairs: pairs}
}

// cleanPairs trims pairs and checks that every header exists. A header may
// feed several fields and several headers may feed one field.
func cleanPairs(headers []string, pairs []domain.MappingPair) ([]domain.MappingPair, error) {
	out := make([]domain.MappingPair, 0, len(pairs))
	for _, p := range pairs {
		p.RawHeader, p.AssetField = strings.TrimSpace(p.RawHeader), strings.TrimSpace(p.AssetField)
		if p.RawHeader == "" {
			return nil, domain.Required("rawHeader")
		}
		if p.AssetField == "" {
			return nil, domain.Required("assetField")
		}
		if !slices.Contains(headers, p.RawHeader) {
			return nil, domain.ValidationError{Field: "rawHeader", Message: fmt.Sprintf("unknown header %q", p.RawHeader)}
		}
		out = append(out, p)
	}
	return out, nil
}

// ListRaw returns raw tables in id order, optionally including archived ones.
func (s *Service) ListRaw(ctx context.Context, includeArchived bool) ([]domain.RawTable, error) {
	all, err := domain.Load[domain.RawTable](ctx, s.repo, domain.TableRawTables)
	if err != nil {
		return nil, err
	}
	if includeArchived {
		return all, nil
	}
	return slices.DeleteFunc(all, func(t domain.RawTable) bool { return t.Archived }), nil
}

func (s *Service) rawTable(ctx context.Context, id int64) (domain.RawTable, error) {
	all, err := s.ListRaw(ctx, true)
	if err != nil {
		return domain.RawTable{}, err
	}
	for _, t := range all {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.RawTable{}, domain.NotFoundError{Entity: "raw table", ID: idString(id)}
}

// GetRaw returns a raw table with its rows in row order and active mapping.
func (s *Service) GetRaw(ctx context.Context, id int64) (RawDetail, error) {
	table, err := s.rawTable(ctx, id)
	if err != nil {
		return RawDetail{}, err
	}
	rows, err := s.rawRows(ctx, id)
	if err != nil {
		return RawDetail{}, err
	}
	mappings, err := domain.Load[domain.RawMapping](ctx, s.repo, domain.TableRawMappings)
	if err != nil {
		return RawDetail{}, err
	}
	pairs := pool.ActiveMappings(mappings)[id]
	if pairs == nil {
		pairs = []domain.MappingPair{}
	}
	return RawDetail{Table: table, Rows: rows, Mapping: pairs}, nil
}

func (s *Service) rawRows(ctx context.Context, tableID int64) ([]domain.RawRow, error) {
	all, err := domain.Load[domain.RawRow](ctx, s.repo, domain.TableRawRows)
	if err != nil {
		return nil, err
	}
	rows := slices.DeleteFunc(all, func(r domain.RawRow) bool { return r.TableID != tableID })
	slices.SortStableFunc(rows, func(a, b domain.RawRow) int { return a.RowIndex - b.RowIndex })
	return rows, nil
}

// ReplaceMapping stores a new active mapping for a raw table. Earlier
// mapping records are kept as history.
func (s *Service) ReplaceMapping(ctx context.Context, tableID int64, pairs []domain.MappingPair) ([]domain.MappingPair, error) {
	table, err := s.rawTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	pairs, err = cleanPairs(table.Headers, pairs)
	if err != nil {
		return nil, err
	}
	if _, err := domain.InsertEntity(ctx, s.repo, domain.TableRawMappings, domain.RawMapping{TableID: tableID, Pairs: pairs}); err != nil {
		return nil, fmt.Errorf("insert raw mapping: %w", err)
	}
	s.logger.InfoContext(ctx, "raw mapping replaced", "table_id", tableID, "pairs", len(pairs))
	return pairs, nil
}

// EditRow merges data into the raw data of one row. The row is addressed
// by its key, or by its index when it has none.
func (s *Service) EditRow(ctx context.Context, tableID int64, rowKey string, data map[string]any) (domain.RawRow, error) {
	if _, err := s.rawTable(ctx, tableID); err != nil {
		return domain.RawRow{}, err
	}
	rows, err := s.rawRows(ctx, tableID)
	if err != nil {
		return domain.RawRow{}, err
	}
	for _, r := range rows {
		if domain.NewRowID(tableID, r.RowKey, r.RowIndex).RowKey != rowKey {
			continue
		}
		merged := make(map[string]any, len(r.Data)+len(data))
		maps.Copy(merged, r.Data)
		maps.Copy(merged, data)
		if _, err := s.repo.Update(ctx, domain.TableRawRows, r.ID, domain.Record{"data": merged}); err != nil {
			return domain.RawRow{}, fmt.Errorf("update raw row: %w", err)
		}
		r.Data = merged
		return r, nil
	}
	return domain.RawRow{}, domain.NotFoundError{Entity: "raw row", ID: domain.RowID{TableID: tableID, RowKey: rowKey}.String()}
}

// Archive soft-deletes a raw table; its rows leave the pool. Archiving an
// archived table is a no-op.
func (s *Service) Archive(ctx context.Context, tableID int64) (domain.RawTable, error) {
	table, err := s.rawTable(ctx, tableID)
	if err != nil {
		return domain.RawTable{}, err
	}
	if table.Archived {
		return table, nil
	}
	at := s.now()
	table.Archived, table.ArchivedAt = true, &at
	if _, err := s.repo.Update(ctx, domain.TableRawTables, tableID, domain.Record{"archived": true, "archived_at": at}); err != nil {
		return domain.RawTable{}, fmt.Errorf("archive raw table: %w", err)
	}
	s.logger.InfoContext(ctx, "raw table archived", "table_id", tableID)
	return table, nil
}
