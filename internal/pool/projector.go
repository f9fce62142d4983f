// Package pool projects raw table rows, their active column mappings, the
// declared manual fields and the per-cell overrides into the logical asset
// pool consumed by manipulators, selectors and reports.
package pool

import (
	"context"
	"log/slog"
	"sort"

	"assetcore/pkg/domain"
)

// Row is one projected pool row.
type Row struct {
	ID      domain.RowID   `json:"id"`
	TableID int64          `json:"table_id"`
	Table   string         `json:"table"`
	Values  map[string]any `json:"values"`
}

// Lookup implements rules.Row.
func (r Row) Lookup(field string) (any, bool) {
	v, ok := r.Values[field]
	return v, ok
}

// FieldStat is the live non-empty value count of one known field.
type FieldStat struct {
	Field string `json:"field"`
	Count int    `json:"count"`
}

// Projection is the full pool as of one Project call.
type Projection struct {
	Columns       []string              `json:"columns"`
	Rows          []Row                 `json:"rows"`
	FieldStats    []FieldStat           `json:"fieldStats"`
	FieldSettings []domain.FieldSetting `json:"fieldSettings"`
}

// Row returns the row with id.
func (p Projection) Row(id domain.RowID) (Row, bool) {
	for _, r := range p.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// Projector derives the pool from the repository. It holds no state.
type Projector struct {
	repo   domain.Repository
	logger *slog.Logger
}

// NewProjector returns a Projector reading repo.
func NewProjector(repo domain.Repository, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{repo: repo, logger: logger}
}

type fieldSet struct {
	order []string
	seen  map[string]bool
}

func (s *fieldSet) add(field string) {
	if field == "" || s.seen[field] {
		return
	}
	s.seen[field] = true
	s.order = append(s.order, field)
}

// Project builds the pool. Rows of archived tables are excluded; rows whose
// table no longer exists are skipped with a warning.
func (p *Projector) Project(ctx context.Context) (Projection, error) {
	tables, err := domain.Load[domain.RawTable](ctx, p.repo, domain.TableRawTables)
	if err != nil {
		return Projection{}, err
	}
	rawRows, err := domain.Load[domain.RawRow](ctx, p.repo, domain.TableRawRows)
	if err != nil {
		return Projection{}, err
	}
	mappings, err := domain.Load[domain.RawMapping](ctx, p.repo, domain.TableRawMappings)
	if err != nil {
		return Projection{}, err
	}
	settings, err := domain.Load[domain.FieldSetting](ctx, p.repo, domain.TablePoolFields)
	if err != nil {
		return Projection{}, err
	}
	cells, err := domain.Load[domain.CellOverride](ctx, p.repo, domain.TablePoolCells)
	if err != nil {
		return Projection{}, err
	}

	byID := make(map[int64]domain.RawTable, len(tables))
	for _, t := range tables {
		byID[t.ID] = t
	}
	active := ActiveMappings(mappings)

	known := fieldSet{seen: make(map[string]bool)}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	for _, t := range tables {
		if t.Archived {
			continue
		}
		for _, pair := range active[t.ID] {
			known.add(pair.AssetField)
		}
	}
	var manual []string
	flags := make(map[string]domain.FieldSetting, len(settings))
	for _, s := range settings {
		known.add(s.Field)
		flags[s.Field] = s
		if s.Manual {
			manual = append(manual, s.Field)
		}
	}
	overrides := make(map[string]map[string]string)
	for _, c := range cells {
		known.add(c.Field)
		if overrides[c.RowID] == nil {
			overrides[c.RowID] = make(map[string]string)
		}
		overrides[c.RowID][c.Field] = c.Value
	}

	sort.SliceStable(rawRows, func(i, j int) bool {
		if rawRows[i].TableID != rawRows[j].TableID {
			return rawRows[i].TableID < rawRows[j].TableID
		}
		return rawRows[i].RowIndex < rawRows[j].RowIndex
	})

	rows := make([]Row, 0, len(rawRows))
	for _, raw := range rawRows {
		table, ok := byID[raw.TableID]
		if !ok {
			p.logger.WarnContext(ctx, "raw row references missing table, skipped",
				"row", raw.ID, "table", raw.TableID)
			continue
		}
		if table.Archived {
			p.logger.DebugContext(ctx, "raw row of archived table excluded", "row", raw.ID, "table", raw.TableID)
			continue
		}
		id := domain.NewRowID(table.ID, raw.RowKey, raw.RowIndex)
		values := fill(active[table.ID], raw.Data)
		for _, field := range manual {
			if _, ok := values[field]; !ok {
				values[field] = ""
			}
		}
		for field, v := range overrides[id.String()] {
			values[field] = v
		}
		rows = append(rows, Row{ID: id, TableID: table.ID, Table: table.Title, Values: values})
	}

	stats := make([]FieldStat, 0, len(known.order))
	columns := make([]string, 0, len(known.order))
	for _, field := range known.order {
		count := 0
		for _, r := range rows {
			if domain.HasValue(r.Values[field]) {
				count++
			}
		}
		stats = append(stats, FieldStat{Field: field, Count: count})
		s := flags[field]
		if count > 0 || s.Editable || s.Manual {
			columns = append(columns, field)
		}
	}
	if settings == nil {
		settings = []domain.FieldSetting{}
	}
	return Projection{Columns: columns, Rows: rows, FieldStats: stats, FieldSettings: settings}, nil
}

// fill initialises every mapped field to "" and assigns the value of the
// first pair, in declared order, whose raw header holds a value.
func fill(pairs []domain.MappingPair, data map[string]any) map[string]any {
	merge := domain.NewFirstNonEmpty()
	for _, pair := range pairs {
		if pair.AssetField == "" {
			continue
		}
		merge.Declare(pair.AssetField, "")
		merge.Offer(pair.AssetField, data[pair.RawHeader])
	}
	return merge.Result()
}

// ActiveMappings returns the active pair list per raw table: the mapping
// record with the highest id wins.
func ActiveMappings(mappings []domain.RawMapping) map[int64][]domain.MappingPair {
	latest := make(map[int64]domain.RawMapping, len(mappings))
	for _, m := range mappings {
		if cur, ok := latest[m.TableID]; !ok || m.ID > cur.ID {
			latest[m.TableID] = m
		}
	}
	out := make(map[int64][]domain.MappingPair, len(latest))
	for tableID, m := range latest {
		out[tableID] = m.Pairs
	}
	return out
}
