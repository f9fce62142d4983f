// Package domain defines the asset unification model shared by the engines
// and the persistence backends: typed entities, the composite pool row key,
// the error taxonomy and the narrow table repository contract.
package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Table names a logical table held by a Repository.
type Table string

const (
	TableSources        Table = "sources"
	TableSourceRows     Table = "source_rows"
	TableSchema         Table = "schema"
	TableMappings       Table = "mappings"
	TableUnifiedAssets  Table = "unified_assets"
	TableRawTables      Table = "raw_tables"
	TableRawRows        Table = "raw_rows"
	TableRawMappings    Table = "raw_mappings"
	TablePoolFields     Table = "asset_pool_fields"
	TablePoolCells      Table = "asset_pool_cells"
	TableManipulators   Table = "manipulators"
	TableGroupSelectors Table = "group_asset_selectors"
	TableGroups         Table = "groups"
)

// Tables lists every table the engines read or write.
var Tables = []Table{
	TableSources, TableSourceRows, TableSchema, TableMappings, TableUnifiedAssets,
	TableRawTables, TableRawRows, TableRawMappings, TablePoolFields, TablePoolCells,
	TableManipulators, TableGroupSelectors, TableGroups,
}

// Record is one stored row. Every persisted record carries an integer "id".
type Record map[string]any

// ID returns the record identifier, or 0 when absent or malformed.
func (r Record) ID() int64 {
	return AsInt64(r["id"])
}

// Meta holds per-table bookkeeping owned by the repository.
type Meta struct {
	Seq       int64     `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableData is the full content of a table.
type TableData struct {
	Rows []Record `json:"rows"`
	Meta Meta     `json:"meta"`
}

// Repository is the key/row CRUD contract consumed by the engines. Ids are
// allocated by the repository from a monotonic per-table sequence; callers
// never assign them.
type Repository interface {
	// Get returns a deep copy of the table; unknown tables are empty.
	Get(ctx context.Context, table Table) (TableData, error)
	// Set replaces the whole table. Rows without an id receive fresh ones.
	Set(ctx context.Context, table Table, data TableData) error
	// Insert appends a row and returns its allocated id.
	Insert(ctx context.Context, table Table, row Record) (int64, error)
	// Update merges patch into the row with id and reports whether it existed.
	Update(ctx context.Context, table Table, id int64, patch Record) (bool, error)
	// Remove deletes the row with id and reports whether it existed.
	Remove(ctx context.Context, table Table, id int64) (bool, error)
}

// AsInt64 converts the numeric shapes produced by JSON decoding and Go
// callers into an int64.
func AsInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return i
	default:
		return 0
	}
}

// EncodeRecord converts a typed entity into a Record through its JSON form.
func EncodeRecord(v any) (Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, nil
}

// DecodeRecord converts a Record into a typed entity through its JSON form.
func DecodeRecord[T any](rec Record) (T, error) {
	var out T
	raw, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}

// DecodeRecords decodes every row of data in order.
func DecodeRecords[T any](data TableData) ([]T, error) {
	out := make([]T, 0, len(data.Rows))
	for _, rec := range data.Rows {
		v, err := DecodeRecord[T](rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rec.ID(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Load reads a table and decodes it into typed entities.
func Load[T any](ctx context.Context, repo Repository, table Table) ([]T, error) {
	data, err := repo.Get(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	out, err := DecodeRecords[T](data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}
	return out, nil
}

// InsertEntity encodes v and inserts it into table.
func InsertEntity(ctx context.Context, repo Repository, table Table, v any) (int64, error) {
	rec, err := EncodeRecord(v)
	if err != nil {
		return 0, err
	}
	delete(rec, "id")
	return repo.Insert(ctx, table, rec)
}
