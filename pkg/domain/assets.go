package domain

import (
	"encoding/json"
	"time"
)

// Source is one uploaded source table feeding the unified asset set.
type Source struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Columns   []string  `json:"columns"`
	CreatedAt time.Time `json:"created_at"`
}

// SourceRow is one ingested record of a source.
type SourceRow struct {
	ID       int64          `json:"id"`
	SourceID int64          `json:"source_id"`
	RowIndex int            `json:"row_index"`
	Data     map[string]any `json:"data"`
}

// ColumnMapping assigns a source column to a unified column.
type ColumnMapping struct {
	ID         int64  `json:"id"`
	SourceID   int64  `json:"source_id"`
	SourceCol  string `json:"source_col"`
	UnifiedCol string `json:"unified_col"`
}

// SchemaColumn declares one column of the unified schema.
type SchemaColumn struct {
	ID       int64  `json:"id"`
	Column   string `json:"column"`
	Position int    `json:"position"`
}

// UnifiedAsset is a canonical, deduplicated asset built by a rebuild pass.
type UnifiedAsset struct {
	ID            int64          `json:"id"`
	CanonicalName *string        `json:"canonical_name"`
	Fields        map[string]any `json:"fields"`
	SourceIDs     []int64        `json:"source_ids"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// RawTable is one imported spreadsheet-derived document.
type RawTable struct {
	ID         int64      `json:"id"`
	Title      string     `json:"title"`
	Headers    []string   `json:"headers"`
	Archived   bool       `json:"archived"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RawRow is one row of a raw table with a stable key.
type RawRow struct {
	ID       int64          `json:"id"`
	TableID  int64          `json:"table_id"`
	RowKey   string         `json:"row_key"`
	RowIndex int            `json:"row_index"`
	Data     map[string]any `json:"data"`
}

// MappingPair assigns a raw header to an asset pool field.
type MappingPair struct {
	RawHeader  string `json:"rawHeader"`
	AssetField string `json:"assetField"`
}

// RawMapping is the ordered list of pairs attached to a raw table. The
// record with the highest id for a table is its active mapping.
type RawMapping struct {
	ID      int64         `json:"id"`
	TableID int64         `json:"table_id"`
	Pairs   []MappingPair `json:"pairs"`
}

// FieldSetting carries per-field pool metadata.
type FieldSetting struct {
	ID       int64  `json:"id"`
	Field    string `json:"field"`
	Editable bool   `json:"editable"`
	Manual   bool   `json:"manual"`
}

// CellOverride is an explicit value for one pool row and field.
type CellOverride struct {
	ID    int64  `json:"id"`
	RowID string `json:"row_id"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// Manipulator assigns FieldValue to FieldName on every pool row matching
// Definition. ManagedRowIDs is the match set of the last application.
type Manipulator struct {
	ID            int64           `json:"id"`
	Title         string          `json:"title"`
	FieldName     string          `json:"field_name"`
	FieldValue    string          `json:"field_value"`
	Definition    json.RawMessage `json:"definition"`
	ManagedRowIDs []string        `json:"managed_row_ids"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Group is a named asset group.
type Group struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// GroupSelector scopes which pool rows belong to a group.
type GroupSelector struct {
	ID         int64           `json:"id"`
	GroupSlug  string          `json:"group_slug"`
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
