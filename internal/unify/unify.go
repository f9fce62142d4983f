// Package unify builds the canonical unified-asset table from every ingested
// source: rows are translated into the shared schema through per-source
// column mappings, keyed by an identifying column and greedily clustered by
// edit distance.
package unify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"assetcore/internal/rules"
	"assetcore/pkg/domain"
)

// MaxDistance is the largest edit distance at which two merge keys join the
// same cluster.
const MaxDistance = 2

// KeyCandidates are the identifying column names tried, case-insensitively
// and in order, when computing a record's merge key.
var KeyCandidates = []string{"hostname", "asset name", "name", "device", "system"}

// Result summarises one rebuild pass.
type Result struct {
	Sources int `json:"sources"`
	Rows    int `json:"rows"`
	Assets  int `json:"assets"`
	Unkeyed int `json:"unkeyed"`
}

// Engine rebuilds unified assets from the repository.
type Engine struct {
	repo   domain.Repository
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an Engine over repo.
func New(repo domain.Repository, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// record is a source row translated into the unified column space. keys
// fixes the field order used by the first-string fallback and the merge.
type record struct {
	sourceID int64
	keys     []string
	values   map[string]any
	key      string
}

func (r *record) set(field string, v any) {
	if _, ok := r.values[field]; !ok {
		r.keys = append(r.keys, field)
		r.values[field] = v
		return
	}
	if !domain.HasValue(r.values[field]) {
		r.values[field] = v
	}
}

type cluster struct {
	canonical string
	keyed     bool
	items     []*record
}

// Rebuild replaces the unified-asset table with a fresh clustering of every
// source row. The table is written once, after the whole pass succeeded.
func (e *Engine) Rebuild(ctx context.Context) (Result, error) {
	sources, err := domain.Load[domain.Source](ctx, e.repo, domain.TableSources)
	if err != nil {
		return Result{}, err
	}
	rows, err := domain.Load[domain.SourceRow](ctx, e.repo, domain.TableSourceRows)
	if err != nil {
		return Result{}, err
	}
	mappings, err := domain.Load[domain.ColumnMapping](ctx, e.repo, domain.TableMappings)
	if err != nil {
		return Result{}, err
	}
	schema, err := domain.Load[domain.SchemaColumn](ctx, e.repo, domain.TableSchema)
	if err != nil {
		return Result{}, err
	}

	columns := schemaColumns(schema)
	renames := renameMaps(mappings)
	headers := make(map[int64][]string, len(sources))
	for _, s := range sources {
		headers[s.ID] = s.Columns
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SourceID != rows[j].SourceID {
			return rows[i].SourceID < rows[j].SourceID
		}
		return rows[i].RowIndex < rows[j].RowIndex
	})

	lower := cases.Lower(language.Und)
	var clusters []*cluster
	unkeyed := 0
	for _, row := range rows {
		rec := translate(row, columns, headers[row.SourceID], renames[row.SourceID])
		rec.key = normaliseKey(lower, mergeKey(rec))
		if rec.key == "" {
			unkeyed++
		}
		clusters = assign(clusters, rec)
	}

	now := e.now()
	out := make([]domain.Record, 0, len(clusters))
	for _, c := range clusters {
		asset := c.emit(now)
		rec, err := domain.EncodeRecord(asset)
		if err != nil {
			return Result{}, err
		}
		delete(rec, "id")
		out = append(out, rec)
	}
	if err := e.repo.Set(ctx, domain.TableUnifiedAssets, domain.TableData{Rows: out}); err != nil {
		return Result{}, fmt.Errorf("store unified assets: %w", err)
	}

	res := Result{Sources: len(sources), Rows: len(rows), Assets: len(out), Unkeyed: unkeyed}
	e.logger.InfoContext(ctx, "unified assets rebuilt",
		"sources", res.Sources, "rows", res.Rows, "assets", res.Assets, "unkeyed", res.Unkeyed)
	return res, nil
}

func schemaColumns(schema []domain.SchemaColumn) []string {
	sort.SliceStable(schema, func(i, j int) bool {
		if schema[i].Position != schema[j].Position {
			return schema[i].Position < schema[j].Position
		}
		return schema[i].ID < schema[j].ID
	})
	out := make([]string, 0, len(schema))
	for _, c := range schema {
		if name := strings.TrimSpace(c.Column); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func renameMaps(mappings []domain.ColumnMapping) map[int64]map[string]string {
	out := make(map[int64]map[string]string)
	for _, m := range mappings {
		if m.SourceCol == "" || strings.TrimSpace(m.UnifiedCol) == "" {
			continue
		}
		if out[m.SourceID] == nil {
			out[m.SourceID] = make(map[string]string)
		}
		out[m.SourceID][m.SourceCol] = strings.TrimSpace(m.UnifiedCol)
	}
	return out
}

// translate renames row fields into the unified space. Field order is the
// schema, then the source header order, then any remaining keys sorted.
// Unmapped columns keep their source name; schema columns the row does not
// supply are present with a nil value.
func translate(row domain.SourceRow, schema, header []string, rename map[string]string) *record {
	rec := &record{sourceID: row.SourceID, values: make(map[string]any, len(row.Data)+len(schema))}

	ordered := make([]string, 0, len(row.Data))
	seen := make(map[string]bool, len(row.Data))
	for _, col := range header {
		if _, ok := row.Data[col]; ok && !seen[col] {
			ordered = append(ordered, col)
			seen[col] = true
		}
	}
	rest := make([]string, 0, len(row.Data))
	for col := range row.Data {
		if !seen[col] {
			rest = append(rest, col)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	translated := make(map[string]any, len(ordered))
	var order []string
	for _, col := range ordered {
		target := col
		if to, ok := rename[col]; ok {
			target = to
		}
		v, exists := translated[target]
		if !exists {
			order = append(order, target)
			translated[target] = row.Data[col]
			continue
		}
		if !domain.HasValue(v) {
			translated[target] = row.Data[col]
		}
	}

	for _, col := range schema {
		rec.set(col, translated[col])
	}
	for _, col := range order {
		rec.set(col, translated[col])
	}
	return rec
}

// mergeKey returns the raw identifying value of rec: the first candidate
// column holding a value, else the first non-blank string field.
func mergeKey(rec *record) string {
	for _, candidate := range KeyCandidates {
		for _, k := range rec.keys {
			if !strings.EqualFold(strings.TrimSpace(k), candidate) {
				continue
			}
			if v := rec.values[k]; domain.HasValue(v) {
				return rules.Stringify(v)
			}
		}
	}
	for _, k := range rec.keys {
		if s, ok := rec.values[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// normaliseKey lowercases, trims and collapses whitespace runs to one space.
func normaliseKey(lower cases.Caser, s string) string {
	return strings.Join(strings.Fields(lower.String(s)), " ")
}

// assign places rec into the first keyed cluster within MaxDistance, or
// opens a new one. Unkeyed records always open a singleton.
func assign(clusters []*cluster, rec *record) []*cluster {
	if rec.key == "" {
		return append(clusters, &cluster{items: []*record{rec}})
	}
	for _, c := range clusters {
		if !c.keyed {
			continue
		}
		if c.canonical != rec.key && levenshtein.ComputeDistance(c.canonical, rec.key) > MaxDistance {
			continue
		}
		c.items = append(c.items, rec)
		if utf8.RuneCountInString(rec.key) < utf8.RuneCountInString(c.canonical) {
			c.canonical = rec.key
		}
		return clusters
	}
	return append(clusters, &cluster{canonical: rec.key, keyed: true, items: []*record{rec}})
}

func (c *cluster) emit(now time.Time) domain.UnifiedAsset {
	merge := domain.NewFirstNonEmpty()
	sourceSet := make(map[int64]bool)
	var sourceIDs []int64
	for _, item := range c.items {
		for _, k := range item.keys {
			merge.Offer(k, item.values[k])
		}
		if !sourceSet[item.sourceID] {
			sourceSet[item.sourceID] = true
			sourceIDs = append(sourceIDs, item.sourceID)
		}
	}
	sort.Slice(sourceIDs, func(i, j int) bool { return sourceIDs[i] < sourceIDs[j] })

	asset := domain.UnifiedAsset{
		Fields:    merge.Result(),
		SourceIDs: sourceIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.keyed {
		name := c.canonical
		asset.CanonicalName = &name
	}
	return asset
}
