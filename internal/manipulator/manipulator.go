// Package manipulator maintains derived pool fields: a manipulator assigns a
// fixed value to one field on exactly the pool rows its rule tree matches,
// reconciling the stored cell overrides whenever it is saved.
package manipulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"assetcore/internal/pool"
	"assetcore/internal/rules"
	"assetcore/pkg/domain"
)

// Input is the user-supplied part of a manipulator.
type Input struct {
	Title      string          `json:"title"`
	FieldName  string          `json:"field_name"`
	FieldValue string          `json:"field_value"`
	Definition json.RawMessage `json:"definition"`
}

// View is a manipulator with its live match count.
type View struct {
	domain.Manipulator
	AssetCount int `json:"assetCount"`
}

// Effects reports the storage writes one application performed.
type Effects struct {
	Matched  int `json:"matched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Removed  int `json:"removed"`
}

// Engine applies manipulators against the projected pool.
type Engine struct {
	repo      domain.Repository
	projector *pool.Projector
	eval      *rules.Evaluator
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs an Engine.
func New(repo domain.Repository, projector *pool.Projector, eval *rules.Evaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if eval == nil {
		eval = rules.NewEvaluator(logger)
	}
	return &Engine{
		repo:      repo,
		projector: projector,
		eval:      eval,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

type validated struct {
	title, field, value string
	tree                rules.Node
	definition          json.RawMessage
}

func validate(in Input) (validated, error) {
	v := validated{
		title: strings.TrimSpace(in.Title),
		field: strings.TrimSpace(in.FieldName),
		value: strings.TrimSpace(in.FieldValue),
	}
	switch {
	case v.title == "":
		return v, domain.Required("title")
	case v.field == "":
		return v, domain.Required("field_name")
	case v.value == "":
		return v, domain.Required("field_value")
	}
	tree, err := rules.Parse(in.Definition)
	if err != nil {
		return v, domain.ValidationError{Field: "definition", Message: "invalid JSON"}
	}
	def, err := rules.Marshal(tree)
	if err != nil {
		return v, fmt.Errorf("encode definition: %w", err)
	}
	v.tree, v.definition = tree, def
	return v, nil
}

// Create validates and stores a new manipulator, then applies it. The
// record is removed again when the application fails.
func (e *Engine) Create(ctx context.Context, in Input) (domain.Manipulator, Effects, error) {
	v, err := validate(in)
	if err != nil {
		return domain.Manipulator{}, Effects{}, err
	}
	now := e.now()
	m := domain.Manipulator{
		Title:         v.title,
		FieldName:     v.field,
		FieldValue:    v.value,
		Definition:    v.definition,
		ManagedRowIDs: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id, err := domain.InsertEntity(ctx, e.repo, domain.TableManipulators, m)
	if err != nil {
		return domain.Manipulator{}, Effects{}, fmt.Errorf("insert manipulator: %w", err)
	}
	m.ID = id

	matched, fx, err := e.apply(ctx, v.field, v.value, v.tree, nil)
	if err == nil && len(matched) > 0 {
		m.ManagedRowIDs = matched
		if _, uerr := e.repo.Update(ctx, domain.TableManipulators, id, domain.Record{"managed_row_ids": matched}); uerr != nil {
			err = fmt.Errorf("store managed rows: %w", uerr)
		}
	}
	if err != nil {
		// A manipulator is only kept once its match set is recorded.
		if _, rerr := e.repo.Remove(ctx, domain.TableManipulators, id); rerr != nil {
			e.logger.ErrorContext(ctx, "remove failed manipulator", "id", id, "error", rerr)
		}
		return domain.Manipulator{}, fx, err
	}
	e.logger.InfoContext(ctx, "manipulator created", "id", id, "field", v.field, "matched", fx.Matched)
	return m, fx, nil
}

// Update replaces a manipulator's definition and re-applies it. Saving an
// unchanged manipulator over an unchanged pool performs no writes.
func (e *Engine) Update(ctx context.Context, id int64, in Input) (domain.Manipulator, Effects, error) {
	v, err := validate(in)
	if err != nil {
		return domain.Manipulator{}, Effects{}, err
	}
	prev, err := e.load(ctx, id)
	if err != nil {
		return domain.Manipulator{}, Effects{}, err
	}

	matched, fx, err := e.apply(ctx, v.field, v.value, v.tree, &prev)
	if err != nil {
		return domain.Manipulator{}, fx, err
	}

	next := prev
	next.Title, next.FieldName, next.FieldValue = v.title, v.field, v.value
	next.Definition = v.definition
	next.ManagedRowIDs = matched
	if unchanged(prev, next) {
		return next, fx, nil
	}
	next.UpdatedAt = e.now()
	patch := domain.Record{
		"title":           next.Title,
		"field_name":      next.FieldName,
		"field_value":     next.FieldValue,
		"definition":      next.Definition,
		"managed_row_ids": next.ManagedRowIDs,
		"updated_at":      next.UpdatedAt,
	}
	if _, err := e.repo.Update(ctx, domain.TableManipulators, id, patch); err != nil {
		return domain.Manipulator{}, fx, fmt.Errorf("update manipulator: %w", err)
	}
	e.logger.InfoContext(ctx, "manipulator updated", "id", id, "field", v.field,
		"matched", fx.Matched, "inserted", fx.Inserted, "updated", fx.Updated, "removed", fx.Removed)
	return next, fx, nil
}

func unchanged(a, b domain.Manipulator) bool {
	return a.Title == b.Title &&
		a.FieldName == b.FieldName &&
		a.FieldValue == b.FieldValue &&
		string(a.Definition) == string(b.Definition) &&
		slices.Equal(a.ManagedRowIDs, b.ManagedRowIDs)
}

// Get returns one manipulator with its live match count.
func (e *Engine) Get(ctx context.Context, id int64) (View, error) {
	m, err := e.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	proj, err := e.projector.Project(ctx)
	if err != nil {
		return View{}, err
	}
	return View{Manipulator: m, AssetCount: rules.Count(e.eval, rules.MustParse(m.Definition), proj.Rows)}, nil
}

// List returns every manipulator with its live match count. It never writes.
func (e *Engine) List(ctx context.Context) ([]View, error) {
	all, err := e.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	proj, err := e.projector.Project(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(all))
	for _, m := range all {
		out = append(out, View{Manipulator: m, AssetCount: rules.Count(e.eval, rules.MustParse(m.Definition), proj.Rows)})
	}
	return out, nil
}

// Delete removes a manipulator together with the overrides it manages.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	m, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	cells, err := domain.Load[domain.CellOverride](ctx, e.repo, domain.TablePoolCells)
	if err != nil {
		return err
	}
	managed := toSet(m.ManagedRowIDs)
	removed := 0
	for _, c := range cells {
		if c.Field != m.FieldName || !managed[c.RowID] {
			continue
		}
		if _, err := e.repo.Remove(ctx, domain.TablePoolCells, c.ID); err != nil {
			return fmt.Errorf("remove override %d: %w", c.ID, err)
		}
		removed++
	}
	if _, err := e.repo.Remove(ctx, domain.TableManipulators, id); err != nil {
		return fmt.Errorf("remove manipulator: %w", err)
	}
	e.logger.InfoContext(ctx, "manipulator deleted", "id", id, "overrides_removed", removed)
	return nil
}

// ApplyAll re-applies every stored manipulator in id order so overrides
// converge after the pool changed.
func (e *Engine) ApplyAll(ctx context.Context) (Effects, error) {
	all, err := e.loadAll(ctx)
	if err != nil {
		return Effects{}, err
	}
	var total Effects
	for _, m := range all {
		in := Input{Title: m.Title, FieldName: m.FieldName, FieldValue: m.FieldValue, Definition: m.Definition}
		_, fx, err := e.Update(ctx, m.ID, in)
		if err != nil {
			return total, fmt.Errorf("apply manipulator %d: %w", m.ID, err)
		}
		total.Matched += fx.Matched
		total.Inserted += fx.Inserted
		total.Updated += fx.Updated
		total.Removed += fx.Removed
	}
	return total, nil
}

// apply converges the overrides of field to exactly the rows matching tree
// and returns the matched row ids in pool order.
func (e *Engine) apply(ctx context.Context, field, value string, tree rules.Node, prev *domain.Manipulator) ([]string, Effects, error) {
	var fx Effects
	if err := e.ensureField(ctx, field); err != nil {
		return nil, fx, err
	}
	proj, err := e.projector.Project(ctx)
	if err != nil {
		return nil, fx, err
	}
	matched := make([]string, 0)
	for _, row := range rules.Filter(e.eval, tree, proj.Rows) {
		matched = append(matched, row.ID.String())
	}
	fx.Matched = len(matched)
	inMatch := toSet(matched)

	cells, err := domain.Load[domain.CellOverride](ctx, e.repo, domain.TablePoolCells)
	if err != nil {
		return nil, fx, err
	}
	existing := make(map[string]domain.CellOverride)
	for _, c := range cells {
		if c.Field != field {
			continue
		}
		if _, dup := existing[c.RowID]; !dup {
			existing[c.RowID] = c
		}
	}

	for _, rowID := range matched {
		cell, ok := existing[rowID]
		switch {
		case ok && cell.Value == value:
		case ok:
			if _, err := e.repo.Update(ctx, domain.TablePoolCells, cell.ID, domain.Record{"value": value}); err != nil {
				return nil, fx, fmt.Errorf("update override %d: %w", cell.ID, err)
			}
			fx.Updated++
		default:
			rec := domain.CellOverride{RowID: rowID, Field: field, Value: value}
			if _, err := domain.InsertEntity(ctx, e.repo, domain.TablePoolCells, rec); err != nil {
				return nil, fx, fmt.Errorf("insert override: %w", err)
			}
			fx.Inserted++
		}
	}

	var stale []int64
	for _, c := range cells {
		if c.Field == field && !inMatch[c.RowID] {
			stale = append(stale, c.ID)
		}
	}
	if prev != nil && prev.FieldName != field {
		managed := toSet(prev.ManagedRowIDs)
		for _, c := range cells {
			if c.Field == prev.FieldName && managed[c.RowID] {
				stale = append(stale, c.ID)
			}
		}
	}
	for _, id := range stale {
		if _, err := e.repo.Remove(ctx, domain.TablePoolCells, id); err != nil {
			return nil, fx, fmt.Errorf("remove override %d: %w", id, err)
		}
		fx.Removed++
	}
	return matched, fx, nil
}

func (e *Engine) ensureField(ctx context.Context, field string) error {
	settings, err := domain.Load[domain.FieldSetting](ctx, e.repo, domain.TablePoolFields)
	if err != nil {
		return err
	}
	for _, s := range settings {
		if s.Field == field {
			return nil
		}
	}
	if _, err := domain.InsertEntity(ctx, e.repo, domain.TablePoolFields, domain.FieldSetting{Field: field}); err != nil {
		return fmt.Errorf("register field %s: %w", field, err)
	}
	return nil
}

func (e *Engine) loadAll(ctx context.Context) ([]domain.Manipulator, error) {
	all, err := domain.Load[domain.Manipulator](ctx, e.repo, domain.TableManipulators)
	if err != nil {
		return nil, err
	}
	for i := range all {
		canonicalise(&all[i])
	}
	return all, nil
}

func (e *Engine) load(ctx context.Context, id int64) (domain.Manipulator, error) {
	all, err := e.loadAll(ctx)
	if err != nil {
		return domain.Manipulator{}, err
	}
	for _, m := range all {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Manipulator{}, domain.NotFoundError{Entity: "manipulator", ID: strconv.FormatInt(id, 10)}
}

// canonicalise restores the wire form of a stored definition, whose key
// order does not survive the generic record encoding.
func canonicalise(m *domain.Manipulator) {
	if def, err := rules.Marshal(rules.MustParse(m.Definition)); err == nil {
		m.Definition = def
	}
	if m.ManagedRowIDs == nil {
		m.ManagedRowIDs = []string{}
	}
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
