// Package selector classifies pool rows into groups through per-group rule
// trees and computes the group coverage of the whole pool. Selectors never
// modify pool data.
package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"assetcore/internal/pool"
	"assetcore/internal/rules"
	"assetcore/pkg/domain"
)

// Input is the user-supplied part of a selector.
type Input struct {
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
}

// SelectorView is a selector with its live match count.
type SelectorView struct {
	domain.GroupSelector
	AssetCount int `json:"assetCount"`
}

// Overview lists the selectors of one group. AssetCount is the size of the
// union of their match sets.
type Overview struct {
	Group      domain.Group   `json:"group"`
	Selectors  []SelectorView `json:"selectors"`
	AssetCount int            `json:"assetCount"`
}

// GroupCoverage is the number of pool rows one group covers.
type GroupCoverage struct {
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	AssetCount int    `json:"assetCount"`
}

// Coverage is the result of CalculateGroupAssetCoverage. Unmatched and
// Columns carry the detail a persisted report needs.
type Coverage struct {
	TotalAssets    int             `json:"totalAssets"`
	UnmatchedCount int             `json:"unmatchedCount"`
	Groups         []GroupCoverage `json:"groups"`
	Unmatched      []pool.Row      `json:"-"`
	Columns        []string        `json:"-"`
}

// Engine manages groups and selectors.
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

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins its alphanumeric runs with "-".
func Slugify(s string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-"), "-")
}

// CreateGroup stores a new group. The slug defaults to the slugified title.
func (e *Engine) CreateGroup(ctx context.Context, slug, title string) (domain.Group, error) {
	title = strings.TrimSpace(title)
	if slug = Slugify(slug); slug == "" {
		slug = Slugify(title)
	}
	if slug == "" {
		return domain.Group{}, domain.Required("slug")
	}
	if title == "" {
		title = slug
	}
	groups, err := domain.Load[domain.Group](ctx, e.repo, domain.TableGroups)
	if err != nil {
		return domain.Group{}, err
	}
	for _, g := range groups {
		if g.Slug == slug {
			return domain.Group{}, domain.ValidationError{Field: "slug", Message: fmt.Sprintf("group %q already exists", slug)}
		}
	}
	g := domain.Group{Slug: slug, Title: title}
	id, err := domain.InsertEntity(ctx, e.repo, domain.TableGroups, g)
	if err != nil {
		return domain.Group{}, fmt.Errorf("insert group: %w", err)
	}
	g.ID = id
	return g, nil
}

// ListGroups returns every group in id order.
func (e *Engine) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return domain.Load[domain.Group](ctx, e.repo, domain.TableGroups)
}

func (e *Engine) group(ctx context.Context, slug string) (domain.Group, error) {
	groups, err := e.ListGroups(ctx)
	if err != nil {
		return domain.Group{}, err
	}
	for _, g := range groups {
		if g.Slug == slug {
			return g, nil
		}
	}
	return domain.Group{}, domain.NotFoundError{Entity: "group", ID: slug}
}

func parseInput(in Input) (string, json.RawMessage, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", nil, domain.Required("name")
	}
	def, err := rules.Canonical(in.Definition)
	if err != nil {
		return "", nil, domain.ValidationError{Field: "definition", Message: "invalid JSON"}
	}
	return name, def, nil
}

// Create stores a selector for the group with groupSlug.
func (e *Engine) Create(ctx context.Context, groupSlug string, in Input) (domain.GroupSelector, error) {
	name, def, err := parseInput(in)
	if err != nil {
		return domain.GroupSelector{}, err
	}
	if _, err := e.group(ctx, groupSlug); err != nil {
		return domain.GroupSelector{}, err
	}
	now := e.now()
	s := domain.GroupSelector{GroupSlug: groupSlug, Name: name, Definition: def, CreatedAt: now, UpdatedAt: now}
	id, err := domain.InsertEntity(ctx, e.repo, domain.TableGroupSelectors, s)
	if err != nil {
		return domain.GroupSelector{}, fmt.Errorf("insert selector: %w", err)
	}
	s.ID = id
	return s, nil
}

// Update replaces a selector's name and definition.
func (e *Engine) Update(ctx context.Context, id int64, in Input) (domain.GroupSelector, error) {
	name, def, err := parseInput(in)
	if err != nil {
		return domain.GroupSelector{}, err
	}
	s, err := e.load(ctx, id)
	if err != nil {
		return domain.GroupSelector{}, err
	}
	s.Name, s.Definition, s.UpdatedAt = name, def, e.now()
	patch := domain.Record{"name": s.Name, "definition": s.Definition, "updated_at": s.UpdatedAt}
	if _, err := e.repo.Update(ctx, domain.TableGroupSelectors, id, patch); err != nil {
		return domain.GroupSelector{}, fmt.Errorf("update selector: %w", err)
	}
	return s, nil
}

// Delete removes a selector.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	ok, err := e.repo.Remove(ctx, domain.TableGroupSelectors, id)
	if err != nil {
		return fmt.Errorf("remove selector: %w", err)
	}
	if !ok {
		return domain.NotFoundError{Entity: "selector", ID: strconv.FormatInt(id, 10)}
	}
	return nil
}

// GetOverview lists the selectors of a group with live match counts.
func (e *Engine) GetOverview(ctx context.Context, groupSlug string) (Overview, error) {
	g, err := e.group(ctx, groupSlug)
	if err != nil {
		return Overview{}, err
	}
	all, err := e.loadAll(ctx)
	if err != nil {
		return Overview{}, err
	}
	proj, err := e.projector.Project(ctx)
	if err != nil {
		return Overview{}, err
	}
	out := Overview{Group: g, Selectors: []SelectorView{}}
	union := make(map[domain.RowID]bool)
	for _, s := range all {
		if s.GroupSlug != groupSlug {
			continue
		}
		matched := rules.Filter(e.eval, rules.MustParse(s.Definition), proj.Rows)
		for _, r := range matched {
			if !r.ID.IsZero() {
				union[r.ID] = true
			}
		}
		out.Selectors = append(out.Selectors, SelectorView{GroupSelector: s, AssetCount: len(matched)})
	}
	out.AssetCount = len(union)
	return out, nil
}

// CalculateGroupAssetCoverage unions, per group, the match sets of its
// selectors and reports how many pool rows no group covers. Rows without
// an id always count as unmatched.
func (e *Engine) CalculateGroupAssetCoverage(ctx context.Context) (Coverage, error) {
	groups, err := e.ListGroups(ctx)
	if err != nil {
		return Coverage{}, err
	}
	all, err := e.loadAll(ctx)
	if err != nil {
		return Coverage{}, err
	}
	proj, err := e.projector.Project(ctx)
	if err != nil {
		return Coverage{}, err
	}

	bySlug := make(map[string][]rules.Node)
	for _, s := range all {
		bySlug[s.GroupSlug] = append(bySlug[s.GroupSlug], rules.MustParse(s.Definition))
	}

	matched := make(map[domain.RowID]bool)
	cov := Coverage{TotalAssets: len(proj.Rows), Groups: make([]GroupCoverage, 0, len(groups)), Columns: proj.Columns}
	for _, g := range groups {
		members := make(map[domain.RowID]bool)
		for _, tree := range bySlug[g.Slug] {
			for _, r := range rules.Filter(e.eval, tree, proj.Rows) {
				if r.ID.IsZero() {
					continue
				}
				members[r.ID] = true
				matched[r.ID] = true
			}
		}
		cov.Groups = append(cov.Groups, GroupCoverage{Slug: g.Slug, Title: g.Title, AssetCount: len(members)})
	}
	cov.Unmatched = make([]pool.Row, 0)
	for _, r := range proj.Rows {
		if r.ID.IsZero() || !matched[r.ID] {
			cov.Unmatched = append(cov.Unmatched, r)
		}
	}
	cov.UnmatchedCount = len(cov.Unmatched)
	e.logger.DebugContext(ctx, "group coverage calculated",
		"groups", len(groups), "total", cov.TotalAssets, "unmatched", cov.UnmatchedCount)
	return cov, nil
}

func (e *Engine) loadAll(ctx context.Context) ([]domain.GroupSelector, error) {
	all, err := domain.Load[domain.GroupSelector](ctx, e.repo, domain.TableGroupSelectors)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if def, err := rules.Marshal(rules.MustParse(all[i].Definition)); err == nil {
			all[i].Definition = def
		}
	}
	return all, nil
}

func (e *Engine) load(ctx context.Context, id int64) (domain.GroupSelector, error) {
	all, err := e.loadAll(ctx)
	if err != nil {
		return domain.GroupSelector{}, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.GroupSelector{}, domain.NotFoundError{Entity: "selector", ID: strconv.FormatInt(id, 10)}
}
