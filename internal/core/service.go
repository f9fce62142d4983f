// Package core wires the repository, the engines and the blob store into a
// single Service. Mutations are serialised; every operation is timed and
// counted by the observability recorder.
package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"assetcore/internal/blob"
	"assetcore/internal/ingest"
	"assetcore/internal/manipulator"
	"assetcore/internal/observability"
	"assetcore/internal/pool"
	"assetcore/internal/report"
	"assetcore/internal/rules"
	"assetcore/internal/selector"
	"assetcore/internal/unify"
	"assetcore/pkg/domain"
)

// Service is the entry point used by the CLI and the HTTP surface.
type Service struct {
	mu       sync.RWMutex
	repo     domain.Repository
	logger   *slog.Logger
	recorder *observability.Recorder
	blobs    blob.Store

	ingest       *ingest.Service
	unify        *unify.Engine
	projector    *pool.Projector
	manipulators *manipulator.Engine
	selectors    *selector.Engine
	reports      *report.Service
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger shared by every engine.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *observability.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithBlobStore sets where coverage reports are written. The default is an
// in-memory store.
func WithBlobStore(store blob.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.blobs = store
		}
	}
}

// NewService builds the engines over repo.
func NewService(repo domain.Repository, opts ...Option) *Service {
	s := &Service{repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.blobs == nil {
		s.blobs = blob.NewMemory()
	}
	eval := rules.NewEvaluator(s.logger)
	s.ingest = ingest.New(repo, s.logger)
	s.unify = unify.New(repo, s.logger)
	s.projector = pool.NewProjector(repo, s.logger)
	s.manipulators = manipulator.New(repo, s.projector, eval, s.logger)
	s.selectors = selector.New(repo, s.projector, eval, s.logger)
	s.reports = report.New(s.selectors, s.blobs, s.logger)
	return s
}

// Repository returns the underlying repository.
func (s *Service) Repository() domain.Repository { return s.repo }

// Recorder returns the metrics recorder, which may be nil.
func (s *Service) Recorder() *observability.Recorder { return s.recorder }

func (s *Service) observe(ctx context.Context, op string, started time.Time, err error) {
	s.recorder.Observe(op, started, err)
	if err != nil && !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrNotFound) {
		s.logger.ErrorContext(ctx, "operation failed", "op", op, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "operation finished", "op", op, "duration", time.Since(started))
}

func write[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()
	v, err := fn(ctx)
	s.observe(ctx, op, started, err)
	return v, err
}

func read[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	started := time.Now()
	v, err := fn(ctx)
	s.observe(ctx, op, started, err)
	return v, err
}

func writeErr(ctx context.Context, s *Service, op string, fn func(context.Context) error) error {
	_, err := write(ctx, s, op, func(ctx context.Context) (struct{}, error) { return struct{}{}, fn(ctx) })
	return err
}

// Sources and unification.

func (s *Service) RegisterSource(ctx context.Context, in ingest.SourceInput) (domain.Source, error) {
	return write(ctx, s, "source.register", func(ctx context.Context) (domain.Source, error) {
		return s.ingest.RegisterSource(ctx, in)
	})
}

func (s *Service) RemoveSource(ctx context.Context, id int64) error {
	return writeErr(ctx, s, "source.remove", func(ctx context.Context) error { return s.ingest.RemoveSource(ctx, id) })
}

func (s *Service) ListSources(ctx context.Context) ([]domain.Source, error) {
	return read(ctx, s, "source.list", s.ingest.ListSources)
}

func (s *Service) SaveMappings(ctx context.Context, sourceID int64, pairs []ingest.ColumnPair) ([]domain.ColumnMapping, error) {
	return write(ctx, s, "source.mappings", func(ctx context.Context) ([]domain.ColumnMapping, error) {
		return s.ingest.SaveMappings(ctx, sourceID, pairs)
	})
}

func (s *Service) DeclareSchema(ctx context.Context, columns []string) ([]domain.SchemaColumn, error) {
	return write(ctx, s, "schema.declare", func(ctx context.Context) ([]domain.SchemaColumn, error) {
		return s.ingest.DeclareSchema(ctx, columns)
	})
}

// Rebuild recomputes the unified asset table.
func (s *Service) Rebuild(ctx context.Context) (unify.Result, error) {
	return write(ctx, s, "rebuild", s.unify.Rebuild)
}

// ListAssets returns the unified assets of the last rebuild.
func (s *Service) ListAssets(ctx context.Context) ([]domain.UnifiedAsset, error) {
	return read(ctx, s, "assets.list", func(ctx context.Context) ([]domain.UnifiedAsset, error) {
		return domain.Load[domain.UnifiedAsset](ctx, s.repo, domain.TableUnifiedAssets)
	})
}

// Raw tables and pool edits.

func (s *Service) ImportRaw(ctx context.Context, in ingest.RawImport) (domain.RawTable, error) {
	return write(ctx, s, "raw.import", func(ctx context.Context) (domain.RawTable, error) {
		return s.ingest.ImportRaw(ctx, in)
	})
}

func (s *Service) ListRaw(ctx context.Context, includeArchived bool) ([]domain.RawTable, error) {
	return read(ctx, s, "raw.list", func(ctx context.Context) ([]domain.RawTable, error) {
		return s.ingest.ListRaw(ctx, includeArchived)
	})
}

func (s *Service) GetRaw(ctx context.Context, id int64) (ingest.RawDetail, error) {
	return read(ctx, s, "raw.get", func(ctx context.Context) (ingest.RawDetail, error) {
		return s.ingest.GetRaw(ctx, id)
	})
}

func (s *Service) ReplaceMapping(ctx context.Context, tableID int64, pairs []domain.MappingPair) ([]domain.MappingPair, error) {
	return write(ctx, s, "raw.mapping", func(ctx context.Context) ([]domain.MappingPair, error) {
		return s.ingest.ReplaceMapping(ctx, tableID, pairs)
	})
}

func (s *Service) EditRow(ctx context.Context, tableID int64, rowKey string, data map[string]any) (domain.RawRow, error) {
	return write(ctx, s, "raw.edit", func(ctx context.Context) (domain.RawRow, error) {
		return s.ingest.EditRow(ctx, tableID, rowKey, data)
	})
}

func (s *Service) ArchiveRaw(ctx context.Context, tableID int64) (domain.RawTable, error) {
	return write(ctx, s, "raw.archive", func(ctx context.Context) (domain.RawTable, error) {
		return s.ingest.Archive(ctx, tableID)
	})
}

func (s *Service) DeclareField(ctx context.Context, in ingest.FieldInput) (domain.FieldSetting, error) {
	return write(ctx, s, "field.declare", func(ctx context.Context) (domain.FieldSetting, error) {
		return s.ingest.DeclareField(ctx, in)
	})
}

func (s *Service) ListFields(ctx context.Context) ([]domain.FieldSetting, error) {
	return read(ctx, s, "field.list", s.ingest.ListFields)
}

func (s *Service) SetCell(ctx context.Context, rowID, field, value string) (domain.CellOverride, error) {
	return write(ctx, s, "cell.set", func(ctx context.Context) (domain.CellOverride, error) {
		return s.ingest.SetCell(ctx, rowID, field, value)
	})
}

func (s *Service) ClearCell(ctx context.Context, rowID, field string) error {
	return writeErr(ctx, s, "cell.clear", func(ctx context.Context) error { return s.ingest.ClearCell(ctx, rowID, field) })
}

// Project returns the current asset pool.
func (s *Service) Project(ctx context.Context) (pool.Projection, error) {
	return read(ctx, s, "pool.project", s.projector.Project)
}

// Manipulators.

func (s *Service) CreateManipulator(ctx context.Context, in manipulator.Input) (domain.Manipulator, manipulator.Effects, error) {
	var fx manipulator.Effects
	m, err := write(ctx, s, "manipulator.create", func(ctx context.Context) (domain.Manipulator, error) {
		var (
			m   domain.Manipulator
			err error
		)
		m, fx, err = s.manipulators.Create(ctx, in)
		return m, err
	})
	return m, fx, err
}

func (s *Service) UpdateManipulator(ctx context.Context, id int64, in manipulator.Input) (domain.Manipulator, manipulator.Effects, error) {
	var fx manipulator.Effects
	m, err := write(ctx, s, "manipulator.update", func(ctx context.Context) (domain.Manipulator, error) {
		var (
			m   domain.Manipulator
			err error
		)
		m, fx, err = s.manipulators.Update(ctx, id, in)
		return m, err
	})
	return m, fx, err
}

func (s *Service) GetManipulator(ctx context.Context, id int64) (manipulator.View, error) {
	return read(ctx, s, "manipulator.get", func(ctx context.Context) (manipulator.View, error) {
		return s.manipulators.Get(ctx, id)
	})
}

func (s *Service) ListManipulators(ctx context.Context) ([]manipulator.View, error) {
	return read(ctx, s, "manipulator.list", s.manipulators.List)
}

func (s *Service) DeleteManipulator(ctx context.Context, id int64) error {
	return writeErr(ctx, s, "manipulator.delete", func(ctx context.Context) error { return s.manipulators.Delete(ctx, id) })
}

// ApplyManipulators re-applies every manipulator against the current pool.
func (s *Service) ApplyManipulators(ctx context.Context) (manipulator.Effects, error) {
	return write(ctx, s, "manipulator.apply", s.manipulators.ApplyAll)
}

// Groups and selectors.

func (s *Service) CreateGroup(ctx context.Context, slug, title string) (domain.Group, error) {
	return write(ctx, s, "group.create", func(ctx context.Context) (domain.Group, error) {
		return s.selectors.CreateGroup(ctx, slug, title)
	})
}

func (s *Service) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return read(ctx, s, "group.list", s.selectors.ListGroups)
}

func (s *Service) GroupOverview(ctx context.Context, slug string) (selector.Overview, error) {
	return read(ctx, s, "group.overview", func(ctx context.Context) (selector.Overview, error) {
		return s.selectors.GetOverview(ctx, slug)
	})
}

func (s *Service) CreateSelector(ctx context.Context, groupSlug string, in selector.Input) (domain.GroupSelector, error) {
	return write(ctx, s, "selector.create", func(ctx context.Context) (domain.GroupSelector, error) {
		return s.selectors.Create(ctx, groupSlug, in)
	})
}

func (s *Service) UpdateSelector(ctx context.Context, id int64, in selector.Input) (domain.GroupSelector, error) {
	return write(ctx, s, "selector.update", func(ctx context.Context) (domain.GroupSelector, error) {
		return s.selectors.Update(ctx, id, in)
	})
}

func (s *Service) DeleteSelector(ctx context.Context, id int64) error {
	return writeErr(ctx, s, "selector.delete", func(ctx context.Context) error { return s.selectors.Delete(ctx, id) })
}

// Coverage computes group coverage and publishes its totals as gauges.
func (s *Service) Coverage(ctx context.Context) (selector.Coverage, error) {
	cov, err := read(ctx, s, "coverage", s.selectors.CalculateGroupAssetCoverage)
	if err == nil {
		s.recorder.SetCoverage(cov.TotalAssets, cov.UnmatchedCount)
	}
	return cov, err
}

// Reports.

// GenerateReport snapshots the current coverage to the blob store.
func (s *Service) GenerateReport(ctx context.Context) (report.Report, blob.Info, error) {
	var info blob.Info
	rep, err := read(ctx, s, "report.generate", func(ctx context.Context) (report.Report, error) {
		var (
			rep report.Report
			err error
		)
		rep, info, err = s.reports.Generate(ctx)
		return rep, err
	})
	if err == nil {
		s.recorder.SetCoverage(rep.TotalAssets, rep.UnmatchedCount)
	}
	return rep, info, err
}

func (s *Service) LatestReport(ctx context.Context) (report.Report, error) {
	return read(ctx, s, "report.latest", s.reports.Latest)
}

func (s *Service) ListReports(ctx context.Context) ([]blob.Info, error) {
	return read(ctx, s, "report.list", s.reports.List)
}

func (s *Service) LoadReport(ctx context.Context, key string) (report.Report, error) {
	return read(ctx, s, "report.load", func(ctx context.Context) (report.Report, error) {
		return s.reports.Load(ctx, key)
	})
}

func (s *Service) ReportURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return read(ctx, s, "report.url", func(ctx context.Context) (string, error) {
		return s.reports.URL(ctx, key, expiry)
	})
}
