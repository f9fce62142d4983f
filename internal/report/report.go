// Package report snapshots group coverage to the blob store.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"assetcore/internal/blob"
	"assetcore/internal/selector"
	"assetcore/pkg/domain"
)

// Prefix is the blob key prefix of coverage snapshots.
const Prefix = "reports/coverage/"

// keys sort chronologically because the timestamp is fixed width.
const keyTimeFormat = "20060102T150405.000000000Z"

// CoverageSource computes the coverage a report is built from.
type CoverageSource interface {
	CalculateGroupAssetCoverage(ctx context.Context) (selector.Coverage, error)
}

// UnmatchedAsset is a pool row no group covers.
type UnmatchedAsset struct {
	ID     string         `json:"id"`
	Values map[string]any `json:"values"`
}

// Report is the persisted coverage snapshot. GeneratedAt is nil for the
// empty report returned when nothing was generated yet.
type Report struct {
	GeneratedAt      *time.Time               `json:"generatedAt"`
	TotalAssets      int                      `json:"totalAssets"`
	UnmatchedCount   int                      `json:"unmatchedCount"`
	Groups           []selector.GroupCoverage `json:"groups"`
	UnmatchedAssets  []UnmatchedAsset         `json:"unmatchedAssets"`
	UnmatchedColumns []string                 `json:"unmatchedColumns"`
}

// Empty returns a report with no data and a null generatedAt.
func Empty() Report {
	return Report{
		Groups:           []selector.GroupCoverage{},
		UnmatchedAssets:  []UnmatchedAsset{},
		UnmatchedColumns: []string{},
	}
}

// Service generates and reads coverage snapshots.
type Service struct {
	coverage CoverageSource
	store    blob.Store
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New constructs a Service.
func New(coverage CoverageSource, store blob.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		coverage: coverage,
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// SetClock overrides the generatedAt source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Generate computes coverage and stores it as a new snapshot.
func (s *Service) Generate(ctx context.Context) (Report, blob.Info, error) {
	cov, err := s.coverage.CalculateGroupAssetCoverage(ctx)
	if err != nil {
		return Report{}, blob.Info{}, fmt.Errorf("calculate coverage: %w", err)
	}
	at := s.now().UTC()
	rep := Empty()
	rep.GeneratedAt = &at
	rep.TotalAssets = cov.TotalAssets
	rep.UnmatchedCount = cov.UnmatchedCount
	rep.Groups = append(rep.Groups, cov.Groups...)
	rep.UnmatchedColumns = append(rep.UnmatchedColumns, cov.Columns...)
	for _, r := range cov.Unmatched {
		rep.UnmatchedAssets = append(rep.UnmatchedAssets, UnmatchedAsset{ID: r.ID.String(), Values: r.Values})
	}

	body, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return Report{}, blob.Info{}, fmt.Errorf("encode report: %w", err)
	}
	key := Prefix + at.Format(keyTimeFormat) + "-" + s.newID() + ".json"
	info, err := s.store.Put(ctx, key, bytes.NewReader(body), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"kind": "coverage"},
	})
	if err != nil {
		return Report{}, blob.Info{}, fmt.Errorf("store report: %w", err)
	}
	s.logger.InfoContext(ctx, "coverage report stored",
		"key", key, "total", rep.TotalAssets, "unmatched", rep.UnmatchedCount)
	return rep, info, nil
}

// List returns stored snapshots, newest first.
func (s *Service) List(ctx context.Context) ([]blob.Info, error) {
	infos, err := s.store.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	out := make([]blob.Info, 0, len(infos))
	for i := len(infos) - 1; i >= 0; i-- {
		if strings.HasSuffix(infos[i].Key, ".json") {
			out = append(out, infos[i])
		}
	}
	return out, nil
}

// Latest loads the newest snapshot, or Empty when none exists.
func (s *Service) Latest(ctx context.Context) (Report, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(infos) == 0 {
		return Empty(), nil
	}
	return s.Load(ctx, infos[0].Key)
}

// Load reads the snapshot stored under key.
func (s *Service) Load(ctx context.Context, key string) (Report, error) {
	_, rc, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Report{}, domain.NotFoundError{Entity: "report", ID: key}
		}
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	defer rc.Close()
	rep := Empty()
	if err := json.NewDecoder(rc).Decode(&rep); err != nil {
		return Report{}, fmt.Errorf("decode report %s: %w", key, err)
	}
	return rep, nil
}

// URL returns a time-limited download link for a snapshot when the blob
// backend supports it.
func (s *Service) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := s.store.Head(ctx, key); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return "", domain.NotFoundError{Entity: "report", ID: key}
		}
		return "", err
	}
	return s.store.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
}
