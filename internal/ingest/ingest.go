// Package ingest maintains the inputs the engines read: unification sources
// with their column mappings and schema, raw tables with their pool
// mappings, pool field settings and manual cell edits.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"assetcore/pkg/domain"
)

// Service performs ingestion writes against a repository.
type Service struct {
	repo   domain.Repository
	logger *slog.Logger
	now    func() time.Time
	newKey func() string
}

// New constructs a Service.
func New(repo domain.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newKey: uuid.NewString,
	}
}

// SetClock overrides the timestamp source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// removeWhere rewrites table without the records drop selects, in one write.
// It returns the number of removed records.
func (s *Service) removeWhere(ctx context.Context, table domain.Table, drop func(domain.Record) bool) (int, error) {
	data, err := s.repo.Get(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", table, err)
	}
	kept := data.Rows[:0]
	for _, rec := range data.Rows {
		if !drop(rec) {
			kept = append(kept, rec)
		}
	}
	removed := len(data.Rows) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	data.Rows = kept
	if err := s.repo.Set(ctx, table, data); err != nil {
		return 0, fmt.Errorf("set %s: %w", table, err)
	}
	return removed, nil
}

func idString(id int64) string { return strconv.FormatInt(id, 10) }

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
