package ingest

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
)

// Service imports operation CSV files and invalidates the statements they feed.
type Service struct {
	repo        Repository
	invalidator fiscal.Invalidator
	logger      *slog.Logger
	newID       func() uuid.UUID
}

// NewService constructs a Service. A nil invalidator skips cache invalidation.
func NewService(repo Repository, invalidator fiscal.Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, logger: logger, newID: uuid.New}
}

// Import parses r and upserts every valid row under a new batch id. Rejected rows are returned in
// Result.Errors and do not abort the import.
func (s *Service) Import(ctx context.Context, r io.Reader) (Result, error) {
	ops, rowErrs, err := ParseOperations(r)
	if err != nil {
		return Result{}, err
	}
	res := Result{BatchID: s.newID(), Errors: rowErrs}
	for _, e := range rowErrs {
		s.logger.WarnContext(ctx, "ingest: row rejected",
			slog.Int("line", e.Line), slog.String("column", e.Column), slog.String("reason", e.Message))
	}
	if len(ops) == 0 {
		return res, nil
	}

	res.Inserted, res.Updated, err = s.repo.UpsertOperations(ctx, res.BatchID, ops)
	if err != nil {
		s.logger.ErrorContext(ctx, "ingest: upsert failed", slog.String("batch", res.BatchID.String()), slog.Any("error", err))
		return Result{}, err
	}
	res.Years = years(ops)
	if s.invalidator != nil {
		for _, y := range res.Years {
			if err := s.invalidator.Invalidate(ctx, y); err != nil {
				s.logger.ErrorContext(ctx, "ingest: invalidate statements",
					slog.Int("year", y), slog.Any("error", err))
			}
		}
	}
	s.logger.InfoContext(ctx, "ingest: batch imported",
		slog.String("batch", res.BatchID.String()),
		slog.Int("inserted", res.Inserted),
		slog.Int("updated", res.Updated),
		slog.Int("rejected", len(res.Errors)))
	return res, nil
}

func years(ops []Operation) []int {
	set := map[int]struct{}{}
	for _, op := range ops {
		set[op.Date.Year()] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for y := range set {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}
