package fiscal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-dre/internal/period"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/db"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/validate"
)

// Invalidator drops every cached statement of a year.
type Invalidator interface {
	Invalidate(ctx context.Context, year int) error
}

// ChangeNotifier is told about committed override writes, e.g. to schedule a snapshot refresh.
type ChangeNotifier interface {
	OverridesChanged(ctx context.Context, year, quarter int)
}

// Service exposes the override store and the deduction reconciliation to the HTTP layer and the engine.
type Service struct {
	repo        Repository
	validator   *validate.Validator
	invalidator Invalidator
	notifier    ChangeNotifier
	metrics     *Metrics
	logger      *slog.Logger
}

// NewService constructs a Service. A nil invalidator disables cache invalidation.
func NewService(repo Repository, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		validator:   validate.New(),
		invalidator: invalidator,
		logger:      logger,
	}
}

// WithNotifier registers a post-commit change notifier.
func (s *Service) WithNotifier(n ChangeNotifier) *Service {
	s.notifier = n
	return s
}

// WithMetrics attaches Prometheus collectors.
func (s *Service) WithMetrics(m *Metrics) *Service {
	s.metrics = m
	return s
}

// GetMonthly returns the stored monthly deduction or a zero-valued row.
func (s *Service) GetMonthly(ctx context.Context, key MonthKey) (MonthlyTaxDeduction, error) {
	if err := s.validator.Struct(key); err != nil {
		return MonthlyTaxDeduction{}, err
	}
	row, ok, err := s.repo.GetMonthly(ctx, key.Year, key.Month)
	if err != nil {
		return MonthlyTaxDeduction{}, err
	}
	if !ok {
		return MonthlyTaxDeduction{Year: key.Year, Month: key.Month, Value: decimal.Zero}, nil
	}
	return row, nil
}

// SaveMonthly upserts the deduction of one month and returns the persisted row.
func (s *Service) SaveMonthly(ctx context.Context, req MonthlyDeductionRequest) (MonthlyTaxDeduction, error) {
	if err := s.validator.Struct(req); err != nil {
		return MonthlyTaxDeduction{}, err
	}
	row, err := s.repo.UpsertMonthly(ctx, MonthlyTaxDeduction{
		Year:  req.Year,
		Month: req.Month,
		Value: *req.Value,
	}, s.invalidateHook(req.Year))
	if err != nil {
		return MonthlyTaxDeduction{}, err
	}
	s.afterCommit(ctx, req.Year, period.QuarterOf(req.Month))
	return row, nil
}

// GetQuarterly returns the stored quarterly deduction or a zero-valued row.
func (s *Service) GetQuarterly(ctx context.Context, key QuarterKey) (QuarterlyTaxDeduction, error) {
	if err := s.validator.Struct(key); err != nil {
		return QuarterlyTaxDeduction{}, err
	}
	row, ok, err := s.repo.GetQuarterly(ctx, key.Year, key.Quarter)
	if err != nil {
		return QuarterlyTaxDeduction{}, err
	}
	if !ok {
		return QuarterlyTaxDeduction{Year: key.Year, Quarter: key.Quarter, Value: decimal.Zero}, nil
	}
	return row, nil
}

// SaveQuarterly upserts the deduction of one quarter. The result carries the deduction that reads will
// actually apply, so callers learn when monthly rows take precedence over the stored value.
func (s *Service) SaveQuarterly(ctx context.Context, req QuarterlyDeductionRequest) (QuarterlyDeductionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return QuarterlyDeductionResult{}, err
	}
	row, err := s.repo.UpsertQuarterly(ctx, QuarterlyTaxDeduction{
		Year:    req.Year,
		Quarter: req.Quarter,
		Value:   *req.Value,
	}, s.invalidateHook(req.Year))
	if err != nil {
		return QuarterlyDeductionResult{}, err
	}
	s.afterCommit(ctx, req.Year, req.Quarter)

	effective, err := s.ReconcileDeduction(ctx, period.Quarter(req.Year, req.Quarter))
	if err != nil {
		return QuarterlyDeductionResult{}, err
	}
	return QuarterlyDeductionResult{Row: row, Effective: effective}, nil
}

// GetManualTaxes returns the stored manual taxes or zeros.
func (s *Service) GetManualTaxes(ctx context.Context, key QuarterKey) (ManualQuarterlyTaxes, error) {
	if err := s.validator.Struct(key); err != nil {
		return ManualQuarterlyTaxes{}, err
	}
	row, ok, err := s.repo.GetManualTaxes(ctx, key.Year, key.Quarter)
	if err != nil {
		return ManualQuarterlyTaxes{}, err
	}
	if !ok {
		return ManualQuarterlyTaxes{Year: key.Year, Quarter: key.Quarter, CSLL: decimal.Zero, IRPJ: decimal.Zero}, nil
	}
	return row, nil
}

// SaveManualTaxes upserts the manual CSLL and IRPJ of one quarter.
func (s *Service) SaveManualTaxes(ctx context.Context, req ManualTaxesRequest) (ManualQuarterlyTaxes, error) {
	if err := s.validator.Struct(req); err != nil {
		return ManualQuarterlyTaxes{}, err
	}
	row, err := s.repo.UpsertManualTaxes(ctx, ManualQuarterlyTaxes{
		Year:    req.Year,
		Quarter: req.Quarter,
		CSLL:    *req.CSLL,
		IRPJ:    *req.IRPJ,
	}, s.invalidateHook(req.Year))
	if err != nil {
		return ManualQuarterlyTaxes{}, err
	}
	s.afterCommit(ctx, req.Year, req.Quarter)
	return row, nil
}

// ManualTaxesByQuarter returns the manual tax rows of a year keyed by quarter.
func (s *Service) ManualTaxesByQuarter(ctx context.Context, year int) (map[int]ManualQuarterlyTaxes, error) {
	rows, err := s.repo.ListManualTaxes(ctx, year)
	if err != nil {
		return nil, err
	}
	out := make(map[int]ManualQuarterlyTaxes, len(rows))
	for _, row := range rows {
		out[row.Quarter] = row
	}
	return out, nil
}

// ReconcileDeduction loads the year's override rows and resolves the deduction applied to p.
// Conflicts are logged and counted here so every read path reports them the same way.
func (s *Service) ReconcileDeduction(ctx context.Context, p period.Period) (Resolution, error) {
	monthly, err := s.repo.ListMonthly(ctx, p.Year)
	if err != nil {
		return Resolution{}, err
	}
	quarterly, err := s.repo.ListQuarterly(ctx, p.Year)
	if err != nil {
		return Resolution{}, err
	}
	res := ResolveDeduction(p, monthly, quarterly)
	for _, c := range res.Conflicts {
		s.logger.WarnContext(ctx, "fiscal: deduction conflict",
			slog.String("period", c.PeriodKey),
			slog.String("monthly", c.Monthly.String()),
			slog.String("quarterly", c.Quarterly.String()),
			slog.String("chosen", c.Chosen.String()),
		)
		s.metrics.conflict(p.Type)
	}
	return res, nil
}

// PropagateDeduction stores a deduction submitted with saved results without breaking the precedence rule.
//
// A quarterly submission becomes the quarterly row, unless monthly rows exist for the quarter: the quarterly row
// then mirrors their sum and the submission is reported as overridden. A monthly submission is stored as the
// month's row and the enclosing quarter row is realigned to the new monthly sum. All writes share one
// transaction, which joins the caller's when ctx carries one.
func (s *Service) PropagateDeduction(ctx context.Context, p period.Period, submitted decimal.Decimal) (Resolution, []string, error) {
	if submitted.IsNegative() {
		return Resolution{}, nil, fmt.Errorf("fiscal: propagate deduction: %w", errNegativeDeduction)
	}
	if p.Type != period.Quarterly && p.Type != period.Monthly {
		return Resolution{}, nil, errAnnualPropagation
	}

	var (
		res      Resolution
		warnings []string
	)
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		if p.Type == period.Monthly {
			if _, err := s.repo.UpsertMonthly(ctx, MonthlyTaxDeduction{Year: p.Year, Month: p.Month, Value: submitted},
				s.invalidateHook(p.Year)); err != nil {
				return err
			}
		}

		current, err := s.ReconcileDeduction(ctx, period.Quarter(p.Year, p.Quarter))
		if err != nil {
			return err
		}
		value := current.Amount
		if p.Type == period.Quarterly && current.Source != SourceMonthly {
			value = submitted
		}
		if p.Type == period.Quarterly && current.Source == SourceMonthly && !submitted.Equal(current.Amount) {
			warnings = append(warnings, fmt.Sprintf(
				"submitted deduction %s for %s ignored; monthly deductions total %s",
				submitted.StringFixed(2), p.Key, current.Amount.StringFixed(2)))
		}
		if _, err := s.repo.UpsertQuarterly(ctx, QuarterlyTaxDeduction{Year: p.Year, Quarter: p.Quarter, Value: value},
			s.invalidateHook(p.Year)); err != nil {
			return err
		}

		res, err = s.ReconcileDeduction(ctx, p)
		return err
	})
	if err != nil {
		return Resolution{}, nil, err
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		s.afterCommit(ctx, p.Year, p.Quarter)
	})
	return res, append(warnings, res.Warnings()...), nil
}

func (s *Service) invalidateHook(year int) CommitHook {
	if s.invalidator == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := s.invalidator.Invalidate(ctx, year); err != nil {
			return fmt.Errorf("fiscal: invalidate statements for %d: %w", year, err)
		}
		return nil
	}
}

// afterCommit repeats the invalidation so a statement computed between the hook and the commit is dropped too.
func (s *Service) afterCommit(ctx context.Context, year, quarter int) {
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, year); err != nil {
			s.logger.ErrorContext(ctx, "fiscal: post-commit invalidation failed",
				slog.Int("year", year), slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		s.notifier.OverridesChanged(ctx, year, quarter)
	}
}
