package fiscal_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-dre/internal/fiscal"
	"github.com/odyssey-erp/odyssey-dre/internal/fiscal/fiscaltest"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
	"github.com/odyssey-erp/odyssey-dre/internal/platform/httpx"
	_ "github.com/odyssey-erp/odyssey-dre/testing"
)

type countingInvalidator struct {
	calls []int
	err   error
}

func (c *countingInvalidator) Invalidate(_ context.Context, year int) error {
	c.calls = append(c.calls, year)
	return c.err
}

type recordingNotifier struct{ quarters [][2]int }

func (n *recordingNotifier) OverridesChanged(_ context.Context, year, quarter int) {
	n.quarters = append(n.quarters, [2]int{year, quarter})
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newService(t *testing.T) (*fiscal.Service, *fiscaltest.Repository, *countingInvalidator) {
	t.Helper()
	repo := fiscaltest.NewRepository()
	inv := &countingInvalidator{}
	svc := fiscal.NewService(repo, inv, nil).WithMetrics(fiscal.NewMetrics(prometheus.NewRegistry()))
	return svc, repo, inv
}

func TestMonthlyRoundTrip(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SaveMonthly(ctx, fiscal.MonthlyDeductionRequest{Year: 2025, Month: 1, Value: decPtr("10000")})
	require.NoError(t, err)

	got, err := svc.GetMonthly(ctx, fiscal.MonthKey{Year: 2025, Month: 1})
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(decimal.RequireFromString("10000")), "got %s", got.Value)
}

func TestMonthlyUpsertIsIdempotent(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	for _, v := range []string{"500", "750", "750"} {
		_, err := svc.SaveMonthly(ctx, fiscal.MonthlyDeductionRequest{Year: 2025, Month: 3, Value: decPtr(v)})
		require.NoError(t, err)
	}
	monthly, _, _ := repo.Len()
	assert.Equal(t, 1, monthly)

	got, err := svc.GetMonthly(ctx, fiscal.MonthKey{Year: 2025, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, "750", got.Value.String())
}

func TestGetDefaultsToZero(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	m, err := svc.GetMonthly(ctx, fiscal.MonthKey{Year: 2025, Month: 7})
	require.NoError(t, err)
	assert.True(t, m.Value.IsZero())
	assert.Equal(t, 7, m.Month)

	q, err := svc.GetQuarterly(ctx, fiscal.QuarterKey{Year: 2025, Quarter: 4})
	require.NoError(t, err)
	assert.True(t, q.Value.IsZero())

	mt, err := svc.GetManualTaxes(ctx, fiscal.QuarterKey{Year: 2025, Quarter: 1})
	require.NoError(t, err)
	assert.True(t, mt.CSLL.IsZero())
	assert.True(t, mt.IRPJ.IsZero())
}

func TestSaveRejectsNegativeAndMissingValues(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SaveMonthly(ctx, fiscal.MonthlyDeductionRequest{Year: 2025, Month: 1, Value: decPtr("-1")})
	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "value", verr.Fields[0].Field)

	_, err = svc.SaveQuarterly(ctx, fiscal.QuarterlyDeductionRequest{Year: 2025, Quarter: 5, Value: decPtr("1")})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "quarter", verr.Fields[0].Field)

	_, err = svc.SaveManualTaxes(ctx, fiscal.ManualTaxesRequest{Year: 2025, Quarter: 1, CSLL: decPtr("10")})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "irpj", verr.Fields[0].Field)

	m, q, mt := repo.Len()
	assert.Zero(t, m+q+mt)
}

func TestSaveRejectsSubCentValues(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SaveMonthly(ctx, fiscal.MonthlyDeductionRequest{Year: 2025, Month: 1, Value: decPtr("100.005")})
	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "value", verr.Fields[0].Field)
	assert.Equal(t, "must have at most 2 decimal places", verr.Fields[0].Message)

	_, err = svc.SaveManualTaxes(ctx, fiscal.ManualTaxesRequest{Year: 2025, Quarter: 1, CSLL: decPtr("10"), IRPJ: decPtr("0.001")})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "irpj", verr.Fields[0].Field)

	m, q, mt := repo.Len()
	assert.Zero(t, m+q+mt)
}

func TestSaveAcceptsExplicitZero(t *testing.T) {
	svc, _, _ := newService(t)
	row, err := svc.SaveMonthly(context.Background(), fiscal.MonthlyDeductionRequest{Year: 2025, Month: 2, Value: decPtr("0")})
	require.NoError(t, err)
	assert.True(t, row.Value.IsZero())
}

func TestWritesInvalidateBeforeAndAfterCommit(t *testing.T) {
	svc, _, inv := newService(t)
	_, err := svc.SaveManualTaxes(context.Background(), fiscal.ManualTaxesRequest{
		Year: 2025, Quarter: 1, CSLL: decPtr("1200"), IRPJ: decPtr("2000"),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2025, 2025}, inv.calls)
}

func TestFailedInvalidationRollsBackWrite(t *testing.T) {
	svc, repo, inv := newService(t)
	inv.err = errors.New("redis down")

	_, err := svc.SaveMonthly(context.Background(), fiscal.MonthlyDeductionRequest{Year: 2025, Month: 1, Value: decPtr("10")})
	require.Error(t, err)
	monthly, _, _ := repo.Len()
	assert.Zero(t, monthly)
}

func TestSaveQuarterlyReportsMonthlyPrecedence(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SaveMonthly(ctx, fiscal.MonthlyDeductionRequest{Year: 2025, Month: 1, Value: decPtr("10000")})
	require.NoError(t, err)

	res, err := svc.SaveQuarterly(ctx, fiscal.QuarterlyDeductionRequest{Year: 2025, Quarter: 1, Value: decPtr("23333333")})
	require.NoError(t, err)
	assert.Equal(t, "23333333", res.Row.Value.String())
	assert.Equal(t, "10000", res.Effective.Amount.String())
	assert.Len(t, res.Effective.Warnings(), 1)
}

func TestNotifierSeesQuarterOfMonthlyWrite(t *testing.T) {
	repo := fiscaltest.NewRepository()
	n := &recordingNotifier{}
	svc := fiscal.NewService(repo, nil, nil).WithNotifier(n)

	_, err := svc.SaveMonthly(context.Background(), fiscal.MonthlyDeductionRequest{Year: 2025, Month: 5, Value: decPtr("1")})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{2025, 2}}, n.quarters)
}

func TestPropagateQuarterlyKeepsMonthlyPrecedence(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SaveMonthly(ctx, fiscal.MonthlyDeductionRequest{Year: 2025, Month: 2, Value: decPtr("10000")})
	require.NoError(t, err)

	res, warnings, err := svc.PropagateDeduction(ctx, period.Quarter(2025, 1), decimal.RequireFromString("50000"))
	require.NoError(t, err)
	assert.Equal(t, "10000", res.Amount.String())
	assert.Len(t, warnings, 1)

	stored, ok, err := repo.GetQuarterly(ctx, 2025, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10000", stored.Value.String())
}

func TestPropagateQuarterlyWithoutMonthsStoresSubmission(t *testing.T) {
	svc, _, _ := newService(t)
	res, warnings, err := svc.PropagateDeduction(context.Background(), period.Quarter(2025, 3), decimal.RequireFromString("4200"))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, fiscal.SourceQuarterly, res.Source)
	assert.Equal(t, "4200", res.Amount.String())
}

func TestPropagateMonthlyRealignsQuarter(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	_, err := svc.SaveQuarterly(ctx, fiscal.QuarterlyDeductionRequest{Year: 2025, Quarter: 2, Value: decPtr("9999")})
	require.NoError(t, err)

	res, warnings, err := svc.PropagateDeduction(ctx, period.Month(2025, 4), decimal.RequireFromString("300"))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "300", res.Amount.String())

	stored, _, err := repo.GetQuarterly(ctx, 2025, 2)
	require.NoError(t, err)
	assert.Equal(t, "300", stored.Value.String())
}

type quarterlyWriteFails struct {
	*fiscaltest.Repository
	err error
}

func (r quarterlyWriteFails) UpsertQuarterly(context.Context, fiscal.QuarterlyTaxDeduction, fiscal.CommitHook) (fiscal.QuarterlyTaxDeduction, error) {
	return fiscal.QuarterlyTaxDeduction{}, r.err
}

func TestPropagateMonthlyIsAllOrNothing(t *testing.T) {
	boom := errors.New("db down")
	repo := fiscaltest.NewRepository()
	n := &recordingNotifier{}
	svc := fiscal.NewService(quarterlyWriteFails{Repository: repo, err: boom}, nil, nil).WithNotifier(n)
	ctx := context.Background()

	_, _, err := svc.PropagateDeduction(ctx, period.Month(2025, 1), decimal.RequireFromString("10000"))
	require.ErrorIs(t, err, boom)

	_, ok, err := repo.GetMonthly(ctx, 2025, 1)
	require.NoError(t, err)
	assert.False(t, ok, "monthly row must roll back with the quarterly write")
	assert.Empty(t, n.quarters)
}

func TestPropagateJoinsCallerTransaction(t *testing.T) {
	svc, repo, _ := newService(t)
	n := &recordingNotifier{}
	svc.WithNotifier(n)
	boom := errors.New("snapshot write failed")
	ctx := context.Background()

	err := repo.InTx(ctx, func(ctx context.Context) error {
		_, _, err := svc.PropagateDeduction(ctx, period.Quarter(2025, 2), decimal.RequireFromString("700"))
		require.NoError(t, err)
		assert.Empty(t, n.quarters, "notification waits for the outer commit")
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := repo.GetQuarterly(ctx, 2025, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, n.quarters)
}

func TestPropagateRejectsAnnual(t *testing.T) {
	svc, _, _ := newService(t)
	_, _, err := svc.PropagateDeduction(context.Background(), period.Year(2025), decimal.Zero)
	require.ErrorIs(t, err, httpx.ErrValidation)
}
