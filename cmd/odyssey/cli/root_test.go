package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-dre/internal/dre"
	"github.com/odyssey-erp/odyssey-dre/internal/ingest"
	"github.com/odyssey-erp/odyssey-dre/internal/period"
)

type stubBackend struct {
	migrated  bool
	imported  string
	periods   []period.Period
	refreshed [][2]int
	enqueued  [][2]int
}

func (s *stubBackend) Migrate(ctx context.Context) error {
	s.migrated = true
	return nil
}

func (s *stubBackend) Import(ctx context.Context, r io.Reader) (ingest.Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return ingest.Result{}, err
	}
	s.imported = string(raw)
	return ingest.Result{
		BatchID:  uuid.MustParse("2f1b8f7e-3c52-4d8e-9a55-3b0f7b3c1d10"),
		Inserted: 2,
		Errors:   []ingest.RowError{{Line: 3, Column: "data_operacao", Message: "is required"}},
	}, nil
}

func (s *stubBackend) Statement(ctx context.Context, p period.Period) (dre.Statement, error) {
	s.periods = append(s.periods, p)
	return dre.Statement{Period: p, TaxDeduction: decimal.RequireFromString("10000.004")}, nil
}

func (s *stubBackend) Compare(ctx context.Context, p period.Period) (dre.Comparison, error) {
	cur, _ := s.Statement(ctx, p)
	prev, _ := s.Statement(ctx, p.Previous())
	return dre.Comparison{Current: cur, Previous: prev, Growth: cur.CompareTo(prev)}, nil
}

func (s *stubBackend) RefreshSnapshot(ctx context.Context, year, quarter int) (dre.Snapshot, error) {
	s.refreshed = append(s.refreshed, [2]int{year, quarter})
	return dre.Snapshot{
		Statement: dre.Statement{Period: period.Quarter(year, quarter)},
		UpdatedAt: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (s *stubBackend) EnqueueSnapshotRefresh(ctx context.Context, year, quarter int) (*asynq.TaskInfo, error) {
	s.enqueued = append(s.enqueued, [2]int{year, quarter})
	return &asynq.TaskInfo{ID: "task-1", Type: "dre:snapshot_refresh"}, nil
}

func (s *stubBackend) QueueStats(ctx context.Context) (QueueStats, error) {
	return QueueStats{Queue: "default", Pending: 3}, nil
}

func run(t *testing.T, backend Backend, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(func(ctx context.Context) (Backend, func(), error) {
		return backend, func() {}, nil
	})
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	b := &stubBackend{}
	out, err := run(t, b, "", "migrate")
	require.NoError(t, err)
	assert.True(t, b.migrated)
	assert.Contains(t, out, "migrations applied")
}

func TestIngestCommandReadsStdin(t *testing.T) {
	b := &stubBackend{}
	out, err := run(t, b, "id_operacao;data_operacao\n", "ingest", "-")
	require.NoError(t, err)
	assert.Equal(t, "id_operacao;data_operacao\n", b.imported)
	assert.Contains(t, out, "2 inserted, 0 updated, 1 rejected")
	assert.Contains(t, out, "line 3: data_operacao: is required")
}

func TestStatementCommandPrintsRoundedView(t *testing.T) {
	b := &stubBackend{}
	out, err := run(t, b, "", "statement", "--year", "2025", "--quarter", "1")
	require.NoError(t, err)
	require.Len(t, b.periods, 1)
	assert.Equal(t, period.Quarter(2025, 1), b.periods[0])

	var decoded struct {
		Data struct {
			TaxDeduction float64 `json:"deducaoFiscal"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 10000.0, decoded.Data.TaxDeduction)
}

func TestStatementCommandCompare(t *testing.T) {
	b := &stubBackend{}
	out, err := run(t, b, "", "statement", "--year", "2025", "--month", "1", "--compare")
	require.NoError(t, err)
	require.Len(t, b.periods, 2)
	assert.Equal(t, period.Month(2024, 12), b.periods[1])
	assert.Contains(t, out, `"previous"`)
	assert.Contains(t, out, `"growth"`)
}

func TestStatementCommandValidatesPeriod(t *testing.T) {
	_, err := run(t, &stubBackend{}, "", "statement", "--year", "2025", "--quarter", "5")
	assert.Error(t, err)

	_, err = run(t, &stubBackend{}, "", "statement", "--year", "2025", "--quarter", "1", "--month", "2")
	assert.Error(t, err)

	_, err = run(t, &stubBackend{}, "", "statement", "--quarter", "1")
	assert.Error(t, err)
}

func TestSnapshotRefreshCommand(t *testing.T) {
	b := &stubBackend{}
	out, err := run(t, b, "", "snapshot", "refresh", "--year", "2025", "--quarter", "1")
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{2025, 1}}, b.refreshed)
	assert.Contains(t, out, "snapshot 2025-Q1 refreshed")

	out, err = run(t, b, "", "snapshot", "refresh", "--year", "2025", "--quarter", "2", "--async")
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{2025, 2}}, b.enqueued)
	assert.Contains(t, out, "enqueued task-1")
}

func TestBackendErrorsSurface(t *testing.T) {
	boom := errors.New("connect: refused")
	cmd := NewRootCommand(func(ctx context.Context) (Backend, func(), error) { return nil, nil, boom })
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"migrate"})
	assert.ErrorIs(t, cmd.Execute(), boom)
}
