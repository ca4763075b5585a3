package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-dre/internal/platform/db"
)

// Repository persists imported operations.
type Repository interface {
	UpsertOperations(ctx context.Context, batchID uuid.UUID, ops []Operation) (inserted, updated int, err error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

// A re-imported operation keeps its amounts; only the batch and timestamp move.
const upsertOperationSQL = `INSERT INTO operacoes (
    id_operacao, data_operacao, valor_bruto, valor_fator, valor_ad_valorem, valor_iof,
    pis, csll, cofins, issqn, irpj, valor_tarifas, valor_liquido, lote_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id_operacao) DO UPDATE SET
    lote_id = EXCLUDED.lote_id,
    updated_at = now()
RETURNING (xmax = 0)`

func (r *pgRepository) UpsertOperations(ctx context.Context, batchID uuid.UUID, ops []Operation) (int, int, error) {
	if len(ops) == 0 {
		return 0, 0, nil
	}
	var inserted, updated int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, op := range ops {
			batch.Queue(upsertOperationSQL,
				op.ID, op.Date, op.Gross, op.Factor, op.AdValorem, op.IOF,
				op.PIS, op.CSLL, op.COFINS, op.ISSQN, op.IRPJ, op.Fees, op.Net, batchID)
		}
		results := tx.SendBatch(ctx, batch)
		for _, op := range ops {
			var isInsert bool
			if err := results.QueryRow().Scan(&isInsert); err != nil {
				_ = results.Close()
				return fmt.Errorf("upsert operation %s: %w", op.ID, err)
			}
			if isInsert {
				inserted++
			} else {
				updated++
			}
		}
		return results.Close()
	})
	if err != nil {
		return 0, 0, fmt.Errorf("ingest: %w", err)
	}
	return inserted, updated, nil
}
