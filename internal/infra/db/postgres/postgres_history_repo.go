package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
)

var _ repository.HistoryRepository = (*historyRepo)(nil)

type historyRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *historyRepo {
	return &historyRepo{pool: pool}
}

func (r *historyRepo) Record(ctx context.Context, tx repository.Tx, rec *model.HistoryRecord) error {
	units, err := json.Marshal(rec.Units)
	if err != nil {
		return fmt.Errorf("marshal units: %w", err)
	}
	const q = `
INSERT INTO generation_history (job_id, owner_id, provider, model_key, status, units, credits_charged,
  transaction_id, unbilled, error, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (job_id) DO UPDATE SET
  status = EXCLUDED.status,
  units = EXCLUDED.units,
  credits_charged = EXCLUDED.credits_charged,
  transaction_id = EXCLUDED.transaction_id,
  unbilled = EXCLUDED.unbilled,
  error = EXCLUDED.error,
  recorded_at = EXCLUDED.recorded_at;`
	_, err = execSQL(ctx, r.pool, tx, q,
		rec.JobID, rec.OwnerID, string(rec.Provider), rec.ModelKey, string(rec.Status), units,
		rec.CreditsCharged, rec.TransactionID, rec.Unbilled, rec.Error, rec.RecordedAt)
	return err
}

// PatchUnitURL rewrites one element of the units array in place. Re-running it
// with the same URL leaves the row unchanged.
func (r *historyRepo) PatchUnitURL(ctx context.Context, tx repository.Tx, jobID string, unitIndex int, durableURL string) error {
	const q = `
UPDATE generation_history
   SET units = jsonb_set(
         jsonb_set(units, ARRAY[$2::text, 'durable_url'], to_jsonb($3::text), true),
         ARRAY[$2::text, 'transfer_state'], to_jsonb('transferred'::text), true)
 WHERE job_id = $1
   AND jsonb_array_length(units) > $4::int
   AND units -> $4::int ->> 'transfer_state' <> 'abandoned';`
	_, err := execSQL(ctx, r.pool, tx, q, jobID, fmt.Sprint(unitIndex), durableURL, unitIndex)
	return err
}

func (r *historyRepo) AbandonUnit(ctx context.Context, tx repository.Tx, jobID string, unitIndex int, reason string) error {
	const q = `
UPDATE generation_history
   SET units = jsonb_set(
         jsonb_set(units, ARRAY[$2::text, 'transfer_state'], to_jsonb('abandoned'::text), true),
         ARRAY[$2::text, 'error'], to_jsonb($3::text), true)
 WHERE job_id = $1
   AND jsonb_array_length(units) > $4::int
   AND units -> $4::int ->> 'transfer_state' <> 'transferred';`
	_, err := execSQL(ctx, r.pool, tx, q, jobID, fmt.Sprint(unitIndex), reason, unitIndex)
	return err
}
