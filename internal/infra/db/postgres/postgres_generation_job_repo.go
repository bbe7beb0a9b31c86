package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
)

var _ repository.GenerationJobRepository = (*generationJobRepo)(nil)

type generationJobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewGenerationJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *generationJobRepo {
	return &generationJobRepo{pool: pool, tm: tm}
}

// transferRankSQL mirrors model.TransferState ordering so the database also
// refuses to move a unit backward.
const transferRankSQL = `(CASE %s WHEN 'pending' THEN 0 WHEN 'queued_for_retry' THEN 1 ELSE 2 END)`

var upsertUnitSQL = fmt.Sprintf(`
INSERT INTO generation_units AS u (job_id, idx, vendor_asset_url, durable_url, transfer_state, error, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (job_id, idx) DO UPDATE SET
  vendor_asset_url = COALESCE(NULLIF(EXCLUDED.vendor_asset_url, ''), u.vendor_asset_url),
  durable_url = COALESCE(NULLIF(EXCLUDED.durable_url, ''), u.durable_url),
  transfer_state = EXCLUDED.transfer_state,
  error = EXCLUDED.error,
  updated_at = EXCLUDED.updated_at
WHERE u.transfer_state = EXCLUDED.transfer_state
   OR (%s < 2 AND %s > %s);`,
	fmt.Sprintf(transferRankSQL, "u.transfer_state"),
	fmt.Sprintf(transferRankSQL, "EXCLUDED.transfer_state"),
	fmt.Sprintf(transferRankSQL, "u.transfer_state"))

func (r *generationJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.GenerationJob) error {
	if tx == nil {
		return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return r.Save(ctx, tx, job)
		})
	}
	job.UpdatedAt = time.Now()
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	const q = `
INSERT INTO generation_jobs (id, owner_id, provider, model_key, params, status, vendor_task_id,
  required_credits, credits_charged, transaction_id, unbilled, error, billing_error, poll_attempts,
  claim_token, created_at, updated_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  vendor_task_id = EXCLUDED.vendor_task_id,
  credits_charged = EXCLUDED.credits_charged,
  transaction_id = EXCLUDED.transaction_id,
  unbilled = EXCLUDED.unbilled,
  error = EXCLUDED.error,
  billing_error = EXCLUDED.billing_error,
  poll_attempts = EXCLUDED.poll_attempts,
  updated_at = EXCLUDED.updated_at,
  finished_at = EXCLUDED.finished_at
WHERE generation_jobs.status NOT IN ('completed', 'failed', 'partial_success')
  AND generation_jobs.claim_token = EXCLUDED.claim_token;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.OwnerID, string(job.Provider), job.ModelKey, params, string(job.Status), job.VendorTaskID,
		job.RequiredCredits, job.CreditsCharged, job.TransactionID, job.Unbilled, job.Error, job.BillingError,
		job.PollAttempts, job.ClaimToken, job.CreatedAt, job.UpdatedAt, job.FinishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrClaimLost
	}
	for _, u := range job.Units {
		if err := r.UpdateUnit(ctx, tx, job.ID, u); err != nil {
			return err
		}
	}
	return nil
}

func (r *generationJobRepo) Claim(ctx context.Context, tx repository.Tx, jobID, expect, next string) (bool, error) {
	const q = `
UPDATE generation_jobs
   SET claim_token = $3, updated_at = NOW()
 WHERE id = $1 AND claim_token = $2 AND status IN ('pending', 'processing');`
	tag, err := execSQL(ctx, r.pool, tx, q, jobID, expect, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *generationJobRepo) UpdateUnit(ctx context.Context, tx repository.Tx, jobID string, u model.GenerationUnit) error {
	_, err := execSQL(ctx, r.pool, tx, upsertUnitSQL,
		jobID, u.Index, u.VendorAssetURL, u.DurableURL, string(u.TransferState), u.Error)
	return err
}

const jobCols = `id, owner_id, provider, model_key, params, status, vendor_task_id, required_credits,
  credits_charged, transaction_id, unbilled, error, billing_error, poll_attempts, claim_token,
  created_at, updated_at, finished_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*model.GenerationJob, error) {
	var (
		j                model.GenerationJob
		provider, status string
		params           []byte
	)
	if err := row.Scan(&j.ID, &j.OwnerID, &provider, &j.ModelKey, &params, &status, &j.VendorTaskID,
		&j.RequiredCredits, &j.CreditsCharged, &j.TransactionID, &j.Unbilled, &j.Error, &j.BillingError,
		&j.PollAttempts, &j.ClaimToken, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt); err != nil {
		return nil, err
	}
	j.Provider = model.ProviderKind(provider)
	j.Status = model.JobStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Params); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &j, nil
}

func (r *generationJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.GenerationJob, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobCols+` FROM generation_jobs WHERE id=$1;`, id)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	job, err := scanJob(row)
	if err != nil {
		return nil, scanErr(err)
	}
	if err := r.loadUnits(ctx, tx, []*model.GenerationJob{job}); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *generationJobRepo) ListStale(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.GenerationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobCols + `
  FROM generation_jobs
 WHERE status IN ('pending', 'processing') AND updated_at < $1
 ORDER BY updated_at ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, before, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	var jobs []*model.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, domain.ErrReadDatabaseRow
		}
		jobs = append(jobs, j)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if err := r.loadUnits(ctx, tx, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *generationJobRepo) loadUnits(ctx context.Context, tx repository.Tx, jobs []*model.GenerationJob) error {
	if len(jobs) == 0 {
		return nil
	}
	byID := make(map[string]*model.GenerationJob, len(jobs))
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
		ids = append(ids, j.ID)
	}
	const q = `
SELECT job_id, idx, vendor_asset_url, durable_url, transfer_state, error
  FROM generation_units
 WHERE job_id = ANY($1)
 ORDER BY job_id, idx;`
	rows, err := queryRows(ctx, r.pool, tx, q, ids)
	if err != nil {
		return domain.ErrOperationFailed
	}
	defer rows.Close()
	for rows.Next() {
		var (
			jobID, state string
			u            model.GenerationUnit
		)
		if err := rows.Scan(&jobID, &u.Index, &u.VendorAssetURL, &u.DurableURL, &state, &u.Error); err != nil {
			return domain.ErrReadDatabaseRow
		}
		u.TransferState = model.TransferState(state)
		if j, ok := byID[jobID]; ok {
			j.Units = append(j.Units, u)
		}
	}
	if rows.Err() != nil {
		return domain.ErrReadDatabaseRow
	}
	return nil
}
