package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
)

var _ repository.CreditRepository = (*creditRepo)(nil)

type creditRepo struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewCreditRepo builds the ledger repository. lockTimeout bounds how long
// GetForUpdate waits on a contended account row.
func NewCreditRepo(pool *pgxpool.Pool, lockTimeout time.Duration) *creditRepo {
	return &creditRepo{pool: pool, lockTimeout: lockTimeout}
}

const creditAccountCols = `owner_id, balance, total_recharged, total_consumed, total_granted, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*model.CreditAccount, error) {
	var a model.CreditAccount
	if err := row.Scan(&a.OwnerID, &a.Balance, &a.TotalRecharged, &a.TotalConsumed, &a.TotalGranted, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *creditRepo) GetForUpdate(ctx context.Context, tx repository.Tx, ownerID string) (*model.CreditAccount, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: GetForUpdate requires a transaction", domain.ErrInvalidExecContext)
	}
	if r.lockTimeout > 0 {
		// set_config with is_local=true is SET LOCAL with a bind parameter.
		if _, err := execSQL(ctx, r.pool, tx, `SELECT set_config('lock_timeout', $1, true);`,
			fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())); err != nil {
			return nil, err
		}
	}

	const ensure = `
INSERT INTO credit_accounts (owner_id, balance, total_recharged, total_consumed, total_granted, created_at, updated_at)
VALUES ($1, 0, 0, 0, 0, NOW(), NOW())
ON CONFLICT (owner_id) DO NOTHING;`
	if _, err := execSQL(ctx, r.pool, tx, ensure, ownerID); err != nil {
		return nil, err
	}

	q := `SELECT ` + creditAccountCols + ` FROM credit_accounts WHERE owner_id=$1 FOR UPDATE;`
	row, err := pickRow(ctx, r.pool, tx, q, ownerID)
	if err != nil {
		return nil, err
	}
	a, err := scanAccount(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return a, nil
}

func (r *creditRepo) Get(ctx context.Context, tx repository.Tx, ownerID string) (*model.CreditAccount, error) {
	q := `SELECT ` + creditAccountCols + ` FROM credit_accounts WHERE owner_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, ownerID)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.CreditAccount{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, scanErr(err)
	}
	return a, nil
}

func (r *creditRepo) SaveAccount(ctx context.Context, tx repository.Tx, a *model.CreditAccount) error {
	if a.Balance < 0 {
		return fmt.Errorf("%w: negative balance for %s", domain.ErrInvalidArgument, a.OwnerID)
	}
	a.UpdatedAt = time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = a.UpdatedAt
	}
	const q = `
INSERT INTO credit_accounts (owner_id, balance, total_recharged, total_consumed, total_granted, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (owner_id) DO UPDATE SET
  balance = EXCLUDED.balance,
  total_recharged = EXCLUDED.total_recharged,
  total_consumed = EXCLUDED.total_consumed,
  total_granted = EXCLUDED.total_granted,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q,
		a.OwnerID, a.Balance, a.TotalRecharged, a.TotalConsumed, a.TotalGranted, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *creditRepo) AppendTransaction(ctx context.Context, tx repository.Tx, t *model.CreditTransaction) error {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	const q = `
INSERT INTO credit_transactions (id, owner_id, type, amount, balance_before, balance_after, reason, related_job_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err := execSQL(ctx, r.pool, tx, q,
		t.ID, t.OwnerID, string(t.Type), t.Amount, t.BalanceBefore, t.BalanceAfter, t.Reason, t.RelatedJobID, t.CreatedAt)
	return err
}

func (r *creditRepo) ListTransactions(ctx context.Context, tx repository.Tx, ownerID string, limit int) ([]*model.CreditTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const q = `
SELECT id, owner_id, type, amount, balance_before, balance_after, reason, related_job_id, created_at
  FROM credit_transactions
 WHERE owner_id=$1
 ORDER BY created_at DESC, id DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, ownerID, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.CreditTransaction
	for rows.Next() {
		var t model.CreditTransaction
		var typ string
		if err := rows.Scan(&t.ID, &t.OwnerID, &typ, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.Reason, &t.RelatedJobID, &t.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		t.Type = model.CreditTxType(typ)
		out = append(out, &t)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *creditRepo) FindConsumeByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.CreditTransaction, error) {
	const q = `
SELECT id, owner_id, type, amount, balance_before, balance_after, reason, related_job_id, created_at
  FROM credit_transactions
 WHERE related_job_id=$1 AND type='consume';`
	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	var t model.CreditTransaction
	var typ string
	if err := row.Scan(&t.ID, &t.OwnerID, &typ, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.Reason, &t.RelatedJobID, &t.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	t.Type = model.CreditTxType(typ)
	return &t, nil
}
