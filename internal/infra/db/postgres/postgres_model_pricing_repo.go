package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
)

var _ repository.ModelPricingRepository = (*modelPricingRepo)(nil)

type modelPricingRepo struct {
	pool *pgxpool.Pool
}

func NewModelPricingRepo(pool *pgxpool.Pool) *modelPricingRepo {
	return &modelPricingRepo{pool: pool}
}

func scanPricing(row interface{ Scan(...interface{}) error }) (*model.ModelPricing, error) {
	var (
		p    model.ModelPricing
		rule []byte
	)
	if err := row.Scan(&p.ID, &p.ModelKey, &rule, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rule, &p.Rule); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &p, nil
}

func (r *modelPricingRepo) GetByModelKey(ctx context.Context, tx repository.Tx, key string) (*model.ModelPricing, error) {
	const q = `
SELECT id, model_key, rule, active, created_at, updated_at
  FROM model_pricing
 WHERE model_key=$1 AND active=TRUE
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, key)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	p, err := scanPricing(row)
	if err != nil {
		return nil, scanErr(err)
	}
	return p, nil
}

func (r *modelPricingRepo) Create(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	rule, err := json.Marshal(p.Rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	const q = `
INSERT INTO model_pricing (id, model_key, rule, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6);`
	_, err = execSQL(ctx, r.pool, tx, q, p.ID, p.ModelKey, rule, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *modelPricingRepo) Update(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error {
	p.UpdatedAt = time.Now()
	rule, err := json.Marshal(p.Rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	const q = `
UPDATE model_pricing SET
  model_key = $2,
  rule = $3,
  active = $4,
  updated_at = $5
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, p.ID, p.ModelKey, rule, p.Active, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *modelPricingRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.ModelPricing, error) {
	const q = `
SELECT id, model_key, rule, active, created_at, updated_at
  FROM model_pricing WHERE active=TRUE ORDER BY model_key ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.ModelPricing
	for rows.Next() {
		p, err := scanPricing(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
