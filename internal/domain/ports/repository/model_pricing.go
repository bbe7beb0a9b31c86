package repository

import (
	"context"

	"genforge/internal/domain/model"
)

type ModelPricingRepository interface {
	Create(ctx context.Context, tx Tx, p *model.ModelPricing) error
	Update(ctx context.Context, tx Tx, p *model.ModelPricing) error
	GetByModelKey(ctx context.Context, tx Tx, key string) (*model.ModelPricing, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.ModelPricing, error)
}
