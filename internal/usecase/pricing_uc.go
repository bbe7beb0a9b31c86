package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// PricingUseCase manages per-model pricing rules and quotes requests.
type PricingUseCase interface {
	// List returns all active pricing rows, ordered by model key.
	List(ctx context.Context) ([]*model.ModelPricing, error)

	// Get returns the active pricing for a model key.
	Get(ctx context.Context, modelKey string) (*model.ModelPricing, error)

	// Upsert validates rule and stores it as the active pricing for modelKey.
	Upsert(ctx context.Context, modelKey string, rule model.PricingRule) (*model.ModelPricing, error)

	// Deactivate soft-deletes a model's active pricing (ErrNotFound if none).
	Deactivate(ctx context.Context, modelKey string) error

	// Quote returns the credits required for units outputs with params.
	// A model without active pricing yields domain.ErrPricingUnavailable.
	Quote(ctx context.Context, modelKey string, params model.GenerationParams, units int) (int64, error)
}

var _ PricingUseCase = (*pricingUC)(nil)

type pricingUC struct {
	prices repository.ModelPricingRepository
	tx     repository.TransactionManager
	log    *zerolog.Logger
}

// NewPricingUseCase constructs the use case using the model pricing repository.
func NewPricingUseCase(
	prices repository.ModelPricingRepository,
	tx repository.TransactionManager,
	logger *zerolog.Logger,
) PricingUseCase {
	return &pricingUC{
		prices: prices,
		tx:     tx,
		log:    logger,
	}
}

func (p *pricingUC) List(ctx context.Context) ([]*model.ModelPricing, error) {
	return p.prices.ListActive(ctx, repository.NoTX)
}

func (p *pricingUC) Get(ctx context.Context, modelKey string) (*model.ModelPricing, error) {
	return p.prices.GetByModelKey(ctx, repository.NoTX, normalizeModelKey(modelKey))
}

func (p *pricingUC) Upsert(ctx context.Context, modelKey string, rule model.PricingRule) (*model.ModelPricing, error) {
	mk := normalizeModelKey(modelKey)
	if mk == "" {
		return nil, domain.NewValidationError("model", "required")
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	existing, err := p.prices.GetByModelKey(ctx, repository.NoTX, mk)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec := model.NewModelPricing(mk, rule, true)
		if err := p.prices.Create(ctx, repository.NoTX, rec); err != nil {
			return nil, err
		}
		p.log.Info().Str("model", mk).Str("mode", string(rule.Mode)).Msg("pricing created")
		return rec, nil
	case err != nil:
		return nil, err
	}

	existing.Rule = rule
	existing.Active = true
	existing.UpdatedAt = time.Now()
	if err := p.prices.Update(ctx, repository.NoTX, existing); err != nil {
		return nil, err
	}
	p.log.Info().Str("model", mk).Str("mode", string(rule.Mode)).Msg("pricing updated")
	return existing, nil
}

func (p *pricingUC) Deactivate(ctx context.Context, modelKey string) error {
	rec, err := p.prices.GetByModelKey(ctx, repository.NoTX, normalizeModelKey(modelKey))
	if err != nil {
		return err
	}
	if !rec.Active {
		return nil
	}
	rec.Active = false
	return p.prices.Update(ctx, repository.NoTX, rec)
}

func (p *pricingUC) Quote(ctx context.Context, modelKey string, params model.GenerationParams, units int) (int64, error) {
	rec, err := p.prices.GetByModelKey(ctx, repository.NoTX, normalizeModelKey(modelKey))
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !rec.Active) {
		return 0, fmt.Errorf("%w: %s", domain.ErrPricingUnavailable, modelKey)
	}
	if err != nil {
		return 0, err
	}
	return rec.Rule.Required(params, units)
}

func normalizeModelKey(s string) string {
	return strings.TrimSpace(s)
}
