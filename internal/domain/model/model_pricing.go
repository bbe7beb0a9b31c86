package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"genforge/internal/domain"
)

type PricingMode string

const (
	PricingFixed           PricingMode = "fixed"
	PricingPerSecond       PricingMode = "per_second"
	PricingResolutionTable PricingMode = "resolution_table"
)

// PricingRule computes the per-unit credit cost of a model.
// Table is keyed by resolution, then by duration in seconds.
type PricingRule struct {
	Mode             PricingMode                 `json:"mode" yaml:"mode"`
	UnitCredits      int64                       `json:"unit_credits,omitempty" yaml:"unit_credits"`
	PerSecondCredits int64                       `json:"per_second_credits,omitempty" yaml:"per_second_credits"`
	DefaultDuration  int                         `json:"default_duration,omitempty" yaml:"default_duration"`
	Table            map[string]map[string]int64 `json:"table,omitempty" yaml:"table"`
}

type ModelPricing struct {
	ID        string
	ModelKey  string
	Rule      PricingRule
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewModelPricing(modelKey string, rule PricingRule, active bool) *ModelPricing {
	now := time.Now()
	return &ModelPricing{
		ID:        uuid.NewString(),
		ModelKey:  modelKey,
		Rule:      rule,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the rule is usable before it is stored.
func (r PricingRule) Validate() error {
	switch r.Mode {
	case PricingFixed:
		if r.UnitCredits <= 0 {
			return domain.NewValidationError("unit_credits", "must be positive")
		}
	case PricingPerSecond:
		if r.PerSecondCredits <= 0 {
			return domain.NewValidationError("per_second_credits", "must be positive")
		}
	case PricingResolutionTable:
		if len(r.Table) == 0 {
			return domain.NewValidationError("table", "must not be empty")
		}
	default:
		return domain.NewValidationError("mode", fmt.Sprintf("unknown pricing mode %q", r.Mode))
	}
	return nil
}

// UnitPrice returns the credits for one unit with the given params.
func (r PricingRule) UnitPrice(p GenerationParams) (int64, error) {
	switch r.Mode {
	case PricingFixed:
		return r.UnitCredits, nil
	case PricingPerSecond:
		d := p.DurationSeconds
		if d <= 0 {
			d = r.DefaultDuration
		}
		if d <= 0 {
			return 0, domain.NewValidationError("duration_seconds", "required for per-second pricing")
		}
		return r.PerSecondCredits * int64(d), nil
	case PricingResolutionTable:
		res := strings.ToLower(strings.TrimSpace(p.Resolution))
		byDur, ok := r.Table[res]
		if !ok {
			return 0, fmt.Errorf("%w: no price for resolution %q", domain.ErrPricingUnavailable, p.Resolution)
		}
		d := p.DurationSeconds
		if d <= 0 {
			d = r.DefaultDuration
		}
		price, ok := byDur[strconv.Itoa(d)]
		if !ok {
			return 0, fmt.Errorf("%w: no price for %s/%ds", domain.ErrPricingUnavailable, res, d)
		}
		return price, nil
	}
	return 0, fmt.Errorf("%w: mode %q", domain.ErrPricingUnavailable, r.Mode)
}

// Required returns the total credits for a request of n units.
func (r PricingRule) Required(p GenerationParams, n int) (int64, error) {
	unit, err := r.UnitPrice(p)
	if err != nil {
		return 0, err
	}
	return unit * int64(n), nil
}
