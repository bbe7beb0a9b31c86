package provider

import (
	"context"

	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*limitedProvider)(nil)

// limitedProvider caps in-flight vendor calls per adapter.
type limitedProvider struct {
	inner adapter.ProviderAdapter
	sem   chan struct{}
}

func NewLimited(inner adapter.ProviderAdapter, maxConcurrent int) adapter.ProviderAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedProvider{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedProvider) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedProvider) release() { <-l.sem }

func (l *limitedProvider) Kind() model.ProviderKind { return l.inner.Kind() }

func (l *limitedProvider) Submit(ctx context.Context, spec model.ModelSpec, params model.GenerationParams, units int) (adapter.Submission, error) {
	if err := l.acquire(ctx); err != nil {
		return adapter.Submission{}, err
	}
	defer l.release()
	return l.inner.Submit(ctx, spec, params, units)
}

func (l *limitedProvider) PollStatus(ctx context.Context, spec model.ModelSpec, taskID string) (adapter.PollResult, error) {
	if err := l.acquire(ctx); err != nil {
		return adapter.PollResult{}, err
	}
	defer l.release()
	return l.inner.PollStatus(ctx, spec, taskID)
}
