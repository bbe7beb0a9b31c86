package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
	"genforge/internal/domain/ports/repository"
	"genforge/internal/infra/logging"
	"genforge/internal/infra/metrics"
)

// ProviderRegistry resolves the adapter for a provider kind.
type ProviderRegistry interface {
	Get(kind model.ProviderKind) (adapter.ProviderAdapter, error)
}

type EngineConfig struct {
	PollInterval     time.Duration
	PollLockTTL      time.Duration
	SubmitAttempts   int
	SubmitRetryDelay time.Duration
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PollDelay is the wait before poll attempt n (1-based): base for the first
// ten attempts, 1.5x base up to twenty, 2x base after that.
func PollDelay(base time.Duration, attempt int) time.Duration {
	switch {
	case attempt <= 10:
		return base
	case attempt <= 20:
		return base * 3 / 2
	default:
		return base * 2
	}
}

// PollingEngine drives a job from Pending to a vendor-terminal result:
// submit (with retries on unreachable vendors), then a bounded poll loop.
// Only one poll per vendor task is ever in flight.
type PollingEngine struct {
	registry ProviderRegistry
	jobs     repository.GenerationJobRepository
	locker   repository.Locker
	cfg      EngineConfig
	sleep    Sleeper
	log      *zerolog.Logger
}

func NewPollingEngine(registry ProviderRegistry, jobs repository.GenerationJobRepository, locker repository.Locker, cfg EngineConfig, logger *zerolog.Logger) *PollingEngine {
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = 3
	}
	if cfg.PollLockTTL <= 0 {
		cfg.PollLockTTL = time.Minute
	}
	return &PollingEngine{
		registry: registry,
		jobs:     jobs,
		locker:   locker,
		cfg:      cfg,
		sleep:    sleepCtx,
		log:      logging.Component(logger, "polling_engine"),
	}
}

// WithSleeper replaces the real timer; tests use it to run the schedule instantly.
func (e *PollingEngine) WithSleeper(s Sleeper) *PollingEngine {
	e.sleep = s
	return e
}

// Run submits job (unless it already has a vendor task id) and polls until
// the vendor reports a terminal state. A vendor failure returns the result
// together with ErrVendorFailed; an exhausted budget returns ErrPollTimeout.
// Run stops with ErrClaimLost once another worker has claimed the job.
func (e *PollingEngine) Run(ctx context.Context, job *model.GenerationJob, spec model.ModelSpec) (adapter.PollResult, error) {
	defer logging.TraceDuration(e.log, "PollingEngine.Run")()
	ad, err := e.registry.Get(job.Provider)
	if err != nil {
		return adapter.PollResult{}, err
	}
	log := e.log.With().Str("job_id", job.ID).Str("provider", string(job.Provider)).Logger()

	if job.VendorTaskID == "" {
		sub, err := e.submit(ctx, ad, job, spec)
		if err != nil {
			return adapter.PollResult{}, err
		}
		job.VendorTaskID = sub.TaskID
		job.Status = model.JobStatusProcessing
		job.UpdatedAt = time.Now()
		if err := e.jobs.Save(ctx, repository.NoTX, job); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				return adapter.PollResult{}, err
			}
			log.Warn().Err(err).Msg("persist processing state failed")
		}
		log.Info().Str("task_id", sub.TaskID).Msg("job submitted to vendor")
		if sub.Immediate != nil {
			return e.terminal(*sub.Immediate)
		}
	}

	budget := spec.PollBudget()
	lockKey := "lock:poll:" + string(job.Provider) + ":" + job.VendorTaskID
	for attempt := job.PollAttempts + 1; attempt <= budget; attempt++ {
		if err := e.sleep(ctx, PollDelay(e.cfg.PollInterval, attempt)); err != nil {
			return adapter.PollResult{}, err
		}
		job.PollAttempts = attempt

		res, polled, err := e.pollOnce(ctx, ad, spec, job.VendorTaskID, lockKey)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("poll failed; will retry next tick")
			metrics.IncPollAttempt(string(job.Provider), "error")
			continue
		}
		if !polled {
			log.Debug().Int("attempt", attempt).Msg("poll lock held; skipping tick")
			continue
		}
		metrics.IncPollAttempt(string(job.Provider), string(res.State))

		job.UpdatedAt = time.Now()
		if err := e.jobs.Save(ctx, repository.NoTX, job); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				return adapter.PollResult{}, err
			}
			log.Warn().Err(err).Msg("persist poll progress failed")
		}
		if res.State != adapter.VendorProcessing {
			log.Info().Int("attempt", attempt).Str("state", string(res.State)).Msg("vendor reached terminal state")
			return e.terminal(res)
		}
	}
	return adapter.PollResult{}, fmt.Errorf("%w: %d attempts", domain.ErrPollTimeout, budget)
}

func (e *PollingEngine) terminal(res adapter.PollResult) (adapter.PollResult, error) {
	if res.State == adapter.VendorFailed {
		reason := res.Reason
		if reason == "" {
			reason = "vendor reported failure"
		}
		return res, fmt.Errorf("%w: %s", domain.ErrVendorFailed, reason)
	}
	return res, nil
}

func (e *PollingEngine) submit(ctx context.Context, ad adapter.ProviderAdapter, job *model.GenerationJob, spec model.ModelSpec) (adapter.Submission, error) {
	var lastErr error
	for i := 1; i <= e.cfg.SubmitAttempts; i++ {
		sub, err := ad.Submit(ctx, spec, job.Params, len(job.Units))
		if err == nil {
			if sub.TaskID == "" && sub.Immediate == nil {
				return sub, domain.Rejected(string(job.Provider), 0, errors.New("vendor returned no task id"))
			}
			return sub, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrVendorUnreachable) {
			metrics.IncSubmitRejected("vendor_rejected")
			return adapter.Submission{}, err
		}
		e.log.Warn().Err(err).Str("job_id", job.ID).Int("attempt", i).Msg("vendor unreachable on submit")
		if i < e.cfg.SubmitAttempts {
			if err := e.sleep(ctx, e.cfg.SubmitRetryDelay); err != nil {
				return adapter.Submission{}, err
			}
		}
	}
	metrics.IncSubmitRejected("vendor_unreachable")
	return adapter.Submission{}, lastErr
}

// pollOnce issues one status call under the per-task lock. polled is false
// when another worker holds the lock.
func (e *PollingEngine) pollOnce(ctx context.Context, ad adapter.ProviderAdapter, spec model.ModelSpec, taskID, key string) (adapter.PollResult, bool, error) {
	if e.locker != nil {
		token, err := e.locker.TryLock(ctx, key, e.cfg.PollLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return adapter.PollResult{}, false, nil
		}
		if err != nil {
			return adapter.PollResult{}, false, err
		}
		defer func() {
			if uerr := e.locker.Unlock(context.WithoutCancel(ctx), key, token); uerr != nil {
				e.log.Warn().Err(uerr).Str("key", key).Msg("poll unlock failed")
			}
		}()
	}
	res, err := ad.PollStatus(ctx, spec, taskID)
	if err != nil {
		return adapter.PollResult{}, false, err
	}
	return res, true, nil
}
