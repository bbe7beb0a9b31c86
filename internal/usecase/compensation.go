package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
	"genforge/internal/infra/logging"
	"genforge/internal/infra/metrics"
)

type CompensationConfig struct {
	BatchSize      int
	MaxAttempts    int
	ValidityWindow time.Duration
	LeaseTTL       time.Duration
}

// CompensationUseCase retries transfers that the synchronous path gave up on.
// Tasks are leased on dequeue, so a worker crash mid-batch only delays them.
type CompensationUseCase interface {
	RunOnce(ctx context.Context) (CompensationStats, error)
}

type CompensationStats struct {
	Reclaimed   int
	Transferred int
	Requeued    int
	Deferred    int
	Abandoned   int
	LeaseLost   int
}

var _ CompensationUseCase = (*compensationUC)(nil)

type compensationUC struct {
	queue    repository.RetryQueue
	transfer *TransferService
	jobs     repository.GenerationJobRepository
	history  repository.HistoryRepository
	cfg      CompensationConfig
	now      func() time.Time
	log      *zerolog.Logger
}

func NewCompensationUseCase(queue repository.RetryQueue, transfer *TransferService, jobs repository.GenerationJobRepository,
	history repository.HistoryRepository, cfg CompensationConfig, logger *zerolog.Logger) CompensationUseCase {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &compensationUC{
		queue:    queue,
		transfer: transfer,
		jobs:     jobs,
		history:  history,
		cfg:      cfg,
		now:      time.Now,
		log:      logging.Component(logger, "compensation"),
	}
}

func (c *compensationUC) RunOnce(ctx context.Context) (CompensationStats, error) {
	defer logging.TraceDuration(c.log, "Compensation.RunOnce")()
	var st CompensationStats

	n, err := c.queue.Reclaim(ctx)
	if err != nil {
		return st, err
	}
	st.Reclaimed = n

	tasks, err := c.queue.Dequeue(ctx, c.cfg.BatchSize, c.cfg.LeaseTTL)
	if err != nil && !errors.Is(err, domain.ErrQueueEmpty) {
		return st, err
	}
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		// the batch shares one deadline; restart it for the task at hand
		if err := c.queue.Extend(ctx, t, c.cfg.LeaseTTL); err != nil {
			if errors.Is(err, domain.ErrLeaseLost) {
				st.LeaseLost++
			}
			c.log.Warn().Err(err).Str("task_id", t.ID).Msg("lease not renewed; leaving task to its current holder")
			continue
		}
		c.process(ctx, t, &st)
	}

	if depth, err := c.queue.Len(ctx); err == nil {
		metrics.SetCompensationDepth(depth)
	}
	if len(tasks) > 0 || st.Reclaimed > 0 {
		c.log.Info().Int("batch", len(tasks)).Int("reclaimed", st.Reclaimed).Int("transferred", st.Transferred).
			Int("requeued", st.Requeued).Int("deferred", st.Deferred).Int("abandoned", st.Abandoned).Int("lease_lost", st.LeaseLost).Msg("compensation tick")
	}
	return st, nil
}

func (c *compensationUC) process(ctx context.Context, t *model.RetryTask, st *CompensationStats) {
	log := c.log.With().Str("task_id", t.ID).Str("job_id", t.JobID).Int("unit", t.UnitIndex).Logger()

	if t.Expired(c.now(), c.cfg.ValidityWindow) || t.AttemptCount >= c.cfg.MaxAttempts {
		c.abandon(ctx, t, &log)
		st.Abandoned++
		return
	}

	// A job still in flight will write its own history row; patching before
	// that would be overwritten, so wait for it to settle.
	job, err := c.jobs.FindByID(ctx, repository.NoTX, t.JobID)
	switch {
	case err == nil && !job.Status.Terminal():
		if rerr := c.queue.Requeue(ctx, t); rerr != nil {
			log.Error().Err(rerr).Msg("requeue failed")
		}
		metrics.IncCompensation("deferred")
		st.Deferred++
		return
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		log.Warn().Err(err).Msg("job lookup failed; retrying later")
		c.retryLater(ctx, t, err, &log)
		st.Requeued++
		return
	}

	durable, err := c.transfer.TransferOne(ctx, t.SourceURL)
	if err != nil {
		c.retryLater(ctx, t, err, &log)
		st.Requeued++
		return
	}

	if err := c.history.PatchUnitURL(ctx, repository.NoTX, t.JobID, t.UnitIndex, durable); err != nil {
		c.retryLater(ctx, t, err, &log)
		st.Requeued++
		return
	}
	unit := model.GenerationUnit{Index: t.UnitIndex, VendorAssetURL: t.SourceURL, DurableURL: durable, TransferState: model.TransferTransferred}
	if err := c.jobs.UpdateUnit(ctx, repository.NoTX, t.JobID, unit); err != nil {
		c.retryLater(ctx, t, err, &log)
		st.Requeued++
		return
	}
	if err := c.queue.Ack(ctx, t); errors.Is(err, domain.ErrLeaseLost) {
		log.Warn().Msg("lease lost while transferring; the current holder will find the unit cached")
	} else if err != nil {
		log.Warn().Err(err).Msg("ack failed; task will be reclaimed and patched again")
	}
	metrics.IncCompensation("transferred")
	st.Transferred++
	log.Info().Int("attempts", t.AttemptCount+1).Msg("compensated transfer")
}

func (c *compensationUC) retryLater(ctx context.Context, t *model.RetryTask, cause error, log *zerolog.Logger) {
	t.AttemptCount++
	t.LastError = cause.Error()
	if err := c.queue.Requeue(ctx, t); err != nil {
		log.Error().Err(err).Msg("requeue failed; lease expiry will reclaim the task")
		return
	}
	metrics.IncCompensation("requeued")
	log.Debug().Err(cause).Int("attempt", t.AttemptCount).Msg("compensation attempt failed")
}

func (c *compensationUC) abandon(ctx context.Context, t *model.RetryTask, log *zerolog.Logger) {
	reason := t.LastError
	if reason == "" {
		reason = "transfer retries exhausted"
	}
	unit := model.GenerationUnit{Index: t.UnitIndex, VendorAssetURL: t.SourceURL, TransferState: model.TransferAbandoned, Error: reason}
	if err := c.jobs.UpdateUnit(ctx, repository.NoTX, t.JobID, unit); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Msg("mark unit abandoned failed")
	}
	if err := c.history.AbandonUnit(ctx, repository.NoTX, t.JobID, t.UnitIndex, reason); err != nil {
		log.Warn().Err(err).Msg("mark history unit abandoned failed")
	}
	if err := c.queue.Ack(ctx, t); err != nil {
		log.Warn().Err(err).Msg("ack abandoned task failed")
	}
	metrics.IncCompensation("abandoned")
	log.Warn().Int("attempts", t.AttemptCount).Time("enqueued_at", t.EnqueuedAt).Str("last_error", t.LastError).
		Msg("compensation abandoned; unit keeps vendor url")
}
