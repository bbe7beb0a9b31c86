package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"genforge/internal/infra/logging"
	"genforge/internal/usecase"
)

// JobRecovery re-dispatches generation jobs left non-terminal by a crash or
// restart. It runs once at startup and then on every interval.
type JobRecovery struct {
	uc         usecase.GenerationUseCase
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how long a job must be idle to count as orphaned
	batch      int
	log        *zerolog.Logger
}

func NewJobRecovery(uc usecase.GenerationUseCase, interval, staleAfter time.Duration, batch int, logger *zerolog.Logger) *JobRecovery {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	return &JobRecovery{uc: uc, interval: interval, staleAfter: staleAfter, batch: batch, log: logging.Component(logger, "JobRecovery")}
}

func (w *JobRecovery) Start(ctx context.Context) {
	w.tick(ctx)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *JobRecovery) tick(ctx context.Context) {
	st, err := w.uc.Recover(ctx, w.staleAfter, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("recover stale jobs")
		return
	}
	if st.Resumed+st.Failed > 0 {
		w.log.Info().Int("resumed", st.Resumed).Int("failed", st.Failed).Msg("stale jobs recovered")
	}
}
