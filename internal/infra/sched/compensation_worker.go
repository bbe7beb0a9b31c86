package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"genforge/internal/infra/logging"
	"genforge/internal/usecase"
)

// CompensationWorker drains the transfer retry queue on a fixed interval.
type CompensationWorker struct {
	interval time.Duration
	uc       usecase.CompensationUseCase
	log      *zerolog.Logger
}

func NewCompensationWorker(interval time.Duration, uc usecase.CompensationUseCase, logger *zerolog.Logger) *CompensationWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CompensationWorker{
		interval: interval,
		uc:       uc,
		log:      logging.Component(logger, "CompensationWorker"),
	}
}

func (w *CompensationWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting compensation worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping compensation worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *CompensationWorker) tick(ctx context.Context) {
	st, err := w.uc.RunOnce(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("compensation pass error")
		return
	}
	if st.Transferred+st.Requeued+st.Abandoned+st.Reclaimed > 0 {
		w.log.Info().
			Int("reclaimed", st.Reclaimed).
			Int("transferred", st.Transferred).
			Int("requeued", st.Requeued).
			Int("deferred", st.Deferred).
			Int("abandoned", st.Abandoned).
			Msg("compensation pass")
	}
}
