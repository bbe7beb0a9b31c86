package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
	"genforge/internal/domain/ports/repository"
	"genforge/internal/infra/logging"
	"genforge/internal/infra/metrics"
)

type TransferConfig struct {
	Attempts      int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Parallel      int
	OwnedPrefixes []string
}

// TransferDelay is the wait after failed attempt n (1-based): base doubling
// per attempt, capped at max.
func TransferDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// TransferService copies vendor-hosted assets into durable storage. Failures
// past the synchronous attempts are handed to the compensation queue and never
// fail the job.
type TransferService struct {
	store   adapter.BlobStore
	fetcher adapter.Fetcher
	cache   repository.TransferCache
	queue   repository.RetryQueue
	cfg     TransferConfig
	sleep   Sleeper
	flight  singleflight.Group
	log     *zerolog.Logger
}

func NewTransferService(store adapter.BlobStore, fetcher adapter.Fetcher, cache repository.TransferCache, queue repository.RetryQueue, cfg TransferConfig, logger *zerolog.Logger) *TransferService {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	return &TransferService{
		store:   store,
		fetcher: fetcher,
		cache:   cache,
		queue:   queue,
		cfg:     cfg,
		sleep:   sleepCtx,
		log:     logging.Component(logger, "transfer"),
	}
}

func (s *TransferService) WithSleeper(sl Sleeper) *TransferService {
	s.sleep = sl
	return s
}

// Owned reports whether url already lives in our durable storage.
func (s *TransferService) Owned(url string) bool {
	for _, p := range s.cfg.OwnedPrefixes {
		if p != "" && strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}

// TransferUnits resolves every pending unit of job that carries a vendor URL.
// Units are handled concurrently; each goroutine writes only its own unit.
func (s *TransferService) TransferUnits(ctx context.Context, job *model.GenerationJob) {
	defer logging.TraceDuration(s.log, "TransferService.TransferUnits")()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallel)
	for i := range job.Units {
		u := &job.Units[i]
		if u.TransferState != model.TransferPending || u.VendorAssetURL == "" {
			continue
		}
		g.Go(func() error {
			s.transferUnit(gctx, job, u)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *TransferService) transferUnit(ctx context.Context, job *model.GenerationJob, u *model.GenerationUnit) {
	durable, err := s.TransferOne(ctx, u.VendorAssetURL)
	if err == nil {
		u.DurableURL = durable
		_ = u.Advance(model.TransferTransferred)
		return
	}

	s.log.Warn().Err(err).Str("job_id", job.ID).Int("unit", u.Index).Msg("synchronous transfer exhausted; queueing for compensation")
	task := &model.RetryTask{
		ID:         uuid.NewString(),
		SourceURL:  u.VendorAssetURL,
		OwnerID:    job.OwnerID,
		JobID:      job.ID,
		UnitIndex:  u.Index,
		EnqueuedAt: time.Now(),
		LastError:  err.Error(),
	}
	if qerr := s.queue.Enqueue(context.WithoutCancel(ctx), task); qerr != nil {
		s.log.Error().Err(qerr).Str("job_id", job.ID).Int("unit", u.Index).Msg("compensation enqueue failed; abandoning unit")
		metrics.IncTransfer("abandoned")
		u.Error = fmt.Sprintf("transfer failed and could not be queued: %v", err)
		_ = u.Advance(model.TransferAbandoned)
		return
	}
	metrics.IncTransfer("queued")
	_ = u.Advance(model.TransferQueuedForRetry)
}

// TransferOne returns the durable URL for sourceURL, downloading and
// uploading it at most once per cache lifetime. Concurrent calls for the same
// source share one transfer.
func (s *TransferService) TransferOne(ctx context.Context, sourceURL string) (string, error) {
	if s.Owned(sourceURL) {
		metrics.IncTransfer("owned")
		return sourceURL, nil
	}
	if durable, ok, err := s.cache.Lookup(ctx, sourceURL); err != nil {
		s.log.Warn().Err(err).Msg("transfer cache lookup failed")
	} else if ok {
		metrics.IncCacheRequest("transfer", "hit")
		metrics.IncTransfer("cached")
		return durable, nil
	}
	metrics.IncCacheRequest("transfer", "miss")

	v, err, _ := s.flight.Do(model.SourceHash(sourceURL), func() (interface{}, error) {
		return s.copyWithRetry(ctx, sourceURL)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TransferService) copyWithRetry(ctx context.Context, sourceURL string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		durable, err := s.copyOnce(ctx, sourceURL)
		if err == nil {
			if cerr := s.cache.Store(ctx, sourceURL, durable); cerr != nil {
				s.log.Warn().Err(cerr).Msg("transfer cache store failed")
			}
			metrics.IncTransfer("transferred")
			return durable, nil
		}
		lastErr = err
		s.log.Debug().Err(err).Int("attempt", attempt).Str("source", logging.Redact(sourceURL, false)).Msg("transfer attempt failed")
		if attempt < s.cfg.Attempts {
			if err := s.sleep(ctx, TransferDelay(s.cfg.BaseDelay, s.cfg.MaxDelay, attempt)); err != nil {
				return "", err
			}
		}
	}
	metrics.IncTransfer("failed")
	return "", fmt.Errorf("%w: %v", domain.ErrTransferFailure, lastErr)
}

func (s *TransferService) copyOnce(ctx context.Context, sourceURL string) (string, error) {
	asset, err := s.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	return s.store.Put(ctx, asset.Data, model.AssetKey(sourceURL, asset.Extension), asset.ContentType)
}
