// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"genforge/internal/config"
	"genforge/internal/domain/ports/adapter"
	"genforge/internal/infra/adapters/blob"
	"genforge/internal/infra/adapters/provider"
	"genforge/internal/infra/api"
	"genforge/internal/infra/api/apiv1"
	pg "genforge/internal/infra/db/postgres"
	"genforge/internal/infra/logging"
	"genforge/internal/infra/metrics"
	red "genforge/internal/infra/redis"
	"genforge/internal/infra/sched"
	"genforge/internal/infra/web"
	"genforge/internal/infra/worker"
	"genforge/internal/usecase"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted urls)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	retryQueue := red.NewRetryQueue(redisClient, "compensation")
	transferCache := red.NewTransferCache(redisClient, cfg.Compensation.ValidityWindow)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	creditRepo := pg.NewCreditRepo(pool, cfg.Ledger.LockTimeout)
	jobRepo := pg.NewGenerationJobRepo(pool, tm)
	historyRepo := pg.NewHistoryRepo(pool)
	pricingRepo := pg.NewModelPricingRepoCacheDecorator(pg.NewModelPricingRepo(pool), redisClient, cfg.Redis.TTL, logger)

	// ---- Storage ----
	var store adapter.BlobStore
	assetsDir := ""
	switch cfg.Storage.Backend {
	case "s3":
		s3, err := blob.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		store = s3
	default:
		local, err := blob.NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
		if err != nil {
			return err
		}
		store = local
		assetsDir = local.Root()
	}
	fetcher := blob.NewHTTPFetcher(2*time.Minute, cfg.Storage.MaxAssetBytes, provider.AssetHeaders(cfg.Providers))

	// ---- Providers ----
	registry, err := buildRegistry(ctx, cfg, store, fetcher, logger)
	if err != nil {
		return err
	}

	// ---- Use cases ----
	workers := worker.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logging.Component(logger, "worker"))

	pricingUC := usecase.NewPricingUseCase(pricingRepo, tm, logger)
	ledger := usecase.NewCreditLedger(creditRepo, tm, logger)
	engine := usecase.NewPollingEngine(registry, jobRepo, locker, usecase.EngineConfig{
		PollInterval:     cfg.Pipeline.PollInterval,
		PollLockTTL:      cfg.Pipeline.PollLockTTL,
		SubmitAttempts:   cfg.Pipeline.SubmitAttempts,
		SubmitRetryDelay: cfg.Pipeline.SubmitRetryDelay,
	}, logger)
	transfer := usecase.NewTransferService(store, fetcher, transferCache, retryQueue, usecase.TransferConfig{
		Attempts:      cfg.Pipeline.TransferAttempts,
		BaseDelay:     cfg.Pipeline.TransferBase,
		MaxDelay:      cfg.Pipeline.TransferMaxDelay,
		Parallel:      cfg.Pipeline.TransferParallel,
		OwnedPrefixes: cfg.Storage.OwnedPrefixes,
	}, logger)
	compensation := usecase.NewCompensationUseCase(retryQueue, transfer, jobRepo, historyRepo, usecase.CompensationConfig{
		BatchSize:      cfg.Compensation.BatchSize,
		MaxAttempts:    cfg.Compensation.MaxAttempts,
		ValidityWindow: cfg.Compensation.ValidityWindow,
		LeaseTTL:       cfg.Compensation.LeaseTTL,
	}, logger)
	generation := usecase.NewGenerationUseCase(cfg.Catalog(), pricingUC, ledger, jobRepo, historyRepo, engine, transfer, workers, logger,
		usecase.WithHeartbeat(cfg.Recovery.Heartbeat))

	// ---- HTTP ----
	limiter := func(ctx context.Context, ownerID string) (bool, error) {
		return rateLimiter.Allow(ctx, red.OwnerSubmitKey(ownerID), cfg.Server.SubmitPerMinute, time.Minute)
	}
	apiServer := apiv1.NewServer(generation, ledger, apiv1.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer), limiter, logger)
	admin := web.NewServer(ledger, pricingUC, cfg.Auth.AdminAPIKey, logging.Component(logger, "admin"))
	handler := api.NewRouter(api.RouterDeps{
		API:       apiServer,
		Admin:     admin.Routes(),
		AssetsDir: assetsDir,
		Ready: func() error {
			rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := pool.Ping(rctx); err != nil {
				return err
			}
			return redisClient.Ping(rctx)
		},
	}, cfg.Server.WriteTimeout, logger)
	server := api.NewHTTPServer(cfg.Server, handler)

	// ---- Background ----
	workers.Start(ctx)
	defer workers.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	})
	g.Go(func() error {
		err := sched.NewCompensationWorker(cfg.Compensation.Interval, compensation, logger).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		sched.NewJobRecovery(generation, cfg.Recovery.StaleAfter/2, cfg.Recovery.StaleAfter, cfg.Recovery.BatchSize, logger).Start(gctx)
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				metrics.ObservePool(pool)
			}
		}
	})

	return g.Wait()
}

// buildRegistry registers every provider that has credentials configured.
// The noop provider is always available for smoke tests.
func buildRegistry(ctx context.Context, cfg *config.Config, store adapter.BlobStore, fetcher adapter.Fetcher, logger *zerolog.Logger) (*provider.Registry, error) {
	p := cfg.Providers
	adapters := []adapter.ProviderAdapter{provider.NewNoopProvider(p.NoopPolls, "")}

	if p.FixedFrameVideo.APIKey != "" {
		adapters = append(adapters, provider.NewLimited(provider.NewFixedFrameProvider(p.FixedFrameVideo, store), p.FixedFrameVideo.ConcurrentLimit))
	}
	if p.ResolutionVideo.APIKey != "" {
		adapters = append(adapters, provider.NewLimited(provider.NewResolutionVideoProvider(p.ResolutionVideo, store), p.ResolutionVideo.ConcurrentLimit))
	}
	if p.ChatCompletion.APIKey != "" {
		cc, err := provider.NewChatCompletionProvider(p.ChatCompletion)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, provider.NewLimited(cc, p.ChatCompletion.ConcurrentLimit))
	}
	if p.Veo.APIKey != "" {
		veo, err := provider.NewVeoProvider(ctx, p.Veo, fetcher)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, provider.NewLimited(veo, p.Veo.ConcurrentLimit))
	}

	reg := provider.NewRegistry(adapters...)
	logger.Info().Interface("providers", reg.Kinds()).Msg("provider registry ready")
	return reg, nil
}
