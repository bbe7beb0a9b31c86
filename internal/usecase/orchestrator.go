package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
	"genforge/internal/domain/ports/repository"
	"genforge/internal/infra/logging"
	"genforge/internal/infra/metrics"
)

// Dispatcher runs pipeline tasks in the background. Submit must not block;
// a saturated dispatcher returns domain.ErrPipelineBusy.
type Dispatcher interface {
	Submit(task func(ctx context.Context) error) error
}

type SubmitRequest struct {
	OwnerID  string
	Provider string
	ModelKey string
	Units    int
	Params   model.GenerationParams
}

type SubmitResult struct {
	JobID           string
	RequiredCredits int64
}

// GenerationUseCase is the entry point of the pipeline: validate, price,
// check balance, then hand the job to a background worker.
type GenerationUseCase interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	// Status returns the job if it belongs to ownerID.
	Status(ctx context.Context, ownerID, jobID string) (*model.GenerationJob, error)
	// Resume runs (or continues) the pipeline for job until it is terminal.
	Resume(ctx context.Context, job *model.GenerationJob) error
	// Recover re-dispatches jobs interrupted by a restart.
	Recover(ctx context.Context, staleAfter time.Duration, limit int) (RecoveryStats, error)
}

type RecoveryStats struct {
	Resumed int
	Failed  int
}

type Poller interface {
	Run(ctx context.Context, job *model.GenerationJob, spec model.ModelSpec) (adapter.PollResult, error)
}

type UnitTransferrer interface {
	TransferUnits(ctx context.Context, job *model.GenerationJob)
}

var _ GenerationUseCase = (*generationUC)(nil)

// ledgerConflictAttempts bounds how often a completed job retries a consume
// that lost a lock race.
const ledgerConflictAttempts = 3

const defaultHeartbeat = time.Minute

type GenerationOption func(*generationUC)

// WithHeartbeat sets how often a running pipeline refreshes its claim on the
// job. It must stay well below the recovery stale threshold.
func WithHeartbeat(d time.Duration) GenerationOption {
	return func(g *generationUC) {
		if d > 0 {
			g.heartbeatEvery = d
		}
	}
}

type generationUC struct {
	catalog    map[string]model.ModelSpec
	pricing    PricingUseCase
	ledger     CreditLedger
	jobs       repository.GenerationJobRepository
	history    repository.HistoryRepository
	engine     Poller
	transfer   UnitTransferrer
	dispatcher Dispatcher
	sleep      Sleeper
	log        *zerolog.Logger

	heartbeatEvery time.Duration
}

func NewGenerationUseCase(
	catalog map[string]model.ModelSpec,
	pricing PricingUseCase,
	ledger CreditLedger,
	jobs repository.GenerationJobRepository,
	history repository.HistoryRepository,
	engine Poller,
	transfer UnitTransferrer,
	dispatcher Dispatcher,
	logger *zerolog.Logger,
	opts ...GenerationOption,
) GenerationUseCase {
	g := &generationUC{
		catalog:    catalog,
		pricing:    pricing,
		ledger:     ledger,
		jobs:       jobs,
		history:    history,
		engine:     engine,
		transfer:   transfer,
		dispatcher: dispatcher,
		sleep:      sleepCtx,
		log:        logging.Component(logger, "generation"),

		heartbeatEvery: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *generationUC) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	defer logging.TraceDuration(g.log, "Generation.Submit")()

	spec, err := g.validate(&req)
	if err != nil {
		metrics.IncSubmitRejected("validation")
		return nil, err
	}

	required, err := g.pricing.Quote(ctx, spec.Key, req.Params, req.Units)
	if err != nil {
		if errors.Is(err, domain.ErrPricingUnavailable) {
			metrics.IncSubmitRejected("pricing")
		}
		return nil, err
	}

	if _, err := g.ledger.HasBalance(ctx, req.OwnerID, required); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			metrics.IncSubmitRejected("insufficient_credits")
		}
		return nil, err
	}

	job, err := model.NewGenerationJob(req.OwnerID, spec.Provider, spec.Key, req.Params, req.Units, required)
	if err != nil {
		return nil, err
	}
	if err := g.jobs.Save(ctx, repository.NoTX, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	jobID := job.ID
	task := func(ctx context.Context) error {
		ctx = logging.WithJobID(logging.WithOwnerID(ctx, job.OwnerID), job.ID)
		return g.Resume(ctx, job)
	}
	if err := g.dispatcher.Submit(task); err != nil {
		metrics.IncSubmitRejected("busy")
		failed := *job
		failed.Finish(model.JobStatusFailed, "pipeline busy")
		if serr := g.jobs.Save(context.WithoutCancel(ctx), repository.NoTX, &failed); serr != nil {
			g.log.Error().Err(serr).Str("job_id", jobID).Msg("mark rejected job failed")
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPipelineBusy, err)
	}

	metrics.IncJobSubmitted(string(spec.Provider), spec.Key)
	g.log.Info().Str("job_id", jobID).Str("owner_id", req.OwnerID).Str("model", spec.Key).
		Int("units", req.Units).Int64("required", required).Msg("generation accepted")
	return &SubmitResult{JobID: jobID, RequiredCredits: required}, nil
}

func (g *generationUC) validate(req *SubmitRequest) (model.ModelSpec, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.OwnerID == "" {
		return model.ModelSpec{}, domain.NewValidationError("owner_id", "required")
	}
	spec, ok := g.catalog[strings.TrimSpace(req.ModelKey)]
	if !ok {
		return model.ModelSpec{}, domain.NewValidationError("model_key", fmt.Sprintf("unknown model %q", req.ModelKey))
	}
	if req.Provider != "" {
		kind, err := model.ParseProviderKind(req.Provider)
		if err != nil || kind != spec.Provider {
			return model.ModelSpec{}, domain.NewValidationError("provider", fmt.Sprintf("model %s is served by %s", spec.Key, spec.Provider))
		}
	}
	if req.Units == 0 {
		req.Units = 1
	}
	if req.Units < 0 || req.Units > spec.MaxUnits {
		return model.ModelSpec{}, domain.NewValidationError("units", fmt.Sprintf("must be between 1 and %d", spec.MaxUnits))
	}
	req.Params.Prompt = strings.TrimSpace(req.Params.Prompt)
	if req.Params.Prompt == "" {
		return model.ModelSpec{}, domain.NewValidationError("prompt", "required")
	}
	if req.Params.DurationSeconds < 0 {
		return model.ModelSpec{}, domain.NewValidationError("duration_seconds", "must not be negative")
	}
	for i, ref := range req.Params.ReferenceImages {
		if (ref.URL == "") == (len(ref.Data) == 0) {
			return model.ModelSpec{}, domain.NewValidationError(fmt.Sprintf("reference_images[%d]", i), "exactly one of url or data is required")
		}
	}
	return spec, nil
}

func (g *generationUC) Status(ctx context.Context, ownerID, jobID string) (*model.GenerationJob, error) {
	job, err := g.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (g *generationUC) Resume(ctx context.Context, job *model.GenerationJob) error {
	defer logging.TraceDuration(g.log, "Generation.Resume")()
	log := logging.With(ctx, g.log)
	if job.Status.Terminal() {
		return nil
	}
	if !g.owns(ctx, job) {
		log.Info().Msg("job owned by another worker; skipping")
		return nil
	}
	ctx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	go g.heartbeat(ctx, job.ID, job.ClaimToken, stop)

	spec, ok := g.catalog[job.ModelKey]
	if !ok {
		g.fail(ctx, job, fmt.Sprintf("model %s is no longer offered", job.ModelKey))
		return nil
	}

	res, err := g.engine.Run(ctx, job, spec)
	if err != nil {
		if errors.Is(err, domain.ErrClaimLost) || errors.Is(context.Cause(ctx), domain.ErrClaimLost) {
			log.Warn().Err(err).Msg("job claimed by another worker; abandoning run")
			return nil
		}
		if ctx.Err() != nil {
			// shutdown: leave the job non-terminal so recovery picks it up
			log.Warn().Err(err).Msg("pipeline interrupted")
			return err
		}
		log.Warn().Err(err).Msg("generation failed")
		g.fail(ctx, job, err.Error())
		return nil
	}

	assignAssets(job, res)
	g.transfer.TransferUnits(ctx, job)

	status := job.Settle()
	reason := ""
	if status == model.JobStatusFailed {
		reason = "no unit produced usable output"
	}
	job.Finish(status, reason)

	// the ledger and history are only touched by the current owner
	if !g.owns(ctx, job) {
		log.Warn().Msg("job claimed by another worker; skipping billing")
		return nil
	}
	if delivered := job.DeliveredUnits(); delivered > 0 {
		g.charge(ctx, job, ChargeFor(job.RequiredCredits, delivered, len(job.Units)))
	}
	g.finalize(ctx, job)
	log.Info().Str("status", string(job.Status)).Int("delivered", job.DeliveredUnits()).
		Int64("charged", job.CreditsCharged).Bool("unbilled", job.Unbilled).Msg("generation finished")
	return nil
}

// assignAssets maps vendor outputs onto units by position. Units the vendor
// did not produce are abandoned right away.
func assignAssets(job *model.GenerationJob, res adapter.PollResult) {
	for i := range job.Units {
		u := &job.Units[i]
		if u.TransferState != model.TransferPending {
			continue
		}
		if i < len(res.Assets) && res.Assets[i].URL != "" && res.Assets[i].Error == "" {
			u.VendorAssetURL = res.Assets[i].URL
			continue
		}
		u.Error = "vendor produced no output for this unit"
		if i < len(res.Assets) && res.Assets[i].Error != "" {
			u.Error = res.Assets[i].Error
		}
		_ = u.Advance(model.TransferAbandoned)
	}
}

// charge bills the job. Lock conflicts are retried here; any other failure
// leaves credits untouched and flags the job unbilled.
func (g *generationUC) charge(ctx context.Context, job *model.GenerationJob, amount int64) {
	if amount <= 0 {
		return
	}
	reason := fmt.Sprintf("generation %s (%d/%d units)", job.ModelKey, job.DeliveredUnits(), len(job.Units))
	var err error
	for attempt := 1; attempt <= ledgerConflictAttempts; attempt++ {
		var tx *model.CreditTransaction
		tx, err = g.ledger.Consume(ctx, job.OwnerID, amount, job.ID, reason)
		if err == nil {
			job.CreditsCharged = -tx.Amount
			job.TransactionID = tx.ID
			return
		}
		if !errors.Is(err, domain.ErrLedgerConflict) || attempt == ledgerConflictAttempts {
			break
		}
		if serr := g.sleep(ctx, time.Duration(attempt)*100*time.Millisecond); serr != nil {
			err = serr
			break
		}
	}
	job.Unbilled = true
	job.BillingError = err.Error()
	logging.With(ctx, g.log).Error().Err(err).Int64("amount", amount).Msg("billing failed; job flagged unbilled")
}

func (g *generationUC) fail(ctx context.Context, job *model.GenerationJob, reason string) {
	if !g.owns(ctx, job) {
		logging.With(ctx, g.log).Warn().Str("reason", reason).Msg("job claimed by another worker; not failing it")
		return
	}
	for i := range job.Units {
		u := &job.Units[i]
		if u.TransferState == model.TransferPending {
			if u.Error == "" {
				u.Error = reason
			}
			_ = u.Advance(model.TransferAbandoned)
		}
	}
	job.Finish(model.JobStatusFailed, reason)
	g.finalize(ctx, job)
}

// owns refreshes the claim on job and reports whether this worker still holds it.
func (g *generationUC) owns(ctx context.Context, job *model.GenerationJob) bool {
	if errors.Is(context.Cause(ctx), domain.ErrClaimLost) {
		return false
	}
	ok, err := g.jobs.Claim(context.WithoutCancel(ctx), repository.NoTX, job.ID, job.ClaimToken, job.ClaimToken)
	if err != nil {
		logging.With(ctx, g.log).Warn().Err(err).Msg("claim refresh failed")
		return false
	}
	return ok
}

// heartbeat keeps the claim fresh while the pipeline runs and cancels it with
// ErrClaimLost once another worker has taken the job over.
func (g *generationUC) heartbeat(ctx context.Context, jobID, token string, lost context.CancelCauseFunc) {
	t := time.NewTicker(g.heartbeatEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		ok, err := g.jobs.Claim(ctx, repository.NoTX, jobID, token, token)
		if err != nil {
			g.log.Warn().Err(err).Str("job_id", jobID).Msg("heartbeat failed")
			continue
		}
		if !ok {
			lost(domain.ErrClaimLost)
			return
		}
	}
}

// finalize records history and persists the terminal job. The job row is
// written last: compensation waits for a terminal job before patching history.
func (g *generationUC) finalize(ctx context.Context, job *model.GenerationJob) {
	ctx = context.WithoutCancel(ctx)
	log := logging.With(ctx, g.log)
	if err := g.history.Record(ctx, repository.NoTX, model.NewHistoryRecord(job)); err != nil {
		log.Error().Err(err).Msg("history record failed")
	}
	if err := g.jobs.Save(ctx, repository.NoTX, job); err != nil {
		log.Error().Err(err).Msg("persist terminal job failed")
	}
	metrics.ObserveJobFinished(string(job.Provider), job.ModelKey, string(job.Status), time.Since(job.CreatedAt))
}

func (g *generationUC) Recover(ctx context.Context, staleAfter time.Duration, limit int) (RecoveryStats, error) {
	var st RecoveryStats
	stale, err := g.jobs.ListStale(ctx, repository.NoTX, time.Now().Add(-staleAfter), limit)
	if err != nil {
		return st, err
	}
	for _, job := range stale {
		// take ownership first; a worker still holding the old token stops
		// at its next heartbeat or save
		token := uuid.NewString()
		ok, err := g.jobs.Claim(ctx, repository.NoTX, job.ID, job.ClaimToken, token)
		if err != nil {
			g.log.Warn().Err(err).Str("job_id", job.ID).Msg("claim stale job failed")
			continue
		}
		if !ok {
			continue
		}
		job.ClaimToken = token

		if job.VendorTaskID == "" {
			g.fail(ctx, job, "interrupted before vendor submission")
			st.Failed++
			continue
		}
		j := job
		err = g.dispatcher.Submit(func(ctx context.Context) error {
			ctx = logging.WithJobID(logging.WithOwnerID(ctx, j.OwnerID), j.ID)
			return g.Resume(ctx, j)
		})
		if err != nil {
			g.log.Warn().Err(err).Int("resumed", st.Resumed).Msg("recovery stopped: dispatcher saturated")
			return st, err
		}
		st.Resumed++
	}
	if st.Resumed+st.Failed > 0 {
		g.log.Info().Int("resumed", st.Resumed).Int("failed", st.Failed).Msg("recovered interrupted jobs")
	}
	return st, nil
}
