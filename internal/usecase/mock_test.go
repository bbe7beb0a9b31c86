//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
	"genforge/internal/domain/ports/repository"
)

// =============================
// Adapters
// =============================

// ---- Mock ProviderAdapter ----

type MockProvider struct {
	mu      sync.Mutex
	kind    model.ProviderKind
	Submits int
	Polls   int

	SubmitFunc func(ctx context.Context, spec model.ModelSpec, params model.GenerationParams, units int) (adapter.Submission, error)
	PollFunc   func(ctx context.Context, spec model.ModelSpec, taskID string, n int) (adapter.PollResult, error)
}

var _ adapter.ProviderAdapter = (*MockProvider)(nil)

func NewMockProvider(kind model.ProviderKind) *MockProvider {
	return &MockProvider{kind: kind}
}

func (p *MockProvider) Kind() model.ProviderKind { return p.kind }

func (p *MockProvider) Submit(ctx context.Context, spec model.ModelSpec, params model.GenerationParams, units int) (adapter.Submission, error) {
	p.mu.Lock()
	p.Submits++
	p.mu.Unlock()
	if p.SubmitFunc != nil {
		return p.SubmitFunc(ctx, spec, params, units)
	}
	return adapter.Submission{TaskID: "task-" + uuid.NewString()}, nil
}

func (p *MockProvider) PollStatus(ctx context.Context, spec model.ModelSpec, taskID string) (adapter.PollResult, error) {
	p.mu.Lock()
	p.Polls++
	n := p.Polls
	p.mu.Unlock()
	if p.PollFunc != nil {
		return p.PollFunc(ctx, spec, taskID, n)
	}
	return adapter.PollResult{State: adapter.VendorProcessing}, nil
}

// processingThenComplete reports processing for the first `processing` polls
// and then completes with the given asset URLs.
func processingThenComplete(processing int, assets ...adapter.VendorAsset) func(context.Context, model.ModelSpec, string, int) (adapter.PollResult, error) {
	return func(_ context.Context, _ model.ModelSpec, _ string, n int) (adapter.PollResult, error) {
		if n <= processing {
			return adapter.PollResult{State: adapter.VendorProcessing}, nil
		}
		return adapter.PollResult{State: adapter.VendorCompleted, Assets: assets}, nil
	}
}

type MockRegistry map[model.ProviderKind]adapter.ProviderAdapter

func (r MockRegistry) Get(kind model.ProviderKind) (adapter.ProviderAdapter, error) {
	if a, ok := r[kind]; ok {
		return a, nil
	}
	return nil, domain.ErrUnknownProvider
}

// ---- Mock BlobStore ----

type MockBlobStore struct {
	mu   sync.Mutex
	Puts map[string][]byte

	PutFunc func(ctx context.Context, data []byte, key, contentType string) (string, error)
}

var _ adapter.BlobStore = (*MockBlobStore)(nil)

func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{Puts: map[string][]byte{}}
}

func (s *MockBlobStore) Put(ctx context.Context, data []byte, key, contentType string) (string, error) {
	if s.PutFunc != nil {
		return s.PutFunc(ctx, data, key, contentType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Puts[key] = data
	return "https://cdn.genforge.test/" + key, nil
}

func (s *MockBlobStore) Get(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimPrefix(url, "https://cdn.genforge.test/")
	if b, ok := s.Puts[key]; ok {
		return b, nil
	}
	return nil, domain.ErrNotFound
}

func (s *MockBlobStore) PutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Puts)
}

// ---- Mock Fetcher ----

type MockFetcher struct {
	mu      sync.Mutex
	Fetches map[string]int

	FetchFunc func(ctx context.Context, url string, n int) (*adapter.FetchedAsset, error)
}

var _ adapter.Fetcher = (*MockFetcher)(nil)

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{Fetches: map[string]int{}}
}

func (f *MockFetcher) Fetch(ctx context.Context, url string) (*adapter.FetchedAsset, error) {
	f.mu.Lock()
	f.Fetches[url]++
	n := f.Fetches[url]
	f.mu.Unlock()
	if f.FetchFunc != nil {
		return f.FetchFunc(ctx, url, n)
	}
	return &adapter.FetchedAsset{Data: []byte("bytes:" + url), ContentType: "video/mp4", Extension: ".mp4"}, nil
}

func (f *MockFetcher) Count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Fetches[url]
}

// failFirst fails the first n fetches of every URL.
func failFirst(n int) func(context.Context, string, int) (*adapter.FetchedAsset, error) {
	return func(_ context.Context, url string, i int) (*adapter.FetchedAsset, error) {
		if i <= n {
			return nil, domain.ErrTransferFailure
		}
		return &adapter.FetchedAsset{Data: []byte("bytes:" + url), ContentType: "video/mp4", Extension: ".mp4"}, nil
	}
}

// =============================
// Repositories
// =============================

// ---- Mock CreditRepository ----

type MockCreditRepo struct {
	mu       sync.Mutex
	accounts map[string]model.CreditAccount
	txs      []model.CreditTransaction

	GetForUpdateFunc func(ctx context.Context, ownerID string) (*model.CreditAccount, error)
}

var _ repository.CreditRepository = (*MockCreditRepo)(nil)

func NewMockCreditRepo() *MockCreditRepo {
	return &MockCreditRepo{accounts: map[string]model.CreditAccount{}}
}

func (r *MockCreditRepo) Seed(ownerID string, balance int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[ownerID] = model.CreditAccount{OwnerID: ownerID, Balance: balance, TotalRecharged: balance}
}

func (r *MockCreditRepo) GetForUpdate(ctx context.Context, tx repository.Tx, ownerID string) (*model.CreditAccount, error) {
	if r.GetForUpdateFunc != nil {
		return r.GetForUpdateFunc(ctx, ownerID)
	}
	return r.Get(ctx, tx, ownerID)
}

func (r *MockCreditRepo) Get(ctx context.Context, tx repository.Tx, ownerID string) (*model.CreditAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[ownerID]
	if !ok {
		a = model.CreditAccount{OwnerID: ownerID}
	}
	return &a, nil
}

func (r *MockCreditRepo) SaveAccount(ctx context.Context, tx repository.Tx, a *model.CreditAccount) error {
	if a.Balance < 0 {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.OwnerID] = *a
	return nil
}

func (r *MockCreditRepo) AppendTransaction(ctx context.Context, tx repository.Tx, t *model.CreditTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Type == model.CreditTxConsume && t.RelatedJobID != nil {
		for _, prev := range r.txs {
			if prev.Type == model.CreditTxConsume && prev.RelatedJobID != nil && *prev.RelatedJobID == *t.RelatedJobID {
				return domain.ErrAlreadyExists
			}
		}
	}
	r.txs = append(r.txs, *t)
	return nil
}

func (r *MockCreditRepo) ListTransactions(ctx context.Context, tx repository.Tx, ownerID string, limit int) ([]*model.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CreditTransaction
	for i := len(r.txs) - 1; i >= 0; i-- {
		if r.txs[i].OwnerID == ownerID {
			cp := r.txs[i]
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockCreditRepo) FindConsumeByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.txs {
		if t.Type == model.CreditTxConsume && t.RelatedJobID != nil && *t.RelatedJobID == jobID {
			cp := t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockCreditRepo) Transactions(ownerID string, typ model.CreditTxType) []model.CreditTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.CreditTransaction
	for _, t := range r.txs {
		if t.OwnerID == ownerID && t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

type creditSnapshot struct {
	accounts map[string]model.CreditAccount
	txs      int
}

func (r *MockCreditRepo) snapshot() creditSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc := make(map[string]model.CreditAccount, len(r.accounts))
	for k, v := range r.accounts {
		acc[k] = v
	}
	return creditSnapshot{accounts: acc, txs: len(r.txs)}
}

func (r *MockCreditRepo) restore(s creditSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = s.accounts
	r.txs = r.txs[:s.txs]
}

// ---- Mock GenerationJobRepository ----

type MockGenerationJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.GenerationJob

	SaveFunc func(ctx context.Context, job *model.GenerationJob) error
}

var _ repository.GenerationJobRepository = (*MockGenerationJobRepo)(nil)

func NewMockGenerationJobRepo() *MockGenerationJobRepo {
	return &MockGenerationJobRepo{jobs: map[string]*model.GenerationJob{}}
}

func cloneJob(j *model.GenerationJob) *model.GenerationJob {
	cp := *j
	cp.Units = append([]model.GenerationUnit(nil), j.Units...)
	return &cp
}

func (r *MockGenerationJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.GenerationJob) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, job)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.jobs[job.ID]; ok && (prev.Status.Terminal() || prev.ClaimToken != job.ClaimToken) {
		return domain.ErrClaimLost
	}
	job.UpdatedAt = time.Now()
	cp := cloneJob(job)
	if prev, ok := r.jobs[job.ID]; ok {
		// units never move backward in storage
		for i := range cp.Units {
			if i < len(prev.Units) {
				stored := prev.Units[i]
				if err := stored.Advance(cp.Units[i].TransferState); err != nil {
					cp.Units[i] = prev.Units[i]
				}
			}
		}
	}
	r.jobs[job.ID] = cp
	return nil
}

func (r *MockGenerationJobRepo) Claim(ctx context.Context, tx repository.Tx, jobID, expect, next string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || j.Status.Terminal() || j.ClaimToken != expect {
		return false, nil
	}
	j.ClaimToken = next
	j.UpdatedAt = time.Now()
	return true, nil
}

func (r *MockGenerationJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (r *MockGenerationJobRepo) UpdateUnit(ctx context.Context, tx repository.Tx, jobID string, unit model.GenerationUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || unit.Index >= len(j.Units) {
		return domain.ErrNotFound
	}
	cur := j.Units[unit.Index]
	if err := cur.Advance(unit.TransferState); err != nil {
		return nil
	}
	if unit.DurableURL != "" {
		cur.DurableURL = unit.DurableURL
	}
	if unit.Error != "" {
		cur.Error = unit.Error
	}
	j.Units[unit.Index] = cur
	return nil
}

func (r *MockGenerationJobRepo) ListStale(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.GenerationJob
	for _, j := range r.jobs {
		if !j.Status.Terminal() && j.UpdatedAt.Before(before) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockGenerationJobRepo) Seed(j *model.GenerationJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = cloneJob(j)
}

func (r *MockGenerationJobRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// ---- Mock HistoryRepository ----

type MockHistoryRepo struct {
	mu      sync.Mutex
	records map[string]*model.HistoryRecord
	Patches int
}

var _ repository.HistoryRepository = (*MockHistoryRepo)(nil)

func NewMockHistoryRepo() *MockHistoryRepo {
	return &MockHistoryRepo{records: map[string]*model.HistoryRecord{}}
}

func (r *MockHistoryRepo) Record(ctx context.Context, tx repository.Tx, rec *model.HistoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	cp.Units = append([]model.GenerationUnit(nil), rec.Units...)
	r.records[rec.JobID] = &cp
	return nil
}

func (r *MockHistoryRepo) PatchUnitURL(ctx context.Context, tx repository.Tx, jobID string, idx int, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Patches++
	rec, ok := r.records[jobID]
	if !ok || idx >= len(rec.Units) || rec.Units[idx].TransferState == model.TransferAbandoned {
		return nil
	}
	rec.Units[idx].DurableURL = url
	rec.Units[idx].TransferState = model.TransferTransferred
	return nil
}

func (r *MockHistoryRepo) AbandonUnit(ctx context.Context, tx repository.Tx, jobID string, idx int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[jobID]
	if !ok || idx >= len(rec.Units) || rec.Units[idx].TransferState == model.TransferTransferred {
		return nil
	}
	rec.Units[idx].TransferState = model.TransferAbandoned
	rec.Units[idx].Error = reason
	return nil
}

func (r *MockHistoryRepo) Get(jobID string) (*model.HistoryRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[jobID]
	return rec, ok
}

// ---- Mock ModelPricingRepository ----

type MockModelPricingRepo struct {
	mu    sync.Mutex
	byKey map[string]*model.ModelPricing

	GetByModelKeyFunc func(ctx context.Context, key string) (*model.ModelPricing, error)
}

var _ repository.ModelPricingRepository = (*MockModelPricingRepo)(nil)

func NewMockModelPricingRepo() *MockModelPricingRepo {
	return &MockModelPricingRepo{byKey: map[string]*model.ModelPricing{}}
}

func (r *MockModelPricingRepo) Seed(key string, rule model.PricingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[key] = model.NewModelPricing(key, rule, true)
}

func (r *MockModelPricingRepo) GetByModelKey(ctx context.Context, tx repository.Tx, key string) (*model.ModelPricing, error) {
	if r.GetByModelKeyFunc != nil {
		return r.GetByModelKeyFunc(ctx, key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byKey[key]; ok && p.Active {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockModelPricingRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.ModelPricing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ModelPricing
	for _, p := range r.byKey {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelKey < out[j].ModelKey })
	return out, nil
}

func (r *MockModelPricingRepo) Create(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byKey[p.ModelKey]; ok && prev.Active {
		return domain.ErrAlreadyExists
	}
	cp := *p
	r.byKey[p.ModelKey] = &cp
	return nil
}

func (r *MockModelPricingRepo) Update(ctx context.Context, tx repository.Tx, p *model.ModelPricing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[p.ModelKey]; !ok {
		return domain.ErrNotFound
	}
	cp := *p
	r.byKey[p.ModelKey] = &cp
	return nil
}

// ---- Mock RetryQueue (lease/ack) ----

type MockRetryQueue struct {
	mu     sync.Mutex
	ready  []*model.RetryTask
	leased map[string]*model.RetryTask
	tokens int
	Acks   int

	EnqueueErr error
}

var _ repository.RetryQueue = (*MockRetryQueue)(nil)

func NewMockRetryQueue() *MockRetryQueue {
	return &MockRetryQueue{leased: map[string]*model.RetryTask{}}
}

func (q *MockRetryQueue) Enqueue(ctx context.Context, t *model.RetryTask) error {
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *t
	q.ready = append(q.ready, &cp)
	return nil
}

func (q *MockRetryQueue) Dequeue(ctx context.Context, max int, lease time.Duration) ([]*model.RetryTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, domain.ErrQueueEmpty
	}
	n := max
	if n > len(q.ready) {
		n = len(q.ready)
	}
	out := make([]*model.RetryTask, 0, n)
	for _, t := range q.ready[:n] {
		q.tokens++
		t.LeaseToken = fmt.Sprintf("lease-%d", q.tokens)
		q.leased[t.ID] = t
		cp := *t
		out = append(out, &cp)
	}
	q.ready = q.ready[n:]
	return out, nil
}

// holds reports whether t carries the current lease on its task.
func (q *MockRetryQueue) holds(t *model.RetryTask) bool {
	cur, ok := q.leased[t.ID]
	return ok && cur.LeaseToken == t.LeaseToken
}

func (q *MockRetryQueue) Extend(ctx context.Context, t *model.RetryTask, lease time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.holds(t) {
		return domain.ErrLeaseLost
	}
	return nil
}

func (q *MockRetryQueue) Ack(ctx context.Context, t *model.RetryTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.holds(t) {
		return domain.ErrLeaseLost
	}
	delete(q.leased, t.ID)
	q.Acks++
	return nil
}

func (q *MockRetryQueue) Requeue(ctx context.Context, t *model.RetryTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.holds(t) {
		return domain.ErrLeaseLost
	}
	delete(q.leased, t.ID)
	cp := *t
	cp.LeaseToken = ""
	q.ready = append(q.ready, &cp)
	return nil
}

// Reclaim is a no-op: leases never expire on their own in unit tests.
func (q *MockRetryQueue) Reclaim(ctx context.Context) (int, error) {
	return 0, nil
}

// ExpireLeases returns every leased task to the head of the ready list, as
// Reclaim does once deadlines pass.
func (q *MockRetryQueue) ExpireLeases() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var back []*model.RetryTask
	for id, t := range q.leased {
		cp := *t
		cp.LeaseToken = ""
		back = append(back, &cp)
		delete(q.leased, id)
	}
	sort.Slice(back, func(i, k int) bool { return back[i].ID < back[k].ID })
	q.ready = append(back, q.ready...)
	return len(back)
}

func (q *MockRetryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready) + len(q.leased)), nil
}

func (q *MockRetryQueue) Ready() []*model.RetryTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.RetryTask, len(q.ready))
	copy(out, q.ready)
	return out
}

// ---- Mock TransferCache ----

type MockTransferCache struct {
	mu     sync.Mutex
	m      map[string]string
	Stores int
}

var _ repository.TransferCache = (*MockTransferCache)(nil)

func NewMockTransferCache() *MockTransferCache {
	return &MockTransferCache{m: map[string]string{}}
}

func (c *MockTransferCache) Lookup(ctx context.Context, src string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[model.SourceHash(src)]
	return v, ok, nil
}

func (c *MockTransferCache) Store(ctx context.Context, src, durable string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[model.SourceHash(src)] = durable
	c.Stores++
	return nil
}

// ---- Mock TxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newLockingTxManager serializes transactions like a row lock would and rolls
// back the credit repo when fn fails.
func newLockingTxManager(repo *MockCreditRepo) *MockTxManager {
	var mu sync.Mutex
	return &MockTxManager{WithTxFunc: func(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
		mu.Lock()
		defer mu.Unlock()
		snap := repo.snapshot()
		if err := fn(ctx, repository.NoTX); err != nil {
			repo.restore(snap)
			return err
		}
		return nil
	}}
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
	Max   int // highest number of simultaneously held keys
}

var _ repository.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLockHeld
	}
	tok := uuid.NewString()
	l.held[key] = tok
	if len(l.held) > l.Max {
		l.Max = len(l.held)
	}
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// ---- Dispatchers ----

// inlineDispatcher runs tasks synchronously so tests observe the finished job.
// With Hold set, tasks wait in a queue until RunQueued.
type inlineDispatcher struct {
	mu     sync.Mutex
	Calls  int
	Errs   []error
	Hold   bool
	queued []func(ctx context.Context) error
}

func (d *inlineDispatcher) Submit(task func(ctx context.Context) error) error {
	d.mu.Lock()
	d.Calls++
	if d.Hold {
		d.queued = append(d.queued, task)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	d.run(task)
	return nil
}

func (d *inlineDispatcher) run(task func(ctx context.Context) error) {
	err := task(context.Background())
	d.mu.Lock()
	d.Errs = append(d.Errs, err)
	d.mu.Unlock()
}

// RunQueued runs held tasks in submission order.
func (d *inlineDispatcher) RunQueued() {
	d.mu.Lock()
	tasks := d.queued
	d.queued = nil
	d.Hold = false
	d.mu.Unlock()
	for _, task := range tasks {
		d.run(task)
	}
}

type busyDispatcher struct{}

func (busyDispatcher) Submit(func(ctx context.Context) error) error { return domain.ErrPipelineBusy }

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
