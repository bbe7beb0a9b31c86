//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
	"genforge/internal/usecase"
)

var videoSpec = model.ModelSpec{Key: "clip-v1", Provider: model.ProviderFixedFrameVideo, Media: model.MediaVideo, MaxUnits: 4}

type engineHarness struct {
	engine   *usecase.PollingEngine
	provider *MockProvider
	jobs     *MockGenerationJobRepo
	locker   *MockLocker
	delays   []time.Duration
}

func newEngineHarness() *engineHarness {
	h := &engineHarness{
		provider: NewMockProvider(model.ProviderFixedFrameVideo),
		jobs:     NewMockGenerationJobRepo(),
		locker:   NewMockLocker(),
	}
	cfg := usecase.EngineConfig{PollInterval: time.Second, SubmitAttempts: 3, SubmitRetryDelay: time.Millisecond}
	h.engine = usecase.NewPollingEngine(MockRegistry{model.ProviderFixedFrameVideo: h.provider}, h.jobs, h.locker, cfg, newTestLogger()).
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.delays = append(h.delays, d)
			return ctx.Err()
		})
	return h
}

func newVideoJob(t *testing.T, units int) *model.GenerationJob {
	t.Helper()
	j, err := model.NewGenerationJob("owner-1", model.ProviderFixedFrameVideo, videoSpec.Key, model.GenerationParams{Prompt: "a fox"}, units, 10)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestPollDelay_Schedule(t *testing.T) {
	base := 2 * time.Second
	cases := map[int]time.Duration{
		1: base, 10: base,
		11: 3 * time.Second, 20: 3 * time.Second,
		21: 4 * time.Second, 150: 4 * time.Second,
	}
	for attempt, want := range cases {
		if got := usecase.PollDelay(base, attempt); got != want {
			t.Errorf("PollDelay(attempt=%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestPollingEngine_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("completes after processing polls", func(t *testing.T) {
		h := newEngineHarness()
		h.provider.PollFunc = processingThenComplete(3, adapter.VendorAsset{URL: "https://vendor/a.mp4"})
		job := newVideoJob(t, 1)

		res, err := h.engine.Run(ctx, job, videoSpec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.State != adapter.VendorCompleted || len(res.Assets) != 1 {
			t.Errorf("unexpected result: %+v", res)
		}
		if h.provider.Polls != 4 || job.PollAttempts != 4 {
			t.Errorf("expected 4 polls, got %d (attempts %d)", h.provider.Polls, job.PollAttempts)
		}
		stored, _ := h.jobs.FindByID(ctx, nil, job.ID)
		if stored.Status != model.JobStatusProcessing || stored.VendorTaskID == "" {
			t.Errorf("expected processing with task id persisted, got %+v", stored)
		}
	})

	t.Run("vendor failure stops polling immediately", func(t *testing.T) {
		h := newEngineHarness()
		h.provider.PollFunc = func(_ context.Context, _ model.ModelSpec, _ string, n int) (adapter.PollResult, error) {
			if n < 2 {
				return adapter.PollResult{State: adapter.VendorProcessing}, nil
			}
			return adapter.PollResult{State: adapter.VendorFailed, Reason: "content policy"}, nil
		}
		_, err := h.engine.Run(ctx, newVideoJob(t, 1), videoSpec)
		if !errors.Is(err, domain.ErrVendorFailed) {
			t.Fatalf("expected ErrVendorFailed, got %v", err)
		}
		if h.provider.Polls != 2 {
			t.Errorf("expected polling to stop at the failure, got %d polls", h.provider.Polls)
		}
	})

	t.Run("exhausting the budget times out", func(t *testing.T) {
		h := newEngineHarness()
		spec := videoSpec
		spec.MaxPollAttempts = 25
		_, err := h.engine.Run(ctx, newVideoJob(t, 1), spec)
		if !errors.Is(err, domain.ErrPollTimeout) {
			t.Fatalf("expected ErrPollTimeout, got %v", err)
		}
		if h.provider.Polls != 25 {
			t.Errorf("expected 25 polls, got %d", h.provider.Polls)
		}
		if h.delays[0] != time.Second || h.delays[10] != 1500*time.Millisecond || h.delays[24] != 2*time.Second {
			t.Errorf("backoff schedule not applied: %v", h.delays)
		}
	})

	t.Run("unreachable submit is retried", func(t *testing.T) {
		h := newEngineHarness()
		h.provider.SubmitFunc = func(_ context.Context, _ model.ModelSpec, _ model.GenerationParams, _ int) (adapter.Submission, error) {
			if h.provider.Submits < 3 {
				return adapter.Submission{}, domain.Unreachable("mock", 503, nil)
			}
			return adapter.Submission{TaskID: "t-1"}, nil
		}
		h.provider.PollFunc = processingThenComplete(0, adapter.VendorAsset{URL: "https://vendor/a.mp4"})
		job := newVideoJob(t, 1)
		if _, err := h.engine.Run(ctx, job, videoSpec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.provider.Submits != 3 || job.VendorTaskID != "t-1" {
			t.Errorf("expected 3 submits and task t-1, got %d %q", h.provider.Submits, job.VendorTaskID)
		}
	})

	t.Run("unreachable submit gives up after the attempt cap", func(t *testing.T) {
		h := newEngineHarness()
		h.provider.SubmitFunc = func(context.Context, model.ModelSpec, model.GenerationParams, int) (adapter.Submission, error) {
			return adapter.Submission{}, domain.Unreachable("mock", 0, errors.New("dial tcp: timeout"))
		}
		if _, err := h.engine.Run(ctx, newVideoJob(t, 1), videoSpec); !errors.Is(err, domain.ErrVendorUnreachable) {
			t.Fatalf("expected ErrVendorUnreachable, got %v", err)
		}
		if h.provider.Submits != 3 {
			t.Errorf("expected 3 submits, got %d", h.provider.Submits)
		}
	})

	t.Run("rejected submit is fatal", func(t *testing.T) {
		h := newEngineHarness()
		h.provider.SubmitFunc = func(context.Context, model.ModelSpec, model.GenerationParams, int) (adapter.Submission, error) {
			return adapter.Submission{}, domain.Rejected("mock", 400, errors.New("bad prompt"))
		}
		if _, err := h.engine.Run(ctx, newVideoJob(t, 1), videoSpec); !errors.Is(err, domain.ErrVendorRejected) {
			t.Fatalf("expected ErrVendorRejected, got %v", err)
		}
		if h.provider.Submits != 1 || h.provider.Polls != 0 {
			t.Errorf("expected a single submit and no polls, got %d/%d", h.provider.Submits, h.provider.Polls)
		}
	})

	t.Run("immediate results skip polling", func(t *testing.T) {
		h := newEngineHarness()
		h.provider.SubmitFunc = func(context.Context, model.ModelSpec, model.GenerationParams, int) (adapter.Submission, error) {
			return adapter.Submission{TaskID: "sync-1", Immediate: &adapter.PollResult{
				State: adapter.VendorCompleted, Assets: []adapter.VendorAsset{{URL: "https://vendor/i.png"}},
			}}, nil
		}
		res, err := h.engine.Run(ctx, newVideoJob(t, 1), videoSpec)
		if err != nil || res.State != adapter.VendorCompleted {
			t.Fatalf("unexpected: %+v %v", res, err)
		}
		if h.provider.Polls != 0 {
			t.Errorf("expected no polls, got %d", h.provider.Polls)
		}
	})

	t.Run("resumed job polls without resubmitting", func(t *testing.T) {
		h := newEngineHarness()
		h.provider.PollFunc = processingThenComplete(0, adapter.VendorAsset{URL: "https://vendor/a.mp4"})
		job := newVideoJob(t, 1)
		job.VendorTaskID = "existing"
		job.PollAttempts = 7
		if _, err := h.engine.Run(ctx, job, videoSpec); err != nil {
			t.Fatal(err)
		}
		if h.provider.Submits != 0 || job.PollAttempts != 8 {
			t.Errorf("expected resume at attempt 8 without submit, got submits=%d attempts=%d", h.provider.Submits, job.PollAttempts)
		}
	})

	t.Run("held lock skips the tick instead of overlapping", func(t *testing.T) {
		h := newEngineHarness()
		job := newVideoJob(t, 1)
		job.VendorTaskID = "t-locked"
		key := "lock:poll:" + string(model.ProviderFixedFrameVideo) + ":t-locked"
		token, _ := h.locker.TryLock(ctx, key, time.Minute)

		h.provider.PollFunc = processingThenComplete(0, adapter.VendorAsset{URL: "https://vendor/a.mp4"})
		ticks := 0
		h.engine.WithSleeper(func(ctx context.Context, d time.Duration) error {
			ticks++
			if ticks == 3 {
				_ = h.locker.Unlock(ctx, key, token)
			}
			return nil
		})
		if _, err := h.engine.Run(ctx, job, videoSpec); err != nil {
			t.Fatal(err)
		}
		if h.provider.Polls != 1 || job.PollAttempts != 3 {
			t.Errorf("expected one poll on the third tick, got polls=%d attempts=%d", h.provider.Polls, job.PollAttempts)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		h := newEngineHarness()
		job := newVideoJob(t, 1)
		job.Provider = model.ProviderVeo
		if _, err := h.engine.Run(ctx, job, videoSpec); !errors.Is(err, domain.ErrUnknownProvider) {
			t.Errorf("expected ErrUnknownProvider, got %v", err)
		}
	})
}
