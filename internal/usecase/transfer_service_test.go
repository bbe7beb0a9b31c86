//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
	"genforge/internal/usecase"
)

type transferHarness struct {
	svc     *usecase.TransferService
	store   *MockBlobStore
	fetcher *MockFetcher
	cache   *MockTransferCache
	queue   *MockRetryQueue
}

func newTransferHarness() *transferHarness {
	h := &transferHarness{
		store:   NewMockBlobStore(),
		fetcher: NewMockFetcher(),
		cache:   NewMockTransferCache(),
		queue:   NewMockRetryQueue(),
	}
	cfg := usecase.TransferConfig{
		Attempts:      3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      time.Second,
		Parallel:      2,
		OwnedPrefixes: []string{"https://cdn.genforge.test/"},
	}
	h.svc = usecase.NewTransferService(h.store, h.fetcher, h.cache, h.queue, cfg, newTestLogger()).WithSleeper(noSleep)
	return h
}

func jobWithAssets(t *testing.T, urls ...string) *model.GenerationJob {
	t.Helper()
	j := newVideoJob(t, len(urls))
	for i, u := range urls {
		j.Units[i].VendorAssetURL = u
	}
	return j
}

func TestTransferDelay(t *testing.T) {
	base, max := 100*time.Millisecond, 300*time.Millisecond
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := usecase.TransferDelay(base, max, i+1); got != w {
			t.Errorf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
}

func TestTransferService_TransferUnits(t *testing.T) {
	ctx := context.Background()

	t.Run("transfers every unit on the first try", func(t *testing.T) {
		h := newTransferHarness()
		job := jobWithAssets(t, "https://vendor/a.mp4", "https://vendor/b.mp4")
		h.svc.TransferUnits(ctx, job)

		for _, u := range job.Units {
			if u.TransferState != model.TransferTransferred {
				t.Errorf("unit %d: expected transferred, got %s", u.Index, u.TransferState)
			}
			if !strings.HasPrefix(u.DurableURL, "https://cdn.genforge.test/generations/") {
				t.Errorf("unit %d: unexpected durable url %q", u.Index, u.DurableURL)
			}
		}
		if h.store.PutCount() != 2 || h.cache.Stores != 2 {
			t.Errorf("expected 2 uploads and cache fills, got %d/%d", h.store.PutCount(), h.cache.Stores)
		}
	})

	t.Run("owned urls are not copied", func(t *testing.T) {
		h := newTransferHarness()
		owned := "https://cdn.genforge.test/generations/ab/x.png"
		job := jobWithAssets(t, owned)
		h.svc.TransferUnits(ctx, job)

		if job.Units[0].TransferState != model.TransferTransferred || job.Units[0].DurableURL != owned {
			t.Errorf("expected owned url kept, got %+v", job.Units[0])
		}
		if h.fetcher.Count(owned) != 0 {
			t.Error("owned asset must not be downloaded")
		}
	})

	t.Run("cache hit avoids a second upload", func(t *testing.T) {
		h := newTransferHarness()
		src := "https://vendor/shared.mp4"
		first := jobWithAssets(t, src)
		h.svc.TransferUnits(ctx, first)

		second := jobWithAssets(t, src)
		h.svc.TransferUnits(ctx, second)

		if second.Units[0].DurableURL != first.Units[0].DurableURL {
			t.Errorf("expected cached durable url, got %q vs %q", second.Units[0].DurableURL, first.Units[0].DurableURL)
		}
		if h.fetcher.Count(src) != 1 || h.store.PutCount() != 1 {
			t.Errorf("expected exactly one download and upload, got %d/%d", h.fetcher.Count(src), h.store.PutCount())
		}
	})

	t.Run("transient failures are retried synchronously", func(t *testing.T) {
		h := newTransferHarness()
		h.fetcher.FetchFunc = failFirst(2)
		job := jobWithAssets(t, "https://vendor/flaky.mp4")
		h.svc.TransferUnits(ctx, job)

		if job.Units[0].TransferState != model.TransferTransferred {
			t.Errorf("expected transferred after retries, got %s", job.Units[0].TransferState)
		}
		if h.fetcher.Count("https://vendor/flaky.mp4") != 3 {
			t.Errorf("expected 3 attempts, got %d", h.fetcher.Count("https://vendor/flaky.mp4"))
		}
	})

	t.Run("exhausted retries queue the unit without failing it", func(t *testing.T) {
		h := newTransferHarness()
		job := jobWithAssets(t, "https://vendor/dead.mp4", "https://vendor/ok.mp4")
		h.fetcher.FetchFunc = func(ctx context.Context, url string, n int) (*adapter.FetchedAsset, error) {
			if strings.Contains(url, "dead") {
				return nil, errors.New("connection reset")
			}
			return &adapter.FetchedAsset{Data: []byte(url), ContentType: "video/mp4", Extension: ".mp4"}, nil
		}
		h.svc.TransferUnits(ctx, job)

		if job.Units[0].TransferState != model.TransferQueuedForRetry {
			t.Errorf("expected queued_for_retry, got %s", job.Units[0].TransferState)
		}
		if job.Units[1].TransferState != model.TransferTransferred {
			t.Errorf("independent unit should still transfer, got %s", job.Units[1].TransferState)
		}
		ready := h.queue.Ready()
		if len(ready) != 1 {
			t.Fatalf("expected one retry task, got %d", len(ready))
		}
		task := ready[0]
		if task.SourceURL != "https://vendor/dead.mp4" || task.JobID != job.ID || task.OwnerID != job.OwnerID ||
			task.UnitIndex != 0 || task.AttemptCount != 0 {
			t.Errorf("unexpected retry task: %+v", task)
		}
		if job.Settle() != model.JobStatusCompleted {
			t.Errorf("a queued unit must not fail the job, got %s", job.Settle())
		}
	})

	t.Run("unit is abandoned when the queue is unavailable", func(t *testing.T) {
		h := newTransferHarness()
		h.fetcher.FetchFunc = failFirst(100)
		h.queue.EnqueueErr = errors.New("redis down")
		job := jobWithAssets(t, "https://vendor/dead.mp4")
		h.svc.TransferUnits(ctx, job)

		if job.Units[0].TransferState != model.TransferAbandoned || job.Units[0].Error == "" {
			t.Errorf("expected abandoned with error, got %+v", job.Units[0])
		}
	})

	t.Run("units without a vendor url are left alone", func(t *testing.T) {
		h := newTransferHarness()
		job := newVideoJob(t, 1)
		h.svc.TransferUnits(ctx, job)
		if job.Units[0].TransferState != model.TransferPending {
			t.Errorf("expected pending, got %s", job.Units[0].TransferState)
		}
	})
}
