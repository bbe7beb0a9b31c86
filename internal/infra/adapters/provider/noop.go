package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*NoopProvider)(nil)

// NoopProvider completes every task after a fixed number of polls. Prompts
// containing "fail" are reported as vendor failures. Used in dev and tests.
// The unit count travels in the task id; only in-flight poll counters are
// kept, and they are dropped once a task reports a terminal state.
type NoopProvider struct {
	polls   int
	baseURL string

	mu   sync.Mutex
	seen map[string]int
}

func NewNoopProvider(polls int, baseURL string) *NoopProvider {
	if polls <= 0 {
		polls = 1
	}
	if baseURL == "" {
		baseURL = "https://noop.invalid/assets"
	}
	return &NoopProvider{polls: polls, baseURL: strings.TrimRight(baseURL, "/"), seen: map[string]int{}}
}

func (n *NoopProvider) Kind() model.ProviderKind { return model.ProviderNoop }

func (n *NoopProvider) Submit(ctx context.Context, spec model.ModelSpec, params model.GenerationParams, units int) (adapter.Submission, error) {
	if err := ctx.Err(); err != nil {
		return adapter.Submission{}, err
	}
	id := fmt.Sprintf("%s.%d", uuid.NewString(), units)
	if strings.Contains(strings.ToLower(params.Prompt), "fail") {
		id = "fail-" + id
	}
	return adapter.Submission{TaskID: id}, nil
}

func (n *NoopProvider) PollStatus(ctx context.Context, spec model.ModelSpec, taskID string) (adapter.PollResult, error) {
	if err := ctx.Err(); err != nil {
		return adapter.PollResult{}, err
	}
	n.mu.Lock()
	n.seen[taskID]++
	count := n.seen[taskID]
	if count >= n.polls {
		delete(n.seen, taskID)
	}
	n.mu.Unlock()

	if count < n.polls {
		return adapter.PollResult{State: adapter.VendorProcessing}, nil
	}
	if strings.HasPrefix(taskID, "fail-") {
		return adapter.PollResult{State: adapter.VendorFailed, Reason: "noop vendor failure"}, nil
	}
	units := 1
	if i := strings.LastIndexByte(taskID, '.'); i >= 0 {
		if v, err := strconv.Atoi(taskID[i+1:]); err == nil && v > 0 {
			units = v
		}
	}
	ext := "png"
	if spec.Media == model.MediaVideo {
		ext = "mp4"
	}
	assets := make([]adapter.VendorAsset, units)
	for i := range assets {
		assets[i] = adapter.VendorAsset{URL: fmt.Sprintf("%s/%s/%s.%s", n.baseURL, taskID, strconv.Itoa(i), ext)}
	}
	return adapter.PollResult{State: adapter.VendorCompleted, Assets: assets}, nil
}
