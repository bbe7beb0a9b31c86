package provider

import (
	"context"
	"net/http"
	"net/url"

	"genforge/internal/config"
	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*FixedFrameProvider)(nil)

// FixedFrameProvider talks to a task-based video vendor that renders a fixed
// number of frames per creation and reports each creation separately.
type FixedFrameProvider struct {
	c     taskClient
	store adapter.BlobStore
}

func NewFixedFrameProvider(cfg config.VendorConfig, store adapter.BlobStore) *FixedFrameProvider {
	return &FixedFrameProvider{
		c:     newTaskClient(string(model.ProviderFixedFrameVideo), cfg.BaseURL, cfg.APIKey, cfg.Timeout),
		store: store,
	}
}

func (p *FixedFrameProvider) Kind() model.ProviderKind { return model.ProviderFixedFrameVideo }

type fixedFrameRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	AspectRatio    string   `json:"aspect_ratio,omitempty"`
	Frames         int      `json:"frames,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	ImageURLs      []string `json:"image_urls,omitempty"`
	N              int      `json:"n"`
}

type fixedFrameTask struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	Creations []struct {
		URL    string `json:"url"`
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"creations"`
}

func (p *FixedFrameProvider) Submit(ctx context.Context, spec model.ModelSpec, params model.GenerationParams, units int) (adapter.Submission, error) {
	refs, err := uploadReferences(ctx, p.store, params.ReferenceImages)
	if err != nil {
		return adapter.Submission{}, err
	}
	req := fixedFrameRequest{
		Model:          spec.Target(),
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		AspectRatio:    params.AspectRatio,
		Frames:         params.Frames,
		Seed:           params.Seed,
		ImageURLs:      refs,
		N:              units,
	}
	var out fixedFrameTask
	if err := p.c.do(ctx, "submit", http.MethodPost, "/v1/videos/generations", req, &out); err != nil {
		return adapter.Submission{}, err
	}
	if out.TaskID == "" {
		return adapter.Submission{}, domain.Rejected(p.c.name, 0, errMissingTaskID)
	}
	return adapter.Submission{TaskID: out.TaskID}, nil
}

func (p *FixedFrameProvider) PollStatus(ctx context.Context, spec model.ModelSpec, taskID string) (adapter.PollResult, error) {
	var out fixedFrameTask
	if err := p.c.do(ctx, "poll", http.MethodGet, "/v1/videos/generations/"+url.PathEscape(taskID), nil, &out); err != nil {
		return adapter.PollResult{}, err
	}
	res := adapter.PollResult{State: NormalizeState(out.Status), Reason: out.Error}
	if res.State != adapter.VendorCompleted {
		return res, nil
	}
	for _, c := range out.Creations {
		a := adapter.VendorAsset{URL: c.URL, Error: c.Error}
		if NormalizeState(c.Status) == adapter.VendorFailed && a.Error == "" {
			a.Error = "creation " + c.Status
		}
		res.Assets = append(res.Assets, a)
	}
	return res, nil
}
