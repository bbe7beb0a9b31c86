package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"genforge/internal/config"
	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*ResolutionVideoProvider)(nil)

var errMissingTaskID = errors.New("vendor returned no task id")

// ResolutionVideoProvider targets a vendor whose tasks are priced and
// parameterized by output resolution and clip duration.
type ResolutionVideoProvider struct {
	c     taskClient
	store adapter.BlobStore
}

func NewResolutionVideoProvider(cfg config.VendorConfig, store adapter.BlobStore) *ResolutionVideoProvider {
	return &ResolutionVideoProvider{
		c:     newTaskClient(string(model.ProviderResolutionVideo), cfg.BaseURL, cfg.APIKey, cfg.Timeout),
		store: store,
	}
}

func (p *ResolutionVideoProvider) Kind() model.ProviderKind { return model.ProviderResolutionVideo }

type resolutionInput struct {
	Prompt     string `json:"prompt"`
	Negative   string `json:"negative_prompt,omitempty"`
	Resolution string `json:"resolution"`
	Duration   int    `json:"duration"`
	Ratio      string `json:"ratio,omitempty"`
	Seed       *int64 `json:"seed,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
}

type resolutionEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID     string   `json:"task_id"`
		State      string   `json:"state"`
		Outputs    []string `json:"outputs"`
		FailReason string   `json:"fail_reason"`
	} `json:"data"`
}

func (p *ResolutionVideoProvider) Submit(ctx context.Context, spec model.ModelSpec, params model.GenerationParams, units int) (adapter.Submission, error) {
	if params.Resolution == "" {
		return adapter.Submission{}, domain.NewValidationError("resolution", "required for this model")
	}
	in := resolutionInput{
		Prompt:     params.Prompt,
		Negative:   params.NegativePrompt,
		Resolution: params.Resolution,
		Duration:   params.DurationSeconds,
		Ratio:      params.AspectRatio,
		Seed:       params.Seed,
	}
	if len(params.ReferenceImages) > 0 {
		refs, err := uploadReferences(ctx, p.store, params.ReferenceImages[:1])
		if err != nil {
			return adapter.Submission{}, err
		}
		in.ImageURL = refs[0]
	}
	body := map[string]any{"model": spec.Target(), "input": in, "count": units}

	var out resolutionEnvelope
	if err := p.c.do(ctx, "submit", http.MethodPost, "/v2/tasks", body, &out); err != nil {
		return adapter.Submission{}, err
	}
	if out.Code != 0 {
		return adapter.Submission{}, domain.Rejected(p.c.name, 0, errors.New(out.Message))
	}
	if out.Data.TaskID == "" {
		return adapter.Submission{}, domain.Rejected(p.c.name, 0, errMissingTaskID)
	}
	return adapter.Submission{TaskID: out.Data.TaskID}, nil
}

func (p *ResolutionVideoProvider) PollStatus(ctx context.Context, spec model.ModelSpec, taskID string) (adapter.PollResult, error) {
	var out resolutionEnvelope
	if err := p.c.do(ctx, "poll", http.MethodGet, "/v2/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return adapter.PollResult{}, err
	}
	res := adapter.PollResult{State: NormalizeState(out.Data.State), Reason: out.Data.FailReason}
	if res.State == adapter.VendorFailed && res.Reason == "" {
		res.Reason = out.Message
	}
	if res.State == adapter.VendorCompleted {
		for _, u := range out.Data.Outputs {
			res.Assets = append(res.Assets, adapter.VendorAsset{URL: u})
		}
	}
	return res, nil
}
