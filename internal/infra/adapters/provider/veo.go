package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"genforge/internal/config"
	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
	"genforge/internal/infra/metrics"
)

var _ adapter.ProviderAdapter = (*VeoProvider)(nil)

// VeoProvider runs Veo video generation as a long-running operation. The
// operation name is the vendor task id.
type VeoProvider struct {
	client  *genai.Client
	fetcher adapter.Fetcher
	name    string
}

func NewVeoProvider(ctx context.Context, cfg config.VendorConfig, fetcher adapter.Fetcher) (*VeoProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("veo: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &VeoProvider{client: c, fetcher: fetcher, name: string(model.ProviderVeo)}, nil
}

func (p *VeoProvider) Kind() model.ProviderKind { return model.ProviderVeo }

func (p *VeoProvider) Submit(ctx context.Context, spec model.ModelSpec, params model.GenerationParams, units int) (sub adapter.Submission, err error) {
	start := time.Now()
	defer func() { metrics.ObserveVendorCall(p.name, "submit", time.Since(start), err == nil) }()

	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos: int32(units),
		AspectRatio:    params.AspectRatio,
		NegativePrompt: params.NegativePrompt,
		Resolution:     params.Resolution,
	}
	if params.DurationSeconds > 0 {
		d := int32(params.DurationSeconds)
		cfg.DurationSeconds = &d
	}
	if params.Seed != nil {
		s := int32(*params.Seed)
		cfg.Seed = &s
	}

	image, err := p.referenceImage(ctx, params.ReferenceImages)
	if err != nil {
		return adapter.Submission{}, err
	}

	op, err := p.client.Models.GenerateVideos(ctx, spec.Target(), params.Prompt, image, cfg)
	if err != nil {
		return adapter.Submission{}, p.classify(err)
	}
	if op == nil || op.Name == "" {
		return adapter.Submission{}, domain.Rejected(p.name, 0, errMissingTaskID)
	}
	return adapter.Submission{TaskID: op.Name}, nil
}

func (p *VeoProvider) PollStatus(ctx context.Context, spec model.ModelSpec, taskID string) (res adapter.PollResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveVendorCall(p.name, "poll", time.Since(start), err == nil) }()

	op, err := p.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: taskID}, nil)
	if err != nil {
		return adapter.PollResult{}, p.classify(err)
	}
	if !op.Done {
		return adapter.PollResult{State: adapter.VendorProcessing, Metadata: op.Metadata}, nil
	}
	if len(op.Error) > 0 {
		return adapter.PollResult{State: adapter.VendorFailed, Reason: fmt.Sprint(op.Error["message"])}, nil
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		reason := "no videos returned"
		if op.Response != nil && len(op.Response.RAIMediaFilteredReasons) > 0 {
			reason = strings.Join(op.Response.RAIMediaFilteredReasons, "; ")
		}
		return adapter.PollResult{State: adapter.VendorFailed, Reason: reason}, nil
	}

	res = adapter.PollResult{State: adapter.VendorCompleted}
	for _, v := range op.Response.GeneratedVideos {
		if v == nil || v.Video == nil || v.Video.URI == "" {
			res.Assets = append(res.Assets, adapter.VendorAsset{Error: "video filtered or missing"})
			continue
		}
		res.Assets = append(res.Assets, adapter.VendorAsset{URL: v.Video.URI})
	}
	return res, nil
}

// referenceImage converts the first reference into a genai.Image. Veo takes
// at most one conditioning frame.
func (p *VeoProvider) referenceImage(ctx context.Context, refs []model.ReferenceImage) (*genai.Image, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	ref := refs[0]
	switch {
	case len(ref.Data) > 0:
		return &genai.Image{ImageBytes: ref.Data, MIMEType: ref.MIME}, nil
	case strings.HasPrefix(ref.URL, "gs://"):
		return &genai.Image{GCSURI: ref.URL, MIMEType: ref.MIME}, nil
	case ref.URL != "" && p.fetcher != nil:
		asset, err := p.fetcher.Fetch(ctx, ref.URL)
		if err != nil {
			return nil, domain.NewValidationError("reference_images[0]", "could not fetch: "+err.Error())
		}
		return &genai.Image{ImageBytes: asset.Data, MIMEType: asset.ContentType}, nil
	}
	return nil, domain.NewValidationError("reference_images[0]", "url or data required")
}

func (p *VeoProvider) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return domain.ClassifyHTTPStatus(p.name, apiErr.Code, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Unreachable(p.name, 0, err)
}
