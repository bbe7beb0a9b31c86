package provider

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"genforge/internal/config"
	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
	"genforge/internal/infra/metrics"
)

var _ adapter.ProviderAdapter = (*ChatCompletionProvider)(nil)

var assetURLPattern = regexp.MustCompile(`https?://[^\s"'<>()\[\]]+`)

// ChatCompletionProvider drives an OpenAI-compatible gateway whose image and
// video models answer a chat completion with asset URLs in the message body.
// The call is synchronous, so Submit returns the terminal result directly.
type ChatCompletionProvider struct {
	client openai.Client
	name   string
}

func NewChatCompletionProvider(cfg config.VendorConfig) (*ChatCompletionProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("chat_completion: api key empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &ChatCompletionProvider{client: openai.NewClient(opts...), name: string(model.ProviderChatCompletion)}, nil
}

func (p *ChatCompletionProvider) Kind() model.ProviderKind { return model.ProviderChatCompletion }

func (p *ChatCompletionProvider) Submit(ctx context.Context, spec model.ModelSpec, params model.GenerationParams, units int) (sub adapter.Submission, err error) {
	start := time.Now()
	defer func() { metrics.ObserveVendorCall(p.name, "submit", time.Since(start), err == nil) }()

	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(buildChatPrompt(params))}
	for _, ref := range params.ReferenceImages {
		if ref.URL != "" {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: ref.URL}))
		}
	}
	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(spec.Target()),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	}
	if units > 1 {
		req.N = openai.Int(int64(units))
	}

	resp, err := p.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return adapter.Submission{}, p.classify(err)
	}

	var urls []string
	for _, c := range resp.Choices {
		urls = append(urls, ExtractAssetURLs(c.Message.Content)...)
	}
	result := &adapter.PollResult{State: adapter.VendorCompleted}
	if len(urls) == 0 {
		result.State = adapter.VendorFailed
		result.Reason = "vendor returned no assets"
	}
	for i := 0; i < units; i++ {
		if i < len(urls) {
			result.Assets = append(result.Assets, adapter.VendorAsset{URL: urls[i]})
		} else {
			result.Assets = append(result.Assets, adapter.VendorAsset{Error: "missing from vendor response"})
		}
	}
	return adapter.Submission{TaskID: resp.ID, Immediate: result}, nil
}

// PollStatus is only reached for a job interrupted between submit and
// transfer; the synchronous response is gone by then.
func (p *ChatCompletionProvider) PollStatus(ctx context.Context, spec model.ModelSpec, taskID string) (adapter.PollResult, error) {
	return adapter.PollResult{State: adapter.VendorFailed, Reason: "synchronous result not retained"}, nil
}

func (p *ChatCompletionProvider) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return domain.ClassifyHTTPStatus(p.name, apiErr.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Unreachable(p.name, 0, err)
}

func buildChatPrompt(params model.GenerationParams) string {
	var b strings.Builder
	b.WriteString(params.Prompt)
	if params.NegativePrompt != "" {
		b.WriteString("\nAvoid: ")
		b.WriteString(params.NegativePrompt)
	}
	if params.AspectRatio != "" {
		b.WriteString("\nAspect ratio: ")
		b.WriteString(params.AspectRatio)
	}
	return b.String()
}

// ExtractAssetURLs pulls http(s) links out of free-form completion text,
// dropping duplicates and trailing punctuation.
func ExtractAssetURLs(content string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, u := range assetURLPattern.FindAllString(content, -1) {
		u = strings.TrimRight(u, ".,;:!?*`")
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
