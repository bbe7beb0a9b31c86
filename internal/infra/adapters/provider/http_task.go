package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"genforge/internal/domain"
	"genforge/internal/infra/metrics"
)

// taskClient is the JSON-over-HTTP plumbing shared by task-based vendors.
type taskClient struct {
	name   string
	base   string
	apiKey string
	http   *http.Client
}

func newTaskClient(name, base, apiKey string, timeout time.Duration) taskClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return taskClient{
		name:   name,
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

// do sends body (if any) and decodes a 2xx response into out. Transport
// failures are unreachable; HTTP errors are classified by status.
func (c taskClient) do(ctx context.Context, call, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveVendorCall(c.name, call, time.Since(start), err == nil) }()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return domain.Rejected(c.name, 0, fmt.Errorf("encode request: %w", err))
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return domain.Rejected(c.name, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.Unreachable(c.name, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.ClassifyHTTPStatus(c.name, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(snippet))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Unreachable(c.name, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
