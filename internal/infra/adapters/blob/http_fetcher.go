package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"genforge/internal/domain"
	"genforge/internal/domain/ports/adapter"
)

var _ adapter.Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher downloads vendor assets. Some vendors only serve their output
// to authenticated callers; HostHeaders adds headers per hostname.
type HTTPFetcher struct {
	client      *http.Client
	maxBytes    int64
	hostHeaders map[string]map[string]string
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64, hostHeaders map[string]map[string]string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPFetcher{
		client:      &http.Client{Timeout: timeout},
		maxBytes:    maxBytes,
		hostHeaders: hostHeaders,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*adapter.FetchedAsset, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: unsupported asset url %q", domain.ErrTransferFailure, rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.hostHeaders[u.Hostname()] {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransferFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: http %d", domain.ErrTransferFailure, u.Host, resp.StatusCode)
	}

	var rd io.Reader = resp.Body
	if f.maxBytes > 0 {
		rd = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrTransferFailure, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: asset exceeds %d bytes", domain.ErrTransferFailure, f.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty asset", domain.ErrTransferFailure)
	}

	mt := mimetype.Detect(data)
	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") || strings.HasPrefix(ct, "binary/") {
		ct = mt.String()
	}
	return &adapter.FetchedAsset{Data: data, ContentType: ct, Extension: mt.Extension()}, nil
}
