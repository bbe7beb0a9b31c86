package adapter

import "context"

// BlobStore is the system's durable object storage.
type BlobStore interface {
	Put(ctx context.Context, data []byte, key, contentType string) (string, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// FetchedAsset is a downloaded vendor asset.
type FetchedAsset struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Fetcher downloads vendor-hosted (ephemeral) assets.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedAsset, error)
}
