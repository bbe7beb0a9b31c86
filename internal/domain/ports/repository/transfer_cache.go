package repository

import "context"

// TransferCache maps a source asset URL to its durable copy.
type TransferCache interface {
	Lookup(ctx context.Context, sourceURL string) (string, bool, error)
	Store(ctx context.Context, sourceURL, durableURL string) error
}
