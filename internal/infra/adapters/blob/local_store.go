package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"genforge/internal/domain"
	"genforge/internal/domain/ports/adapter"
)

var _ adapter.BlobStore = (*LocalStore)(nil)

// LocalStore keeps blobs on the local filesystem and hands out URLs under
// publicBase. The API server serves the same directory.
type LocalStore struct {
	root       string
	publicBase string
}

func NewLocalStore(root, publicBase string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalStore{root: root, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("%w: empty blob key", domain.ErrInvalidArgument)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalStore) Put(ctx context.Context, data []byte, key, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return s.publicBase + "/" + strings.TrimLeft(filepath.ToSlash(key), "/"), nil
}

func (s *LocalStore) Get(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, s.publicBase+"/") {
		return nil, fmt.Errorf("%w: %s is not served by this store", domain.ErrNotFound, url)
	}
	p, err := s.path(strings.TrimPrefix(url, s.publicBase+"/"))
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, domain.ErrNotFound
	}
	return b, err
}
