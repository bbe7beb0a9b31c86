package provider

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
)

// uploadReferences returns a URL for every reference image, pushing inline
// bytes to the blob store first. Vendors only accept fetchable URLs.
func uploadReferences(ctx context.Context, store adapter.BlobStore, refs []model.ReferenceImage) ([]string, error) {
	out := make([]string, 0, len(refs))
	for i, ref := range refs {
		if ref.URL != "" {
			out = append(out, ref.URL)
			continue
		}
		if len(ref.Data) == 0 {
			return nil, domain.NewValidationError(fmt.Sprintf("reference_images[%d]", i), "url or data required")
		}
		if store == nil {
			return nil, fmt.Errorf("%w: no blob store for inline reference images", domain.ErrInvalidArgument)
		}
		mt := mimetype.Detect(ref.Data)
		ct := ref.MIME
		if ct == "" {
			ct = mt.String()
		}
		url, err := store.Put(ctx, ref.Data, "references/"+uuid.NewString()+mt.Extension(), ct)
		if err != nil {
			return nil, fmt.Errorf("upload reference image %d: %w", i, err)
		}
		out = append(out, url)
	}
	return out, nil
}
