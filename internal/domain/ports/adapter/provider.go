package adapter

import (
	"context"

	"genforge/internal/domain/model"
)

// VendorState is the canonical status vocabulary every adapter normalizes to.
type VendorState string

const (
	VendorProcessing VendorState = "processing"
	VendorCompleted  VendorState = "completed"
	VendorFailed     VendorState = "failed"
)

// VendorAsset is one output reported by a vendor. An asset with an Error (or
// no URL) is a unit the vendor failed to produce.
type VendorAsset struct {
	URL   string
	Error string
}

// PollResult is the normalized outcome of a status check.
type PollResult struct {
	State    VendorState
	Assets   []VendorAsset
	Reason   string
	Metadata map[string]any
}

// Submission is returned by Submit. Synchronous vendors fill Immediate with a
// terminal result and the engine skips polling.
type Submission struct {
	TaskID    string
	Immediate *PollResult
}

// ProviderAdapter is the port implemented once per vendor family.
// Implementations are stateless and safe for concurrent use across jobs.
type ProviderAdapter interface {
	Kind() model.ProviderKind

	// Submit fails with a *domain.VendorError (rejected or unreachable).
	Submit(ctx context.Context, spec model.ModelSpec, params model.GenerationParams, units int) (Submission, error)

	// PollStatus must map unknown vendor states to VendorProcessing.
	PollStatus(ctx context.Context, spec model.ModelSpec, taskID string) (PollResult, error)
}
