package repository

import (
	"context"
	"time"

	"genforge/internal/domain/model"
)

type GenerationJobRepository interface {
	// Save upserts the job. Updating a terminal job, or one whose stored
	// claim token differs from job.ClaimToken, fails with domain.ErrClaimLost.
	Save(ctx context.Context, tx Tx, job *model.GenerationJob) error
	// Claim swaps the claim token of a non-terminal job from expect to next
	// and refreshes updated_at. It reports false when the job is terminal or
	// owned by someone else. Passing expect == next is a heartbeat.
	Claim(ctx context.Context, tx Tx, jobID, expect, next string) (bool, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.GenerationJob, error)
	// UpdateUnit persists one unit; implementations must not move a unit
	// backward (transferred/abandoned rows are left untouched).
	UpdateUnit(ctx context.Context, tx Tx, jobID string, unit model.GenerationUnit) error
	// ListStale returns non-terminal jobs not updated since before.
	ListStale(ctx context.Context, tx Tx, before time.Time, limit int) ([]*model.GenerationJob, error)
}
