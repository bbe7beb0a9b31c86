package repository

import (
	"context"

	"genforge/internal/domain/model"
)

type HistoryRepository interface {
	Record(ctx context.Context, tx Tx, rec *model.HistoryRecord) error
	// PatchUnitURL is a narrow, idempotent update keyed by job and unit.
	PatchUnitURL(ctx context.Context, tx Tx, jobID string, unitIndex int, durableURL string) error
	// AbandonUnit marks a unit abandoned with reason. A transferred unit is
	// left as is.
	AbandonUnit(ctx context.Context, tx Tx, jobID string, unitIndex int, reason string) error
}
