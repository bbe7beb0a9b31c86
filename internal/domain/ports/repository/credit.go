package repository

import (
	"context"

	"genforge/internal/domain/model"
)

type CreditRepository interface {
	// GetForUpdate returns the account row locked for the enclosing tx,
	// creating it with a zero balance on first reference.
	GetForUpdate(ctx context.Context, tx Tx, ownerID string) (*model.CreditAccount, error)
	// Get returns the account without locking; a missing account is reported
	// as a zero-balance snapshot.
	Get(ctx context.Context, tx Tx, ownerID string) (*model.CreditAccount, error)
	SaveAccount(ctx context.Context, tx Tx, acct *model.CreditAccount) error
	AppendTransaction(ctx context.Context, tx Tx, t *model.CreditTransaction) error
	ListTransactions(ctx context.Context, tx Tx, ownerID string, limit int) ([]*model.CreditTransaction, error)
	// FindConsumeByJob returns the consume transaction billed for jobID, or
	// domain.ErrNotFound.
	FindConsumeByJob(ctx context.Context, tx Tx, jobID string) (*model.CreditTransaction, error)
}
