package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/repository"
	"genforge/internal/infra/logging"
	"genforge/internal/infra/metrics"
)

// CreditLedger owns balances and the append-only transaction log.
// Nothing here retries: a failed operation leaves the account untouched and
// the caller decides what to do (ErrLedgerConflict is safe to retry).
type CreditLedger interface {
	HasBalance(ctx context.Context, ownerID string, required int64) (*model.CreditAccount, error)
	// Consume debits amount for a job. A second consume for the same job
	// returns the original transaction without moving credits.
	Consume(ctx context.Context, ownerID string, amount int64, jobID, reason string) (*model.CreditTransaction, error)
	AddCredits(ctx context.Context, ownerID string, amount int64, txType model.CreditTxType, reason string) (*model.CreditTransaction, error)
	Balance(ctx context.Context, ownerID string) (*model.CreditAccount, error)
	Transactions(ctx context.Context, ownerID string, limit int) ([]*model.CreditTransaction, error)
}

var _ CreditLedger = (*creditLedger)(nil)

type creditLedger struct {
	credits repository.CreditRepository
	tm      repository.TransactionManager
	log     *zerolog.Logger
}

func NewCreditLedger(credits repository.CreditRepository, tm repository.TransactionManager, logger *zerolog.Logger) CreditLedger {
	return &creditLedger{credits: credits, tm: tm, log: logger}
}

// ChargeFor is the amount billed for a job that delivered some of its units:
// ceil(required * delivered / total).
func ChargeFor(required int64, delivered, total int) int64 {
	if total <= 0 || delivered <= 0 || required <= 0 {
		return 0
	}
	if delivered >= total {
		return required
	}
	num := required * int64(delivered)
	return (num + int64(total) - 1) / int64(total)
}

func (l *creditLedger) HasBalance(ctx context.Context, ownerID string, required int64) (*model.CreditAccount, error) {
	acct, err := l.credits.Get(ctx, repository.NoTX, ownerID)
	if err != nil {
		return nil, err
	}
	if acct.Balance < required {
		return acct, domain.NewInsufficientCredits(required, acct.Balance)
	}
	return acct, nil
}

func (l *creditLedger) Consume(ctx context.Context, ownerID string, amount int64, jobID, reason string) (*model.CreditTransaction, error) {
	defer logging.TraceDuration(l.log, "CreditLedger.Consume")()
	if ownerID == "" || amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	var out *model.CreditTransaction
	err := l.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		acct, err := l.credits.GetForUpdate(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if acct.Balance < amount {
			return domain.NewInsufficientCredits(amount, acct.Balance)
		}

		related := jobID
		t := &model.CreditTransaction{
			ID:            ulid.Make().String(),
			OwnerID:       ownerID,
			Type:          model.CreditTxConsume,
			Amount:        -amount,
			BalanceBefore: acct.Balance,
			BalanceAfter:  acct.Balance - amount,
			Reason:        reason,
			CreatedAt:     time.Now(),
		}
		if jobID != "" {
			t.RelatedJobID = &related
		}

		acct.Balance -= amount
		acct.TotalConsumed += amount
		if err := l.credits.SaveAccount(ctx, tx, acct); err != nil {
			return err
		}
		if err := l.credits.AppendTransaction(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return nil
	})

	switch {
	case err == nil:
		metrics.IncLedgerOp(string(model.CreditTxConsume), "ok")
		metrics.AddCreditsMoved(string(model.CreditTxConsume), amount)
		l.log.Info().Str("owner_id", ownerID).Str("job_id", jobID).Int64("amount", amount).
			Int64("balance_after", out.BalanceAfter).Msg("credits consumed")
		return out, nil
	case errors.Is(err, domain.ErrAlreadyExists) && jobID != "":
		// the unique consume-per-job index fired: this job was billed before
		metrics.IncLedgerOp(string(model.CreditTxConsume), "duplicate")
		prev, ferr := l.findConsume(ctx, ownerID, jobID)
		if ferr != nil {
			return nil, fmt.Errorf("job %s already billed: %w", jobID, ferr)
		}
		return prev, nil
	case errors.Is(err, domain.ErrInsufficientCredits):
		metrics.IncLedgerOp(string(model.CreditTxConsume), "insufficient")
		return nil, err
	case errors.Is(err, domain.ErrLedgerConflict):
		metrics.IncLedgerOp(string(model.CreditTxConsume), "conflict")
		return nil, err
	default:
		metrics.IncLedgerOp(string(model.CreditTxConsume), "error")
		l.log.Error().Err(err).Str("owner_id", ownerID).Str("job_id", jobID).Msg("consume failed")
		return nil, err
	}
}

func (l *creditLedger) findConsume(ctx context.Context, ownerID, jobID string) (*model.CreditTransaction, error) {
	t, err := l.credits.FindConsumeByJob(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: job %s was billed to another owner", domain.ErrAlreadyExists, jobID)
	}
	return t, nil
}

func (l *creditLedger) AddCredits(ctx context.Context, ownerID string, amount int64, txType model.CreditTxType, reason string) (*model.CreditTransaction, error) {
	defer logging.TraceDuration(l.log, "CreditLedger.AddCredits")()
	if ownerID == "" {
		return nil, domain.NewValidationError("owner_id", "required")
	}
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if txType != model.CreditTxRecharge && txType != model.CreditTxAdminGrant {
		return nil, domain.NewValidationError("type", fmt.Sprintf("unsupported credit type %q", txType))
	}

	var out *model.CreditTransaction
	err := l.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		acct, err := l.credits.GetForUpdate(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		t := &model.CreditTransaction{
			ID:            ulid.Make().String(),
			OwnerID:       ownerID,
			Type:          txType,
			Amount:        amount,
			BalanceBefore: acct.Balance,
			BalanceAfter:  acct.Balance + amount,
			Reason:        reason,
			CreatedAt:     time.Now(),
		}
		acct.Balance += amount
		if txType == model.CreditTxRecharge {
			acct.TotalRecharged += amount
		} else {
			acct.TotalGranted += amount
		}
		if err := l.credits.SaveAccount(ctx, tx, acct); err != nil {
			return err
		}
		if err := l.credits.AppendTransaction(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		metrics.IncLedgerOp(string(txType), "error")
		return nil, err
	}
	metrics.IncLedgerOp(string(txType), "ok")
	metrics.AddCreditsMoved(string(txType), amount)
	l.log.Info().Str("owner_id", ownerID).Str("type", string(txType)).Int64("amount", amount).Msg("credits added")
	return out, nil
}

func (l *creditLedger) Balance(ctx context.Context, ownerID string) (*model.CreditAccount, error) {
	return l.credits.Get(ctx, repository.NoTX, ownerID)
}

func (l *creditLedger) Transactions(ctx context.Context, ownerID string, limit int) ([]*model.CreditTransaction, error) {
	return l.credits.ListTransactions(ctx, repository.NoTX, ownerID, limit)
}
