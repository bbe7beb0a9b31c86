package model

import "time"

type CreditTxType string

const (
	CreditTxRecharge   CreditTxType = "recharge"
	CreditTxConsume    CreditTxType = "consume"
	CreditTxAdminGrant CreditTxType = "admin_grant"
)

// CreditAccount is created lazily on first reference. Balance never drops below zero.
type CreditAccount struct {
	OwnerID        string
	Balance        int64
	TotalRecharged int64
	TotalConsumed  int64
	TotalGranted   int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreditTransaction is append-only; Amount is signed (consume is negative).
type CreditTransaction struct {
	ID            string
	OwnerID       string
	Type          CreditTxType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Reason        string
	RelatedJobID  *string
	CreatedAt     time.Time
}
