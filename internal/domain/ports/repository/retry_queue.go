package repository

import (
	"context"
	"time"

	"genforge/internal/domain/model"
)

// RetryQueue is a durable work queue with lease/ack semantics. A dequeued
// task stays leased until it is acked or requeued; leases that expire are
// returned to the ready set by Reclaim. Extend, Ack and Requeue fail with
// domain.ErrLeaseLost once the caller's lease has been reclaimed.
type RetryQueue interface {
	Enqueue(ctx context.Context, task *model.RetryTask) error
	Dequeue(ctx context.Context, max int, lease time.Duration) ([]*model.RetryTask, error)
	// Extend pushes the lease deadline of task to now+lease.
	Extend(ctx context.Context, task *model.RetryTask, lease time.Duration) error
	Ack(ctx context.Context, task *model.RetryTask) error
	Requeue(ctx context.Context, task *model.RetryTask) error
	Reclaim(ctx context.Context) (int, error)
	Len(ctx context.Context) (int64, error)
}
