package model

import "time"

// RetryTask is a compensation queue entry for an asset transfer that exhausted
// its synchronous attempts.
type RetryTask struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"source_url"`
	OwnerID      string    `json:"owner_id"`
	JobID        string    `json:"job_id"`
	UnitIndex    int       `json:"unit_index"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`

	// LeaseToken is set by Dequeue and proves ownership of the lease.
	LeaseToken string `json:"-"`
}

// Expired reports whether the vendor URL has outlived its validity window.
func (t *RetryTask) Expired(now time.Time, window time.Duration) bool {
	return window > 0 && now.Sub(t.EnqueuedAt) > window
}
