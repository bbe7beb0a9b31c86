package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"genforge/internal/domain"
)

// ProviderKind is the closed set of vendor families the pipeline can dispatch to.
type ProviderKind string

const (
	ProviderFixedFrameVideo ProviderKind = "fixed_frame_video"
	ProviderChatCompletion  ProviderKind = "chat_completion"
	ProviderResolutionVideo ProviderKind = "resolution_video"
	ProviderVeo             ProviderKind = "veo"
	ProviderNoop            ProviderKind = "noop"
)

var providerKinds = []ProviderKind{
	ProviderFixedFrameVideo,
	ProviderChatCompletion,
	ProviderResolutionVideo,
	ProviderVeo,
	ProviderNoop,
}

// ParseProviderKind normalizes a provider name coming from config or a request.
func ParseProviderKind(s string) (ProviderKind, error) {
	n := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range providerKinds {
		if k == n {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownProvider, s)
}

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

type JobStatus string

const (
	JobStatusPending        JobStatus = "pending"
	JobStatusProcessing     JobStatus = "processing"
	JobStatusPartialSuccess JobStatus = "partial_success"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailed         JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusPartialSuccess
}

type TransferState string

const (
	TransferPending        TransferState = "pending"
	TransferTransferred    TransferState = "transferred"
	TransferQueuedForRetry TransferState = "queued_for_retry"
	TransferAbandoned      TransferState = "abandoned"
)

// rank orders transfer states; a unit may only move to an equal or higher rank.
// QueuedForRetry may still resolve to Transferred or Abandoned.
func (s TransferState) rank() int {
	switch s {
	case TransferPending:
		return 0
	case TransferQueuedForRetry:
		return 1
	case TransferTransferred, TransferAbandoned:
		return 2
	}
	return -1
}

// Delivered reports whether the unit produced usable output for billing.
func (s TransferState) Delivered() bool {
	return s == TransferTransferred || s == TransferQueuedForRetry
}

// ReferenceImage is a conditioning input. Exactly one of URL or Data is set.
type ReferenceImage struct {
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"`
	MIME string `json:"mime,omitempty"`
}

// GenerationParams is the vendor-neutral request shape.
type GenerationParams struct {
	Prompt          string           `json:"prompt"`
	NegativePrompt  string           `json:"negative_prompt,omitempty"`
	AspectRatio     string           `json:"aspect_ratio,omitempty"`
	Resolution      string           `json:"resolution,omitempty"`
	DurationSeconds int              `json:"duration_seconds,omitempty"`
	Frames          int              `json:"frames,omitempty"`
	Seed            *int64           `json:"seed,omitempty"`
	ReferenceImages []ReferenceImage `json:"reference_images,omitempty"`
	Extra           map[string]any   `json:"extra,omitempty"`
}

// GenerationUnit is one of the N outputs of a job.
type GenerationUnit struct {
	Index          int           `json:"index"`
	VendorAssetURL string        `json:"vendor_asset_url,omitempty"`
	DurableURL     string        `json:"durable_url,omitempty"`
	TransferState  TransferState `json:"transfer_state"`
	Error          string        `json:"error,omitempty"`
}

// Advance moves the unit to next, refusing backward transitions.
func (u *GenerationUnit) Advance(next TransferState) error {
	if u.TransferState == next {
		return nil
	}
	if next.rank() < u.TransferState.rank() || u.TransferState.rank() == 2 {
		return fmt.Errorf("%w: unit %d cannot move from %s to %s", domain.ErrInvalidArgument, u.Index, u.TransferState, next)
	}
	u.TransferState = next
	return nil
}

// URL returns the best URL known for the unit.
func (u *GenerationUnit) URL() string {
	if u.DurableURL != "" {
		return u.DurableURL
	}
	return u.VendorAssetURL
}

type GenerationJob struct {
	ID              string
	OwnerID         string
	Provider        ProviderKind
	ModelKey        string
	Params          GenerationParams
	Units           []GenerationUnit
	Status          JobStatus
	VendorTaskID    string
	RequiredCredits int64
	CreditsCharged  int64
	TransactionID   string
	Unbilled        bool
	Error           string
	BillingError    string
	PollAttempts    int
	ClaimToken      string // owner of the job; writes with a stale token are refused
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      *time.Time
}

// NewGenerationJob creates a Pending job with n Pending units.
func NewGenerationJob(ownerID string, provider ProviderKind, modelKey string, params GenerationParams, n int, required int64) (*GenerationJob, error) {
	if ownerID == "" || modelKey == "" || n <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	units := make([]GenerationUnit, n)
	for i := range units {
		units[i] = GenerationUnit{Index: i, TransferState: TransferPending}
	}
	return &GenerationJob{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Provider:        provider,
		ModelKey:        modelKey,
		Params:          params,
		Units:           units,
		Status:          JobStatusPending,
		RequiredCredits: required,
		ClaimToken:      uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// DeliveredUnits counts units that produced usable output.
func (j *GenerationJob) DeliveredUnits() int {
	n := 0
	for _, u := range j.Units {
		if u.TransferState.Delivered() {
			n++
		}
	}
	return n
}

// Settle derives the terminal status from unit outcomes.
func (j *GenerationJob) Settle() JobStatus {
	delivered := j.DeliveredUnits()
	switch {
	case delivered == 0:
		return JobStatusFailed
	case delivered == len(j.Units):
		return JobStatusCompleted
	default:
		return JobStatusPartialSuccess
	}
}

// Finish marks the job terminal. A terminal job is never resurrected.
func (j *GenerationJob) Finish(status JobStatus, reason string) {
	if j.Status.Terminal() {
		return
	}
	now := time.Now()
	j.Status = status
	if reason != "" {
		j.Error = reason
	}
	j.UpdatedAt = now
	j.FinishedAt = &now
}
