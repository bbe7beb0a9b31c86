package apiv1

import (
	"time"

	"genforge/internal/domain/model"
)

type ReferenceImage struct {
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"` // base64 in JSON
	MIME string `json:"mime,omitempty"`
}

type SubmitGenerationRequest struct {
	Provider        string           `json:"provider,omitempty"`
	ModelKey        string           `json:"model"`
	Units           int              `json:"units"`
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

func (r SubmitGenerationRequest) params() model.GenerationParams {
	p := model.GenerationParams{
		Prompt:          r.Prompt,
		NegativePrompt:  r.NegativePrompt,
		AspectRatio:     r.AspectRatio,
		Resolution:      r.Resolution,
		DurationSeconds: r.DurationSeconds,
		Frames:          r.Frames,
		Seed:            r.Seed,
		Extra:           r.Extra,
	}
	for _, ref := range r.ReferenceImages {
		p.ReferenceImages = append(p.ReferenceImages, model.ReferenceImage{URL: ref.URL, Data: ref.Data, MIME: ref.MIME})
	}
	return p
}

type SubmitGenerationResponse struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	RequiredCredits int64  `json:"required_credits"`
}

type Unit struct {
	Index         int    `json:"index"`
	URL           string `json:"url,omitempty"`
	DurableURL    string `json:"durable_url,omitempty"`
	VendorURL     string `json:"vendor_asset_url,omitempty"`
	TransferState string `json:"transfer_state"`
	Error         string `json:"error,omitempty"`
}

type Job struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Provider       string     `json:"provider"`
	Model          string     `json:"model"`
	Units          []Unit     `json:"units"`
	Error          *string    `json:"error"`
	BillingError   *string    `json:"billing_error,omitempty"`
	CreditsCharged int64      `json:"credits_charged"`
	TransactionID  string     `json:"transaction_id,omitempty"`
	Unbilled       bool       `json:"unbilled,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

func jobFromModel(j *model.GenerationJob) Job {
	out := Job{
		ID:             j.ID,
		Status:         string(j.Status),
		Provider:       string(j.Provider),
		Model:          j.ModelKey,
		CreditsCharged: j.CreditsCharged,
		TransactionID:  j.TransactionID,
		Unbilled:       j.Unbilled,
		CreatedAt:      j.CreatedAt,
		FinishedAt:     j.FinishedAt,
		Units:          make([]Unit, len(j.Units)),
	}
	if j.Error != "" {
		e := j.Error
		out.Error = &e
	}
	if j.BillingError != "" {
		e := j.BillingError
		out.BillingError = &e
	}
	for i, u := range j.Units {
		out.Units[i] = Unit{
			Index:         u.Index,
			URL:           u.URL(),
			DurableURL:    u.DurableURL,
			VendorURL:     u.VendorAssetURL,
			TransferState: string(u.TransferState),
			Error:         u.Error,
		}
	}
	return out
}

type Account struct {
	OwnerID        string `json:"owner_id"`
	Balance        int64  `json:"balance"`
	TotalRecharged int64  `json:"total_recharged"`
	TotalConsumed  int64  `json:"total_consumed"`
	TotalGranted   int64  `json:"total_granted"`
}

func accountFromModel(a *model.CreditAccount) Account {
	return Account{
		OwnerID:        a.OwnerID,
		Balance:        a.Balance,
		TotalRecharged: a.TotalRecharged,
		TotalConsumed:  a.TotalConsumed,
		TotalGranted:   a.TotalGranted,
	}
}

type Transaction struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	Reason        string    `json:"reason,omitempty"`
	JobID         *string   `json:"job_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func transactionFromModel(t *model.CreditTransaction) Transaction {
	return Transaction{
		ID:            t.ID,
		Type:          string(t.Type),
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Reason:        t.Reason,
		JobID:         t.RelatedJobID,
		CreatedAt:     t.CreatedAt,
	}
}

type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
