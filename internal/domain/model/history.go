package model

import "time"

// HistoryRecord is the finalized outcome of a job handed to the history store.
type HistoryRecord struct {
	JobID          string
	OwnerID        string
	Provider       ProviderKind
	ModelKey       string
	Status         JobStatus
	Units          []GenerationUnit
	CreditsCharged int64
	TransactionID  string
	Unbilled       bool
	Error          string
	RecordedAt     time.Time
}

func NewHistoryRecord(j *GenerationJob) *HistoryRecord {
	units := make([]GenerationUnit, len(j.Units))
	copy(units, j.Units)
	return &HistoryRecord{
		JobID:          j.ID,
		OwnerID:        j.OwnerID,
		Provider:       j.Provider,
		ModelKey:       j.ModelKey,
		Status:         j.Status,
		Units:          units,
		CreditsCharged: j.CreditsCharged,
		TransactionID:  j.TransactionID,
		Unbilled:       j.Unbilled,
		Error:          j.Error,
		RecordedAt:     time.Now(),
	}
}
