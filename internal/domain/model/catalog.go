package model

// ModelSpec describes a generation model offered by the pipeline.
type ModelSpec struct {
	Key             string
	Provider        ProviderKind
	VendorModel     string
	Media           MediaType
	MaxUnits        int
	MaxPollAttempts int
}

// PollBudget returns the attempt cap, defaulting by media class since video
// vendors routinely take 10-25 minutes.
func (m ModelSpec) PollBudget() int {
	if m.MaxPollAttempts > 0 {
		return m.MaxPollAttempts
	}
	if m.Media == MediaVideo {
		return 180
	}
	return 60
}

// Target returns the vendor-side model name.
func (m ModelSpec) Target() string {
	if m.VendorModel != "" {
		return m.VendorModel
	}
	return m.Key
}
