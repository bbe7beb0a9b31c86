package provider

import (
	"strings"

	"genforge/internal/domain/ports/adapter"
)

// vendorStates folds the status strings seen across vendors into the
// canonical three. Anything not listed is treated as still processing.
var vendorStates = map[string]adapter.VendorState{
	"succeeded": adapter.VendorCompleted,
	"success":   adapter.VendorCompleted,
	"succeed":   adapter.VendorCompleted,
	"completed": adapter.VendorCompleted,
	"complete":  adapter.VendorCompleted,
	"done":      adapter.VendorCompleted,
	"finished":  adapter.VendorCompleted,

	"failed":    adapter.VendorFailed,
	"failure":   adapter.VendorFailed,
	"fail":      adapter.VendorFailed,
	"error":     adapter.VendorFailed,
	"cancelled": adapter.VendorFailed,
	"canceled":  adapter.VendorFailed,
	"rejected":  adapter.VendorFailed,
	"expired":   adapter.VendorFailed,
}

// NormalizeState maps a raw vendor status to a VendorState.
func NormalizeState(raw string) adapter.VendorState {
	if s, ok := vendorStates[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return adapter.VendorProcessing
}
