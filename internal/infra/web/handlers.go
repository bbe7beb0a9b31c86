package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/usecase"
)

type creditGrantRequest struct {
	Amount int64  `json:"amount"`
	Type   string `json:"type"` // recharge | admin_grant
	Reason string `json:"reason"`
}

// Handler for crediting an account, either a confirmed recharge or a grant.
func creditsGrantHandler(ledger usecase.CreditLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req creditGrantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		typ := model.CreditTxType(strings.TrimSpace(req.Type))
		if typ == "" {
			typ = model.CreditTxAdminGrant
		}

		tx, err := ledger.AddCredits(r.Context(), chi.URLParam(r, "ownerId"), req.Amount, typ, req.Reason)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"transaction_id": tx.ID,
			"owner_id":       tx.OwnerID,
			"type":           tx.Type,
			"amount":         tx.Amount,
			"balance_after":  tx.BalanceAfter,
		})
	}
}

func pricingListHandler(pricing usecase.PricingUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := pricing.List(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		items := make([]map[string]any, 0, len(list))
		for _, p := range list {
			items = append(items, pricingJSON(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func pricingUpsertHandler(pricing usecase.PricingUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rule model.PricingRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		p, err := pricing.Upsert(r.Context(), chi.URLParam(r, "model"), rule)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pricingJSON(p))
	}
}

func pricingDeleteHandler(pricing usecase.PricingUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pricing.Deactivate(r.Context(), chi.URLParam(r, "model")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pricingJSON(p *model.ModelPricing) map[string]any {
	return map[string]any{
		"model":      p.ModelKey,
		"rule":       p.Rule,
		"active":     p.Active,
		"updated_at": p.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrLedgerConflict):
		http.Error(w, "Account busy, retry", http.StatusConflict)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
