package apiv1

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"genforge/internal/infra/logging"
	"genforge/internal/usecase"
)

// SubmitLimiter reports whether ownerID may submit another job now.
type SubmitLimiter func(ctx context.Context, ownerID string) (bool, error)

// Server serves the caller-facing generation and credit endpoints.
type Server struct {
	gen     usecase.GenerationUseCase
	ledger  usecase.CreditLedger
	auth    *Authenticator
	limiter SubmitLimiter
	log     *zerolog.Logger
}

func NewServer(gen usecase.GenerationUseCase, ledger usecase.CreditLedger, auth *Authenticator, limiter SubmitLimiter, logger *zerolog.Logger) *Server {
	return &Server{gen: gen, ledger: ledger, auth: auth, limiter: limiter, log: logging.Component(logger, "apiv1")}
}

// RegisterAPIV1 mounts the v1 routes on r. admin, when set, is served under
// /api/v1/admin with its own authentication.
func RegisterAPIV1(r chi.Router, s *Server, admin http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireOwner)
			r.Post("/generations", s.submitGeneration)
			r.Get("/generations/{id}", s.getGeneration)
			r.Get("/credits", s.getCredits)
			r.Get("/credits/transactions", s.listTransactions)
		})
		if admin != nil {
			r.Mount("/admin", admin)
		}
	})
}

func (s *Server) submitGeneration(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFrom(r.Context())
	ctx := logging.WithOwnerID(r.Context(), owner)

	var req SubmitGenerationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", nil)
		return
	}

	if s.limiter != nil {
		ok, err := s.limiter(ctx, owner)
		if err != nil {
			logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable; allowing request")
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many submissions, slow down", nil)
			return
		}
	}

	res, err := s.gen.Submit(ctx, usecase.SubmitRequest{
		OwnerID:  owner,
		Provider: req.Provider,
		ModelKey: req.ModelKey,
		Units:    req.Units,
		Params:   req.params(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitGenerationResponse{JobID: res.JobID, Status: "pending", RequiredCredits: res.RequiredCredits})
}

func (s *Server) getGeneration(w http.ResponseWriter, r *http.Request) {
	job, err := s.gen.Status(r.Context(), OwnerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobFromModel(job))
}

func (s *Server) getCredits(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Balance(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountFromModel(acct))
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := s.ledger.Transactions(r.Context(), OwnerFrom(r.Context()), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		items = append(items, transactionFromModel(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
