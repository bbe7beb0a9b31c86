package web

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"genforge/internal/usecase"
)

// Server is the operator API: credit grants and pricing management.
type Server struct {
	ledger  usecase.CreditLedger
	pricing usecase.PricingUseCase
	apiKey  string
	log     *zerolog.Logger
}

func NewServer(
	ledger usecase.CreditLedger,
	pricing usecase.PricingUseCase,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		ledger:  ledger,
		pricing: pricing,
		apiKey:  apiKey,
		log:     logger,
	}
}

// Routes returns the admin router, relative to its mount point.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.authMiddleware)
	r.Post("/credits/{ownerId}", creditsGrantHandler(s.ledger))
	r.Get("/pricing", pricingListHandler(s.pricing))
	r.Put("/pricing/{model}", pricingUpsertHandler(s.pricing))
	r.Delete("/pricing/{model}", pricingDeleteHandler(s.pricing))
	return r
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("Admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(tokenParts[1]), []byte(s.apiKey)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
