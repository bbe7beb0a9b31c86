package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"genforge/internal/config"
	"genforge/internal/infra/api/apiv1"
	"genforge/internal/infra/metrics"
)

// RouterDeps collects the handlers mounted on the public listener.
type RouterDeps struct {
	API   *apiv1.Server
	Admin http.Handler // mounted under /api/v1/admin when non-nil
	// AssetsDir is served at /assets when storage is local.
	AssetsDir string
	Ready     func() error
}

// NewRouter assembles middleware, health, metrics, assets and the v1 API.
func NewRouter(deps RouterDeps, requestTimeout time.Duration, logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	if deps.AssetsDir != "" {
		fs := http.StripPrefix("/assets/", http.FileServer(http.Dir(deps.AssetsDir)))
		r.Handle("/assets/*", fs)
	}

	if deps.API != nil {
		apiv1.RegisterAPIV1(r, deps.API, deps.Admin)
	}

	return Chain(r,
		TraceID(),
		Recover(logger),
		RequestLog(logger),
		Timeout(requestTimeout),
	)
}

// NewHTTPServer wraps the handler with the configured listener settings.
func NewHTTPServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * cfg.WriteTimeout,
	}
}
