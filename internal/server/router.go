// Package server assembles the HTTP surface over the engines.
package server

import (
	"net/http"

	"github.com/KromaEnergia/contract-engine/internal/approval"
	"github.com/KromaEnergia/contract-engine/internal/auth"
	"github.com/KromaEnergia/contract-engine/internal/certificate"
	"github.com/KromaEnergia/contract-engine/internal/changeorder"
	"github.com/KromaEnergia/contract-engine/internal/contract"
	"github.com/KromaEnergia/contract-engine/internal/httpx"
	"github.com/KromaEnergia/contract-engine/internal/platform"
	"github.com/KromaEnergia/contract-engine/internal/project"
	"github.com/KromaEnergia/contract-engine/internal/reconciliation"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type Options struct {
	Keys     *auth.Keys
	Gatherer prometheus.Gatherer
	// AllowedOrigins feeds CORS; empty allows any origin.
	AllowedOrigins []string
}

// NewRouter wires every engine behind bearer authentication. Health, metrics
// and the JWKS document stay public.
func NewRouter(deps platform.Deps, opts Options) http.Handler {
	deps = deps.WithDefaults()
	r := mux.NewRouter()
	r.Use(httpx.RequestID)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/.well-known/jwks.json", opts.Keys.JWKSHandler).Methods("GET")
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Middleware(opts.Keys, deps.Clock))

	project.NewHandler(project.NewRepository(deps)).Register(api)
	contract.NewHandler(contract.NewRepository(deps)).Register(api)
	changeorder.NewHandler(changeorder.NewEngine(deps)).Register(api)
	certificate.NewHandler(certificate.NewEngine(deps)).Register(api)
	reconciliation.NewHandler(reconciliation.NewService(deps)).Register(api)
	approval.NewHandler(approval.NewService(deps)).Register(api)

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", httpx.HeaderRequestID},
		ExposedHeaders: []string{httpx.HeaderRequestID, "Retry-After"},
	})
	return c.Handler(r)
}
