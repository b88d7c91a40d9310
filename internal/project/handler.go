package project

import (
	"net/http"

	"github.com/KromaEnergia/contract-engine/internal/auth"
	"github.com/KromaEnergia/contract-engine/internal/httpx"
	"github.com/gorilla/mux"
)

type Handler struct {
	Repository *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{Repository: repo}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/tenant", h.Tenant).Methods("GET")
	r.HandleFunc("/projects", h.Create).Methods("POST")
	r.HandleFunc("/projects", h.List).Methods("GET")
	r.HandleFunc("/projects/{id}", h.Get).Methods("GET")
}

// GET /tenant
func (h *Handler) Tenant(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	t, err := h.Repository.Tenant(r.Context(), tc)
	httpx.Respond(w, r, http.StatusOK, t, err)
}

// POST /projects
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in ProjectInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.Repository.Create(r.Context(), tc, in)
	httpx.Respond(w, r, http.StatusCreated, p, err)
}

// GET /projects
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Repository.List(r.Context(), tc)
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// GET /projects/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	p, err := h.Repository.Get(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, p, err)
}
