package approval

import (
	"net/http"

	"github.com/KromaEnergia/contract-engine/internal/auth"
	"github.com/KromaEnergia/contract-engine/internal/httpx"
	"github.com/gorilla/mux"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/change-requests", h.Create).Methods("POST")
	r.HandleFunc("/change-requests", h.List).Methods("GET")
	r.HandleFunc("/change-requests/{id}", h.Get).Methods("GET")
	r.HandleFunc("/change-requests/{id}/decisions", h.Decide).Methods("POST")
	r.HandleFunc("/change-requests/{id}/implement", h.Implement).Methods("POST")
}

// POST /change-requests
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in RequestInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cr, err := h.Service.Create(r.Context(), tc, in)
	httpx.Respond(w, r, http.StatusCreated, cr, err)
}

// GET /change-requests?projectId=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Service.List(r.Context(), tc, r.URL.Query().Get("projectId"))
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// GET /change-requests/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	cr, err := h.Service.Get(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, cr, err)
}

// POST /change-requests/{id}/decisions
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var d Decision
	if err := httpx.ReadJSON(r, &d); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cr, err := h.Service.Decide(r.Context(), tc, mux.Vars(r)["id"], d)
	httpx.Respond(w, r, http.StatusOK, cr, err)
}

// POST /change-requests/{id}/implement
func (h *Handler) Implement(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	cr, err := h.Service.Implement(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, cr, err)
}
