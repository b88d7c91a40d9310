package certificate

import (
	"net/http"

	"github.com/KromaEnergia/contract-engine/internal/auth"
	"github.com/KromaEnergia/contract-engine/internal/httpx"
	"github.com/gorilla/mux"
)

type Handler struct {
	Engine *Engine
}

func NewHandler(e *Engine) *Handler {
	return &Handler{Engine: e}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/contracts/{id}/certificates", h.Create).Methods("POST")
	r.HandleFunc("/contracts/{id}/certificates", h.List).Methods("GET")
	r.HandleFunc("/certificates/{id}", h.Get).Methods("GET")
	r.HandleFunc("/certificates/{id}", h.UpdateDraft).Methods("PUT")
	r.HandleFunc("/certificates/{id}/submit", h.Submit).Methods("POST")
	r.HandleFunc("/certificates/{id}/approve", h.Approve).Methods("POST")
	r.HandleFunc("/certificates/{id}/reject", h.Reject).Methods("POST")
	r.HandleFunc("/certificates/{id}/cancel", h.Cancel).Methods("POST")
}

// POST /contracts/{id}/certificates
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in Input
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cert, err := h.Engine.Create(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusCreated, cert, err)
}

// GET /contracts/{id}/certificates
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Engine.ListByContract(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// GET /certificates/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	cert, err := h.Engine.Get(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, cert, err)
}

// PUT /certificates/{id}
func (h *Handler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in Input
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cert, err := h.Engine.UpdateDraft(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusOK, cert, err)
}

// POST /certificates/{id}/submit
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	cert, err := h.Engine.Submit(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, cert, err)
}

// POST /certificates/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var opts ApproveOptions
	if r.ContentLength > 0 {
		if err := httpx.ReadJSON(r, &opts); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}
	cert, err := h.Engine.Approve(r.Context(), tc, mux.Vars(r)["id"], opts)
	httpx.Respond(w, r, http.StatusOK, cert, err)
}

// POST /certificates/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in struct {
		Reason string `json:"reason"`
	}
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cert, err := h.Engine.Reject(r.Context(), tc, mux.Vars(r)["id"], in.Reason)
	httpx.Respond(w, r, http.StatusOK, cert, err)
}

// POST /certificates/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	cert, err := h.Engine.Cancel(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, cert, err)
}
