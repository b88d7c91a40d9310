package changeorder

import (
	"context"
	"net/http"

	"github.com/KromaEnergia/contract-engine/internal/auth"
	"github.com/KromaEnergia/contract-engine/internal/httpx"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/gorilla/mux"
)

type Handler struct {
	Engine *Engine
}

func NewHandler(e *Engine) *Handler {
	return &Handler{Engine: e}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/contracts/{id}/change-orders", h.Create).Methods("POST")
	r.HandleFunc("/contracts/{id}/change-orders", h.List).Methods("GET")
	r.HandleFunc("/change-orders/{id}", h.Get).Methods("GET")
	r.HandleFunc("/change-orders/{id}/lines", h.AddLine).Methods("POST")
	r.HandleFunc("/change-order-lines/{id}", h.RemoveLine).Methods("DELETE")
	r.HandleFunc("/change-orders/{id}/propose", h.action(h.Engine.Propose)).Methods("POST")
	r.HandleFunc("/change-orders/{id}/approve", h.action(h.Engine.Approve)).Methods("POST")
	r.HandleFunc("/change-orders/{id}/cancel", h.action(h.Engine.Cancel)).Methods("POST")
	r.HandleFunc("/change-orders/{id}/reject", h.Reject).Methods("POST")
}

// POST /contracts/{id}/change-orders
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
	co, err := h.Engine.Create(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusCreated, co, err)
}

// GET /contracts/{id}/change-orders?status=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	status := Status(r.URL.Query().Get("status"))
	list, err := h.Engine.ListByContract(r.Context(), tc, mux.Vars(r)["id"], status)
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// GET /change-orders/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	co, err := h.Engine.Get(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, co, err)
}

// POST /change-orders/{id}/lines
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in LineInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	l, err := h.Engine.AddLine(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusCreated, l, err)
}

// DELETE /change-order-lines/{id}
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	err := h.Engine.RemoveLine(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusNoContent, nil, err)
}

// POST /change-orders/{id}/{propose|approve|cancel}
func (h *Handler) action(fn func(context.Context, tenancy.Context, string) (*ChangeOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, ok := auth.Tenancy(w, r)
		if !ok {
			return
		}
		co, err := fn(r.Context(), tc, mux.Vars(r)["id"])
		httpx.Respond(w, r, http.StatusOK, co, err)
	}
}

// POST /change-orders/{id}/reject
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
	co, err := h.Engine.Reject(r.Context(), tc, mux.Vars(r)["id"], in.Reason)
	httpx.Respond(w, r, http.StatusOK, co, err)
}
