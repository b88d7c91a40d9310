package contract

import (
	"net/http"

	"github.com/KromaEnergia/contract-engine/internal/auth"
	"github.com/KromaEnergia/contract-engine/internal/httpx"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type Handler struct {
	Repository *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{Repository: repo}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/contracts", h.Create).Methods("POST")
	r.HandleFunc("/contracts", h.List).Methods("GET")
	r.HandleFunc("/contracts/{id}", h.Get).Methods("GET")
	r.HandleFunc("/contracts/{id}/activate", h.transition(StatusActive)).Methods("POST")
	r.HandleFunc("/contracts/{id}/complete", h.transition(StatusCompleted)).Methods("POST")
	r.HandleFunc("/contracts/{id}/terminate", h.transition(StatusTerminated)).Methods("POST")
	r.HandleFunc("/contracts/{id}/value", h.Value).Methods("GET")
	r.HandleFunc("/contracts/{id}/variance", h.Variance).Methods("GET")

	r.HandleFunc("/contracts/{id}/lines", h.AddLine).Methods("POST")
	r.HandleFunc("/contracts/{id}/lines", h.Lines).Methods("GET")
	r.HandleFunc("/contract-lines/{id}", h.UpdateLine).Methods("PUT")

	r.HandleFunc("/contracts/{id}/budget-lines", h.AddBudgetLine).Methods("POST")
	r.HandleFunc("/contracts/{id}/budget-lines", h.BudgetLines).Methods("GET")
	r.HandleFunc("/budget-lines/{id}/status", h.TransitionBudgetLine).Methods("POST")
}

// POST /contracts
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in ContractInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.Repository.Create(r.Context(), tc, in)
	httpx.Respond(w, r, http.StatusCreated, c, err)
}

// GET /contracts?projectId=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Repository.List(r.Context(), tc, r.URL.Query().Get("projectId"))
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// GET /contracts/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	c, err := h.Repository.Get(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, c, err)
}

// POST /contracts/{id}/{activate|complete|terminate}
func (h *Handler) transition(to Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, ok := auth.Tenancy(w, r)
		if !ok {
			return
		}
		c, err := h.Repository.transition(r.Context(), tc, mux.Vars(r)["id"], to)
		httpx.Respond(w, r, http.StatusOK, c, err)
	}
}

type valueResponse struct {
	ContractID    string          `json:"contractId"`
	OriginalValue decimal.Decimal `json:"originalValue"`
	CurrentValue  decimal.Decimal `json:"currentValue"`
	Adjustments   []Adjustment    `json:"adjustments"`
}

// GET /contracts/{id}/value
func (h *Handler) Value(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	c, err := h.Repository.Get(r.Context(), tc, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	current, err := h.Repository.Ledger.CurrentValue(r.Context(), tc, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	adjustments, err := h.Repository.Ledger.Adjustments(r.Context(), tc, id)
	httpx.Respond(w, r, http.StatusOK, valueResponse{
		ContractID:    c.ID,
		OriginalValue: c.OriginalTotalValue,
		CurrentValue:  current,
		Adjustments:   adjustments,
	}, err)
}

// GET /contracts/{id}/variance
func (h *Handler) Variance(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	rows, err := h.Repository.Ledger.Variance(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, rows, err)
}

// POST /contracts/{id}/lines
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
	l, err := h.Repository.AddLine(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusCreated, l, err)
}

// GET /contracts/{id}/lines
func (h *Handler) Lines(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Repository.Lines(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// PUT /contract-lines/{id}
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in LineInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	l, err := h.Repository.UpdateLine(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusOK, l, err)
}

// POST /contracts/{id}/budget-lines
func (h *Handler) AddBudgetLine(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in BudgetLineInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	b, err := h.Repository.AddBudgetLine(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusCreated, b, err)
}

// GET /contracts/{id}/budget-lines
func (h *Handler) BudgetLines(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Repository.BudgetLines(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// POST /budget-lines/{id}/status
func (h *Handler) TransitionBudgetLine(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in struct {
		Status BudgetStatus `json:"status"`
	}
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	b, err := h.Repository.TransitionBudgetLine(r.Context(), tc, mux.Vars(r)["id"], in.Status)
	httpx.Respond(w, r, http.StatusOK, b, err)
}
