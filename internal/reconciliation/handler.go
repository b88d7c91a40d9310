package reconciliation

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/auth"
	"github.com/KromaEnergia/contract-engine/internal/contract"
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
	r.HandleFunc("/contracts/{id}/payments", h.RecordPayment).Methods("POST")
	r.HandleFunc("/contracts/{id}/payments", h.Payments).Methods("GET")
	r.HandleFunc("/contracts/{id}/summary", h.ContractSummary).Methods("GET")
	r.HandleFunc("/contracts/{id}/reconciliation.xlsx", h.ExportWorkbook).Methods("GET")
	r.HandleFunc("/certificates/{id}/balance", h.CertificateBalance).Methods("GET")

	r.HandleFunc("/contracts/{id}/expenses", h.RecordExpense).Methods("POST")
	r.HandleFunc("/contracts/{id}/expenses", h.Expenses).Methods("GET")
	r.HandleFunc("/expenses/{id}/status", h.AdvanceExpense).Methods("POST")
	r.HandleFunc("/expenses/{id}/history", h.ExpenseHistory).Methods("GET")

	r.HandleFunc("/contracts/{id}/schedule", h.CreateScheduleEntry).Methods("POST")
	r.HandleFunc("/contracts/{id}/schedule", h.Schedule).Methods("GET")
	r.HandleFunc("/schedule/{id}/status", h.TransitionSchedule).Methods("POST")
	r.HandleFunc("/schedule/refresh-overdue", h.RefreshOverdue).Methods("POST")
}

// POST /contracts/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in PaymentInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.Service.RecordPayment(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusCreated, p, err)
}

// GET /contracts/{id}/payments
func (h *Handler) Payments(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Service.Payments(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// GET /contracts/{id}/summary
func (h *Handler) ContractSummary(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	sum, err := h.Service.ContractSummary(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, sum, err)
}

// GET /contracts/{id}/reconciliation.xlsx
func (h *Handler) ExportWorkbook(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	var buf bytes.Buffer
	if err := h.Service.ExportWorkbook(r.Context(), tc, id, &buf); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=reconciliation_%s.xlsx", id))
	_, _ = buf.WriteTo(w)
}

// GET /certificates/{id}/balance
func (h *Handler) CertificateBalance(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	b, err := h.Service.CertificateBalance(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, b, err)
}

// POST /contracts/{id}/expenses
func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in ExpenseInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	e, err := h.Service.RecordExpense(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusCreated, e, err)
}

// GET /contracts/{id}/expenses
func (h *Handler) Expenses(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Service.Expenses(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// POST /expenses/{id}/status
func (h *Handler) AdvanceExpense(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in struct {
		Status contract.ExpenseStatus `json:"status"`
		Note   string                 `json:"note"`
	}
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	e, err := h.Service.AdvanceExpense(r.Context(), tc, mux.Vars(r)["id"], in.Status, in.Note)
	httpx.Respond(w, r, http.StatusOK, e, err)
}

// GET /expenses/{id}/history
func (h *Handler) ExpenseHistory(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Service.ExpenseHistory(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// POST /contracts/{id}/schedule
func (h *Handler) CreateScheduleEntry(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in ScheduleInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.Service.CreateScheduleEntry(r.Context(), tc, mux.Vars(r)["id"], in)
	httpx.Respond(w, r, http.StatusCreated, s, err)
}

// GET /contracts/{id}/schedule
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	list, err := h.Service.Schedule(r.Context(), tc, mux.Vars(r)["id"])
	httpx.Respond(w, r, http.StatusOK, list, err)
}

// POST /schedule/{id}/status
func (h *Handler) TransitionSchedule(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in struct {
		Status ScheduleStatus `json:"status"`
	}
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.Service.TransitionSchedule(r.Context(), tc, mux.Vars(r)["id"], in.Status)
	httpx.Respond(w, r, http.StatusOK, s, err)
}

// POST /schedule/refresh-overdue
func (h *Handler) RefreshOverdue(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.Tenancy(w, r)
	if !ok {
		return
	}
	var in struct {
		AsOf *time.Time `json:"asOf"`
	}
	if r.ContentLength > 0 {
		if err := httpx.ReadJSON(r, &in); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}
	asOf := h.Service.deps.Clock.Now()
	if in.AsOf != nil {
		asOf = *in.AsOf
	}
	n, err := h.Service.RefreshOverdue(r.Context(), tc, asOf)
	httpx.Respond(w, r, http.StatusOK, map[string]int{"updated": n}, err)
}
