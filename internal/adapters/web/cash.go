package web

import (
	"net/http"

	"smb-erp/internal/core"
)

// ── Expenses ─────────────────────────────────────────────────────────────────

func (h *Handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	expenses, err := h.svc.ListExpenses(r.Context(), code, documentFilter(r, "category"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, expenses)
}

func (h *Handler) createExpense(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req expenseRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	e, err := h.svc.CreateExpense(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, e)
}

func (h *Handler) updateExpense(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req expenseRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	e, err := h.svc.UpdateExpense(r.Context(), scope(r), int(id), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, e)
}

// ── Cash ledger ──────────────────────────────────────────────────────────────

// listCashEntries handles GET /api/cash-balance?from=&to=&type=.
func (h *Handler) listCashEntries(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	entries, err := h.svc.ListEntries(r.Context(), code, core.CashFilter{
		From:      q.Get("from"),
		To:        q.Get("to"),
		TransType: q.Get("type"),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, entries)
}

// cashSummary handles GET /api/cash-balance/summary?from=&to=.
func (h *Handler) cashSummary(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.Summary(r.Context(), code, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, summary)
}

func (h *Handler) createCashEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req cashEntryRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	e, err := h.svc.CreateManualEntry(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, e)
}

// updateCashEntry handles PUT /api/cash-balance/{id}. Only manual entries are
// editable and the replacement row carries a new id.
func (h *Handler) updateCashEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req cashEntryRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	e, err := h.svc.UpdateManualEntry(r.Context(), scope(r), id, req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, e)
}
