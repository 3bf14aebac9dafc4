package web

import (
	"net/http"
)

// ── Sales invoices ───────────────────────────────────────────────────────────

// listInvoices handles GET /api/invoices?status=&customer=&from=&to=.
func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	invoices, err := h.svc.ListInvoices(r.Context(), code, documentFilter(r, "customer"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, invoices)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.svc.GetInvoice(r.Context(), code, int(id))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, inv)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req salesInvoiceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.CreateInvoice(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, inv)
}

// updateInvoice handles PUT /api/invoices/{id}: the stored invoice is
// reversed and the body applied in one transaction.
func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req salesInvoiceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.UpdateInvoice(r.Context(), scope(r), int(id), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, inv)
}

// ── Purchase invoices ────────────────────────────────────────────────────────

func (h *Handler) listPurchaseInvoices(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	invoices, err := h.svc.ListPurchaseInvoices(r.Context(), code, documentFilter(r, "supplier"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, invoices)
}

func (h *Handler) getPurchaseInvoice(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := h.svc.GetPurchaseInvoice(r.Context(), code, int(id))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, inv)
}

func (h *Handler) createPurchaseInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req purchaseInvoiceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.CreatePurchaseInvoice(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, inv)
}

func (h *Handler) updatePurchaseInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req purchaseInvoiceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.UpdatePurchaseInvoice(r.Context(), scope(r), int(id), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, inv)
}

// ── Sales returns ────────────────────────────────────────────────────────────

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	returns, err := h.svc.ListReturns(r.Context(), code, documentFilter(r, "customer"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, returns)
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ret, err := h.svc.GetReturn(r.Context(), code, int(id))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, ret)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req salesReturnRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	ret, err := h.svc.CreateReturn(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, ret)
}

func (h *Handler) updateReturn(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req salesReturnRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	ret, err := h.svc.UpdateReturn(r.Context(), scope(r), int(id), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, ret)
}

// ── Receipts and supplier payments ───────────────────────────────────────────

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	receipts, err := h.svc.ListReceipts(r.Context(), code, documentFilter(r, "customer"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, receipts)
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req receiptRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.svc.RecordReceipt(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, rec)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	payments, err := h.svc.ListPayments(r.Context(), code, documentFilter(r, "supplier"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, payments)
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req paymentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.RecordPayment(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, p)
}
