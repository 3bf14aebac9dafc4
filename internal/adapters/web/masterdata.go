package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ── Companies and tax rates ──────────────────────────────────────────────────

// listCompanies handles GET /api/companies.
func (h *Handler) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.svc.ListCompanies(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, companies)
}

// createCompany handles POST /api/companies (admin).
func (h *Handler) createCompany(w http.ResponseWriter, r *http.Request) {
	var req companyRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	company, err := h.svc.CreateCompany(r.Context(), req.Code, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, company)
}

// deleteCompany handles DELETE /api/companies/{code} (admin). A company that
// still has dependents answers 409 with the counts.
func (h *Handler) deleteCompany(w http.ResponseWriter, r *http.Request) {
	deps, err := h.svc.DeleteCompany(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if deps.Total() > 0 {
			type response struct {
				errorResponse
				Dependents any `json:"dependents"`
			}
			writeStatusJSON(w, http.StatusConflict, response{
				errorResponse: errorResponse{Error: err.Error(), Code: "BUSINESS_RULE_VIOLATION", RequestID: requestIDFromContext(r.Context())},
				Dependents:    deps,
			})
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listTaxRates handles GET /api/tax-rates.
func (h *Handler) listTaxRates(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	rates, err := h.svc.ListTaxRates(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, rates)
}

// upsertTaxRate handles PUT /api/tax-rates (admin).
func (h *Handler) upsertTaxRate(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req taxRateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	rate, err := h.svc.UpsertTaxRate(r.Context(), scope(r), req.Code, req.Rate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, rate)
}

// ── Products ─────────────────────────────────────────────────────────────────

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	products, err := h.svc.ListProducts(r.Context(), code, listFilter(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, products)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetProduct(r.Context(), code, chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req productRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.CreateProduct(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, p)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req productRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.UpdateProduct(r.Context(), scope(r), chi.URLParam(r, "code"), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	if err := h.svc.DeleteProduct(r.Context(), scope(r), chi.URLParam(r, "code")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Customers ────────────────────────────────────────────────────────────────

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	customers, err := h.svc.ListCustomers(r.Context(), code, listFilter(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, customers)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	c, err := h.svc.GetCustomer(r.Context(), code, chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req customerRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.CreateCustomer(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, c)
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req customerRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.UpdateCustomer(r.Context(), scope(r), chi.URLParam(r, "code"), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, c)
}

// ── Suppliers ────────────────────────────────────────────────────────────────

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	suppliers, err := h.svc.ListSuppliers(r.Context(), code, listFilter(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, suppliers)
}

func (h *Handler) getSupplier(w http.ResponseWriter, r *http.Request) {
	code, ok := requireCompany(w, r)
	if !ok {
		return
	}
	s, err := h.svc.GetSupplier(r.Context(), code, chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, s)
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req supplierRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	s, err := h.svc.CreateSupplier(r.Context(), scope(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, s)
}

func (h *Handler) updateSupplier(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	var req supplierRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	s, err := h.svc.UpdateSupplier(r.Context(), scope(r), chi.URLParam(r, "code"), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, s)
}

func (h *Handler) deleteSupplier(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCompany(w, r); !ok {
		return
	}
	if err := h.svc.DeleteSupplier(r.Context(), scope(r), chi.URLParam(r, "code")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Users (admin) ────────────────────────────────────────────────────────────

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, users)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	u, err := h.svc.CreateUser(r.Context(), req.request())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, u)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if claims := authFromContext(r.Context()); claims != nil && int64(claims.UserID) == id {
		writeError(w, r, "you cannot delete your own account", "BUSINESS_RULE_VIOLATION", http.StatusConflict)
		return
	}
	if err := h.svc.DeleteUser(r.Context(), int(id)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
