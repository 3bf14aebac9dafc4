package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"smb-erp/internal/app"
	"smb-erp/internal/core"
	"smb-erp/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// Options configures the HTTP adapter.
type Options struct {
	AllowedOrigins []string
	// DefaultCompany is used when neither the X-Company-Code header nor the
	// session names a company.
	DefaultCompany string
	Metrics        *metrics.Metrics
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger
	// InsecureCookies drops the Secure flag for plain-HTTP local development.
	InsecureCookies bool
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc            app.ApplicationService
	log            logrus.FieldLogger
	validate       *validator.Validate
	defaultCompany string
	secureCookies  bool
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Handler{
		svc:            svc,
		log:            log,
		validate:       validator.New(),
		defaultCompany: opts.DefaultCompany,
		secureCookies:  !opts.InsecureCookies,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(opts.AllowedOrigins))
	r.Use(Metrics(opts.Metrics))

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(maxBodyBytes))
		r.Post("/api/auth/login", h.login)
		r.Post("/api/auth/logout", h.logout)
		r.Post("/api/auth/webauthn/login/begin", h.passkeyLoginBegin)
		r.Post("/api/auth/webauthn/login/finish", h.passkeyLoginFinish)
	})

	// ── Protected API routes (return 401 JSON if unauthenticated) ────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(maxBodyBytes))
		r.Use(h.CompanyContext)

		r.Get("/api/auth/me", h.me)
		r.Post("/api/auth/company", h.switchCompany)
		r.Post("/api/auth/webauthn/register/begin", h.passkeyRegisterBegin)
		r.Post("/api/auth/webauthn/register/finish", h.passkeyRegisterFinish)

		r.Get("/api/schemas/{document}", h.schema)

		// Master data
		r.Get("/api/companies", h.listCompanies)
		r.Get("/api/tax-rates", h.listTaxRates)

		r.Get("/api/products", h.listProducts)
		r.Post("/api/products", h.createProduct)
		r.Get("/api/products/{code}", h.getProduct)
		r.Put("/api/products/{code}", h.updateProduct)
		r.Delete("/api/products/{code}", h.deleteProduct)

		r.Get("/api/customers", h.listCustomers)
		r.Post("/api/customers", h.createCustomer)
		r.Get("/api/customers/{code}", h.getCustomer)
		r.Put("/api/customers/{code}", h.updateCustomer)

		r.Get("/api/suppliers", h.listSuppliers)
		r.Post("/api/suppliers", h.createSupplier)
		r.Get("/api/suppliers/{code}", h.getSupplier)
		r.Put("/api/suppliers/{code}", h.updateSupplier)
		r.Delete("/api/suppliers/{code}", h.deleteSupplier)

		// Documents
		r.Get("/api/invoices", h.listInvoices)
		r.Post("/api/invoices", h.createInvoice)
		r.Get("/api/invoices/{id}", h.getInvoice)
		r.Put("/api/invoices/{id}", h.updateInvoice)

		r.Get("/api/purchase-invoices", h.listPurchaseInvoices)
		r.Post("/api/purchase-invoices", h.createPurchaseInvoice)
		r.Get("/api/purchase-invoices/{id}", h.getPurchaseInvoice)
		r.Put("/api/purchase-invoices/{id}", h.updatePurchaseInvoice)

		r.Get("/api/sales-returns", h.listReturns)
		r.Post("/api/sales-returns", h.createReturn)
		r.Get("/api/sales-returns/{id}", h.getReturn)
		r.Put("/api/sales-returns/{id}", h.updateReturn)

		r.Get("/api/receipts", h.listReceipts)
		r.Post("/api/receipts", h.createReceipt)
		r.Get("/api/payments", h.listPayments)
		r.Post("/api/payments", h.createPayment)

		// Cash
		r.Get("/api/expenses", h.listExpenses)
		r.Post("/api/expenses", h.createExpense)
		r.Put("/api/expenses/{id}", h.updateExpense)

		r.Get("/api/cash-balance", h.listCashEntries)
		r.Post("/api/cash-balance", h.createCashEntry)
		r.Get("/api/cash-balance/summary", h.cashSummary)
		r.Put("/api/cash-balance/{id}", h.updateCashEntry)

		// ── Admin ────────────────────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/api/companies", h.createCompany)
			r.Delete("/api/companies/{code}", h.deleteCompany)
			r.Put("/api/tax-rates", h.upsertTaxRate)
			r.Get("/api/users", h.listUsers)
			r.Post("/api/users", h.createUser)
			r.Delete("/api/users/{id}", h.deleteUser)
		})
	})

	return r
}

// health returns service status and the default company code.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	company, err := h.svc.LoadDefaultCompany(r.Context())
	companyCode := ""
	if err == nil && company != nil {
		companyCode = company.CompanyCode
	}

	type response struct {
		Status  string `json:"status"`
		Company string `json:"company"`
	}

	writeJSON(w, response{Status: "ok", Company: companyCode})
}

// decodeJSON decodes and validates the request body into v and returns false
// + writes an appropriate error response on failure. Returns HTTP 413 when the
// body exceeds the size limit set by RequestBodyLimit middleware; HTTP 400 for
// all other decode and validation errors.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, r, validationMessage(err), core.KindValidation.Code(), http.StatusBadRequest)
		return false
	}
	return true
}

// pathID parses a positive integer URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, "invalid "+name+": "+chi.URLParam(r, name), "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter; malformed values are ignored.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

func listFilter(r *http.Request) core.ListFilter {
	return core.ListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
}

// documentFilter reads status, party, from, to, limit and offset. The party
// parameter is "customer" or "supplier" depending on the listing.
func documentFilter(r *http.Request, partyParam string) core.DocumentFilter {
	q := r.URL.Query()
	return core.DocumentFilter{
		Status:    q.Get("status"),
		PartyCode: q.Get(partyParam),
		From:      q.Get("from"),
		To:        q.Get("to"),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	}
}
