package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smb-erp/internal/app"
	"smb-erp/internal/auth"
	"smb-erp/internal/core"
	"smb-erp/internal/logging"
	"smb-erp/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeApp implements the methods the tests exercise; anything else panics
// through the nil embedded interface.
type fakeApp struct {
	app.ApplicationService

	sessions map[string]*auth.Claims
	authErr  error

	lastScope   core.Scope
	lastInvoice core.SalesInvoiceInput
	createErr   error
	calls       int
}

func newFakeApp() *fakeApp {
	return &fakeApp{sessions: map[string]*auth.Claims{
		"admin-token": {UserID: 1, Username: "root", Role: core.RoleAdmin, CompanyCode: "1000"},
		"user-token":  {UserID: 2, Username: "clerk", Role: core.RoleUser, CompanyCode: "1000"},
	}}
}

func (f *fakeApp) LoadDefaultCompany(ctx context.Context) (*core.Company, error) {
	return &core.Company{ID: 1, CompanyCode: "1000", Name: "Demo"}, nil
}

func (f *fakeApp) Authenticate(ctx context.Context, token string) (*auth.Claims, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	if c, ok := f.sessions[token]; ok {
		return c, nil
	}
	return nil, auth.ErrInvalidToken
}

func (f *fakeApp) Login(ctx context.Context, username, password, companyCode string) (*app.UserSession, error) {
	if username != "clerk" || password != "secret-pass" {
		return nil, app.ErrInvalidCredentials
	}
	return &app.UserSession{
		Token:       "user-token",
		ExpiresAt:   time.Now().Add(time.Hour),
		UserID:      2,
		Username:    "clerk",
		Role:        core.RoleUser,
		CompanyCode: "1000",
	}, nil
}

func (f *fakeApp) CreateInvoice(ctx context.Context, scope core.Scope, in core.SalesInvoiceInput) (*core.SalesInvoice, error) {
	f.calls++
	f.lastScope = scope
	f.lastInvoice = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &core.SalesInvoice{ID: 9, InvoiceNumber: "INV-2026-00001", CustomerCode: in.CustomerCode, Status: core.StatusPending}, nil
}

func (f *fakeApp) GetInvoice(ctx context.Context, companyCode string, id int) (*core.SalesInvoice, error) {
	if id != 9 {
		return nil, core.Errorf(core.KindNotFound, "invoice %d not found", id)
	}
	return &core.SalesInvoice{ID: 9, InvoiceNumber: "INV-2026-00001"}, nil
}

func (f *fakeApp) ListCompanies(ctx context.Context) ([]core.Company, error) {
	return []core.Company{{ID: 1, CompanyCode: "1000", Name: "Demo"}}, nil
}

func (f *fakeApp) CreateCompany(ctx context.Context, code, name string) (*core.Company, error) {
	return &core.Company{ID: 2, CompanyCode: code, Name: name}, nil
}

func (f *fakeApp) ListProducts(ctx context.Context, companyCode string, filter core.ListFilter) ([]core.Product, error) {
	f.lastScope = core.Scope{CompanyCode: companyCode}
	return []core.Product{}, nil
}

func newTestServer(t *testing.T, svc app.ApplicationService) (http.Handler, *metrics.Metrics) {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	h := NewHandler(svc, Options{
		DefaultCompany: "1000",
		Metrics:        m,
		Logger:         logging.Discard(),
	})
	return h, m
}

func do(h http.Handler, method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, newFakeApp())
	rec := do(h, http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","company":"1000"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_KeepsSafeCallerID(t *testing.T) {
	h, _ := newTestServer(t, newFakeApp())
	rec := do(h, http.MethodGet, "/api/health", "", "", "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = do(h, http.MethodGet, "/api/health", "", "", "X-Request-ID", "bad id; drop table")
	assert.NotEqual(t, "bad id; drop table", rec.Header().Get("X-Request-ID"))
}

func TestProtectedRoute_RequiresToken(t *testing.T) {
	h, _ := newTestServer(t, newFakeApp())

	rec := do(h, http.MethodGet, "/api/products", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)

	rec = do(h, http.MethodGet, "/api/products", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoute_AccountLookupFailureIsInternal(t *testing.T) {
	svc := newFakeApp()
	svc.authErr = errors.New("connection refused")
	h, _ := newTestServer(t, svc)

	rec := do(h, http.MethodGet, "/api/products", "user-token", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestLogin_SetsCookie(t *testing.T) {
	h, _ := newTestServer(t, newFakeApp())

	rec := do(h, http.MethodPost, "/api/auth/login", "", `{"username":"clerk","password":"secret-pass"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, "user-token", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "clerk", body["username"])
	assert.Equal(t, "1000", body["company_code"])
}

func TestLogin_BadPassword(t *testing.T) {
	h, _ := newTestServer(t, newFakeApp())
	rec := do(h, http.MethodPost, "/api/auth/login", "", `{"username":"clerk","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestCreateInvoice_PassesScopeAndLines(t *testing.T) {
	svc := newFakeApp()
	h, _ := newTestServer(t, svc)

	rec := do(h, http.MethodPost, "/api/invoices", "user-token",
		`{"customer_code":"c001","invoice_date":"2026-01-15","items":[{"product_code":"p1","quantity":"2"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, "1000", svc.lastScope.CompanyCode)
	require.NotNil(t, svc.lastScope.UserID)
	assert.Equal(t, 2, *svc.lastScope.UserID)
	require.Len(t, svc.lastInvoice.Items, 1)
	assert.True(t, svc.lastInvoice.Items[0].Quantity.Equal(decimal.NewFromInt(2)))

	var inv core.SalesInvoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	assert.Equal(t, "INV-2026-00001", inv.InvoiceNumber)
}

func TestCreateInvoice_ValidationRejectedBeforeService(t *testing.T) {
	svc := newFakeApp()
	h, _ := newTestServer(t, svc)

	rec := do(h, http.MethodPost, "/api/invoices", "user-token", `{"customer_code":"C001","items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", e.Code)
	assert.Contains(t, e.Error, "Items")

	rec = do(h, http.MethodPost, "/api/invoices", "user-token",
		`{"customer_code":"C001","invoice_date":"15/01/2026","items":[{"product_code":"P1","quantity":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/api/invoices", "user-token", `{"customer_code":"C001","surprise":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decodeError(t, rec).Code)

	assert.Zero(t, svc.calls)
}

func TestServiceErrors_MapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"validation", core.Errorf(core.KindValidation, "quantity must be positive"), http.StatusBadRequest, "VALIDATION_ERROR", "quantity must be positive"},
		{"not found", core.Errorf(core.KindNotFound, "customer C9 not found"), http.StatusNotFound, "NOT_FOUND", "customer C9 not found"},
		{"conflict", core.Errorf(core.KindConflict, "credit limit exceeded"), http.StatusConflict, "BUSINESS_RULE_VIOLATION", "credit limit exceeded"},
		{"internal", errors.New("dial tcp: connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeApp()
			svc.createErr = tc.err
			h, _ := newTestServer(t, svc)

			rec := do(h, http.MethodPost, "/api/invoices", "user-token",
				`{"customer_code":"C001","items":[{"product_code":"P1","quantity":1}]}`, "X-Request-ID", "req-1")
			assert.Equal(t, tc.status, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, tc.msg, e.Error)
			assert.Equal(t, "req-1", e.RequestID)
		})
	}
}

func TestCompanyContext(t *testing.T) {
	svc := newFakeApp()
	h, _ := newTestServer(t, svc)

	rec := do(h, http.MethodGet, "/api/products", "admin-token", "", "X-Company-Code", "2000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2000", svc.lastScope.CompanyCode)

	rec = do(h, http.MethodGet, "/api/products", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", svc.lastScope.CompanyCode)

	rec = do(h, http.MethodGet, "/api/products", "user-token", "", "X-Company-Code", "2000")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	h, _ := newTestServer(t, newFakeApp())

	rec := do(h, http.MethodPost, "/api/companies", "user-token", `{"code":"2000","name":"Branch"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/api/companies", "admin-token", `{"code":"2000","name":"Branch"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(h, http.MethodGet, "/api/companies", "user-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPathID(t *testing.T) {
	h, _ := newTestServer(t, newFakeApp())

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/invoices/9", "user-token", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/invoices/10", "user-token", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/invoices/abc", "user-token", "").Code)
}

func TestSchemaEndpoint(t *testing.T) {
	h, _ := newTestServer(t, newFakeApp())

	rec := do(h, http.MethodGet, "/api/schemas/sales-invoice", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "customer_code")
	assert.Contains(t, props, "items")

	rec = do(h, http.MethodGet, "/api/schemas/unknown", "user-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_LabelByRoutePattern(t *testing.T) {
	h, m := newTestServer(t, newFakeApp())

	do(h, http.MethodGet, "/api/invoices/9", "user-token", "")
	do(h, http.MethodGet, "/api/invoices/10", "user-token", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/invoices/{id}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/invoices/{id}", "404")))
}

func TestRequestBodyLimit(t *testing.T) {
	h, _ := newTestServer(t, newFakeApp())
	big := `{"customer_code":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := do(h, http.MethodPost, "/api/invoices", "user-token", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
