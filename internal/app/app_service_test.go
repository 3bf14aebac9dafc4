package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"smb-erp/internal/auth"
	"smb-erp/internal/core"
	"smb-erp/internal/logging"
	"smb-erp/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	core.UserService
	byName  map[string]*core.User
	created []core.UserInput
}

func (f *fakeUsers) GetByUsername(ctx context.Context, username string) (*core.User, error) {
	if u, ok := f.byName[username]; ok {
		return u, nil
	}
	return nil, core.Errorf(core.KindNotFound, "user %s not found", username)
}

func (f *fakeUsers) GetByID(ctx context.Context, id int) (*core.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, core.Errorf(core.KindNotFound, "user %d not found", id)
}

func (f *fakeUsers) CreateUser(ctx context.Context, in core.UserInput) (*core.User, error) {
	f.created = append(f.created, in)
	return &core.User{ID: 99, Username: in.Username, Role: in.Role}, nil
}

type fakeCompanies struct {
	core.CompanyService
	list []core.Company
}

func (f *fakeCompanies) ListCompanies(ctx context.Context) ([]core.Company, error) {
	return f.list, nil
}

func (f *fakeCompanies) GetCompany(ctx context.Context, code string) (*core.Company, error) {
	for i := range f.list {
		if f.list[i].CompanyCode == code {
			return &f.list[i], nil
		}
	}
	return nil, core.Errorf(core.KindNotFound, "company %s not found", code)
}

type fakeSales struct {
	core.SalesInvoiceService
	err error
}

func (f *fakeSales) CreateInvoice(ctx context.Context, scope core.Scope, in core.SalesInvoiceInput) (*core.SalesInvoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &core.SalesInvoice{ID: 1}, nil
}

type fixture struct {
	svc     ApplicationService
	users   *fakeUsers
	sales   *fakeSales
	metrics *metrics.Metrics
	tokens  *auth.TokenManager
}

func intPtr(v int) *int { return &v }

func newFixture(t *testing.T, defaultCompany string) *fixture {
	t.Helper()
	hash, err := auth.HashPassword("secret-pass")
	require.NoError(t, err)

	users := &fakeUsers{byName: map[string]*core.User{
		"root":  {ID: 1, Username: "root", Role: core.RoleAdmin, IsActive: true, PasswordHash: hash},
		"clerk": {ID: 2, Username: "clerk", Role: core.RoleUser, IsActive: true, PasswordHash: hash, CompanyID: intPtr(1)},
	}}
	companies := &fakeCompanies{list: []core.Company{
		{ID: 1, CompanyCode: "1000", Name: "Main"},
		{ID: 2, CompanyCode: "2000", Name: "Branch"},
	}}
	sales := &fakeSales{}
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	tokens := auth.NewTokenManager("test-secret", time.Hour, "smb-erp")

	svc := NewAppService(nil, Services{
		Users:     users,
		Companies: companies,
		Sales:     sales,
	}, Config{
		DefaultCompany: defaultCompany,
		Tokens:         tokens,
		Metrics:        m,
		Logger:         logging.Discard(),
	})
	return &fixture{svc: svc, users: users, sales: sales, metrics: m, tokens: tokens}
}

func TestLogin_UsesHomeCompany(t *testing.T) {
	f := newFixture(t, "2000")

	session, err := f.svc.Login(context.Background(), "clerk", "secret-pass", "")
	require.NoError(t, err)
	assert.Equal(t, "1000", session.CompanyCode)
	assert.Equal(t, 2, session.UserID)

	claims, err := f.svc.Authenticate(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, "1000", claims.CompanyCode)
	assert.Equal(t, core.RoleUser, claims.Role)
}

func TestLogin_AdminFallsBackToDefaultCompany(t *testing.T) {
	f := newFixture(t, "2000")

	session, err := f.svc.Login(context.Background(), "root", "secret-pass", "")
	require.NoError(t, err)
	assert.Equal(t, "2000", session.CompanyCode)
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.svc.Login(context.Background(), "clerk", "wrong-pass", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), "ghost", "secret-pass", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSwitchCompany(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.svc.SwitchCompany(ctx, 2, "2000")
	assert.ErrorIs(t, err, ErrCompanyForbidden)

	session, err := f.svc.SwitchCompany(ctx, 1, "2000")
	require.NoError(t, err)
	assert.Equal(t, "2000", session.CompanyCode)

	_, err = f.svc.SwitchCompany(ctx, 1, "9999")
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestCreateUser_HashesPassword(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.svc.CreateUser(ctx, CreateUserRequest{Username: "new", Password: "short"})
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	assert.Empty(t, f.users.created)

	_, err = f.svc.CreateUser(ctx, CreateUserRequest{Username: "new", Password: "long-enough-pass", Role: core.RoleUser})
	require.NoError(t, err)
	require.Len(t, f.users.created, 1)
	stored := f.users.created[0].PasswordHash
	assert.False(t, strings.Contains(stored, "long-enough-pass"))
	assert.True(t, auth.VerifyPassword(stored, "long-enough-pass"))
}

func TestPostingOutcomesAreCounted(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	scope := core.Scope{CompanyCode: "1000"}

	_, err := f.svc.CreateInvoice(ctx, scope, core.SalesInvoiceInput{})
	require.NoError(t, err)

	f.sales.err = core.Errorf(core.KindConflict, "insufficient stock")
	_, err = f.svc.CreateInvoice(ctx, scope, core.SalesInvoiceInput{})
	require.Error(t, err)

	f.sales.err = errors.New("connection reset")
	_, err = f.svc.CreateInvoice(ctx, scope, core.SalesInvoiceInput{})
	require.Error(t, err)

	counter := f.metrics.PostingsTotal
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("sales_invoice", "create", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("sales_invoice", "create", metrics.OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("sales_invoice", "create", metrics.OutcomeError)))
}

func TestLoadDefaultCompany(t *testing.T) {
	f := newFixture(t, "2000")
	c, err := f.svc.LoadDefaultCompany(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Branch", c.Name)

	f = newFixture(t, "")
	_, err = f.svc.LoadDefaultCompany(context.Background())
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestPasskeysDisabled(t *testing.T) {
	f := newFixture(t, "")
	_, _, err := f.svc.BeginPasskeyLogin(context.Background())
	assert.ErrorIs(t, err, ErrPasskeysDisabled)

	_, err = f.svc.BeginPasskeyRegistration(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPasskeysDisabled)
}

func TestAuthenticate_RechecksTheAccount(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	session, err := f.svc.Login(ctx, "clerk", "secret-pass", "")
	require.NoError(t, err)

	// A demotion or promotion takes effect on the next request.
	f.users.byName["clerk"].Role = core.RoleAdmin
	claims, err := f.svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())

	f.users.byName["clerk"].IsActive = false
	_, err = f.svc.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	delete(f.users.byName, "clerk")
	_, err = f.svc.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = f.svc.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
