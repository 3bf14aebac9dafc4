package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"smb-erp/internal/auth"
	"smb-erp/internal/core"
	"smb-erp/internal/db"
	"smb-erp/internal/metrics"
	"smb-erp/migrations"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrCompanyForbidden   = errors.New("user may not work in this company")
	ErrPasskeysDisabled   = errors.New("passkey login is not configured")
)

// Services bundles the core services the application layer orchestrates.
type Services struct {
	Products    core.ProductService
	Parties     core.PartyService
	Sales       core.SalesInvoiceService
	Purchases   core.PurchaseInvoiceService
	Returns     core.SalesReturnService
	Settlements core.SettlementService
	Expenses    core.ExpenseService
	Cash        core.CashService
	Companies   core.CompanyService
	TaxRates    core.TaxRateService
	Users       core.UserService
}

// NewServices constructs every core service over one pool.
func NewServices(pool *pgxpool.Pool, opts core.Options) Services {
	return Services{
		Products:    core.NewProductService(pool, opts),
		Parties:     core.NewPartyService(pool, opts),
		Sales:       core.NewSalesInvoiceService(pool, opts),
		Purchases:   core.NewPurchaseInvoiceService(pool, opts),
		Returns:     core.NewSalesReturnService(pool, opts),
		Settlements: core.NewSettlementService(pool, opts),
		Expenses:    core.NewExpenseService(pool, opts),
		Cash:        core.NewCashService(pool, opts),
		Companies:   core.NewCompanyService(pool, opts),
		TaxRates:    core.NewTaxRateService(pool, opts),
		Users:       core.NewUserService(pool, opts),
	}
}

// Config carries the application-level settings.
type Config struct {
	DefaultCompany string
	Tokens         *auth.TokenManager
	// Passkeys is nil when WebAuthn is not configured.
	Passkeys *auth.Passkeys
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger
}

type appService struct {
	core.ProductService
	core.PartyService
	core.SalesInvoiceService
	core.PurchaseInvoiceService
	core.SalesReturnService
	core.SettlementService
	core.ExpenseService
	core.CashService
	core.CompanyService
	core.TaxRateService

	pool           *pgxpool.Pool
	users          core.UserService
	tokens         *auth.TokenManager
	passkeys       *auth.Passkeys
	metrics        *metrics.Metrics
	log            logrus.FieldLogger
	defaultCompany string
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(pool *pgxpool.Pool, svc Services, cfg Config) ApplicationService {
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &appService{
		ProductService:         svc.Products,
		PartyService:           svc.Parties,
		SalesInvoiceService:    svc.Sales,
		PurchaseInvoiceService: svc.Purchases,
		SalesReturnService:     svc.Returns,
		SettlementService:      svc.Settlements,
		ExpenseService:         svc.Expenses,
		CashService:            svc.Cash,
		CompanyService:         svc.Companies,
		TaxRateService:         svc.TaxRates,

		pool:           pool,
		users:          svc.Users,
		tokens:         cfg.Tokens,
		passkeys:       cfg.Passkeys,
		metrics:        cfg.Metrics,
		log:            log,
		defaultCompany: cfg.DefaultCompany,
	}
}

// Migrate applies pending embedded schema migrations.
func (s *appService) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool, migrations.Files, s.log)
}

// LoadDefaultCompany loads the configured default company, or the only one.
func (s *appService) LoadDefaultCompany(ctx context.Context) (*core.Company, error) {
	if s.defaultCompany != "" {
		return s.CompanyService.GetCompany(ctx, s.defaultCompany)
	}
	companies, err := s.CompanyService.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	switch len(companies) {
	case 0:
		return nil, core.Errorf(core.KindNotFound, "no company exists yet; create one first")
	case 1:
		return &companies[0], nil
	default:
		return nil, core.Errorf(core.KindValidation, "multiple companies found; set COMPANY_CODE (e.g. COMPANY_CODE=1000)")
	}
}

// ── Postings ─────────────────────────────────────────────────────────────────

func (s *appService) observe(document, operation string, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeRejected
		if core.KindOf(err) == core.KindInternal {
			outcome = metrics.OutcomeError
		}
	}
	s.metrics.ObservePosting(document, operation, outcome)
}

func (s *appService) CreateInvoice(ctx context.Context, scope core.Scope, in core.SalesInvoiceInput) (*core.SalesInvoice, error) {
	inv, err := s.SalesInvoiceService.CreateInvoice(ctx, scope, in)
	s.observe("sales_invoice", "create", err)
	return inv, err
}

func (s *appService) UpdateInvoice(ctx context.Context, scope core.Scope, id int, in core.SalesInvoiceInput) (*core.SalesInvoice, error) {
	inv, err := s.SalesInvoiceService.UpdateInvoice(ctx, scope, id, in)
	s.observe("sales_invoice", "update", err)
	return inv, err
}

func (s *appService) CreatePurchaseInvoice(ctx context.Context, scope core.Scope, in core.PurchaseInvoiceInput) (*core.PurchaseInvoice, error) {
	inv, err := s.PurchaseInvoiceService.CreatePurchaseInvoice(ctx, scope, in)
	s.observe("purchase_invoice", "create", err)
	return inv, err
}

func (s *appService) UpdatePurchaseInvoice(ctx context.Context, scope core.Scope, id int, in core.PurchaseInvoiceInput) (*core.PurchaseInvoice, error) {
	inv, err := s.PurchaseInvoiceService.UpdatePurchaseInvoice(ctx, scope, id, in)
	s.observe("purchase_invoice", "update", err)
	return inv, err
}

func (s *appService) CreateReturn(ctx context.Context, scope core.Scope, in core.SalesReturnInput) (*core.SalesReturn, error) {
	r, err := s.SalesReturnService.CreateReturn(ctx, scope, in)
	s.observe("sales_return", "create", err)
	return r, err
}

func (s *appService) UpdateReturn(ctx context.Context, scope core.Scope, id int, in core.SalesReturnInput) (*core.SalesReturn, error) {
	r, err := s.SalesReturnService.UpdateReturn(ctx, scope, id, in)
	s.observe("sales_return", "update", err)
	return r, err
}

func (s *appService) RecordReceipt(ctx context.Context, scope core.Scope, in core.ReceiptInput) (*core.Receipt, error) {
	r, err := s.SettlementService.RecordReceipt(ctx, scope, in)
	s.observe("receipt", "create", err)
	return r, err
}

func (s *appService) RecordPayment(ctx context.Context, scope core.Scope, in core.SupplierPaymentInput) (*core.SupplierPayment, error) {
	p, err := s.SettlementService.RecordPayment(ctx, scope, in)
	s.observe("supplier_payment", "create", err)
	return p, err
}

func (s *appService) CreateExpense(ctx context.Context, scope core.Scope, in core.ExpenseInput) (*core.Expense, error) {
	e, err := s.ExpenseService.CreateExpense(ctx, scope, in)
	s.observe("expense", "create", err)
	return e, err
}

func (s *appService) UpdateExpense(ctx context.Context, scope core.Scope, id int, in core.ExpenseInput) (*core.Expense, error) {
	e, err := s.ExpenseService.UpdateExpense(ctx, scope, id, in)
	s.observe("expense", "update", err)
	return e, err
}

func (s *appService) CreateManualEntry(ctx context.Context, scope core.Scope, in core.CashEntryInput) (*core.CashEntry, error) {
	e, err := s.CashService.CreateManualEntry(ctx, scope, in)
	s.observe("cash_entry", "create", err)
	return e, err
}

func (s *appService) UpdateManualEntry(ctx context.Context, scope core.Scope, id int64, in core.CashEntryInput) (*core.CashEntry, error) {
	e, err := s.CashService.UpdateManualEntry(ctx, scope, id, in)
	s.observe("cash_entry", "update", err)
	return e, err
}

// UpsertTaxRate normalises the rate to four places before storing it.
func (s *appService) UpsertTaxRate(ctx context.Context, scope core.Scope, code string, rate decimal.Decimal) (*core.TaxRate, error) {
	return s.TaxRateService.UpsertTaxRate(ctx, scope, code, rate.Round(4))
}

// ── Users and sessions ───────────────────────────────────────────────────────

func (s *appService) GetUser(ctx context.Context, userID int) (*core.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *appService) CreateUser(ctx context.Context, req CreateUserRequest) (*core.User, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return nil, core.Errorf(core.KindValidation, "%s", err.Error())
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return s.users.CreateUser(ctx, core.UserInput{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		CompanyCode:  req.CompanyCode,
	})
}

func (s *appService) ListUsers(ctx context.Context) ([]core.User, error) {
	return s.users.ListUsers(ctx)
}

func (s *appService) DeleteUser(ctx context.Context, userID int) error {
	return s.users.DeleteUser(ctx, userID)
}

func (s *appService) Authenticate(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if core.KindOf(err) == core.KindNotFound {
			s.log.WithField("user_id", claims.UserID).Warn("session presented for a deleted user")
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}
	if !u.IsActive {
		s.log.WithField("user_id", u.ID).Warn("session presented for an inactive user")
		return nil, auth.ErrInvalidToken
	}
	current := *claims
	current.Role = u.Role
	return &current, nil
}

func (s *appService) Login(ctx context.Context, username, password, companyCode string) (*UserSession, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if core.KindOf(err) == core.KindNotFound {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		s.log.WithField("username", username).Warn("login rejected: bad password")
		return nil, ErrInvalidCredentials
	}
	return s.issueSession(ctx, u, companyCode)
}

func (s *appService) SwitchCompany(ctx context.Context, userID int, companyCode string) (*UserSession, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	if companyCode == "" {
		return nil, core.Errorf(core.KindValidation, "company code is required")
	}
	return s.issueSession(ctx, u, companyCode)
}

// sessionCompany picks the company a new session works in. Admins may use
// any company; other users are held to their home company when they have one.
func (s *appService) sessionCompany(ctx context.Context, u *core.User, requested string) (string, error) {
	companies, err := s.CompanyService.ListCompanies(ctx)
	if err != nil {
		return "", err
	}
	if requested == "" {
		if u.CompanyID != nil {
			for _, c := range companies {
				if c.ID == *u.CompanyID {
					return c.CompanyCode, nil
				}
			}
		}
		return s.defaultCompany, nil
	}
	for _, c := range companies {
		if c.CompanyCode != strings.ToUpper(strings.TrimSpace(requested)) {
			continue
		}
		if u.Role != core.RoleAdmin && u.CompanyID != nil && *u.CompanyID != c.ID {
			return "", ErrCompanyForbidden
		}
		return c.CompanyCode, nil
	}
	return "", core.Errorf(core.KindNotFound, "company code %s not found", requested)
}

func (s *appService) issueSession(ctx context.Context, u *core.User, companyCode string) (*UserSession, error) {
	code, err := s.sessionCompany(ctx, u, companyCode)
	if err != nil {
		return nil, err
	}
	token, expires, err := s.tokens.Issue(u, code)
	if err != nil {
		return nil, err
	}
	return &UserSession{
		Token:       token,
		ExpiresAt:   expires,
		UserID:      u.ID,
		Username:    u.Username,
		Role:        u.Role,
		CompanyCode: code,
	}, nil
}

// ── Passkeys ─────────────────────────────────────────────────────────────────

func (s *appService) BeginPasskeyRegistration(ctx context.Context, userID int) (*protocol.CredentialCreation, error) {
	if s.passkeys == nil {
		return nil, ErrPasskeysDisabled
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.passkeys.BeginRegistration(ctx, u)
}

func (s *appService) FinishPasskeyRegistration(ctx context.Context, userID int, body io.Reader) error {
	if s.passkeys == nil {
		return ErrPasskeysDisabled
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	err = s.passkeys.FinishRegistration(ctx, u, body)
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return core.Errorf(core.KindValidation, "passkey registration rejected: %s", perr.Details)
	}
	return err
}

func (s *appService) BeginPasskeyLogin(ctx context.Context) (*protocol.CredentialAssertion, string, error) {
	if s.passkeys == nil {
		return nil, "", ErrPasskeysDisabled
	}
	return s.passkeys.BeginLogin(ctx)
}

func (s *appService) FinishPasskeyLogin(ctx context.Context, sessionID string, body io.Reader, companyCode string) (*UserSession, error) {
	if s.passkeys == nil {
		return nil, ErrPasskeysDisabled
	}
	u, err := s.passkeys.FinishLogin(ctx, sessionID, body)
	if errors.Is(err, auth.ErrChallengeExpired) {
		return nil, err
	}
	if err != nil {
		s.log.WithError(err).Warn("passkey login rejected")
		return nil, ErrInvalidCredentials
	}
	return s.issueSession(ctx, u, companyCode)
}
