package app

import (
	"context"
	"io"

	"smb-erp/internal/auth"
	"smb-erp/internal/core"

	"github.com/go-webauthn/webauthn/protocol"
)

// ApplicationService is the single interface all adapters (web, admin CLI) call.
// It decouples presentation from business logic. Implementations must contain
// no display logic of any kind.
//
// Master data, document and cash operations are the core services' own
// methods; postings are additionally counted in erp_postings_total.
type ApplicationService interface {
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

	// Migrate applies pending embedded schema migrations.
	Migrate(ctx context.Context) error

	// LoadDefaultCompany loads the configured default company. Without a
	// configured code it expects exactly one company in the database.
	LoadDefaultCompany(ctx context.Context) (*core.Company, error)

	// Login verifies credentials and returns a signed session scoped to
	// companyCode (or the user's home company when empty).
	Login(ctx context.Context, username, password, companyCode string) (*UserSession, error)

	// SwitchCompany re-issues the session of userID for another company.
	SwitchCompany(ctx context.Context, userID int, companyCode string) (*UserSession, error)

	// Authenticate validates a session token and checks that its user still
	// exists and is active. The returned claims carry the user's current role.
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)

	// GetUser returns a user profile by ID.
	GetUser(ctx context.Context, userID int) (*core.User, error)

	// CreateUser hashes the password and stores the user.
	CreateUser(ctx context.Context, req CreateUserRequest) (*core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)
	DeleteUser(ctx context.Context, userID int) error

	// Passkey (WebAuthn) ceremonies. ErrPasskeysDisabled is returned when no
	// relying party is configured.
	BeginPasskeyRegistration(ctx context.Context, userID int) (*protocol.CredentialCreation, error)
	FinishPasskeyRegistration(ctx context.Context, userID int, body io.Reader) error
	BeginPasskeyLogin(ctx context.Context) (*protocol.CredentialAssertion, string, error)
	FinishPasskeyLogin(ctx context.Context, sessionID string, body io.Reader, companyCode string) (*UserSession, error)
}
